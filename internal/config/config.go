// Package config loads the bridge daemon configuration from TOML.
package config

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/viper"
	"golang.org/x/sys/unix"

	"github.com/xwaybridge/xwaybridge/internal/logger"
	"github.com/xwaybridge/xwaybridge/internal/spawner"
)

// Default locations tried when no explicit binary path is configured.
var defaultBinaryCandidates = []string{
	"/usr/bin/Xwayland",
	"/usr/local/bin/Xwayland",
}

type HTTPConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`       // e.g. "127.0.0.1:7700"; empty disables the API
	BasePath string `toml:"base_path" mapstructure:"base_path"` // route prefix, default ""
}

// FileConfig is the top-level TOML structure.
type FileConfig struct {
	// XWaylandPath pins the compatibility server binary. When empty the
	// usual install locations and PATH are searched.
	XWaylandPath string         `toml:"xwayland_path" mapstructure:"xwayland_path"`
	X11Enabled   bool           `toml:"x11_enabled" mapstructure:"x11_enabled"`
	Spawner      spawner.Config `toml:"spawner" mapstructure:"spawner"`
	Log          logger.Config  `toml:"log" mapstructure:"log"`
	HistoryDSN   string         `toml:"history_dsn" mapstructure:"history_dsn"`
	HTTP         HTTPConfig     `toml:"http" mapstructure:"http"`
}

func Default() FileConfig {
	return FileConfig{X11Enabled: true}
}

// Load reads a TOML config file. A missing path returns defaults.
func Load(path string) (FileConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ResolveBinary returns the X server executable to use: the configured
// path if set, otherwise the first executable default candidate, then
// PATH lookup.
func (c FileConfig) ResolveBinary() (string, error) {
	if c.XWaylandPath != "" {
		if err := unix.Access(c.XWaylandPath, unix.X_OK); err != nil {
			return "", fmt.Errorf("config: xwayland_path %s: %w", c.XWaylandPath, err)
		}
		return c.XWaylandPath, nil
	}
	for _, p := range defaultBinaryCandidates {
		if unix.Access(p, unix.X_OK) == nil {
			return p, nil
		}
	}
	if p, err := exec.LookPath("Xwayland"); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("config: no Xwayland binary found; set xwayland_path (%w)", os.ErrNotExist)
}

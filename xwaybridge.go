// Package xwaybridge supervises an X11 compatibility server (Xwayland) as
// a child of a Wayland-native display server: lazy spawn on the first X11
// connection attempt, a timed startup handshake, control-channel event
// dispatch, and transparent recycling on crash.
//
// Embedders construct a Bridge with their own wayland.Host and
// wayland.WMFactory; the standalone daemon uses the loopback host and a
// draining window manager.
package xwaybridge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xwaybridge/xwaybridge/internal/config"
	"github.com/xwaybridge/xwaybridge/internal/connector"
	"github.com/xwaybridge/xwaybridge/internal/history"
	histfactory "github.com/xwaybridge/xwaybridge/internal/history/factory"
	"github.com/xwaybridge/xwaybridge/internal/mainloop"
	"github.com/xwaybridge/xwaybridge/internal/metrics"
	"github.com/xwaybridge/xwaybridge/internal/spawner"
	"github.com/xwaybridge/xwaybridge/internal/wayland"
	"github.com/xwaybridge/xwaybridge/internal/xserver"
	"github.com/xwaybridge/xwaybridge/internal/xwm"
)

// Re-export the embeddable surface.

type Config = config.FileConfig

type Status = connector.Status

type HistoryEvent = history.Event

type Host = wayland.Host

type ClientHandle = wayland.ClientHandle

type WM = wayland.WM

type WMFactory = wayland.WMFactory

// LoadConfig reads a TOML configuration file.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config { return config.Default() }

// Bridge bundles a connector with its host main loop and history sink.
type Bridge struct {
	conn *connector.Connector
	loop *mainloop.Executor
	sink history.Sink
}

// New builds a Bridge around the loopback host and the draining window
// manager, for standalone use.
func New(cfg Config) (*Bridge, error) {
	loop := mainloop.New()
	host := wayland.NewLoopbackHost(cfg.X11Enabled, loop.Defer)
	b, err := NewWithHost(cfg, host, xwm.NewDrain)
	if err != nil {
		loop.Close()
		return nil, err
	}
	b.loop = loop
	return b, nil
}

// NewWithHost builds a Bridge for an embedding display server. The host's
// main loop is used for deferred restart work; the wmFactory supplies the
// real protocol translation.
func NewWithHost(cfg Config, host wayland.Host, wmFactory wayland.WMFactory) (*Bridge, error) {
	binary, err := cfg.ResolveBinary()
	if err != nil {
		return nil, err
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, err
	}
	sink, err := histfactory.New(cfg.HistoryDSN)
	if err != nil {
		return nil, err
	}

	spawnerFactory := func(trigger func()) (wayland.Spawner, error) {
		return spawner.New(cfg.Spawner, trigger)
	}
	conn, err := connector.New(host, spawnerFactory, wmFactory,
		connector.Config{BinaryPath: binary, Output: cfg.Log.File},
		&recorder{sink: sink})
	if err != nil {
		if sink != nil {
			_ = sink.Close()
		}
		return nil, err
	}
	return &Bridge{conn: conn, sink: sink}, nil
}

func (b *Bridge) Start() error { return b.conn.Start() }

func (b *Bridge) Stop() { b.conn.Stop() }

// SocketName returns the X11 display while the bridge is listening.
func (b *Bridge) SocketName() (string, bool) { return b.conn.SocketName() }

func (b *Bridge) Status() Status { return b.conn.Status() }

// Connector exposes the underlying orchestrator for embedders that need
// lower-level access.
func (b *Bridge) Connector() *connector.Connector { return b.conn }

// History returns the most recent lifecycle events, newest first. Empty
// when no history sink is configured.
func (b *Bridge) History(n int) ([]HistoryEvent, error) {
	reader, ok := b.sink.(history.Reader)
	if !ok {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return reader.Recent(ctx, n)
}

// Close stops the bridge and releases the main loop and history sink.
// The connector's lifecycle contract is enforced here: Close after a
// missed Stop would panic, so Stop is always issued first.
func (b *Bridge) Close() {
	b.conn.Stop()
	b.conn.Destroy()
	if b.loop != nil {
		b.loop.Close()
	}
	if b.sink != nil {
		_ = b.sink.Close()
	}
}

// recorder fans connector lifecycle notifications out to metrics and the
// history sink. It is invoked under the connector lock, so sink writes are
// pushed onto a goroutine instead of blocking the state machine.
type recorder struct {
	sink history.Sink
}

func (r *recorder) OnSpawned(display string, pid int, handshake time.Duration) {
	metrics.IncSpawn(display)
	metrics.ObserveHandshake(handshake.Seconds())
	r.record(history.Event{Type: history.EventSpawned, Display: display, PID: pid})
}

func (r *recorder) OnSpawnFailed(display string, err error) {
	metrics.IncSpawnFailure(failureReason(err))
	r.record(history.Event{Type: history.EventSpawnFailed, Display: display, Detail: err.Error()})
}

func (r *recorder) OnRestart(display string, reason error) {
	metrics.IncRestart(display)
	detail := ""
	if reason != nil {
		detail = reason.Error()
	}
	r.record(history.Event{Type: history.EventRestart, Display: display, Detail: detail})
}

func (r *recorder) OnStopped(display string) {
	metrics.IncStop(display)
	r.record(history.Event{Type: history.EventStopped, Display: display})
}

func (r *recorder) record(e history.Event) {
	if r.sink == nil {
		return
	}
	e.OccurredAt = time.Now()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.sink.Record(ctx, e); err != nil {
			slog.Warn("history sink write failed", "event", string(e.Type), "err", err)
		}
	}()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, xserver.ErrHandshakeTimeout):
		return "handshake_timeout"
	case errors.Is(err, xserver.ErrResourceCreation):
		return "resource_creation"
	default:
		return "wm_error"
	}
}

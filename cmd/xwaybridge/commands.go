package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xwaybridge/xwaybridge"
	"github.com/xwaybridge/xwaybridge/internal/server"
)

var version = "dev"

type globalFlags struct {
	ConfigPath string
}

func buildRoot() *cobra.Command {
	gf := &globalFlags{}

	root := &cobra.Command{
		Use:   "xwaybridge",
		Short: "Supervise an Xwayland compatibility server for a Wayland display",
	}
	root.PersistentFlags().StringVarP(&gf.ConfigPath, "config", "c", "", "path to TOML config file")

	root.AddCommand(newRunCmd(gf))
	root.AddCommand(newStatusCmd())
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newRunCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge daemon until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := xwaybridge.LoadConfig(gf.ConfigPath)
			if err != nil {
				return err
			}
			slog.SetDefault(cfg.Log.NewSlogger())

			bridge, err := xwaybridge.New(cfg)
			if err != nil {
				return err
			}
			defer bridge.Close()

			if err := bridge.Start(); err != nil {
				return err
			}
			if display, ok := bridge.SocketName(); ok {
				slog.Info("bridge running", "display", display)
			}

			var httpSrv interface{ Shutdown(context.Context) error }
			if cfg.HTTP.Listen != "" {
				httpSrv = server.NewServer(cfg.HTTP.Listen, cfg.HTTP.BasePath, bridge)
				slog.Info("status API listening", "addr", cfg.HTTP.Listen)
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			s := <-sig
			slog.Info("shutting down", "signal", s.String())

			if httpSrv != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = httpSrv.Shutdown(ctx)
				cancel()
			}
			bridge.Stop()
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	var apiURL string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running daemon's status over its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := fetchStatus(apiURL, timeout)
			if err != nil {
				return err
			}
			if st.Display == "" {
				fmt.Println("bridge is stopped")
				return nil
			}
			fmt.Printf("display: %s\n", st.Display)
			fmt.Printf("running: %t\n", st.Running)
			if st.PID != 0 {
				fmt.Printf("pid:     %d\n", st.PID)
			}
			fmt.Printf("restarts: %d\n", st.Restarts)
			return nil
		},
	}
	cmd.Flags().StringVar(&apiURL, "api-url", "http://127.0.0.1:7700", "daemon API base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var apiURL string
	var timeout time.Duration
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent X server lifecycle events from a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := fetchHistory(apiURL, limit, timeout)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Println("no history recorded")
				return nil
			}
			for _, e := range events {
				line := fmt.Sprintf("%s  %-12s display=%s",
					e.OccurredAt.Format(time.RFC3339), e.Type, e.Display)
				if e.PID != 0 {
					line += fmt.Sprintf(" pid=%d", e.PID)
				}
				if e.Detail != "" {
					line += " detail=" + e.Detail
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&apiURL, "api-url", "http://127.0.0.1:7700", "daemon API base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of events")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

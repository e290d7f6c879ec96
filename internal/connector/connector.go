// Package connector owns the lifecycle of the X11 compatibility
// subsystem: the display spawner, the X server child process, the window
// manager, and the control-channel reader. One mutex serializes all state
// transitions; actual destruction always happens after the lock is
// dropped so that no component teardown (thread join, process kill) runs
// under it.
package connector

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/xwaybridge/xwaybridge/internal/dispatch"
	"github.com/xwaybridge/xwaybridge/internal/logger"
	"github.com/xwaybridge/xwaybridge/internal/wayland"
	"github.com/xwaybridge/xwaybridge/internal/xserver"
)

// Config for the connector.
type Config struct {
	// BinaryPath is the X11 compatibility server executable (Xwayland).
	BinaryPath string
	// Output configures where the child's stdout/stderr are written.
	Output logger.FileConfig
}

// Observer receives lifecycle notifications. All methods are called with
// the connector lock held; implementations must not call back into the
// connector.
type Observer interface {
	OnSpawned(display string, pid int, handshake time.Duration)
	OnSpawnFailed(display string, err error)
	OnRestart(display string, reason error)
	OnStopped(display string)
}

// Status is a point-in-time snapshot for status reporting.
type Status struct {
	Display  string `json:"display"`
	Running  bool   `json:"running"`
	PID      int    `json:"pid,omitempty"`
	Restarts int    `json:"restarts"`
}

// Connector supervises the X11 compatibility server. Zero or one of it
// exists per display server; it is not shared.
type Connector struct {
	host       wayland.Host
	newSpawner wayland.SpawnerFactory
	newWM      wayland.WMFactory
	cfg        Config
	obs        Observer

	mu                sync.Mutex
	spawner           wayland.Spawner
	server            *xserver.Server
	wm                wayland.WM
	thread            *dispatch.ReadableFd
	restartInProgress bool
	restarts          int
}

// New validates the binary path and builds a stopped connector.
func New(host wayland.Host, newSpawner wayland.SpawnerFactory, newWM wayland.WMFactory, cfg Config, obs Observer) (*Connector, error) {
	if err := unix.Access(cfg.BinaryPath, unix.X_OK); err != nil {
		return nil, fmt.Errorf("connector: cannot execute %s: %w", cfg.BinaryPath, err)
	}
	return &Connector{
		host:       host,
		newSpawner: newSpawner,
		newWM:      newWM,
		cfg:        cfg,
		obs:        obs,
	}, nil
}

// Start moves the connector to the listening state: the spawner binds the
// X11 sockets and the server is launched lazily on the first connection
// attempt. A no-op when the host has X11 support disabled or when already
// started.
func (c *Connector) Start() error {
	if !c.host.X11SupportEnabled() {
		slog.Info("X11 support disabled by host, not starting")
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.spawner != nil {
		return nil
	}
	sp, err := c.newSpawner(func() { c.spawn() })
	if err != nil {
		return fmt.Errorf("connector: start: %w", err)
	}
	c.spawner = sp
	slog.Info("X11 compatibility started", "display", sp.Display())
	return nil
}

// Stop tears everything down unconditionally and preempts any pending
// deferred restart. Components are moved out under the lock and destroyed
// only after it is released, so a destructor that blocks briefly (thread
// join, process kill) can never deadlock against a running control
// channel callback.
func (c *Connector) Stop() {
	c.mu.Lock()
	wasRunning := c.server != nil
	c.restartInProgress = false
	sp, srv, wm, th := c.takeAllLocked()
	display := ""
	if sp != nil {
		display = sp.Display()
	}
	c.mu.Unlock()

	destroyComponents(sp, srv, wm, th)

	if wasRunning {
		slog.Info("X11 compatibility stopped", "display", display)
	}
	if sp != nil && c.obs != nil {
		c.obs.OnStopped(display)
	}
}

// SocketName returns the X11 display identifier while the connector is
// listening or running; ok is false otherwise. Safe from any goroutine.
func (c *Connector) SocketName() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.spawner == nil {
		return "", false
	}
	return c.spawner.Display(), true
}

// Status snapshots the current state.
func (c *Connector) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{Restarts: c.restarts}
	if c.spawner != nil {
		st.Display = c.spawner.Display()
	}
	if c.server != nil {
		st.Running = c.server.IsRunning()
		st.PID = c.server.PID()
	}
	return st
}

// Destroy asserts the lifecycle contract: Stop must have completed first.
// Destroying a connector that still owns components is a programming
// error and panics rather than leaking a child process.
func (c *Connector) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.spawner != nil || c.server != nil || c.wm != nil || c.thread != nil {
		panic(fmt.Sprintf(
			"connector destroyed without Stop (spawner:%t server:%t wm:%t thread:%t)",
			c.spawner != nil, c.server != nil, c.wm != nil, c.thread != nil))
	}
}

// spawn builds the server/wm/reader triad. Invoked by the spawner's lazy
// trigger, typically off the main thread. Idempotent: a no-op whenever the
// triad already exists, the connector is stopped, or a restart is pending.
// The startup handshake blocks under the connector lock; this is the one
// deliberate long blocking section of the whole subsystem.
func (c *Connector) spawn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.server != nil || c.spawner == nil || c.restartInProgress {
		return
	}

	if err := c.spawnLocked(); err != nil {
		// Same recovery as a runtime crash: recycle rather than propagate.
		slog.Error("spawning X server failed", "err", err)
		if c.obs != nil {
			c.obs.OnSpawnFailed(c.spawner.Display(), err)
		}
		c.restartLocked(err)
	}
}

func (c *Connector) spawnLocked() error {
	srv, err := xserver.Start(c.host, c.spawner, c.cfg.BinaryPath, xserver.Options{Output: c.cfg.Output})
	if err != nil {
		return err
	}
	c.server = srv

	wm, err := c.newWM(srv.Client(), srv.ControlFD())
	if err != nil {
		return fmt.Errorf("connector: window manager: %w", err)
	}
	c.wm = wm

	th, err := dispatch.New("x11-wm-reader", srv.ControlFD(),
		func() error {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.wm == nil {
				return nil
			}
			return c.wm.ProcessPendingEvents()
		},
		func(err error) {
			slog.Error("X11 window manager error, recycling X server", "err", err)
			c.mu.Lock()
			c.restartLocked(err)
			c.mu.Unlock()
		})
	if err != nil {
		return fmt.Errorf("connector: control channel reader: %w", err)
	}
	c.thread = th

	if c.obs != nil {
		c.obs.OnSpawned(c.spawner.Display(), srv.PID(), srv.HandshakeDuration())
	}
	slog.Info("X server is running", "display", c.spawner.Display(), "pid", srv.PID())
	return nil
}

// restartLocked schedules a teardown-and-relisten cycle. It must run with
// the lock held and must not destroy anything inline: the caller may be
// the control-channel reader or the spawn path itself, i.e. the very call
// stack that owns the objects being torn down. The work is posted to the
// host main loop instead.
func (c *Connector) restartLocked(reason error) {
	if c.restartInProgress {
		return
	}
	c.restartInProgress = true
	c.restarts++
	display := ""
	if c.spawner != nil {
		display = c.spawner.Display()
	}
	if c.obs != nil {
		c.obs.OnRestart(display, reason)
	}
	c.host.DeferToMainLoop(func() { c.completeRestart() })
}

func (c *Connector) completeRestart() {
	c.mu.Lock()
	if !c.restartInProgress {
		// A Stop won the race; nothing left to do.
		c.mu.Unlock()
		return
	}
	sp, srv, wm, th := c.takeAllLocked()
	c.mu.Unlock()

	destroyComponents(sp, srv, wm, th)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.restartInProgress {
		// Stopped while we were tearing down; stay stopped.
		return
	}
	c.restartInProgress = false
	newSp, err := c.newSpawner(func() { c.spawn() })
	if err != nil {
		slog.Error("recreating X11 spawner after restart failed", "err", err)
		return
	}
	c.spawner = newSp
	slog.Info("X11 compatibility listening again", "display", newSp.Display())
}

func (c *Connector) takeAllLocked() (wayland.Spawner, *xserver.Server, wayland.WM, *dispatch.ReadableFd) {
	sp, srv, wm, th := c.spawner, c.server, c.wm, c.thread
	c.spawner, c.server, c.wm, c.thread = nil, nil, nil, nil
	return sp, srv, wm, th
}

// destroyComponents disposes in dependency order: sockets first so no new
// trigger fires, then the reader thread, the window manager, and finally
// the process itself.
func destroyComponents(sp wayland.Spawner, srv *xserver.Server, wm wayland.WM, th *dispatch.ReadableFd) {
	if sp != nil {
		_ = sp.Close()
	}
	if th != nil {
		_ = th.Close()
	}
	if wm != nil {
		_ = wm.Close()
	}
	if srv != nil {
		srv.Close()
	}
}

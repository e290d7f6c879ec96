// Package xserver spawns and supervises one X11 compatibility server
// process (Xwayland). It owns the process record and the two socket pairs
// connecting the child to the compositor: the Wayland connection and the
// window-manager control channel.
package xserver

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/xwaybridge/xwaybridge/internal/logger"
	"github.com/xwaybridge/xwaybridge/internal/wayland"
)

const (
	// Child-side descriptor numbers are fixed by ExtraFiles ordering:
	// entry i lands on fd 3+i in the child.
	childWaylandFD = 3
	childControlFD = 4
	childListenFD0 = 5

	termGrace = 100 * time.Millisecond
	killGrace = 500 * time.Millisecond
)

// ExtraOptionEnv names the environment variable whose value, when set, is
// appended verbatim as one extra argument to the X server command line.
const ExtraOptionEnv = "XWAYBRIDGE_OPTION"

// Record identifies one spawned compatibility server. Immutable once
// created; the two descriptors are owned for the process's lifetime.
type Record struct {
	PID     int
	wayland *os.File // parent end of the child's Wayland connection
	control *os.File // parent end of the WM control channel
}

// Options tunes process construction.
type Options struct {
	Output logger.FileConfig // child stdout/stderr destinations
}

// Server is one running compatibility server process plus its client
// handle on the internal display. Create with Start, dispose with Close.
type Server struct {
	mu        sync.Mutex
	rec       Record
	running   bool
	exitCode  int
	hasExit   bool
	client    wayland.ClientHandle
	closers   []io.Closer
	handshake time.Duration
}

type socketPair struct {
	parent *os.File
	child  *os.File
}

func newSocketPair(name string) (socketPair, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return socketPair{}, fmt.Errorf("%w: socketpair %s: %v", ErrResourceCreation, name, err)
	}
	return socketPair{
		parent: os.NewFile(uintptr(fds[0]), name+"-parent"),
		child:  os.NewFile(uintptr(fds[1]), name+"-child"),
	}, nil
}

// Start forks the compatibility server and completes the startup
// handshake. On any error no process, goroutine, or descriptor is left
// behind. Blocks the caller for up to the full handshake window.
func Start(host wayland.Host, spawner wayland.Spawner, binary string, opts Options) (*Server, error) {
	wlPair, err := newSocketPair("xwayland-wl")
	if err != nil {
		return nil, err
	}
	wmPair, err := newSocketPair("xwayland-wm")
	if err != nil {
		wlPair.closeBoth()
		return nil, err
	}

	cmd, closers := buildCommand(spawner, binary, wlPair, wmPair, opts)

	// The child must inherit SIGUSR1 ignored: that is what makes the X
	// server raise SIGUSR1 at its parent once initialization is done
	// instead of taking the default action. The disposition stays ignored
	// in this process; the handshake subscribes to the beacon explicitly.
	ignoreReadinessSignal()

	slog.Info("starting X11 compatibility server", "binary", binary, "display", spawner.Display())
	if err := cmd.Start(); err != nil {
		wlPair.closeBoth()
		wmPair.closeBoth()
		closeAll(closers)
		return nil, fmt.Errorf("%w: exec %s: %v", ErrResourceCreation, binary, err)
	}

	// Parent keeps only its ends; the child received dups of the others.
	_ = wlPair.child.Close()
	_ = wmPair.child.Close()

	s := &Server{
		rec: Record{
			PID:     cmd.Process.Pid,
			wayland: wlPair.parent,
			control: wmPair.parent,
		},
		running: true,
		closers: closers,
	}

	began := time.Now()
	client, err := handshake(host, s.rec.wayland, s.rec.PID)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.client = client
	s.handshake = time.Since(began)
	slog.Info("X11 compatibility server ready",
		"pid", s.rec.PID, "display", spawner.Display(), "handshake", s.handshake)
	return s, nil
}

// buildCommand assembles the Xwayland invocation. Donated descriptors go
// through ExtraFiles, which maps them to fds 3, 4, 5... in the child with
// close-on-exec cleared.
func buildCommand(spawner wayland.Spawner, binary string, wlPair, wmPair socketPair, opts Options) (*exec.Cmd, []io.Closer) {
	args := []string{
		spawner.Display(),
		"-rootless",
		"-wm", strconv.Itoa(childControlFD),
		"-terminate",
	}
	extra := []*os.File{wlPair.child, wmPair.child}
	for i, lf := range spawner.ListenFDs() {
		args = append(args, "-listen", strconv.Itoa(childListenFD0+i))
		extra = append(extra, lf)
	}
	if opt := os.Getenv(ExtraOptionEnv); opt != "" {
		args = append(args, opt)
	}

	cmd := exec.Command(binary, args...)
	cmd.Env = append(os.Environ(), "WAYLAND_SOCKET="+strconv.Itoa(childWaylandFD))
	cmd.ExtraFiles = extra

	var closers []io.Closer
	outW, errW, _ := opts.Output.Writers("xwayland")
	if outW != nil {
		cmd.Stdout = outW
		closers = append(closers, outW)
	}
	if errW != nil {
		cmd.Stderr = errW
		closers = append(closers, errW)
	}
	return cmd, closers
}

// Record returns the immutable identity of the spawned process.
func (s *Server) Record() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

// PID of the compatibility server process.
func (s *Server) PID() int { return s.rec.PID }

// ControlFD is the parent-side WM control channel. Ownership stays with
// the server; callers must not close it.
func (s *Server) ControlFD() *os.File { return s.rec.control }

// Client is the handle minted on the internal display during the
// handshake.
func (s *Server) Client() wayland.ClientHandle { return s.client }

// HandshakeDuration reports how long the startup handshake took.
func (s *Server) HandshakeDuration() time.Duration { return s.handshake }

// IsRunning performs a non-blocking reap. The first observed exit latches
// the exit code and flips running false permanently.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reapLocked()
}

func (s *Server) reapLocked() bool {
	if !s.running {
		return false
	}
	var ws unix.WaitStatus
	pid, err := unix.Wait4(s.rec.PID, &ws, unix.WNOHANG, nil)
	switch {
	case err != nil:
		// ECHILD: someone else reaped it; either way it is gone.
		s.running = false
	case pid == s.rec.PID:
		s.running = false
		if ws.Exited() {
			s.exitCode = ws.ExitStatus()
			s.hasExit = true
		}
	}
	return s.running
}

// ExitCode returns the latched exit status, if one was observed.
func (s *Server) ExitCode() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode, s.hasExit
}

// Close terminates the process (SIGTERM, 100 ms grace, then SIGKILL) and
// releases the descriptors and client handle. Bounded; never blocks
// indefinitely. Safe to call twice.
func (s *Server) Close() {
	s.mu.Lock()
	pid := s.rec.PID
	stillRunning := s.reapLocked()
	s.mu.Unlock()

	if stillRunning {
		if err := unix.Kill(pid, unix.SIGTERM); err == nil {
			time.Sleep(termGrace)
			if s.IsRunning() {
				slog.Info("X server did not exit on SIGTERM, killing it", "pid", pid)
				_ = unix.Kill(pid, unix.SIGKILL)
			}
		}
		s.reapBounded()
	}

	s.mu.Lock()
	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
	}
	if s.rec.wayland != nil {
		_ = s.rec.wayland.Close()
		s.rec.wayland = nil
	}
	if s.rec.control != nil {
		_ = s.rec.control.Close()
		s.rec.control = nil
	}
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()
	closeAll(closers)
}

// reapBounded polls the non-blocking reap so a SIGKILLed child does not
// linger as a zombie. Gives up after killGrace.
func (s *Server) reapBounded() {
	deadline := time.Now().Add(killGrace)
	for time.Now().Before(deadline) {
		if !s.IsRunning() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (p socketPair) closeBoth() {
	_ = p.parent.Close()
	_ = p.child.Close()
}

func closeAll(cs []io.Closer) {
	for _, c := range cs {
		_ = c.Close()
	}
}

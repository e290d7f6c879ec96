// Package spawner allocates an X11 display, owns its listening sockets,
// and fires a lazy-spawn trigger when the first client connection attempt
// is observed. It never accepts connections itself: the compatibility
// server inherits the listening sockets and does the accepting.
package spawner

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	x11SocketDir = "/tmp/.X11-unix"

	defaultDisplayMin = 1
	defaultDisplayMax = 32
)

// Config bounds the display number scan.
type Config struct {
	DisplayMin int `toml:"display_min" mapstructure:"display_min"`
	DisplayMax int `toml:"display_max" mapstructure:"display_max"`
}

func (c Config) bounds() (int, int) {
	lo, hi := c.DisplayMin, c.DisplayMax
	if lo <= 0 {
		lo = defaultDisplayMin
	}
	if hi < lo {
		hi = defaultDisplayMax
	}
	return lo, hi
}

// Spawner holds one allocated X11 display: its lock file, its listening
// sockets (filesystem and abstract namespace), and a watcher goroutine
// that fires the trigger once when a connection attempt first appears.
type Spawner struct {
	display   int
	lockPath  string
	listeners []*net.UnixListener
	files     []*os.File

	wakeR, wakeW *os.File
	watchDone    chan struct{}
	closeOnce    sync.Once
}

// New allocates the first free display in the configured range and starts
// watching its sockets. trigger runs at most once, on the watcher
// goroutine.
func New(cfg Config, trigger func()) (*Spawner, error) {
	lo, hi := cfg.bounds()
	if err := os.MkdirAll(x11SocketDir, 0o1777); err != nil {
		return nil, fmt.Errorf("spawner: create %s: %w", x11SocketDir, err)
	}

	var s *Spawner
	var lastErr error
	for n := lo; n <= hi; n++ {
		var err error
		s, err = claimDisplay(n)
		if err == nil {
			break
		}
		lastErr = err
	}
	if s == nil {
		return nil, fmt.Errorf("spawner: no free X11 display in :%d..:%d: %w", lo, hi, lastErr)
	}

	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		s.release()
		return nil, fmt.Errorf("spawner: wake pipe: %w", err)
	}
	s.wakeR = os.NewFile(uintptr(p[0]), "spawner-wake-r")
	s.wakeW = os.NewFile(uintptr(p[1]), "spawner-wake-w")
	s.watchDone = make(chan struct{})
	go s.watch(trigger)

	slog.Info("listening for X11 clients", "display", s.Display())
	return s, nil
}

// claimDisplay takes the lock file for display n and binds its sockets.
func claimDisplay(n int) (*Spawner, error) {
	lockPath := fmt.Sprintf("/tmp/.X%d-lock", n)
	if err := writeLockFile(lockPath); err != nil {
		return nil, err
	}

	s := &Spawner{display: n, lockPath: lockPath}

	// Abstract socket first (Linux), then the filesystem one. Clients try
	// the abstract name before falling back to the path.
	for _, name := range []string{
		"@" + socketPath(n),
		socketPath(n),
	} {
		l, err := listenUnix(name)
		if err != nil {
			s.release()
			return nil, fmt.Errorf("spawner: bind %s: %w", name, err)
		}
		f, err := l.File()
		if err != nil {
			_ = l.Close()
			s.release()
			return nil, fmt.Errorf("spawner: listener file %s: %w", name, err)
		}
		s.listeners = append(s.listeners, l)
		s.files = append(s.files, f)
	}
	return s, nil
}

func socketPath(n int) string {
	return fmt.Sprintf("%s/X%d", x11SocketDir, n)
}

// writeLockFile creates /tmp/.X<n>-lock exclusively in the X server lock
// format (pid padded to 10 columns). A lock held by a dead process is
// treated as stale and taken over.
func writeLockFile(path string) error {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o444)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%10d\n", os.Getpid())
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				_ = os.Remove(path)
				return fmt.Errorf("write lock %s: %w", path, werr)
			}
			return nil
		}
		if !os.IsExist(err) || attempt > 0 {
			return err
		}
		if !lockIsStale(path) {
			return fmt.Errorf("display lock %s held", path)
		}
		_ = os.Remove(path)
	}
	return fmt.Errorf("display lock %s held", path)
}

func lockIsStale(path string) bool {
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return true
	}
	return unix.Kill(pid, 0) == unix.ESRCH
}

func listenUnix(name string) (*net.UnixListener, error) {
	if !strings.HasPrefix(name, "@") {
		// A previous server that died without cleanup may have left the
		// socket node behind; the lock file is the real arbiter.
		_ = os.Remove(name)
	}
	addr, err := net.ResolveUnixAddr("unix", name)
	if err != nil {
		return nil, err
	}
	return net.ListenUnix("unix", addr)
}

// watch polls the listening sockets. The first pending connection fires
// the trigger and ends the watch: from then on the spawned X server owns
// accepting, and a restart builds a fresh spawner anyway.
func (s *Spawner) watch(trigger func()) {
	defer close(s.watchDone)

	fds := make([]unix.PollFd, 0, len(s.files)+1)
	for _, f := range s.files {
		fds = append(fds, unix.PollFd{Fd: int32(f.Fd()), Events: unix.POLLIN})
	}
	fds = append(fds, unix.PollFd{Fd: int32(s.wakeR.Fd()), Events: unix.POLLIN})

	for {
		for i := range fds {
			fds[i].Revents = 0
		}
		if _, err := unix.Poll(fds, -1); err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			slog.Warn("spawner: poll failed", "display", s.Display(), "err", err)
			return
		}
		if fds[len(fds)-1].Revents&unix.POLLIN != 0 {
			return
		}
		for _, pfd := range fds[:len(fds)-1] {
			if pfd.Revents&unix.POLLIN != 0 {
				slog.Debug("X11 client connection attempt observed", "display", s.Display())
				trigger()
				return
			}
		}
	}
}

// Display returns the display string, e.g. ":4".
func (s *Spawner) Display() string {
	return ":" + strconv.Itoa(s.display)
}

// ListenFDs returns the listening sockets to donate to the child. The
// spawner keeps ownership.
func (s *Spawner) ListenFDs() []*os.File {
	return s.files
}

// Close stops the watcher, closes the sockets, and removes the lock file.
func (s *Spawner) Close() error {
	s.closeOnce.Do(func() {
		if s.wakeW != nil {
			_, _ = s.wakeW.Write([]byte{0})
			<-s.watchDone
			_ = s.wakeR.Close()
			_ = s.wakeW.Close()
		}
		s.release()
	})
	return nil
}

func (s *Spawner) release() {
	for _, f := range s.files {
		_ = f.Close()
	}
	for _, l := range s.listeners {
		_ = l.Close() // unlinks the filesystem socket
	}
	s.files = nil
	s.listeners = nil
	if s.lockPath != "" {
		_ = os.Remove(s.lockPath)
		s.lockPath = ""
	}
}

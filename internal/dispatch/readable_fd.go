// Package dispatch runs a dedicated goroutine that blocks until a file
// descriptor becomes readable and invokes a callback for every readiness
// notification. It is the bridge between the X server's control channel
// and the window manager's event processing.
package dispatch

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// ReadableFd watches one descriptor for readability on its own goroutine.
// The callback must consume the pending data; if it returns an error the
// goroutine stops and the error hook fires exactly once.
//
// Close interrupts a blocked poll via an internal wake pipe and joins the
// goroutine. It is safe to call Close from a task scheduled by the error
// hook, and safe to call it more than once.
type ReadableFd struct {
	name    string
	fd      *os.File
	wakeR   *os.File
	wakeW   *os.File
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// New starts watching fd. name labels log output. onReadable runs on the
// watcher goroutine for each readiness notification; onError receives the
// callback error (or a channel-hangup error) that ended the watch.
func New(name string, fd *os.File, onReadable func() error, onError func(error)) (*ReadableFd, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("dispatch: wake pipe: %w", err)
	}
	r := &ReadableFd{
		name:  name,
		fd:    fd,
		wakeR: os.NewFile(uintptr(p[0]), "dispatch-wake-r"),
		wakeW: os.NewFile(uintptr(p[1]), "dispatch-wake-w"),
		done:  make(chan struct{}),
	}
	go r.loop(onReadable, onError)
	return r, nil
}

func (r *ReadableFd) loop(onReadable func() error, onError func(error)) {
	defer close(r.done)
	fds := []unix.PollFd{
		{Fd: int32(r.fd.Fd()), Events: unix.POLLIN},
		{Fd: int32(r.wakeR.Fd()), Events: unix.POLLIN},
	}
	for {
		fds[0].Revents = 0
		fds[1].Revents = 0
		n, err := unix.Poll(fds, -1)
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		if err != nil {
			onError(fmt.Errorf("dispatch %s: poll: %w", r.name, err))
			return
		}
		if n == 0 {
			continue
		}
		if fds[1].Revents&unix.POLLIN != 0 {
			// Woken for shutdown.
			return
		}
		if fds[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			onError(fmt.Errorf("dispatch %s: channel closed by peer", r.name))
			return
		}
		if fds[0].Revents&unix.POLLIN != 0 {
			if cbErr := onReadable(); cbErr != nil {
				onError(cbErr)
				return
			}
		}
	}
}

// Close wakes the watcher and waits for its goroutine to exit. The watched
// descriptor itself is not closed; it belongs to the caller.
func (r *ReadableFd) Close() error {
	r.closeMu.Lock()
	if !r.closed {
		r.closed = true
		if _, err := r.wakeW.Write([]byte{0}); err != nil {
			slog.Debug("dispatch: wake write failed", "name", r.name, "err", err)
		}
	}
	r.closeMu.Unlock()

	<-r.done
	_ = r.wakeR.Close()
	_ = r.wakeW.Close()
	return nil
}

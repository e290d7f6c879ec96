package wayland

import (
	"errors"
	"os"
	"sync"
)

// LoopbackHost is a self-contained Host used by the daemon and tests when
// no embedding compositor is present. Client handles simply retain the
// connection descriptor; deferral goes through the supplied executor.
type LoopbackHost struct {
	enabled bool
	deferFn func(func())
}

// NewLoopbackHost builds a LoopbackHost. deferFn is typically
// (*mainloop.Executor).Defer.
func NewLoopbackHost(x11Enabled bool, deferFn func(func())) *LoopbackHost {
	return &LoopbackHost{enabled: x11Enabled, deferFn: deferFn}
}

func (h *LoopbackHost) X11SupportEnabled() bool { return h.enabled }

func (h *LoopbackHost) CreateClientHandle(conn *os.File) (ClientHandle, error) {
	if conn == nil {
		return nil, errors.New("wayland: nil connection descriptor")
	}
	return &loopbackHandle{conn: conn}, nil
}

func (h *LoopbackHost) DeferToMainLoop(task func()) { h.deferFn(task) }

// loopbackHandle keeps the connection alive for as long as the handle
// exists. Close is idempotent; it does not close the underlying file,
// which belongs to the process record.
type loopbackHandle struct {
	mu     sync.Mutex
	conn   *os.File
	closed bool
}

func (c *loopbackHandle) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.conn = nil
	return nil
}

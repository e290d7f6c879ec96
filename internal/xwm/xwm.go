// Package xwm carries the window-manager side of the bridge. The real
// X11-to-Wayland translation is supplied by the embedding compositor; the
// Drain implementation here is the standalone daemon's stand-in, which
// keeps the control channel flowing without interpreting it.
package xwm

import (
	"fmt"
	"os"
	"sync"

	"github.com/xwaybridge/xwaybridge/internal/wayland"
)

// Drain consumes control-channel traffic without acting on it. A read
// error or EOF means the X server went away and surfaces as a WM failure,
// which triggers the recycle path.
type Drain struct {
	mu      sync.Mutex
	control *os.File
	buf     []byte
	closed  bool
}

// NewDrain is a wayland.WMFactory.
func NewDrain(_ wayland.ClientHandle, control *os.File) (wayland.WM, error) {
	if control == nil {
		return nil, fmt.Errorf("xwm: nil control channel")
	}
	return &Drain{control: control, buf: make([]byte, 4096)}, nil
}

func (d *Drain) ProcessPendingEvents() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	n, err := d.control.Read(d.buf)
	if err != nil {
		return fmt.Errorf("xwm: control channel: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("xwm: control channel closed")
	}
	return nil
}

func (d *Drain) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	// The control descriptor belongs to the process record; not ours to close.
	return nil
}

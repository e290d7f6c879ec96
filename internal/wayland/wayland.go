// Package wayland defines the capabilities the bridge consumes from the
// Wayland-native display server it runs inside. The compositor core itself
// is out of scope; the bridge only needs to mint client handles on the
// internal display, ask whether X11 support is enabled, and borrow the
// host's main loop for deferred work.
package wayland

import "os"

// ClientHandle is the native display server's representation of one
// connected protocol client, created from a raw connection descriptor.
type ClientHandle interface {
	Close() error
}

// Host is the connector's view of the display server it lives in.
type Host interface {
	// X11SupportEnabled reports whether the compositor advertises the
	// extensions the X11 window manager needs.
	X11SupportEnabled() bool

	// CreateClientHandle registers conn as a client of the internal Wayland
	// display. Safe to call from any goroutine; may block briefly while the
	// display loop picks the request up.
	CreateClientHandle(conn *os.File) (ClientHandle, error)

	// DeferToMainLoop queues task for execution on the host's main loop.
	DeferToMainLoop(task func())
}

// WM is the X11-protocol-to-Wayland translation layer (the window manager).
// It consumes the control channel handed to it at construction.
type WM interface {
	// ProcessPendingEvents drains and handles whatever is queued on the
	// control channel. Called repeatedly; an error means the window manager
	// is wedged and the X server must be recycled.
	ProcessPendingEvents() error
	Close() error
}

// WMFactory builds a WM from the client handle of the X server process and
// the parent-side end of its window-manager control channel. The WM takes
// ownership of neither; both stay owned by their creators.
type WMFactory func(client ClientHandle, control *os.File) (WM, error)

// Spawner owns the X11 display identifier and the listening sockets that
// are handed to the X server child. Its trigger callback fires when a
// client connection attempt is first observed.
type Spawner interface {
	// Display returns the X11 display string, e.g. ":4".
	Display() string
	// ListenFDs returns the listening sockets the child inherits and
	// accepts on. The spawner retains ownership.
	ListenFDs() []*os.File
	Close() error
}

// SpawnerFactory builds a Spawner wired to the given lazy-spawn trigger.
type SpawnerFactory func(trigger func()) (Spawner, error)

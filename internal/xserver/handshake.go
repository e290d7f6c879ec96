package xserver

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/xwaybridge/xwaybridge/internal/wayland"
)

const (
	clientHandleTimeout = 10 * time.Second
	readinessTimeout    = 5 * time.Second
	readinessPoll       = 100 * time.Millisecond
)

// handshakeMu serializes handshakes so only one readiness-beacon
// subscription exists at a time. In practice there is no contention, but
// let's be certain.
var handshakeMu sync.Mutex

func ignoreReadinessSignal() {
	signal.Ignore(syscall.SIGUSR1)
}

// handshake completes X server startup: mint a client handle on the
// internal display for the Wayland connection (10 s ceiling), then wait
// for the child's SIGUSR1 readiness beacon (5 s window, 100 ms cadence).
// The beacon subscription is removed and SIGUSR1 returned to its ignored
// disposition on every exit path.
func handshake(host wayland.Host, waylandConn *os.File, pid int) (wayland.ClientHandle, error) {
	handshakeMu.Lock()
	defer handshakeMu.Unlock()

	// Subscribe before creating the client handle; the child may signal
	// readiness any time after the compositor accepts its connection.
	ready := make(chan os.Signal, 1)
	signal.Notify(ready, syscall.SIGUSR1)
	defer func() {
		signal.Stop(ready)
		ignoreReadinessSignal()
	}()

	type handleResult struct {
		client wayland.ClientHandle
		err    error
	}
	res := make(chan handleResult, 1)
	go func() {
		c, err := host.CreateClientHandle(waylandConn)
		res <- handleResult{c, err}
	}()

	var client wayland.ClientHandle
	select {
	case r := <-res:
		if r.err != nil {
			return nil, fmt.Errorf("%w: create client handle: %v", ErrResourceCreation, r.err)
		}
		client = r.client
	case <-time.After(clientHandleTimeout):
		// "Shouldn't happen" but this is better than hanging.
		return nil, fmt.Errorf("%w: client handle not created within %s", ErrHandshakeTimeout, clientHandleTimeout)
	}

	// The client can connect; now wait for the one-shot beacon telling us
	// the X server finished its own initialization.
	deadline := time.Now().Add(readinessTimeout)
	for {
		select {
		case <-ready:
			return client, nil
		default:
		}
		if time.Now().After(deadline) {
			_ = client.Close()
			return nil, fmt.Errorf("%w: no readiness signal from pid %d within %s", ErrHandshakeTimeout, pid, readinessTimeout)
		}
		time.Sleep(readinessPoll)
	}
}

package wayland

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopbackHostEnabledFlag(t *testing.T) {
	assert.True(t, NewLoopbackHost(true, func(func()) {}).X11SupportEnabled())
	assert.False(t, NewLoopbackHost(false, func(func()) {}).X11SupportEnabled())
}

func TestLoopbackClientHandle(t *testing.T) {
	h := NewLoopbackHost(true, func(func()) {})

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	defer func() { _ = w.Close() }()

	client, err := h.CreateClientHandle(r)
	require.NoError(t, err)
	require.NoError(t, client.Close())
	assert.NoError(t, client.Close(), "Close must be idempotent")
}

func TestLoopbackClientHandleNilConn(t *testing.T) {
	h := NewLoopbackHost(true, func(func()) {})
	_, err := h.CreateClientHandle(nil)
	assert.Error(t, err)
}

func TestLoopbackDefer(t *testing.T) {
	ran := make(chan struct{})
	h := NewLoopbackHost(true, func(task func()) { go task() })
	h.DeferToMainLoop(func() { close(ran) })
	<-ran
}

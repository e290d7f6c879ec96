package connector

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/xwaybridge/xwaybridge/internal/mainloop"
	"github.com/xwaybridge/xwaybridge/internal/wayland"
	"github.com/xwaybridge/xwaybridge/internal/xwm"
)

// fakeX writes a shell script standing in for the Xwayland binary.
func fakeX(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-xwayland")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

const readyAndSleep = "kill -USR1 $PPID\nexec sleep 60"

type stubHandle struct{}

func (stubHandle) Close() error { return nil }

// testHost runs deferred tasks either through a real executor or into a
// manual queue the test drains explicitly.
type testHost struct {
	enabled bool
	loop    *mainloop.Executor

	mu     sync.Mutex
	queued []func()
}

func newAutoHost(t *testing.T, enabled bool) *testHost {
	t.Helper()
	loop := mainloop.New()
	t.Cleanup(loop.Close)
	return &testHost{enabled: enabled, loop: loop}
}

func newManualHost() *testHost { return &testHost{enabled: true} }

func (h *testHost) X11SupportEnabled() bool { return h.enabled }

func (h *testHost) CreateClientHandle(conn *os.File) (wayland.ClientHandle, error) {
	return stubHandle{}, nil
}

func (h *testHost) DeferToMainLoop(task func()) {
	if h.loop != nil {
		h.loop.Defer(task)
		return
	}
	h.mu.Lock()
	h.queued = append(h.queued, task)
	h.mu.Unlock()
}

func (h *testHost) queuedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queued)
}

func (h *testHost) runQueued() {
	h.mu.Lock()
	tasks := h.queued
	h.queued = nil
	h.mu.Unlock()
	for _, task := range tasks {
		task()
	}
}

type fakeSpawner struct {
	display string
	closed  bool
	mu      sync.Mutex
}

func (s *fakeSpawner) Display() string { return s.display }

func (s *fakeSpawner) ListenFDs() []*os.File { return nil }

func (s *fakeSpawner) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// spawnerTracker counts factory invocations and captures triggers so the
// test can stand in for the X11 accept path.
type spawnerTracker struct {
	mu       sync.Mutex
	display  string
	created  int
	triggers []func()
	spawners []*fakeSpawner
}

func (st *spawnerTracker) factory(trigger func()) (wayland.Spawner, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sp := &fakeSpawner{display: st.display}
	st.created++
	st.triggers = append(st.triggers, trigger)
	st.spawners = append(st.spawners, sp)
	return sp, nil
}

func (st *spawnerTracker) count() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.created
}

func (st *spawnerTracker) trigger(i int) func() {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.triggers[i]
}

type recordingObserver struct {
	mu       sync.Mutex
	spawned  int
	failures int
	restarts int
	stops    int
}

func (o *recordingObserver) OnSpawned(string, int, time.Duration) {
	o.mu.Lock()
	o.spawned++
	o.mu.Unlock()
}

func (o *recordingObserver) OnSpawnFailed(string, error) {
	o.mu.Lock()
	o.failures++
	o.mu.Unlock()
}

func (o *recordingObserver) OnRestart(string, error) {
	o.mu.Lock()
	o.restarts++
	o.mu.Unlock()
}

func (o *recordingObserver) OnStopped(string) {
	o.mu.Lock()
	o.stops++
	o.mu.Unlock()
}

func (o *recordingObserver) counts() (spawned, failures, restarts, stops int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.spawned, o.failures, o.restarts, o.stops
}

func processGone(pid int) bool {
	return unix.Kill(pid, 0) == unix.ESRCH
}

func TestNewRejectsMissingBinary(t *testing.T) {
	host := newAutoHost(t, true)
	tracker := &spawnerTracker{display: ":77"}
	_, err := New(host, tracker.factory, xwm.NewDrain,
		Config{BinaryPath: "/nonexistent/xwayland"}, nil)
	require.Error(t, err)
}

func TestStartListenStop(t *testing.T) {
	host := newAutoHost(t, true)
	tracker := &spawnerTracker{display: ":77"}
	c, err := New(host, tracker.factory, xwm.NewDrain,
		Config{BinaryPath: "/bin/sh"}, nil)
	require.NoError(t, err)

	require.NoError(t, c.Start())
	name, ok := c.SocketName()
	require.True(t, ok)
	assert.Equal(t, ":77", name)

	// Second Start is a no-op.
	require.NoError(t, c.Start())
	assert.Equal(t, 1, tracker.count())

	c.Stop()
	_, ok = c.SocketName()
	assert.False(t, ok)
	assert.NotPanics(t, func() { c.Destroy() })
}

func TestStartWhenX11Disabled(t *testing.T) {
	host := newAutoHost(t, false)
	tracker := &spawnerTracker{display: ":77"}
	c, err := New(host, tracker.factory, xwm.NewDrain,
		Config{BinaryPath: "/bin/sh"}, nil)
	require.NoError(t, err)

	require.NoError(t, c.Start())
	_, ok := c.SocketName()
	assert.False(t, ok)
	assert.Equal(t, 0, tracker.count())
	c.Stop()
	c.Destroy()
}

func TestLazySpawnIsIdempotent(t *testing.T) {
	bin := fakeX(t, readyAndSleep)
	host := newAutoHost(t, true)
	tracker := &spawnerTracker{display: ":77"}
	obs := &recordingObserver{}
	c, err := New(host, tracker.factory, xwm.NewDrain, Config{BinaryPath: bin}, obs)
	require.NoError(t, err)
	require.NoError(t, c.Start())

	tracker.trigger(0)()
	st := c.Status()
	require.True(t, st.Running)
	require.Greater(t, st.PID, 0)
	pid1 := st.PID

	// A second trigger while the triad exists must not disturb anything.
	tracker.trigger(0)()
	st = c.Status()
	assert.Equal(t, pid1, st.PID)
	spawned, _, _, _ := obs.counts()
	assert.Equal(t, 1, spawned)

	c.Stop()
	require.Eventually(t, func() bool { return processGone(pid1) },
		2*time.Second, 20*time.Millisecond, "child must be gone after Stop")
	c.Destroy()
}

func TestCrashTriggersRestartBackToListening(t *testing.T) {
	bin := fakeX(t, readyAndSleep)
	host := newAutoHost(t, true)
	tracker := &spawnerTracker{display: ":77"}
	obs := &recordingObserver{}
	c, err := New(host, tracker.factory, xwm.NewDrain, Config{BinaryPath: bin}, obs)
	require.NoError(t, err)
	require.NoError(t, c.Start())

	tracker.trigger(0)()
	pid1 := c.Status().PID
	require.Greater(t, pid1, 0)

	// Simulated crash: the control channel EOF surfaces as a WM failure
	// on the reader goroutine, which must not deadlock recycling itself.
	require.NoError(t, unix.Kill(pid1, unix.SIGKILL))

	require.Eventually(t, func() bool {
		if tracker.count() != 2 {
			return false
		}
		_, ok := c.SocketName()
		return ok
	}, 5*time.Second, 50*time.Millisecond, "connector must relisten after crash")

	st := c.Status()
	assert.False(t, st.Running)
	assert.Equal(t, 0, st.PID)
	_, _, restarts, _ := obs.counts()
	assert.Equal(t, 1, restarts)

	c.Stop()
	c.Destroy()
}

func TestStopPreemptsPendingRestart(t *testing.T) {
	bin := fakeX(t, readyAndSleep)
	host := newManualHost()
	tracker := &spawnerTracker{display: ":77"}
	c, err := New(host, tracker.factory, xwm.NewDrain, Config{BinaryPath: bin}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Start())

	tracker.trigger(0)()
	pid1 := c.Status().PID
	require.Greater(t, pid1, 0)

	require.NoError(t, unix.Kill(pid1, unix.SIGKILL))
	require.Eventually(t, func() bool { return host.queuedCount() == 1 },
		2*time.Second, 20*time.Millisecond, "restart must be deferred to the main loop")

	// Stop races the deferred restart and must win: no resurrection.
	c.Stop()
	host.runQueued()

	assert.Equal(t, 1, tracker.count())
	_, ok := c.SocketName()
	assert.False(t, ok)
	c.Destroy()
}

func TestSpawnFailureReturnsToListening(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the full readiness window")
	}
	// Child never raises the readiness beacon; spawn must fail after the
	// timeout window and the connector must return to listening.
	bin := fakeX(t, "exec sleep 60")
	host := newAutoHost(t, true)
	tracker := &spawnerTracker{display: ":77"}
	obs := &recordingObserver{}
	c, err := New(host, tracker.factory, xwm.NewDrain, Config{BinaryPath: bin}, obs)
	require.NoError(t, err)
	require.NoError(t, c.Start())

	tracker.trigger(0)()

	require.Eventually(t, func() bool {
		if tracker.count() != 2 {
			return false
		}
		_, ok := c.SocketName()
		return ok
	}, 10*time.Second, 100*time.Millisecond)

	st := c.Status()
	assert.False(t, st.Running)
	_, failures, _, _ := obs.counts()
	assert.Equal(t, 1, failures)

	c.Stop()
	c.Destroy()
}

func TestDestroyWithoutStopPanics(t *testing.T) {
	host := newAutoHost(t, true)
	tracker := &spawnerTracker{display: ":77"}
	c, err := New(host, tracker.factory, xwm.NewDrain,
		Config{BinaryPath: "/bin/sh"}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Start())

	require.Panics(t, func() { c.Destroy() })

	c.Stop()
	assert.NotPanics(t, func() { c.Destroy() })
}

package xserver

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/xwaybridge/xwaybridge/internal/wayland"
)

// fakeX writes a shell script standing in for the Xwayland binary.
func fakeX(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-xwayland")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

type stubHandle struct{ closed bool }

func (h *stubHandle) Close() error { h.closed = true; return nil }

type stubHost struct{}

func (stubHost) X11SupportEnabled() bool { return true }
func (stubHost) CreateClientHandle(conn *os.File) (wayland.ClientHandle, error) {
	return &stubHandle{}, nil
}
func (stubHost) DeferToMainLoop(task func()) { go task() }

type stubSpawner struct{ display string }

func (s stubSpawner) Display() string { return s.display }

func (s stubSpawner) ListenFDs() []*os.File { return nil }

func (s stubSpawner) Close() error { return nil }

func processGone(pid int) bool {
	return unix.Kill(pid, 0) == unix.ESRCH
}

func TestStartAndCloseHappyPath(t *testing.T) {
	// The child signals readiness the way Xwayland does: SIGUSR1 at its
	// parent, enabled by the inherited ignored disposition.
	bin := fakeX(t, "kill -USR1 $PPID\nexec sleep 60")

	srv, err := Start(stubHost{}, stubSpawner{display: ":97"}, bin, Options{})
	require.NoError(t, err)
	require.True(t, srv.IsRunning())
	require.Greater(t, srv.PID(), 0)
	require.NotNil(t, srv.ControlFD())
	require.NotNil(t, srv.Client())
	assert.Greater(t, srv.HandshakeDuration(), time.Duration(0))

	pid := srv.PID()
	srv.Close()

	require.Eventually(t, func() bool { return processGone(pid) },
		2*time.Second, 20*time.Millisecond, "child must be gone after Close")
	assert.False(t, srv.IsRunning())
}

func TestStartBadBinaryFailsWithResourceCreation(t *testing.T) {
	_, err := Start(stubHost{}, stubSpawner{display: ":97"}, "/nonexistent/xwayland", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResourceCreation)
}

func TestStartReadinessTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the full readiness window")
	}
	// Never signals readiness; Start must give up after the window and
	// leave no process behind.
	bin := fakeX(t, "exec sleep 60")

	start := time.Now()
	_, err := Start(stubHost{}, stubSpawner{display: ":97"}, bin, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.GreaterOrEqual(t, time.Since(start), readinessTimeout)
}

func TestIsRunningLatchesExitCode(t *testing.T) {
	bin := fakeX(t, "kill -USR1 $PPID\nsleep 0.2\nexit 7")

	srv, err := Start(stubHost{}, stubSpawner{display: ":97"}, bin, Options{})
	require.NoError(t, err)
	defer srv.Close()

	require.Eventually(t, func() bool { return !srv.IsRunning() },
		3*time.Second, 50*time.Millisecond)

	code, ok := srv.ExitCode()
	require.True(t, ok)
	assert.Equal(t, 7, code)

	// Result is idempotent: no re-reaping after the latch.
	assert.False(t, srv.IsRunning())
	code, ok = srv.ExitCode()
	assert.True(t, ok)
	assert.Equal(t, 7, code)
}

func TestCloseEscalatesToKill(t *testing.T) {
	// Child traps and survives SIGTERM; Close must escalate to SIGKILL.
	bin := fakeX(t, "trap '' TERM\nkill -USR1 $PPID\nwhile :; do sleep 1; done")

	srv, err := Start(stubHost{}, stubSpawner{display: ":97"}, bin, Options{})
	require.NoError(t, err)
	pid := srv.PID()

	srv.Close()
	require.Eventually(t, func() bool { return processGone(pid) },
		2*time.Second, 20*time.Millisecond)
}

func TestCloseIsIdempotent(t *testing.T) {
	bin := fakeX(t, "kill -USR1 $PPID\nexec sleep 60")
	srv, err := Start(stubHost{}, stubSpawner{display: ":97"}, bin, Options{})
	require.NoError(t, err)

	srv.Close()
	assert.NotPanics(t, func() { srv.Close() })
}

func TestChildCommandLine(t *testing.T) {
	// The child dumps its argv and environment so the process-level
	// contract can be checked end to end.
	out := filepath.Join(t.TempDir(), "argv")
	bin := fakeX(t,
		`echo "$@" > `+out+`
echo "WAYLAND_SOCKET=$WAYLAND_SOCKET" >> `+out+`
kill -USR1 $PPID
exec sleep 60`)

	srv, err := Start(stubHost{}, stubSpawner{display: ":42"}, bin, Options{})
	require.NoError(t, err)
	defer srv.Close()

	require.Eventually(t, func() bool {
		b, err := os.ReadFile(out)
		return err == nil && len(b) > 0
	}, 2*time.Second, 20*time.Millisecond)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	got := string(b)
	assert.Contains(t, got, ":42 -rootless -wm 4 -terminate")
	assert.Contains(t, got, "WAYLAND_SOCKET=3")
}

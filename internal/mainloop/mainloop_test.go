package mainloop

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorRunsTasksInOrder(t *testing.T) {
	e := New()
	defer e.Close()

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 1; i <= 3; i++ {
		i := i
		e.Defer(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestExecutorCloseDrainsQueuedTasks(t *testing.T) {
	e := New()
	var ran bool
	e.Defer(func() {
		time.Sleep(50 * time.Millisecond)
		ran = true
	})
	e.Close()
	require.True(t, ran, "Close should wait for queued tasks")
}

func TestExecutorDeferAfterCloseIsDropped(t *testing.T) {
	e := New()
	e.Close()
	assert.NotPanics(t, func() {
		e.Defer(func() { t.Error("task ran after Close") })
	})
	time.Sleep(20 * time.Millisecond)
}

func TestExecutorDoubleClose(t *testing.T) {
	e := New()
	e.Close()
	assert.NotPanics(t, func() { e.Close() })
}

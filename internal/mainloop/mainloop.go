// Package mainloop provides the serial executor the connector defers
// restart work to. Tasks run one at a time, in submission order, on a
// dedicated goroutine, which is what lets a callback schedule teardown of
// the very object whose call stack it is running on.
package mainloop

import "sync"

type Executor struct {
	mu     sync.Mutex
	tasks  chan func()
	done   chan struct{}
	closed bool
}

func New() *Executor {
	e := &Executor{
		tasks: make(chan func(), 64),
		done:  make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Executor) run() {
	defer close(e.done)
	for task := range e.tasks {
		task()
	}
}

// Defer queues task for execution. Tasks submitted after Close are dropped.
func (e *Executor) Defer(task func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.tasks <- task
}

// Close drains queued tasks and stops the loop. Blocks until the last task
// returns. Safe to call more than once.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return
	}
	e.closed = true
	close(e.tasks)
	e.mu.Unlock()
	<-e.done
}

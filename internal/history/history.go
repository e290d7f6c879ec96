// Package history records X server lifecycle events to pluggable sinks so
// crash loops and restart churn can be inspected after the fact.
package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventSpawned     EventType = "spawned"
	EventSpawnFailed EventType = "spawn_failed"
	EventRestart     EventType = "restart"
	EventStopped     EventType = "stopped"
)

// Event is one lifecycle transition of the compatibility server.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Display    string    `json:"display"`
	PID        int       `json:"pid,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, e Event) error
	Close() error
}

// Reader retrieves recorded events. Both built-in sinks implement it.
type Reader interface {
	Recent(ctx context.Context, n int) ([]Event, error)
}

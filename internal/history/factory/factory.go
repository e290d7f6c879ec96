// Package factory builds a history.Sink from a DSN string.
package factory

import (
	"fmt"
	"strings"

	"github.com/xwaybridge/xwaybridge/internal/history"
	"github.com/xwaybridge/xwaybridge/internal/history/postgres"
	"github.com/xwaybridge/xwaybridge/internal/history/sqlite"
)

// New selects a sink by DSN scheme:
//
//	sqlite:///path/to.db   or a bare path  -> SQLite
//	postgres://...                          -> PostgreSQL
//
// An empty DSN yields a nil sink (history disabled).
func New(dsn string) (history.Sink, error) {
	d := strings.TrimSpace(dsn)
	switch {
	case d == "":
		return nil, nil
	case strings.HasPrefix(d, "postgres://"), strings.HasPrefix(d, "postgresql://"):
		return postgres.New(d)
	case strings.HasPrefix(d, "sqlite://"):
		return sqlite.New(strings.TrimPrefix(d, "sqlite://"))
	case strings.Contains(d, "://"):
		return nil, fmt.Errorf("history: unsupported DSN scheme in %q", d)
	default:
		return sqlite.New(d)
	}
}

package postgres

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/xwaybridge/xwaybridge/internal/history"
)

// DB implements history.Sink for PostgreSQL via the pgx stdlib driver.

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	p := &DB{db: d}
	if err := p.ensureSchema(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return p, nil
}

func (p *DB) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS xserver_history(
			id BIGSERIAL PRIMARY KEY,
			occurred_at TIMESTAMPTZ NOT NULL,
			event TEXT NOT NULL,
			display TEXT NOT NULL,
			pid INTEGER NOT NULL,
			detail TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_xserver_history_event ON xserver_history(event);`,
		`CREATE INDEX IF NOT EXISTS idx_xserver_history_display ON xserver_history(display);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Record(ctx context.Context, e history.Event) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO xserver_history(occurred_at, event, display, pid, detail)
		VALUES($1, $2, $3, $4, NULLIF($5, ''));`,
		e.OccurredAt.UTC(), string(e.Type), e.Display, e.PID, e.Detail)
	return err
}

// Recent returns the latest n events, newest first.
func (p *DB) Recent(ctx context.Context, n int) ([]history.Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT occurred_at, event, display, pid, COALESCE(detail, '')
		FROM xserver_history ORDER BY id DESC LIMIT $1;`, n)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []history.Event
	for rows.Next() {
		var e history.Event
		var typ string
		if err := rows.Scan(&e.OccurredAt, &typ, &e.Display, &e.PID, &e.Detail); err != nil {
			return nil, err
		}
		e.Type = history.EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *DB) Close() error { return p.db.Close() }

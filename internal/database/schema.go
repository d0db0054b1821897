package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// EventsTable is the journal table name.
const EventsTable = "console_events"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS console_events (
		id            BIGSERIAL PRIMARY KEY,
		connection_id TEXT        NOT NULL,
		event_type    TEXT        NOT NULL,
		task_id       TEXT,
		level         TEXT,
		message       TEXT,
		payload       JSONB       NOT NULL,
		event_time    TIMESTAMPTZ,
		received_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS console_events_task_idx ON console_events (task_id, received_at) WHERE task_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS console_events_received_idx ON console_events (received_at DESC)`,
}

// Execer runs a statement. *pgxpool.Pool and pgx.Tx satisfy it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureSchema creates the journal table and indexes if missing.
func EnsureSchema(ctx context.Context, db Execer) error {
	for i, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema (statement %d): %w", i+1, err)
		}
	}
	return nil
}

package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists the audit trail in PostgreSQL through database/sql
// with the lib/pq driver.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the schema when absent. Called once at startup.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			id         UUID PRIMARY KEY,
			access_key TEXT NOT NULL,
			action     TEXT NOT NULL,
			outcome    TEXT NOT NULL DEFAULT '',
			detail     TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS audit_events_access_key_idx ON audit_events (access_key, created_at);
	`)
	if err != nil {
		return fmt.Errorf("migrate audit schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, access_key, action, outcome, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.ID, event.AccessKey, event.Action, event.Outcome, event.Detail, event.Timestamp)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByAccessKey(ctx context.Context, accessKey string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, access_key, action, outcome, detail, created_at
		FROM audit_events WHERE access_key = $1 ORDER BY created_at
	`, accessKey)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var event Event
		if err := rows.Scan(&event.ID, &event.AccessKey, &event.Action, &event.Outcome, &event.Detail, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

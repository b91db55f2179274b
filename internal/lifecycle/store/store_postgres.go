package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"manifest-gateway/internal/accesskey"
	"manifest-gateway/internal/manifest"
	"manifest-gateway/pkg/platform/sentinel"
)

// PostgresStore persists manifests in PostgreSQL. Transition takes a row lock
// and re-checks the status inside the transaction, which is what makes the
// lifecycle service's optimistic commit safe across multiple processes.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema when absent. Called once at startup.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS manifests (
			access_key     TEXT PRIMARY KEY,
			version        TEXT NOT NULL,
			status         TEXT NOT NULL,
			canonical_form BYTEA NOT NULL,
			envelope       JSONB,
			protocol       TEXT NOT NULL DEFAULT '',
			attempts       JSONB NOT NULL DEFAULT '[]',
			poll_count     INT NOT NULL DEFAULT 0,
			unresolved     BOOLEAN NOT NULL DEFAULT FALSE,
			created_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS manifests_status_idx ON manifests (status);

		CREATE TABLE IF NOT EXISTS manifest_events (
			access_key TEXT NOT NULL,
			sequence   INT NOT NULL,
			payload    JSONB NOT NULL,
			PRIMARY KEY (access_key, sequence)
		);

		CREATE TABLE IF NOT EXISTS manifest_numbers (
			series      INT PRIMARY KEY,
			last_number INT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate manifest schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, m *manifest.Manifest) error {
	envelope, attempts, err := marshalParts(m)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO manifests (access_key, version, status, canonical_form, envelope, protocol, attempts, poll_count, unresolved, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, m.AccessKey, m.Version, m.Status, m.CanonicalForm, envelope, m.Protocol, attempts, m.PollCount, m.Unresolved, m.CreatedAt, m.UpdatedAt)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert manifest: %w", err)
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, key accesskey.Key) (*manifest.Manifest, error) {
	return scanManifest(s.pool.QueryRow(ctx, `
		SELECT access_key, version, status, canonical_form, envelope, protocol, attempts, poll_count, unresolved, created_at, updated_at
		FROM manifests WHERE access_key = $1
	`, key))
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status manifest.Status) ([]*manifest.Manifest, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT access_key, version, status, canonical_form, envelope, protocol, attempts, poll_count, unresolved, created_at, updated_at
		FROM manifests WHERE status = $1 ORDER BY access_key
	`, status)
	if err != nil {
		return nil, fmt.Errorf("list manifests by status: %w", err)
	}
	defer rows.Close()

	var out []*manifest.Manifest
	for rows.Next() {
		m, err := scanManifest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Transition(ctx context.Context, key accesskey.Key, from, to manifest.Status, update func(*manifest.Manifest)) error {
	return s.withLockedRow(ctx, key, func(tx pgx.Tx, m *manifest.Manifest) error {
		if m.Status != from {
			return sentinel.ErrConflict
		}
		if update != nil {
			update(m)
		}
		m.Status = to
		return s.writeBack(ctx, tx, m)
	})
}

func (s *PostgresStore) Update(ctx context.Context, key accesskey.Key, update func(*manifest.Manifest)) error {
	return s.withLockedRow(ctx, key, func(tx pgx.Tx, m *manifest.Manifest) error {
		status := m.Status
		update(m)
		m.Status = status
		return s.writeBack(ctx, tx, m)
	})
}

func (s *PostgresStore) withLockedRow(ctx context.Context, key accesskey.Key, fn func(pgx.Tx, *manifest.Manifest) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	m, err := scanManifest(tx.QueryRow(ctx, `
		SELECT access_key, version, status, canonical_form, envelope, protocol, attempts, poll_count, unresolved, created_at, updated_at
		FROM manifests WHERE access_key = $1 FOR UPDATE
	`, key))
	if err != nil {
		return err
	}
	if err := fn(tx, m); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) writeBack(ctx context.Context, tx pgx.Tx, m *manifest.Manifest) error {
	envelope, attempts, err := marshalParts(m)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE manifests
		SET status = $2, envelope = $3, protocol = $4, attempts = $5, poll_count = $6, unresolved = $7, updated_at = $8
		WHERE access_key = $1
	`, m.AccessKey, m.Status, envelope, m.Protocol, attempts, m.PollCount, m.Unresolved, time.Now())
	if err != nil {
		return fmt.Errorf("update manifest: %w", err)
	}
	return nil
}

func (s *PostgresStore) NextNumber(ctx context.Context, series int) (int, error) {
	var number int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO manifest_numbers (series, last_number)
		VALUES ($1, 1)
		ON CONFLICT (series) DO UPDATE SET last_number = manifest_numbers.last_number + 1
		RETURNING last_number
	`, series).Scan(&number)
	if err != nil {
		return 0, fmt.Errorf("allocate manifest number: %w", err)
	}
	return number, nil
}

func (s *PostgresStore) SaveEvent(ctx context.Context, ev *manifest.LifecycleEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO manifest_events (access_key, sequence, payload) VALUES ($1, $2, $3)
	`, ev.AccessKey, ev.Sequence, payload)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateEvent(ctx context.Context, ev *manifest.LifecycleEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE manifest_events SET payload = $3 WHERE access_key = $1 AND sequence = $2
	`, ev.AccessKey, ev.Sequence, payload)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, key accesskey.Key) ([]*manifest.LifecycleEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT payload FROM manifest_events WHERE access_key = $1 ORDER BY sequence
	`, key)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*manifest.LifecycleEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev manifest.LifecycleEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func marshalParts(m *manifest.Manifest) (envelope, attempts []byte, err error) {
	if m.Envelope != nil {
		envelope, err = json.Marshal(m.Envelope)
		if err != nil {
			return nil, nil, fmt.Errorf("encode envelope: %w", err)
		}
	}
	if m.Attempts == nil {
		attempts = []byte("[]")
	} else {
		attempts, err = json.Marshal(m.Attempts)
		if err != nil {
			return nil, nil, fmt.Errorf("encode attempts: %w", err)
		}
	}
	return envelope, attempts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanManifest(row rowScanner) (*manifest.Manifest, error) {
	var (
		m        manifest.Manifest
		envelope []byte
		attempts []byte
	)
	err := row.Scan(&m.AccessKey, &m.Version, &m.Status, &m.CanonicalForm, &envelope, &m.Protocol, &attempts, &m.PollCount, &m.Unresolved, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan manifest: %w", err)
	}
	if len(envelope) > 0 {
		m.Envelope = &manifest.SignedEnvelope{}
		if err := json.Unmarshal(envelope, m.Envelope); err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
	}
	if len(attempts) > 0 {
		if err := json.Unmarshal(attempts, &m.Attempts); err != nil {
			return nil, fmt.Errorf("decode attempts: %w", err)
		}
	}
	return &m, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

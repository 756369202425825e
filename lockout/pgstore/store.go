package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/goPin/lockout"
	"github.com/jackc/pgx/v5"
)

const schema = `
CREATE TABLE IF NOT EXISTS pin_failure_records (
    subject TEXT PRIMARY KEY,
    consecutive_failures INTEGER NOT NULL DEFAULT 0,
    locked_until TIMESTAMPTZ,
    last_failure_at TIMESTAMPTZ,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// DB is satisfied by *pgxpool.Pool and *pgx.Conn.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store keeps FailureRecords in Postgres for hosts that hold lockout state
// server-side (one row per wallet subject).
type Store struct {
	db DB
}

// New wraps an existing pool or connection.
func New(db DB) *Store {
	return &Store{db: db}
}

// Migrate creates the table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create pin_failure_records: %w", err)
	}
	return tx.Commit(ctx)
}

// Load returns the current record, or a zero record when none exists.
func (s *Store) Load(ctx context.Context, subject string) (lockout.FailureRecord, error) {
	var rec lockout.FailureRecord
	var failures int32
	err := s.db.QueryRow(ctx, `
		SELECT consecutive_failures, locked_until, last_failure_at
		FROM pin_failure_records
		WHERE subject = $1
	`, lockout.NormalizeSubject(subject)).Scan(&failures, &rec.LockedUntil, &rec.LastFailureAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return lockout.FailureRecord{}, nil
		}
		return lockout.FailureRecord{}, fmt.Errorf("%w: %v", lockout.ErrStoreUnavailable, err)
	}
	return normalizeRecord(rec, failures), nil
}

// Update locks the subject's row with SELECT ... FOR UPDATE, applies fn and
// writes the result in the same transaction.
func (s *Store) Update(ctx context.Context, subject string, fn lockout.UpdateFunc) (lockout.FailureRecord, error) {
	subject = lockout.NormalizeSubject(subject)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return lockout.FailureRecord{}, fmt.Errorf("%w: %v", lockout.ErrStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO pin_failure_records (subject) VALUES ($1)
		ON CONFLICT (subject) DO NOTHING
	`, subject); err != nil {
		return lockout.FailureRecord{}, fmt.Errorf("%w: %v", lockout.ErrStoreUnavailable, err)
	}

	var current lockout.FailureRecord
	var failures int32
	if err := tx.QueryRow(ctx, `
		SELECT consecutive_failures, locked_until, last_failure_at
		FROM pin_failure_records
		WHERE subject = $1
		FOR UPDATE
	`, subject).Scan(&failures, &current.LockedUntil, &current.LastFailureAt); err != nil {
		return lockout.FailureRecord{}, fmt.Errorf("%w: %v", lockout.ErrStoreUnavailable, err)
	}
	current = normalizeRecord(current, failures)

	next := fn(current)
	if _, err := tx.Exec(ctx, `
		UPDATE pin_failure_records
		SET consecutive_failures = $2, locked_until = $3, last_failure_at = $4, updated_at = NOW()
		WHERE subject = $1
	`, subject, int32(next.ConsecutiveFailures), next.LockedUntil, next.LastFailureAt); err != nil {
		return lockout.FailureRecord{}, fmt.Errorf("%w: %v", lockout.ErrStoreUnavailable, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return lockout.FailureRecord{}, fmt.Errorf("%w: %v", lockout.ErrStoreUnavailable, err)
	}

	return next.Clone(), nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("%w: %v", lockout.ErrStoreUnavailable, err)
	}
	return nil
}

func normalizeRecord(rec lockout.FailureRecord, failures int32) lockout.FailureRecord {
	if failures > 0 {
		rec.ConsecutiveFailures = uint32(failures)
	}
	rec.LockedUntil = utcMillis(rec.LockedUntil)
	rec.LastFailureAt = utcMillis(rec.LastFailureAt)
	return rec
}

func utcMillis(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC().Truncate(time.Millisecond)
	return &v
}

package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrEthical07/goPin/lockout"
	"github.com/MrEthical07/goPin/lockout/sqlitestore/migrations"
	_ "modernc.org/sqlite"
)

// Store keeps device-local authentication state in one SQLite file: the
// lockout FailureRecord and the PIN hash used by vault.Vault.
//
// Every write runs in a BEGIN IMMEDIATE transaction, so two processes on the
// same device serialize their read-modify-write of the failure counter.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (or creates) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}

	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Load returns the current record, or a zero record when none exists.
func (s *Store) Load(ctx context.Context, subject string) (lockout.FailureRecord, error) {
	rec, err := loadRecord(ctx, s.sqlDB, lockout.NormalizeSubject(subject))
	if err != nil {
		return lockout.FailureRecord{}, fmt.Errorf("%w: %v", lockout.ErrStoreUnavailable, err)
	}
	return rec, nil
}

// Update applies fn inside a single immediate transaction.
func (s *Store) Update(ctx context.Context, subject string, fn lockout.UpdateFunc) (lockout.FailureRecord, error) {
	subject = lockout.NormalizeSubject(subject)

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return lockout.FailureRecord{}, fmt.Errorf("%w: %v", lockout.ErrStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := loadRecord(ctx, tx, subject)
	if err != nil {
		return lockout.FailureRecord{}, fmt.Errorf("%w: %v", lockout.ErrStoreUnavailable, err)
	}

	next := fn(current)
	if next.IsZero() {
		_, err = tx.ExecContext(ctx, `DELETE FROM failure_records WHERE subject = ?`, subject)
	} else {
		_, err = tx.ExecContext(ctx, `
INSERT INTO failure_records (subject, consecutive_failures, locked_until, last_failure_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(subject) DO UPDATE SET
    consecutive_failures = excluded.consecutive_failures,
    locked_until = excluded.locked_until,
    last_failure_at = excluded.last_failure_at,
    updated_at = excluded.updated_at`,
			subject,
			int64(next.ConsecutiveFailures),
			toNullMillis(next.LockedUntil),
			toNullMillis(next.LastFailureAt),
			time.Now().UTC().UnixMilli(),
		)
	}
	if err != nil {
		return lockout.FailureRecord{}, fmt.Errorf("%w: %v", lockout.ErrStoreUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return lockout.FailureRecord{}, fmt.Errorf("%w: %v", lockout.ErrStoreUnavailable, err)
	}

	return next.Clone(), nil
}

// LoadPinHash returns the stored PIN hash for subject, or "" when none is set.
func (s *Store) LoadPinHash(ctx context.Context, subject string) (string, error) {
	var hash string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT pin_hash FROM pin_credentials WHERE subject = ?`,
		lockout.NormalizeSubject(subject),
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load pin hash: %w", err)
	}
	return hash, nil
}

// StorePinHash replaces the PIN hash for subject.
func (s *Store) StorePinHash(ctx context.Context, subject, hash string) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO pin_credentials (subject, pin_hash, updated_at) VALUES (?, ?, ?)
ON CONFLICT(subject) DO UPDATE SET pin_hash = excluded.pin_hash, updated_at = excluded.updated_at`,
		lockout.NormalizeSubject(subject), hash, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store pin hash: %w", err)
	}
	return nil
}

func loadRecord(ctx context.Context, q queryer, subject string) (lockout.FailureRecord, error) {
	var (
		failures    int64
		lockedUntil sql.NullInt64
		lastFailure sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `
SELECT consecutive_failures, locked_until, last_failure_at
FROM failure_records
WHERE subject = ?`, subject).Scan(&failures, &lockedUntil, &lastFailure)
	if errors.Is(err, sql.ErrNoRows) {
		return lockout.FailureRecord{}, nil
	}
	if err != nil {
		return lockout.FailureRecord{}, err
	}
	if failures < 0 {
		return lockout.FailureRecord{}, errors.New("negative failure count")
	}

	return lockout.FailureRecord{
		ConsecutiveFailures: uint32(failures),
		LockedUntil:         fromNullMillis(lockedUntil),
		LastFailureAt:       fromNullMillis(lastFailure),
	}, nil
}

func toNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

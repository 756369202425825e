package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/goPin/lockout"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix     = "pinlock"
	defaultMaxRetries = 8

	fieldFailures    = "f"
	fieldLockedUntil = "lu"
	fieldLastFailure = "lf"
)

// Config holds Redis store options.
type Config struct {
	Prefix     string
	MaxRetries int
}

// Store persists FailureRecords as Redis hashes and serializes updates with
// WATCH/MULTI so concurrent app instances never under-count failures.
type Store struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a Redis-backed store.
func New(redisClient redis.UniversalClient, cfg Config) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	return &Store{redis: redisClient, config: cfg}
}

func (s *Store) key(subject string) string {
	return s.config.Prefix + ":fr:" + lockout.NormalizeSubject(subject)
}

// Load returns the current record, or a zero record when none exists.
func (s *Store) Load(ctx context.Context, subject string) (lockout.FailureRecord, error) {
	vals, err := s.redis.HGetAll(ctx, s.key(subject)).Result()
	if err != nil {
		return lockout.FailureRecord{}, fmt.Errorf("%w: %v", lockout.ErrStoreUnavailable, err)
	}
	rec, err := decodeRecord(vals)
	if err != nil {
		return lockout.FailureRecord{}, fmt.Errorf("%w: %v", lockout.ErrStoreUnavailable, err)
	}
	return rec, nil
}

// Update runs fn inside an optimistic transaction, retrying when another
// writer touched the record between read and write.
func (s *Store) Update(ctx context.Context, subject string, fn lockout.UpdateFunc) (lockout.FailureRecord, error) {
	key := s.key(subject)

	var out lockout.FailureRecord
	txf := func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		current, err := decodeRecord(vals)
		if err != nil {
			return err
		}

		next := fn(current)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			if !next.IsZero() {
				pipe.HSet(ctx, key, encodeRecord(next))
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = next
		return nil
	}

	for i := 0; i < s.config.MaxRetries; i++ {
		err := s.redis.Watch(ctx, txf, key)
		if err == nil {
			return out.Clone(), nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return lockout.FailureRecord{}, fmt.Errorf("%w: %v", lockout.ErrStoreUnavailable, err)
	}
	return lockout.FailureRecord{}, lockout.ErrStoreConflict
}

func encodeRecord(rec lockout.FailureRecord) map[string]interface{} {
	fields := map[string]interface{}{
		fieldFailures: strconv.FormatUint(uint64(rec.ConsecutiveFailures), 10),
	}
	if rec.LockedUntil != nil {
		fields[fieldLockedUntil] = strconv.FormatInt(rec.LockedUntil.UnixMilli(), 10)
	}
	if rec.LastFailureAt != nil {
		fields[fieldLastFailure] = strconv.FormatInt(rec.LastFailureAt.UnixMilli(), 10)
	}
	return fields
}

func decodeRecord(vals map[string]string) (lockout.FailureRecord, error) {
	var rec lockout.FailureRecord
	if len(vals) == 0 {
		return rec, nil
	}

	if raw, ok := vals[fieldFailures]; ok {
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return lockout.FailureRecord{}, errors.New("invalid failure count")
		}
		rec.ConsecutiveFailures = uint32(n)
	}

	lockedUntil, err := decodeMillis(vals, fieldLockedUntil)
	if err != nil {
		return lockout.FailureRecord{}, err
	}
	rec.LockedUntil = lockedUntil

	lastFailure, err := decodeMillis(vals, fieldLastFailure)
	if err != nil {
		return lockout.FailureRecord{}, err
	}
	rec.LastFailureAt = lastFailure

	return rec, nil
}

func decodeMillis(vals map[string]string, field string) (*time.Time, error) {
	raw, ok := vals[field]
	if !ok || raw == "" {
		return nil, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp field %s", field)
	}
	t := time.UnixMilli(ms).UTC()
	return &t, nil
}

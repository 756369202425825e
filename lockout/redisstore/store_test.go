package redisstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goPin/lockout"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	return New(rdb, Config{Prefix: "test", MaxRetries: 64}), mr, func() {
		_ = rdb.Close()
		mr.Close()
	}
}

func testPolicy(t *testing.T) lockout.Policy {
	t.Helper()
	p, err := lockout.NewPolicy(lockout.Config{
		MaxAttempts:   3,
		BaseDelay:     time.Minute,
		MaxDelay:      time.Hour,
		BackoffFactor: 2,
	})
	if err != nil {
		t.Fatalf("NewPolicy failed: %v", err)
	}
	return p
}

func TestLoadMissingRecordIsZero(t *testing.T) {
	store, _, done := newTestStore(t)
	defer done()

	rec, err := store.Load(context.Background(), "wallet-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !rec.IsZero() {
		t.Fatalf("expected zero record, got %+v", rec)
	}
}

func TestUpdateRoundTripsLock(t *testing.T) {
	store, _, done := newTestStore(t)
	defer done()

	ctx := context.Background()
	p := testPolicy(t)
	now := time.UnixMilli(1_700_000_000_123).UTC()

	var last lockout.FailureRecord
	for i := 0; i < 3; i++ {
		rec, err := store.Update(ctx, "wallet-1", func(cur lockout.FailureRecord) lockout.FailureRecord {
			return p.OnFailure(cur, now)
		})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		last = rec
	}

	loaded, err := store.Load(ctx, "wallet-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.ConsecutiveFailures != 3 {
		t.Fatalf("expected 3 failures, got %d", loaded.ConsecutiveFailures)
	}
	if loaded.LockedUntil == nil || !loaded.LockedUntil.Equal(*last.LockedUntil) {
		t.Fatalf("lockedUntil not persisted: %+v", loaded)
	}
	if !p.Evaluate(loaded, now).IsLocked() {
		t.Fatal("expected loaded record to be locked")
	}
}

func TestUpdateToZeroDeletesKey(t *testing.T) {
	store, mr, done := newTestStore(t)
	defer done()

	ctx := context.Background()
	p := testPolicy(t)
	now := time.Now().UTC()

	if _, err := store.Update(ctx, "", func(cur lockout.FailureRecord) lockout.FailureRecord {
		return p.OnFailure(cur, now)
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !mr.Exists("test:fr:default") {
		t.Fatal("expected record key to exist")
	}

	if _, err := store.Update(ctx, "", p.OnSuccess); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if mr.Exists("test:fr:default") {
		t.Fatal("expected record key to be deleted after success")
	}
}

func TestConcurrentUpdatesAreAllCounted(t *testing.T) {
	store, _, done := newTestStore(t)
	defer done()

	ctx := context.Background()
	p, err := lockout.NewPolicy(lockout.Config{
		MaxAttempts:   100,
		BaseDelay:     time.Minute,
		MaxDelay:      time.Hour,
		BackoffFactor: 2,
	})
	if err != nil {
		t.Fatalf("NewPolicy failed: %v", err)
	}
	now := time.Now().UTC()

	const writers = 10
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "wallet-1", func(cur lockout.FailureRecord) lockout.FailureRecord {
				return p.OnFailure(cur, now)
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}

	rec, err := store.Load(ctx, "wallet-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if rec.ConsecutiveFailures != writers {
		t.Fatalf("expected %d failures, got %d", writers, rec.ConsecutiveFailures)
	}
}

func TestBackendDownReturnsUnavailable(t *testing.T) {
	store, mr, done := newTestStore(t)
	defer done()

	mr.Close()

	_, err := store.Load(context.Background(), "wallet-1")
	if !errors.Is(err, lockout.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	_, err = store.Update(context.Background(), "wallet-1", func(cur lockout.FailureRecord) lockout.FailureRecord {
		return cur
	})
	if !errors.Is(err, lockout.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestCorruptRecordIsUnavailable(t *testing.T) {
	store, mr, done := newTestStore(t)
	defer done()

	mr.HSet("test:fr:wallet-1", fieldFailures, "not-a-number")

	if _, err := store.Load(context.Background(), "wallet-1"); !errors.Is(err, lockout.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

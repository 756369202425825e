package lockout

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// DefaultSubject keys the record when the host application has one wallet.
const DefaultSubject = "default"

var (
	// ErrStoreUnavailable indicates the failure-record backend could not be read or written.
	ErrStoreUnavailable = errors.New("lockout store unavailable")
	// ErrStoreConflict indicates an optimistic update kept losing to concurrent writers.
	ErrStoreConflict = errors.New("lockout store update conflict")
)

// UpdateFunc computes the next record from the current one.
type UpdateFunc func(current FailureRecord) FailureRecord

// Store persists FailureRecords.
//
// Update must be an atomic read-modify-write with respect to other
// goroutines and other processes sharing the backend: two concurrent wrong
// entries must both be counted.
type Store interface {
	Load(ctx context.Context, subject string) (FailureRecord, error)
	Update(ctx context.Context, subject string, fn UpdateFunc) (FailureRecord, error)
}

// NormalizeSubject maps blank subjects to DefaultSubject.
func NormalizeSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return DefaultSubject
	}
	return subject
}

// MemoryStore is a process-local Store, mainly for tests and single-process hosts.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]FailureRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]FailureRecord)}
}

// Load returns the stored record or a zero record.
func (s *MemoryStore) Load(_ context.Context, subject string) (FailureRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[NormalizeSubject(subject)].Clone(), nil
}

// Update applies fn under the store mutex.
func (s *MemoryStore) Update(_ context.Context, subject string, fn UpdateFunc) (FailureRecord, error) {
	subject = NormalizeSubject(subject)

	s.mu.Lock()
	defer s.mu.Unlock()

	next := fn(s.records[subject].Clone())
	if next.IsZero() {
		delete(s.records, subject)
		return FailureRecord{}, nil
	}
	s.records[subject] = next.Clone()
	return next.Clone(), nil
}

// Package vault provides a reference SecureVault: argon2id PIN hashes kept
// in a pluggable HashStore.
//
// lockout/sqlitestore.Store satisfies HashStore, so a device can keep its
// failure record and PIN hash in one file.
package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrEthical07/goPin/lockout"
)

var (
	// ErrPinNotSet is returned by Validate before any PIN was saved.
	ErrPinNotSet = errors.New("pin not set")
	// ErrStore wraps HashStore failures.
	ErrStore = errors.New("pin hash store failure")
	// ErrLength is returned by Save for PINs of the wrong length.
	ErrLength = errors.New("pin has wrong length")
)

// HashStore persists one PIN hash per subject. LoadPinHash returns "" when
// nothing is stored.
type HashStore interface {
	LoadPinHash(ctx context.Context, subject string) (string, error)
	StorePinHash(ctx context.Context, subject, hash string) error
}

// Options configures a Vault.
type Options struct {
	Subject string
	// Length is the required PIN length. Zero accepts any length.
	Length int
}

// Vault hashes and verifies PINs. It is safe for concurrent use.
type Vault struct {
	hasher  *Hasher
	store   HashStore
	subject string
	length  int

	mu     sync.Mutex
	cached string
	warm   bool
}

// New returns a Vault over store.
func New(hasher *Hasher, store HashStore, opts Options) *Vault {
	return &Vault{
		hasher:  hasher,
		store:   store,
		subject: lockout.NormalizeSubject(opts.Subject),
		length:  opts.Length,
	}
}

// IsPinSet reports whether a PIN hash exists.
func (v *Vault) IsPinSet(ctx context.Context) (bool, error) {
	hash, err := v.load(ctx)
	if err != nil {
		return false, err
	}
	return hash != "", nil
}

// Save hashes pin and replaces the stored hash.
func (v *Vault) Save(ctx context.Context, pin string) error {
	if v.length > 0 && len(pin) != v.length {
		return ErrLength
	}
	hash, err := v.hasher.Hash(pin)
	if err != nil {
		return err
	}
	if err := v.store.StorePinHash(ctx, v.subject, hash); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}

	v.mu.Lock()
	v.cached, v.warm = hash, true
	v.mu.Unlock()
	return nil
}

// Validate reports whether pin matches the stored hash. Hashes produced with
// weaker parameters are upgraded after a successful match.
func (v *Vault) Validate(ctx context.Context, pin string) (bool, error) {
	hash, err := v.load(ctx)
	if err != nil {
		return false, err
	}
	if hash == "" {
		return false, ErrPinNotSet
	}

	ok, err := v.hasher.Verify(pin, hash)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStore, err)
	}
	if !ok {
		return false, nil
	}

	if upgrade, _ := v.hasher.NeedsUpgrade(hash); upgrade {
		// Best effort; a failed upgrade leaves the old hash valid.
		_ = v.Save(ctx, pin)
	}
	return true, nil
}

// CacheSecuredData loads the stored hash into memory ahead of first use.
func (v *Vault) CacheSecuredData(ctx context.Context) error {
	v.mu.Lock()
	v.warm = false
	v.mu.Unlock()

	_, err := v.load(ctx)
	return err
}

func (v *Vault) load(ctx context.Context) (string, error) {
	v.mu.Lock()
	if v.warm {
		hash := v.cached
		v.mu.Unlock()
		return hash, nil
	}
	v.mu.Unlock()

	hash, err := v.store.LoadPinHash(ctx, v.subject)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStore, err)
	}

	v.mu.Lock()
	v.cached, v.warm = hash, true
	v.mu.Unlock()
	return hash, nil
}

// MemoryHashStore is an in-process HashStore.
type MemoryHashStore struct {
	mu     sync.Mutex
	hashes map[string]string
}

// NewMemoryHashStore returns an empty store.
func NewMemoryHashStore() *MemoryHashStore {
	return &MemoryHashStore{hashes: make(map[string]string)}
}

func (m *MemoryHashStore) LoadPinHash(_ context.Context, subject string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hashes[lockout.NormalizeSubject(subject)], nil
}

func (m *MemoryHashStore) StorePinHash(_ context.Context, subject, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashes[lockout.NormalizeSubject(subject)] = hash
	return nil
}

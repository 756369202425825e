package vault

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrEthical07/goPin/lockout/sqlitestore"
)

func fastConfig() HasherConfig {
	return HasherConfig{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newTestVault(t *testing.T, store HashStore) *Vault {
	t.Helper()

	hasher, err := NewHasher(fastConfig())
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	return New(hasher, store, Options{Subject: "wallet-1", Length: 6})
}

type failingHashStore struct{}

func (failingHashStore) LoadPinHash(context.Context, string) (string, error) {
	return "", errors.New("keystore locked")
}

func (failingHashStore) StorePinHash(context.Context, string, string) error {
	return errors.New("keystore locked")
}

func TestHashFormatAndVerify(t *testing.T) {
	hasher, err := NewHasher(fastConfig())
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}

	hash, err := hasher.Hash("123456")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := hasher.Verify("123456", hash)
	if err != nil || !ok {
		t.Fatalf("expected match, got %v %v", ok, err)
	}
	ok, err = hasher.Verify("123457", hash)
	if err != nil || ok {
		t.Fatalf("expected mismatch, got %v %v", ok, err)
	}
}

func TestHashRejectsNonDigits(t *testing.T) {
	hasher, err := NewHasher(fastConfig())
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	for _, pin := range []string{"", "12a456", " 12345"} {
		if _, err := hasher.Hash(pin); !errors.Is(err, ErrInvalidPin) {
			t.Fatalf("expected ErrInvalidPin for %q, got %v", pin, err)
		}
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	hasher, err := NewHasher(fastConfig())
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	for _, bad := range []string{
		"",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$MDEyMzQ1Njc4OWFiY2RlZg$aGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$MDEyMzQ1Njc4OWFiY2RlZg$aGFzaA",
	} {
		if _, err := hasher.Verify("123456", bad); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("expected ErrInvalidHash for %q, got %v", bad, err)
		}
	}
}

func TestNeedsUpgrade(t *testing.T) {
	weak, err := NewHasher(fastConfig())
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	hash, err := weak.Hash("123456")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	cfg := fastConfig()
	cfg.Time = 2
	strong, err := NewHasher(cfg)
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	if up, err := strong.NeedsUpgrade(hash); err != nil || !up {
		t.Fatalf("expected upgrade, got %v %v", up, err)
	}
	if up, err := weak.NeedsUpgrade(hash); err != nil || up {
		t.Fatalf("expected no upgrade, got %v %v", up, err)
	}
}

func TestHasherConfigValidation(t *testing.T) {
	cfg := fastConfig()
	cfg.SaltLength = 8
	if _, err := NewHasher(cfg); err == nil {
		t.Fatal("expected short salt to be rejected")
	}
}

func TestVaultSaveValidate(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, NewMemoryHashStore())

	set, err := v.IsPinSet(ctx)
	if err != nil || set {
		t.Fatalf("expected no pin, got %v %v", set, err)
	}
	if _, err := v.Validate(ctx, "123456"); !errors.Is(err, ErrPinNotSet) {
		t.Fatalf("expected ErrPinNotSet, got %v", err)
	}
	if err := v.Save(ctx, "12345"); !errors.Is(err, ErrLength) {
		t.Fatalf("expected ErrLength, got %v", err)
	}

	if err := v.Save(ctx, "123456"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if set, _ := v.IsPinSet(ctx); !set {
		t.Fatal("expected pin set")
	}
	if ok, err := v.Validate(ctx, "123456"); err != nil || !ok {
		t.Fatalf("expected valid, got %v %v", ok, err)
	}
	if ok, err := v.Validate(ctx, "654321"); err != nil || ok {
		t.Fatalf("expected invalid, got %v %v", ok, err)
	}
}

func TestVaultStoreFailureIsStorageError(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, failingHashStore{})

	if _, err := v.Validate(ctx, "123456"); !errors.Is(err, ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
	if err := v.Save(ctx, "123456"); !errors.Is(err, ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
	if err := v.CacheSecuredData(ctx); !errors.Is(err, ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
}

func TestVaultOverSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pin.db")

	store, err := sqlitestore.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := newTestVault(t, store).Save(ctx, "246810"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := sqlitestore.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	v := newTestVault(t, reopened)
	if err := v.CacheSecuredData(ctx); err != nil {
		t.Fatalf("CacheSecuredData failed: %v", err)
	}
	if ok, err := v.Validate(ctx, "246810"); err != nil || !ok {
		t.Fatalf("expected persisted pin to validate, got %v %v", ok, err)
	}
}

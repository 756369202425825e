// Package biometric implements the optional biometric fast-path for unlock.
//
// The gate never touches the PIN lockout record. A successful attempt is an
// independent authentication factor; every other outcome falls back to
// manual entry.
package biometric

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/MrEthical07/goPin/flow"
)

// Result is the outcome of one biometric attempt.
type Result uint8

const (
	ResultSuccess Result = iota + 1
	ResultFailed
	ResultUnavailable
	ResultCancelled
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultFailed:
		return "failed"
	case ResultUnavailable:
		return "unavailable"
	case ResultCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

var (
	// ErrHandleUsed is returned when a handle is presented a second time.
	ErrHandleUsed = errors.New("biometric handle already used")
	// ErrNoProvider is returned when the gate has no provider configured.
	ErrNoProvider = errors.New("biometric provider not configured")
	// ErrProvider wraps errors returned by the platform provider.
	ErrProvider = errors.New("biometric provider error")
)

// Handle is a single-use token for one authentication attempt.
type Handle struct {
	token string
	used  atomic.Bool
}

// NewHandle wraps a provider token.
func NewHandle(token string) *Handle {
	return &Handle{token: token}
}

// Token returns the provider token.
func (h *Handle) Token() string {
	if h == nil {
		return ""
	}
	return h.token
}

// Claim marks the handle used. Only the first call returns true.
func (h *Handle) Claim() bool {
	if h == nil {
		return false
	}
	return h.used.CompareAndSwap(false, true)
}

// Discard invalidates an unused handle.
func (h *Handle) Discard() {
	if h != nil {
		h.used.Store(true)
	}
}

// Used reports whether the handle was claimed or discarded.
func (h *Handle) Used() bool {
	return h == nil || h.used.Load()
}

// Provider is the platform biometric boundary. Authenticate may block on
// OS-level UI and must honour ctx cancellation.
type Provider interface {
	IsAvailable(ctx context.Context) bool
	NewHandle(ctx context.Context) (*Handle, error)
	Authenticate(ctx context.Context, h *Handle) (Result, error)
}

// Gate decides when the fast-path is offered and normalizes provider results.
type Gate struct {
	provider Provider
	enabled  bool
}

// NewGate returns a gate. A nil provider disables the gate.
func NewGate(provider Provider, enabled bool) *Gate {
	return &Gate{provider: provider, enabled: enabled && provider != nil}
}

// Enabled reports whether the gate can ever be offered.
func (g *Gate) Enabled() bool {
	return g != nil && g.enabled
}

// Offered reports whether biometric unlock should be presented. It is never
// offered during the Set flow or before a PIN exists.
func (g *Gate) Offered(ctx context.Context, kind flow.Kind, pinSet bool) bool {
	if !g.Enabled() || kind != flow.KindUnlock || !pinSet {
		return false
	}
	return g.provider.IsAvailable(ctx)
}

// Acquire obtains a fresh handle for one attempt.
func (g *Gate) Acquire(ctx context.Context) (*Handle, error) {
	if !g.Enabled() {
		return nil, ErrNoProvider
	}
	h, err := g.provider.NewHandle(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	if h == nil {
		return nil, fmt.Errorf("%w: nil handle", ErrProvider)
	}
	return h, nil
}

// Attempt consumes h and runs one authentication. Any outcome other than
// ResultSuccess means fall back to manual entry; the returned error is for
// diagnostics only.
func (g *Gate) Attempt(ctx context.Context, h *Handle) (Result, error) {
	if !g.Enabled() {
		return ResultUnavailable, ErrNoProvider
	}
	if !h.Claim() {
		return ResultUnavailable, ErrHandleUsed
	}

	res, err := g.provider.Authenticate(ctx, h)
	if err != nil {
		if ctx.Err() != nil {
			return ResultCancelled, ctx.Err()
		}
		return ResultUnavailable, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	switch res {
	case ResultSuccess, ResultFailed, ResultUnavailable, ResultCancelled:
		return res, nil
	default:
		return ResultFailed, fmt.Errorf("%w: unknown result %d", ErrProvider, res)
	}
}

package lockout

import (
	"errors"
	"math"
	"time"
)

// Config holds the policy parameters. The delay curve is
//
//	delay(n) = 0                                             for n < MaxAttempts
//	delay(n) = min(BaseDelay * BackoffFactor^(n-MaxAttempts), MaxDelay)  otherwise
//
// which is non-decreasing in n and bounded by MaxDelay.
type Config struct {
	MaxAttempts   uint32
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor uint32
}

var (
	ErrInvalidMaxAttempts   = errors.New("lockout MaxAttempts must be >= 1")
	ErrInvalidBaseDelay     = errors.New("lockout BaseDelay must be > 0")
	ErrInvalidMaxDelay      = errors.New("lockout MaxDelay must be >= BaseDelay")
	ErrInvalidBackoffFactor = errors.New("lockout BackoffFactor must be >= 1")
)

// Validate checks that the curve is well formed.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}
	if c.BaseDelay <= 0 {
		return ErrInvalidBaseDelay
	}
	if c.MaxDelay < c.BaseDelay {
		return ErrInvalidMaxDelay
	}
	if c.BackoffFactor < 1 {
		return ErrInvalidBackoffFactor
	}
	return nil
}

// Policy maps a FailureRecord and the current time to lockout decisions.
// It performs no I/O; persistence belongs to the caller's Store.
type Policy struct {
	config Config
}

// NewPolicy validates cfg and returns a Policy.
func NewPolicy(cfg Config) (Policy, error) {
	if err := cfg.Validate(); err != nil {
		return Policy{}, err
	}
	return Policy{config: cfg}, nil
}

// MaxAttempts returns the number of consecutive failures that triggers a lock.
func (p Policy) MaxAttempts() uint32 {
	return p.config.MaxAttempts
}

// Delay returns the lock duration applied after the given number of
// consecutive failures.
func (p Policy) Delay(failures uint32) time.Duration {
	if failures < p.config.MaxAttempts {
		return 0
	}

	d := p.config.BaseDelay
	factor := time.Duration(p.config.BackoffFactor)
	for i := p.config.MaxAttempts; i < failures; i++ {
		if factor == 1 || d >= p.config.MaxDelay {
			break
		}
		if d > time.Duration(math.MaxInt64)/factor {
			return p.config.MaxDelay
		}
		d *= factor
	}
	if d > p.config.MaxDelay {
		return p.config.MaxDelay
	}
	return d
}

// Evaluate derives the lockout state from record at now.
//
// A lock is honored for as long as now < LockedUntil, including when the
// clock has moved backwards since the lock was written.
func (p Policy) Evaluate(record FailureRecord, now time.Time) State {
	if record.LockedUntil != nil && now.Before(*record.LockedUntil) {
		return State{Kind: Locked, Until: *record.LockedUntil}
	}

	left := uint32(0)
	if record.ConsecutiveFailures < p.config.MaxAttempts {
		left = p.config.MaxAttempts - record.ConsecutiveFailures
	}
	return State{Kind: Unlocked, AttemptsLeft: left}
}

// OnFailure returns the record after one more wrong PIN at now.
//
// While the record is locked nothing is counted and the record is returned
// unchanged, so an existing lock is never shortened or extended.
func (p Policy) OnFailure(record FailureRecord, now time.Time) FailureRecord {
	if p.Evaluate(record, now).IsLocked() {
		return record.Clone()
	}

	now = normalize(now)
	next := record.Clone()
	if next.ConsecutiveFailures < math.MaxUint32 {
		next.ConsecutiveFailures++
	}
	next.LastFailureAt = &now

	if next.ConsecutiveFailures >= p.config.MaxAttempts {
		until := now.Add(p.Delay(next.ConsecutiveFailures))
		next.LockedUntil = &until
	} else {
		next.LockedUntil = nil
	}
	return next
}

// OnCheckedFailure returns the record after a wrong PIN that was checked
// while the record was unlocked. Unlike OnFailure it counts the guess even if
// a concurrent attempt has locked the record since the check. An existing
// lock is kept when it ends later than the one this failure earns.
func (p Policy) OnCheckedFailure(record FailureRecord, now time.Time) FailureRecord {
	now = normalize(now)
	next := record.Clone()
	if next.ConsecutiveFailures < math.MaxUint32 {
		next.ConsecutiveFailures++
	}
	next.LastFailureAt = &now

	var until time.Time
	if next.ConsecutiveFailures >= p.config.MaxAttempts {
		until = now.Add(p.Delay(next.ConsecutiveFailures))
	}
	if record.LockedUntil != nil && record.LockedUntil.After(until) && now.Before(*record.LockedUntil) {
		until = *record.LockedUntil
	}
	if until.IsZero() {
		next.LockedUntil = nil
	} else {
		next.LockedUntil = &until
	}
	return next
}

// OnVerified returns the record after a correct PIN that was checked while
// the record was unlocked. A lock engaged by a concurrent attempt since the
// check is left in place; otherwise the record is cleared.
func (p Policy) OnVerified(record FailureRecord, now time.Time) FailureRecord {
	if p.Evaluate(record, now).IsLocked() {
		return record.Clone()
	}
	return p.OnSuccess(record)
}

// OnSuccess returns a cleared record.
func (p Policy) OnSuccess(FailureRecord) FailureRecord {
	return FailureRecord{}
}

// normalize drops the monotonic reading and sub-millisecond precision so that
// every Store round-trips timestamps exactly.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

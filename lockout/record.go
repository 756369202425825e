package lockout

import "time"

// FailureRecord is the persisted throttling state for one subject.
//
// It is mutated only through the Policy On* methods; stores persist whatever
// those return.
type FailureRecord struct {
	ConsecutiveFailures uint32
	LockedUntil         *time.Time
	LastFailureAt       *time.Time
}

// Clone returns a deep copy so callers never share timestamp pointers.
func (r FailureRecord) Clone() FailureRecord {
	out := FailureRecord{ConsecutiveFailures: r.ConsecutiveFailures}
	if r.LockedUntil != nil {
		t := *r.LockedUntil
		out.LockedUntil = &t
	}
	if r.LastFailureAt != nil {
		t := *r.LastFailureAt
		out.LastFailureAt = &t
	}
	return out
}

// IsZero reports whether the record carries no failure history.
func (r FailureRecord) IsZero() bool {
	return r.ConsecutiveFailures == 0 && r.LockedUntil == nil && r.LastFailureAt == nil
}

// Kind tags a State variant.
type Kind uint8

const (
	// Unlocked allows a validation attempt.
	Unlocked Kind = iota
	// Locked rejects validation attempts until State.Until.
	Locked
)

func (k Kind) String() string {
	switch k {
	case Unlocked:
		return "unlocked"
	case Locked:
		return "locked"
	default:
		return "unknown"
	}
}

// State is the derived lockout decision. It is computed per query and must
// not be cached past a single decision point.
//
// AttemptsLeft is meaningful only for Unlocked, Until only for Locked.
type State struct {
	Kind         Kind
	AttemptsLeft uint32
	Until        time.Time
}

// IsLocked reports whether validation must be rejected.
func (s State) IsLocked() bool {
	return s.Kind == Locked
}

// Remaining returns the time left on a lock relative to now, or zero.
func (s State) Remaining(now time.Time) time.Duration {
	if s.Kind != Locked {
		return 0
	}
	d := s.Until.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Clock supplies the current time. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now in UTC.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

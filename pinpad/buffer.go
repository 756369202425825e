// Package pinpad accumulates PIN digits for a single page.
package pinpad

import "errors"

// DefaultLength is the PIN length used by the wallet flows.
const DefaultLength = 6

var (
	// ErrFull is returned when a digit is appended to a complete buffer.
	ErrFull = errors.New("pin buffer full")
	// ErrInvalidDigit is returned for values outside 0-9.
	ErrInvalidDigit = errors.New("invalid pin digit")
	// ErrLocked is returned while the buffer content is being validated.
	ErrLocked = errors.New("pin buffer locked")
)

// State describes the buffer after an operation.
//
// Completed is true only for the append that moved the buffer from
// Length-1 to Length digits. Changed is false when the operation was a no-op.
type State struct {
	Filled    int
	Length    int
	Completed bool
	Changed   bool
}

// Buffer holds the digits of one page. It is not safe for concurrent use;
// the owning session serializes access.
type Buffer struct {
	length int
	digits []byte
	locked bool
}

// New returns an empty buffer for PINs of the given length.
func New(length int) *Buffer {
	if length <= 0 {
		length = DefaultLength
	}
	return &Buffer{length: length, digits: make([]byte, 0, length)}
}

// Append adds d to the buffer.
func (b *Buffer) Append(d int) (State, error) {
	if b.locked {
		return b.state(false, false), ErrLocked
	}
	if d < 0 || d > 9 {
		return b.state(false, false), ErrInvalidDigit
	}
	if len(b.digits) >= b.length {
		return b.state(false, false), ErrFull
	}

	b.digits = append(b.digits, byte('0'+d))
	return b.state(len(b.digits) == b.length, true), nil
}

// DeleteLast removes the most recent digit. It is a no-op on an empty buffer.
func (b *Buffer) DeleteLast() (State, error) {
	if b.locked {
		return b.state(false, false), ErrLocked
	}
	if len(b.digits) == 0 {
		return b.state(false, false), nil
	}
	b.digits[len(b.digits)-1] = 0
	b.digits = b.digits[:len(b.digits)-1]
	return b.state(false, true), nil
}

// Reset wipes the content and releases the lock.
func (b *Buffer) Reset() {
	for i := range b.digits {
		b.digits[i] = 0
	}
	b.digits = b.digits[:0]
	b.locked = false
}

// Value returns the entered digits.
func (b *Buffer) Value() string {
	return string(b.digits)
}

// Len returns the number of entered digits.
func (b *Buffer) Len() int {
	return len(b.digits)
}

// Length returns the PIN length this buffer completes at.
func (b *Buffer) Length() int {
	return b.length
}

// IsComplete reports whether the buffer holds a full PIN.
func (b *Buffer) IsComplete() bool {
	return len(b.digits) == b.length
}

// Lock rejects further edits until Reset or Unlock.
func (b *Buffer) Lock() {
	b.locked = true
}

// Unlock re-enables edits without touching the content.
func (b *Buffer) Unlock() {
	b.locked = false
}

// IsLocked reports whether edits are currently rejected.
func (b *Buffer) IsLocked() bool {
	return b.locked
}

func (b *Buffer) state(completed, changed bool) State {
	return State{
		Filled:    len(b.digits),
		Length:    b.length,
		Completed: completed,
		Changed:   changed,
	}
}

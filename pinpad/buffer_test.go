package pinpad

import (
	"errors"
	"testing"
)

func TestAppendCompletesExactlyOnce(t *testing.T) {
	b := New(6)

	completions := 0
	for d := 1; d <= 6; d++ {
		st, err := b.Append(d)
		if err != nil {
			t.Fatalf("append %d failed: %v", d, err)
		}
		if st.Completed {
			completions++
			if st.Filled != 6 {
				t.Fatalf("completed at %d digits", st.Filled)
			}
		}
	}
	if completions != 1 {
		t.Fatalf("expected one completion, got %d", completions)
	}
	if b.Value() != "123456" {
		t.Fatalf("expected 123456, got %q", b.Value())
	}

	st, err := b.Append(7)
	if !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	if st.Completed || st.Changed || b.Value() != "123456" {
		t.Fatalf("overflow changed buffer: %+v %q", st, b.Value())
	}
}

func TestDeleteOnEmptyIsNoop(t *testing.T) {
	b := New(4)

	st, err := b.DeleteLast()
	if err != nil {
		t.Fatalf("DeleteLast failed: %v", err)
	}
	if st.Changed || st.Filled != 0 {
		t.Fatalf("expected no-op, got %+v", st)
	}
}

func TestDeleteThenRecomplete(t *testing.T) {
	b := New(3)
	for _, d := range []int{1, 2, 3} {
		if _, err := b.Append(d); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	st, err := b.DeleteLast()
	if err != nil || !st.Changed || st.Filled != 2 {
		t.Fatalf("unexpected delete result %+v %v", st, err)
	}

	st, err = b.Append(9)
	if err != nil || !st.Completed {
		t.Fatalf("expected completion after re-entry, got %+v %v", st, err)
	}
	if b.Value() != "129" {
		t.Fatalf("expected 129, got %q", b.Value())
	}
}

func TestInvalidDigitRejected(t *testing.T) {
	b := New(6)
	for _, d := range []int{-1, 10, 42} {
		if _, err := b.Append(d); !errors.Is(err, ErrInvalidDigit) {
			t.Fatalf("digit %d: expected ErrInvalidDigit, got %v", d, err)
		}
	}
	if b.Len() != 0 {
		t.Fatalf("invalid digits were stored")
	}
}

func TestLockRejectsEditsUntilReset(t *testing.T) {
	b := New(2)
	_, _ = b.Append(1)
	b.Lock()

	if _, err := b.Append(2); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if _, err := b.DeleteLast(); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	b.Reset()
	if b.IsLocked() || b.Len() != 0 {
		t.Fatalf("reset did not clear buffer")
	}
	if _, err := b.Append(5); err != nil {
		t.Fatalf("append after reset failed: %v", err)
	}
}

func TestNonPositiveLengthUsesDefault(t *testing.T) {
	if got := New(0).Length(); got != DefaultLength {
		t.Fatalf("expected default length %d, got %d", DefaultLength, got)
	}
}

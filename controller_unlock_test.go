package goPin

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/goPin/biometric"
	"github.com/MrEthical07/goPin/lockout"
	"github.com/MrEthical07/goPin/receipt"
)

func TestUnlockCorrectPinResolvesSuccess(t *testing.T) {
	h := newHarness(t, testControllerConfig(), newFakeVault("123456"), nil)

	h.send(t, StartUnlock(true))
	pages := h.waitFor(t, EventPages)
	if len(pages.Pages) != 1 || pages.Flow != FlowUnlock {
		t.Fatalf("unexpected pages event: %+v", pages)
	}

	h.enter(t, "123456")
	ev := h.waitFor(t, EventResolved)
	if ev.Outcome != OutcomeSuccess || ev.Method != MethodPIN {
		t.Fatalf("expected pin success, got outcome=%s method=%q err=%v", ev.Outcome, ev.Method, ev.Err)
	}
	if ev.Receipt != "" {
		t.Fatalf("receipt issued while disabled")
	}

	dismissed, closed := h.nav.settled(t)
	if len(dismissed) != 1 || !dismissed[0] || closed != 0 {
		t.Fatalf("expected Dismiss(true), got dismissed=%v closed=%d", dismissed, closed)
	}
}

func TestUnlockFillEventsTrackEachDigit(t *testing.T) {
	h := newHarness(t, testControllerConfig(), newFakeVault("123456"), nil)

	h.send(t, StartUnlock(true))
	h.waitFor(t, EventPages)

	h.enter(t, "12")
	for want := 1; want <= 2; want++ {
		ev := h.waitFor(t, EventFill)
		if ev.Filled != want || ev.Length != 6 {
			t.Fatalf("fill %d: got filled=%d length=%d", want, ev.Filled, ev.Length)
		}
	}

	h.send(t, Delete())
	if ev := h.waitFor(t, EventFill); ev.Filled != 1 {
		t.Fatalf("expected filled=1 after delete, got %d", ev.Filled)
	}
}

func TestWrongPinCountsDownToLockout(t *testing.T) {
	h := newHarness(t, testControllerConfig(), newFakeVault("123456"), nil)

	h.send(t, StartUnlock(true))
	h.waitFor(t, EventPages)

	for want := uint32(4); want >= 1; want-- {
		h.enter(t, "000000")
		ev := h.waitFor(t, EventWrongPin)
		if ev.AttemptsLeft != want {
			t.Fatalf("expected %d attempts left, got %d", want, ev.AttemptsLeft)
		}
		requireErr(t, ev.Err, ErrWrongPin)
	}

	h.enter(t, "000000")
	h.waitFor(t, EventWrongPin)
	locked := h.waitFor(t, EventLockedOut)
	wantUntil := h.clock.Now().Add(30 * time.Second)
	if !locked.LockedUntil.Equal(wantUntil) {
		t.Fatalf("expected lock until %v, got %v", wantUntil, locked.LockedUntil)
	}

	rec := h.record(t)
	if rec.ConsecutiveFailures != 5 {
		t.Fatalf("expected 5 failures, got %d", rec.ConsecutiveFailures)
	}

	// The correct PIN is not even checked while locked.
	h.enter(t, "123456")
	again := h.waitFor(t, EventLockedOut)
	requireErr(t, again.Err, ErrLockedOut)
	if !again.LockedUntil.Equal(wantUntil) {
		t.Fatalf("lock moved: %v -> %v", wantUntil, again.LockedUntil)
	}
	if got := h.record(t).ConsecutiveFailures; got != 5 {
		t.Fatalf("attempt during lock was counted: %d", got)
	}
	if got := h.c.MetricsSnapshot().Counters[MetricUnlockLockedOut]; got != 1 {
		t.Fatalf("expected one locked-out attempt, got %d", got)
	}
}

func TestUnlockAfterLockExpiry(t *testing.T) {
	h := newHarness(t, testControllerConfig(), newFakeVault("123456"), nil)

	h.send(t, StartUnlock(true))
	h.waitFor(t, EventPages)
	for i := 0; i < 5; i++ {
		h.enter(t, "000000")
		h.waitFor(t, EventWrongPin)
	}
	h.waitFor(t, EventLockedOut)

	h.clock.Advance(31 * time.Second)
	h.enter(t, "123456")
	ev := h.waitFor(t, EventResolved)
	if ev.Outcome != OutcomeSuccess {
		t.Fatalf("expected success after expiry, got %s (%v)", ev.Outcome, ev.Err)
	}
	if rec := h.record(t); !rec.IsZero() {
		t.Fatalf("expected cleared record, got %+v", rec)
	}
}

func TestStartUnlockReportsExistingLock(t *testing.T) {
	h := newHarness(t, testControllerConfig(), newFakeVault("123456"), nil)

	now := h.clock.Now()
	h.addFailures(t, 5)

	h.send(t, StartUnlock(true))
	ev := h.waitFor(t, EventLockedOut)
	if !ev.LockedUntil.Equal(now.Add(30 * time.Second)) {
		t.Fatalf("unexpected lock deadline %v", ev.LockedUntil)
	}
}

func TestVaultErrorIsNotCounted(t *testing.T) {
	v := newFakeVault("123456")
	v.validateErr = errors.New("keystore unavailable")
	h := newHarness(t, testControllerConfig(), v, nil)

	h.send(t, StartUnlock(true))
	h.waitFor(t, EventPages)
	h.enter(t, "000000")

	events := h.collectUntil(t, EventResolved)
	if !hasKind(events, EventStorageError) {
		t.Fatalf("expected storage error event, got %v", kinds(events))
	}
	if hasKind(events, EventWrongPin) {
		t.Fatalf("storage failure reported as wrong pin")
	}
	ev := events[len(events)-1]
	if ev.Outcome != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", ev.Outcome)
	}
	requireErr(t, ev.Err, ErrStorage)

	if rec := h.record(t); !rec.IsZero() {
		t.Fatalf("storage failure counted: %+v", rec)
	}
	dismissed, _ := h.nav.settled(t)
	if len(dismissed) != 1 || dismissed[0] {
		t.Fatalf("expected Dismiss(false), got %v", dismissed)
	}
}

func TestUncountableWrongPinFailsClosed(t *testing.T) {
	h := newHarness(t, testControllerConfig(), newFakeVault("123456"), func(b *Builder) {
		b.WithFailureStore(failingUpdateStore{lockout.NewMemoryStore()})
	})

	h.send(t, StartUnlock(true))
	h.waitFor(t, EventPages)
	h.enter(t, "000000")

	ev := h.waitFor(t, EventResolved)
	if ev.Outcome != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", ev.Outcome)
	}
	requireErr(t, ev.Err, ErrStorage)
	requireErr(t, ev.Err, lockout.ErrStoreUnavailable)
}

func TestUnlockWithoutPinFails(t *testing.T) {
	h := newHarness(t, testControllerConfig(), newFakeVault(""), nil)

	h.send(t, StartUnlock(true))
	ev := h.waitFor(t, EventResolved)
	if ev.Outcome != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", ev.Outcome)
	}
	requireErr(t, ev.Err, ErrPinNotSet)
}

func TestCancelDuringValidationDropsResult(t *testing.T) {
	v := newFakeVault("123456")
	v.block = make(chan struct{})
	v.started = make(chan struct{}, 1)
	h := newHarness(t, testControllerConfig(), v, nil)

	h.send(t, StartUnlock(true))
	h.waitFor(t, EventPages)
	h.enter(t, "000000")

	select {
	case <-v.started:
	case <-time.After(eventWait):
		t.Fatalf("validation never started")
	}

	h.send(t, Cancel())
	ev := h.waitFor(t, EventResolved)
	if ev.Outcome != OutcomeCancelled {
		t.Fatalf("expected cancelled, got %s", ev.Outcome)
	}

	close(v.block)
	waitUntil(t, "stale result drop", func() bool {
		return h.c.MetricsSnapshot().Counters[MetricStaleResultDropped] >= 1
	})
	if rec := h.record(t); !rec.IsZero() {
		t.Fatalf("cancelled validation mutated record: %+v", rec)
	}
}

func TestGuessCheckedBeforeConcurrentLockIsCounted(t *testing.T) {
	v := newFakeVault("123456")
	v.block = make(chan struct{})
	v.started = make(chan struct{}, 1)
	h := newHarness(t, testControllerConfig(), v, nil)
	h.addFailures(t, 4)
	now := h.clock.Now()

	h.send(t, StartUnlock(true))
	h.waitFor(t, EventPages)
	h.enter(t, "000000")
	select {
	case <-v.started:
	case <-time.After(eventWait):
		t.Fatalf("validation never started")
	}

	// Another instance reaches the threshold while this guess is in the vault.
	h.addFailures(t, 1)
	close(v.block)

	if ev := h.waitFor(t, EventWrongPin); ev.AttemptsLeft != 0 {
		t.Fatalf("expected 0 attempts left, got %d", ev.AttemptsLeft)
	}
	want := now.Add(60 * time.Second)
	if ev := h.waitFor(t, EventLockedOut); !ev.LockedUntil.Equal(want) {
		t.Fatalf("expected lock until %v, got %v", want, ev.LockedUntil)
	}

	rec := h.record(t)
	if rec.ConsecutiveFailures != 6 {
		t.Fatalf("expected 6 failures recorded, got %d", rec.ConsecutiveFailures)
	}
	if rec.LockedUntil == nil || !rec.LockedUntil.Equal(want) {
		t.Fatalf("expected escalated lock %v, got %v", want, rec.LockedUntil)
	}
}

func TestCorrectPinKeepsConcurrentLock(t *testing.T) {
	v := newFakeVault("123456")
	v.block = make(chan struct{})
	v.started = make(chan struct{}, 1)
	h := newHarness(t, testControllerConfig(), v, nil)
	h.addFailures(t, 4)

	h.send(t, StartUnlock(true))
	h.waitFor(t, EventPages)
	h.enter(t, "123456")
	select {
	case <-v.started:
	case <-time.After(eventWait):
		t.Fatalf("validation never started")
	}

	h.addFailures(t, 1)
	close(v.block)

	if ev := h.waitFor(t, EventResolved); ev.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s (%v)", ev.Outcome, ev.Err)
	}
	rec := h.record(t)
	if rec.ConsecutiveFailures != 5 || rec.LockedUntil == nil {
		t.Fatalf("concurrent lock was cleared: %+v", rec)
	}
}

func TestCancelOutermostUnlockClosesApplication(t *testing.T) {
	h := newHarness(t, testControllerConfig(), newFakeVault("123456"), nil)

	h.send(t, StartUnlock(false))
	h.waitFor(t, EventPages)
	h.send(t, Cancel())
	h.waitFor(t, EventResolved)

	dismissed, closed := h.nav.settled(t)
	if closed != 1 || len(dismissed) != 0 {
		t.Fatalf("expected CloseApplication, got dismissed=%v closed=%d", dismissed, closed)
	}
}

func TestBiometricSuccessLeavesFailureRecord(t *testing.T) {
	cfg := testControllerConfig()
	cfg.Biometric.Enabled = true
	p := &fakeBiometric{available: true, result: biometric.ResultSuccess}
	h := newHarness(t, cfg, newFakeVault("123456"), func(b *Builder) {
		b.WithBiometricProvider(p)
	})

	h.send(t, StartUnlock(true))
	h.waitFor(t, EventBiometricPrompt)
	h.enter(t, "000000")
	h.waitFor(t, EventWrongPin)
	h.enter(t, "000000")
	h.waitFor(t, EventWrongPin)
	before := h.record(t)

	h.send(t, RequestBiometric())
	ev := h.waitFor(t, EventResolved)
	if ev.Outcome != OutcomeSuccess || ev.Method != MethodBiometric {
		t.Fatalf("expected biometric success, got outcome=%s method=%q", ev.Outcome, ev.Method)
	}

	after := h.record(t)
	if after.ConsecutiveFailures != before.ConsecutiveFailures || after.ConsecutiveFailures != 2 {
		t.Fatalf("biometric success touched record: before=%+v after=%+v", before, after)
	}
}

func TestBiometricFailureFallsBackSilently(t *testing.T) {
	cfg := testControllerConfig()
	cfg.Biometric.Enabled = true
	cfg.Biometric.AutoPrompt = true
	p := &fakeBiometric{available: true, result: biometric.ResultFailed}
	h := newHarness(t, cfg, newFakeVault("123456"), func(b *Builder) {
		b.WithBiometricProvider(p)
	})

	h.send(t, StartUnlock(true))
	h.waitFor(t, EventBiometricPrompt)
	waitUntil(t, "biometric fallback", func() bool {
		return h.c.MetricsSnapshot().Counters[MetricBiometricFallback] == 1
	})

	h.enter(t, "123456")
	events := h.collectUntil(t, EventResolved)
	if hasKind(events, EventStorageError) || hasKind(events, EventRejected) || hasKind(events, EventWrongPin) {
		t.Fatalf("fallback surfaced an error: %v", kinds(events))
	}
	if ev := events[len(events)-1]; ev.Outcome != OutcomeSuccess || ev.Method != MethodPIN {
		t.Fatalf("expected pin success, got outcome=%s method=%q", ev.Outcome, ev.Method)
	}
}

func TestBiometricNotOfferedIsRejected(t *testing.T) {
	h := newHarness(t, testControllerConfig(), newFakeVault("123456"), nil)

	h.send(t, StartUnlock(true))
	h.waitFor(t, EventPages)
	h.send(t, RequestBiometric())
	ev := h.waitFor(t, EventRejected)
	requireErr(t, ev.Err, ErrBiometricNotOffered)
}

func TestUnlockIssuesVerifiableReceipt(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	cfg := testControllerConfig()
	cfg.Receipt.Enabled = true
	cfg.Receipt.SigningMethod = "hs256"
	cfg.Receipt.PrivateKey = key
	h := newHarness(t, cfg, newFakeVault("123456"), nil)

	h.send(t, StartUnlock(true))
	pages := h.waitFor(t, EventPages)
	h.enter(t, "123456")
	ev := h.waitFor(t, EventResolved)
	if ev.Receipt == "" {
		t.Fatalf("expected receipt on unlock")
	}

	iss, err := receipt.NewIssuer(receipt.Config{
		TTL:           cfg.Receipt.TTL,
		SigningMethod: receipt.MethodHS256,
		PrivateKey:    key,
		Issuer:        cfg.Receipt.Issuer,
	}, h.clock.Now)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	claims, err := iss.Parse(ev.Receipt)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.SessionID != pages.SessionID || claims.Method != receipt.UnlockPIN {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestUnlockAuditOmitsPin(t *testing.T) {
	cfg := testControllerConfig()
	cfg.Audit.Enabled = true
	sink := NewChannelSink(16)
	h := newHarness(t, cfg, newFakeVault("123456"), func(b *Builder) {
		b.WithAuditSink(sink)
	})

	h.send(t, StartUnlock(true))
	h.waitFor(t, EventPages)
	h.enter(t, "987654")
	h.waitFor(t, EventWrongPin)

	select {
	case ev := <-sink.Events():
		if ev.Type != "pin_unlock_wrong_pin" {
			t.Fatalf("unexpected audit event %q", ev.Type)
		}
		if ev.Error != string(auditErrWrongPin) || ev.AttemptsLeft == nil || *ev.AttemptsLeft != 4 {
			t.Fatalf("unexpected audit payload: %+v", ev)
		}
		if ev.Failures == nil || *ev.Failures != 1 {
			t.Fatalf("expected 1 failure in audit event, got %+v", ev.Failures)
		}
		raw, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if strings.Contains(string(raw), "987654") {
			t.Fatalf("pin leaked into audit event: %s", raw)
		}
	case <-time.After(eventWait):
		t.Fatalf("no audit event")
	}
}

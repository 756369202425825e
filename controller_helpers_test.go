package goPin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goPin/biometric"
	"github.com/MrEthical07/goPin/lockout"
)

const eventWait = 2 * time.Second

type fakeVault struct {
	mu    sync.Mutex
	pin   string
	set   bool
	saves []string

	cacheErr    error
	validateErr error
	saveErr     error
	cacheCalls  int

	// When block is non-nil Validate signals started and waits for block to
	// close or ctx to end.
	block   chan struct{}
	started chan struct{}
}

func newFakeVault(pin string) *fakeVault {
	return &fakeVault{pin: pin, set: pin != ""}
}

func (v *fakeVault) IsPinSet(context.Context) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.set, nil
}

func (v *fakeVault) Save(_ context.Context, pin string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.saveErr != nil {
		return v.saveErr
	}
	v.saves = append(v.saves, pin)
	v.pin = pin
	v.set = true
	return nil
}

func (v *fakeVault) Validate(ctx context.Context, pin string) (bool, error) {
	v.mu.Lock()
	block, started, err := v.block, v.started, v.validateErr
	v.mu.Unlock()

	if block != nil {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-block:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	if err != nil {
		return false, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	return v.set && v.pin == pin, nil
}

func (v *fakeVault) CacheSecuredData(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cacheCalls++
	return v.cacheErr
}

func (v *fakeVault) cached() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cacheCalls
}

func (v *fakeVault) savedPins() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.saves...)
}

type fakeNavigator struct {
	mu        sync.Mutex
	dismissed []bool
	closed    int
}

func (n *fakeNavigator) Dismiss(success bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dismissed = append(n.dismissed, success)
}

func (n *fakeNavigator) CloseApplication() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed++
}

func (n *fakeNavigator) snapshot() ([]bool, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]bool(nil), n.dismissed...), n.closed
}

// settled waits for the navigator call that follows EventResolved.
func (n *fakeNavigator) settled(t *testing.T) ([]bool, int) {
	t.Helper()
	waitUntil(t, "navigation", func() bool {
		d, c := n.snapshot()
		return len(d)+c > 0
	})
	return n.snapshot()
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeBiometric struct {
	mu        sync.Mutex
	available bool
	result    biometric.Result
	err       error
	attempts  int
}

func (p *fakeBiometric) IsAvailable(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

func (p *fakeBiometric) NewHandle(context.Context) (*biometric.Handle, error) {
	return biometric.NewHandle("test-handle"), nil
}

func (p *fakeBiometric) Authenticate(context.Context, *biometric.Handle) (biometric.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	return p.result, p.err
}

// failingUpdateStore reads through to a MemoryStore but fails every write.
type failingUpdateStore struct {
	*lockout.MemoryStore
}

func (s failingUpdateStore) Update(context.Context, string, lockout.UpdateFunc) (lockout.FailureRecord, error) {
	return lockout.FailureRecord{}, lockout.ErrStoreUnavailable
}

type harness struct {
	c     *Controller
	vault *fakeVault
	nav   *fakeNavigator
	clock *manualClock
	store FailureStore
}

func testControllerConfig() Config {
	cfg := DefaultConfig()
	cfg.Biometric.Enabled = false
	cfg.Metrics.Enabled = true
	cfg.Controller.OperationTimeout = time.Second
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, cfg Config, v *fakeVault, configure func(*Builder)) *harness {
	t.Helper()

	h := &harness{
		vault: v,
		nav:   &fakeNavigator{},
		clock: newManualClock(),
		store: lockout.NewMemoryStore(),
	}

	b := New().
		WithConfig(cfg).
		WithVault(v).
		WithNavigator(h.nav).
		WithClock(h.clock).
		WithFailureStore(h.store).
		WithLogger(quietLogger())
	if configure != nil {
		configure(b)
	}

	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	h.c = c

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		c.Close()
		<-errc
	})
	return h
}

func (h *harness) send(t *testing.T, cmds ...Command) {
	t.Helper()
	for _, cmd := range cmds {
		ctx, cancel := context.WithTimeout(context.Background(), eventWait)
		err := h.c.Send(ctx, cmd)
		cancel()
		if err != nil {
			t.Fatalf("Send(%s): %v", cmd.Kind, err)
		}
	}
}

func (h *harness) enter(t *testing.T, pin string) {
	t.Helper()
	for _, r := range pin {
		h.send(t, Digit(int(r-'0')))
	}
}

// waitFor returns the next event of kind, discarding anything before it.
func (h *harness) waitFor(t *testing.T, kind EventKind) Event {
	t.Helper()
	timer := time.NewTimer(eventWait)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-h.c.Events():
			if !ok {
				t.Fatalf("event stream closed waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-timer.C:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

// collectUntil returns every event up to and including the first of kind.
func (h *harness) collectUntil(t *testing.T, kind EventKind) []Event {
	t.Helper()
	timer := time.NewTimer(eventWait)
	defer timer.Stop()
	var out []Event
	for {
		select {
		case ev, ok := <-h.c.Events():
			if !ok {
				t.Fatalf("event stream closed waiting for %s", kind)
			}
			out = append(out, ev)
			if ev.Kind == kind {
				return out
			}
		case <-timer.C:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func (h *harness) record(t *testing.T) FailureRecord {
	t.Helper()
	rec, err := h.store.Load(context.Background(), lockout.DefaultSubject)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return rec
}

// addFailures records n wrong PINs at the harness clock, the way another
// instance sharing the store would.
func (h *harness) addFailures(t *testing.T, n int) {
	t.Helper()
	policy, err := lockout.NewPolicy(testControllerConfig().Lockout.policyConfig())
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	now := h.clock.Now()
	for i := 0; i < n; i++ {
		if _, err := h.store.Update(context.Background(), lockout.DefaultSubject, func(cur lockout.FailureRecord) lockout.FailureRecord {
			return policy.OnFailure(cur, now)
		}); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(eventWait)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Kind)
	}
	return out
}

func hasKind(events []Event, kind EventKind) bool {
	for _, ev := range events {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

func requireErr(t *testing.T, got, want error) {
	t.Helper()
	if !errors.Is(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

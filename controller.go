package goPin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goPin/biometric"
	"github.com/MrEthical07/goPin/flow"
	internalaudit "github.com/MrEthical07/goPin/internal/audit"
	"github.com/MrEthical07/goPin/lockout"
	"github.com/MrEthical07/goPin/pinpad"
	"github.com/MrEthical07/goPin/receipt"
	"github.com/google/uuid"
)

// Controller drives the Set, Unlock and Change flows. Commands go in
// through [Controller.Send] and view events come out of
// [Controller.Events]; all flow state is owned by the goroutine running
// [Controller.Run]. Vault, store and biometric calls run on their own
// goroutines and report back tagged with the session they belong to, so a
// result that outlives its session is dropped.
type Controller struct {
	config    Config
	policy    lockout.Policy
	store     lockout.Store
	vault     SecureVault
	gate      *biometric.Gate
	navigator Navigator
	clock     lockout.Clock
	logger    *slog.Logger
	receipts  *receipt.Issuer
	audit     *internalaudit.Dispatcher
	metrics   *Metrics

	commands chan Command
	events   chan Event
	results  chan opResult
	done     chan struct{}
	stopped  chan struct{}

	running   atomic.Bool
	closeOnce sync.Once

	// Owned by the Run goroutine.
	runCtx context.Context
	active *activeSession
}

type flowMode uint8

const (
	modeSet flowMode = iota
	modeUnlock
	modeChangeVerify
	modeChangeSet
)

func (m flowMode) String() string {
	switch m {
	case modeSet:
		return "set"
	case modeUnlock:
		return "unlock"
	case modeChangeVerify:
		return "change_verify"
	case modeChangeSet:
		return "change_set"
	default:
		return "unknown"
	}
}

type opKind uint8

const (
	opNone opKind = iota
	opPrepare
	opValidate
	opRecordFailure
	opResetFailures
	opSave
	opBiometric
)

func (o opKind) String() string {
	switch o {
	case opPrepare:
		return "prepare"
	case opValidate:
		return "validate"
	case opRecordFailure:
		return "record_failure"
	case opResetFailures:
		return "reset_failures"
	case opSave:
		return "save"
	case opBiometric:
		return "biometric"
	default:
		return "none"
	}
}

type opResult struct {
	op        opKind
	sessionID string

	pinSet           bool
	biometricOffered bool
	state            lockout.State
	stateKnown       bool
	locked           bool
	valid            bool
	record           lockout.FailureRecord
	bio              biometric.Result
	latency          time.Duration
	err              error
}

type activeSession struct {
	s           *flow.Session
	mode        flowMode
	dismissible bool
	ctx         context.Context
	cancel      context.CancelFunc

	awaiting         opKind
	prepared         bool
	biometricOffered bool
	biometricPending bool
}

// Run processes commands until ctx is done or Close is called. It may be
// called once. The Events channel is closed when Run returns.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrControllerRunning
	}
	c.runCtx = ctx
	defer c.shutdown()

	select {
	case <-c.done:
		return ErrControllerClosed
	default:
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case cmd := <-c.commands:
			c.handle(cmd)
		case res := <-c.results:
			c.apply(res)
		}
	}
}

// Send queues cmd for the Run loop. It returns ErrControllerClosed once the
// controller is closed or Run has returned.
func (c *Controller) Send(ctx context.Context, cmd Command) error {
	select {
	case <-c.done:
		return ErrControllerClosed
	case <-c.stopped:
		return ErrControllerClosed
	default:
	}

	select {
	case c.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrControllerClosed
	case <-c.stopped:
		return ErrControllerClosed
	}
}

// Events returns the outbound event channel.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Close stops the Run loop, cancels any outstanding vault or biometric call
// and flushes the audit dispatcher. It is idempotent.
func (c *Controller) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
		if c.running.Load() {
			<-c.stopped
		}
		c.audit.Close()
	})
}

// AuditStats returns the audit drop counters, including drops of lockout and
// storage events.
func (c *Controller) AuditStats() AuditStats {
	if c == nil {
		return AuditStats{}
	}
	return c.audit.Stats()
}

// MetricsSnapshot returns a copy of the in-process counters.
func (c *Controller) MetricsSnapshot() MetricsSnapshot {
	if c == nil {
		return NewMetrics(MetricsConfig{}).Snapshot()
	}
	return c.metrics.Snapshot()
}

// LockoutState reads the current lockout state from the failure store. It
// is safe to call from any goroutine.
func (c *Controller) LockoutState(ctx context.Context) (LockoutState, error) {
	rec, err := c.store.Load(ctx, c.config.Lockout.Subject)
	if err != nil {
		return LockoutState{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return c.policy.Evaluate(rec, c.clock.Now()), nil
}

func (c *Controller) shutdown() {
	if a := c.active; a != nil {
		a.cancel()
		c.active = nil
	}
	close(c.stopped)
	close(c.events)
}

func (c *Controller) handle(cmd Command) {
	switch cmd.Kind {
	case CmdStartSet:
		c.startSet(modeSet)
	case CmdStartUnlock:
		c.startUnlock(modeUnlock, cmd.Dismissible)
	case CmdStartChange:
		c.startUnlock(modeChangeVerify, true)
	case CmdDigit:
		c.onDigit(cmd.Digit)
	case CmdDelete:
		c.onDelete()
	case CmdCancel:
		c.onCancel()
	case CmdRequestBiometric:
		c.onRequestBiometric()
	default:
		c.reject(fmt.Errorf("%w: unknown command %d", ErrInvalidInput, cmd.Kind))
	}
}

func (c *Controller) apply(res opResult) {
	a := c.active
	if a == nil || a.s.ID() != res.sessionID || !a.accepts(res.op) {
		c.metricInc(MetricStaleResultDropped)
		c.logger.Debug("stale pin result dropped", "session_id", res.sessionID, "op", res.op.String())
		return
	}

	switch res.op {
	case opPrepare:
		c.applyPrepare(a, res)
	case opValidate:
		c.applyValidate(a, res)
	case opRecordFailure:
		c.applyRecordFailure(a, res)
	case opResetFailures:
		c.applyResetFailures(a, res)
	case opSave:
		c.applySave(a, res)
	case opBiometric:
		c.applyBiometric(a, res)
	}
}

func (a *activeSession) accepts(op opKind) bool {
	switch op {
	case opPrepare:
		return !a.prepared
	case opBiometric:
		return a.biometricPending
	default:
		return a.s.Status() == flow.StatusCommitting && a.awaiting == op
	}
}

func (c *Controller) begin(s *flow.Session, mode flowMode, dismissible bool) *activeSession {
	ctx, cancel := context.WithCancel(c.runCtx)
	a := &activeSession{
		s:           s,
		mode:        mode,
		dismissible: dismissible,
		ctx:         ctx,
		cancel:      cancel,
	}
	c.active = a

	ev := c.event(a, EventPages)
	ev.Pages = s.Pages()
	ev.Length = c.config.Pin.Length
	c.emit(ev)

	c.logger.Debug("pin flow started", "session_id", s.ID(), "flow", mode.String())
	return a
}

func (c *Controller) end(a *activeSession) {
	a.cancel()
	if c.active == a {
		c.active = nil
	}
}

// launch runs fn off the loop. fn must only use values captured at launch
// time and immutable controller fields.
func (c *Controller) launch(a *activeSession, op opKind, fn func(ctx context.Context) opResult) {
	if op != opPrepare && op != opBiometric {
		a.awaiting = op
	}
	id := a.s.ID()
	ctx := a.ctx

	go func() {
		res := fn(ctx)
		res.op = op
		res.sessionID = id
		select {
		case c.results <- res:
		case <-c.stopped:
			c.metricInc(MetricStaleResultDropped)
		}
	}()
}

func (c *Controller) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.config.Controller.OperationTimeout)
}

func (c *Controller) onDigit(d int) {
	a := c.active
	if a == nil {
		c.reject(ErrNoActiveFlow)
		return
	}

	touched := a.s.PageIndex()
	step, err := a.s.Append(d)
	if err != nil {
		if errors.Is(err, pinpad.ErrFull) {
			return
		}
		c.reject(inputError(err))
		return
	}

	fill := c.event(a, EventFill)
	fill.Page = touched
	fill.Filled = step.Buffer.Filled
	fill.Length = step.Buffer.Length
	c.emit(fill)

	switch step.Action {
	case flow.ActionAdvance:
		c.emitPageChanged(a, step.Page)
	case flow.ActionMismatch:
		c.onMismatch(a, step.Page)
	case flow.ActionCommit:
		c.commitPin(a, step.PIN)
	case flow.ActionValidate:
		c.validatePin(a, step.PIN)
	}
}

func (c *Controller) onDelete() {
	a := c.active
	if a == nil {
		c.reject(ErrNoActiveFlow)
		return
	}

	step, err := a.s.Delete()
	if err != nil {
		c.reject(inputError(err))
		return
	}
	if !step.Buffer.Changed {
		return
	}

	fill := c.event(a, EventFill)
	fill.Page = step.Page
	fill.Filled = step.Buffer.Filled
	fill.Length = step.Buffer.Length
	c.emit(fill)
}

func inputError(err error) error {
	if errors.Is(err, flow.ErrBusy) {
		return fmt.Errorf("%w: %w", ErrInputLocked, err)
	}
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}

func (c *Controller) onCancel() {
	a := c.active
	if a == nil {
		c.reject(ErrNoActiveFlow)
		return
	}
	if err := a.s.Cancel(); err != nil {
		c.reject(fmt.Errorf("%w: %v", ErrInvalidInput, err))
		return
	}

	c.metricInc(MetricFlowCancelled)
	c.emitAudit(internalaudit.TypeFlowCancelled, a, false, nil, func(e *AuditEvent) {
		e.Detail = a.awaiting.String()
	})
	c.finish(a, OutcomeCancelled, "", nil)
}

func (c *Controller) finish(a *activeSession, outcome Outcome, method string, err error) {
	ev := c.event(a, EventResolved)
	ev.Outcome = outcome
	ev.Method = method
	ev.Err = err

	if outcome == OutcomeSuccess && method != "" && c.receipts != nil {
		tok, rerr := c.receipts.Issue(a.s.ID(), c.config.Lockout.Subject, method)
		if rerr != nil {
			c.logger.Warn("unlock receipt not issued", "session_id", a.s.ID(), "error", rerr)
		} else {
			ev.Receipt = tok
		}
	}

	c.end(a)
	c.emit(ev)
	c.navigate(a, outcome)

	c.logger.Debug("pin flow resolved", "session_id", a.s.ID(), "flow", a.mode.String(), "outcome", outcome.String())
}

func (c *Controller) navigate(a *activeSession, outcome Outcome) {
	if c.navigator == nil {
		return
	}
	if outcome == OutcomeSuccess {
		c.navigator.Dismiss(true)
		return
	}
	if a.mode == modeUnlock && !a.dismissible {
		c.navigator.CloseApplication()
		return
	}
	c.navigator.Dismiss(false)
}

func (c *Controller) storageFailure(a *activeSession, err error) {
	if !errors.Is(err, ErrStorage) {
		err = fmt.Errorf("%w: %w", ErrStorage, err)
	}

	c.metricInc(MetricStorageFailure)
	c.emitAudit(internalaudit.TypeStorageFailure, a, false, err, nil)
	c.logger.Warn("pin flow storage failure", "session_id", a.s.ID(), "flow", a.mode.String(), "error", err)

	_ = a.s.Fail()
	ev := c.event(a, EventStorageError)
	ev.Err = err
	c.emit(ev)
	c.finish(a, OutcomeFailed, "", err)
}

func (c *Controller) reject(err error) {
	ev := Event{Kind: EventRejected, Err: err}
	if a := c.active; a != nil {
		ev.SessionID = a.s.ID()
		ev.Flow = a.s.Kind()
	}
	c.emit(ev)
}

func (c *Controller) event(a *activeSession, kind EventKind) Event {
	return Event{Kind: kind, SessionID: a.s.ID(), Flow: a.s.Kind()}
}

func (c *Controller) emitPageChanged(a *activeSession, page int) {
	ev := c.event(a, EventPageChanged)
	ev.Page = page
	ev.Length = c.config.Pin.Length
	c.emit(ev)
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	case <-c.runCtx.Done():
	}
}

func (c *Controller) newSessionID() string {
	return uuid.NewString()
}

func (c *Controller) prompts() flow.Prompts {
	return flow.Prompts{
		Enter:   c.config.Pin.EnterPrompt,
		Confirm: c.config.Pin.ConfirmPrompt,
		Unlock:  c.config.Pin.UnlockPrompt,
	}
}

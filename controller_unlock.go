package goPin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goPin/flow"
	internalaudit "github.com/MrEthical07/goPin/internal/audit"
	"github.com/MrEthical07/goPin/lockout"
	"github.com/MrEthical07/goPin/vault"
)

func (c *Controller) startUnlock(mode flowMode, dismissible bool) {
	if c.active != nil {
		c.reject(ErrFlowInProgress)
		return
	}

	s := flow.NewUnlock(c.newSessionID(), c.config.Pin.Length, c.prompts())
	a := c.begin(s, mode, dismissible)

	offerBiometric := mode == modeUnlock
	c.launch(a, opPrepare, func(ctx context.Context) opResult {
		return c.prepareUnlock(ctx, offerBiometric)
	})
}

// prepareUnlock warms the vault and reads the state needed before the first
// digit: whether a PIN exists, the current lockout state and biometric
// availability. A failed lockout read is not fatal here; validation reads
// the record again and fails closed.
func (c *Controller) prepareUnlock(ctx context.Context, offerBiometric bool) opResult {
	var res opResult

	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	if err := c.vault.CacheSecuredData(opCtx); err != nil {
		res.err = err
		return res
	}
	set, err := c.vault.IsPinSet(opCtx)
	if err != nil {
		res.err = err
		return res
	}
	res.pinSet = set
	if !set {
		return res
	}

	if rec, err := c.store.Load(opCtx, c.config.Lockout.Subject); err == nil {
		res.state = c.policy.Evaluate(rec, c.clock.Now())
		res.stateKnown = true
	} else {
		c.logger.Warn("lockout state unavailable", "error", err)
	}

	if offerBiometric {
		res.biometricOffered = c.gate.Offered(opCtx, flow.KindUnlock, set)
	}
	return res
}

func (c *Controller) applyPrepare(a *activeSession, res opResult) {
	a.prepared = true

	if res.err != nil {
		c.storageFailure(a, res.err)
		return
	}
	if a.s.Kind() == flow.KindSet {
		return
	}
	if !res.pinSet {
		_ = a.s.Fail()
		c.emitAudit(internalaudit.TypeUnlockFailure, a, false, ErrPinNotSet, nil)
		c.finish(a, OutcomeFailed, "", ErrPinNotSet)
		return
	}

	if res.stateKnown && res.state.IsLocked() {
		c.emitLockedOut(a, res.state, nil)
	}

	if res.biometricOffered {
		a.biometricOffered = true
		c.emit(c.event(a, EventBiometricPrompt))
		if c.config.Biometric.AutoPrompt {
			c.startBiometric(a)
		}
	}
}

func (c *Controller) validatePin(a *activeSession, pin string) {
	subject := c.config.Lockout.Subject

	c.launch(a, opValidate, func(ctx context.Context) opResult {
		var res opResult

		opCtx, cancel := c.opContext(ctx)
		defer cancel()

		rec, err := c.store.Load(opCtx, subject)
		if err != nil {
			res.err = fmt.Errorf("%w: %v", ErrStorage, err)
			return res
		}
		if st := c.policy.Evaluate(rec, c.clock.Now()); st.IsLocked() {
			res.state = st
			res.locked = true
			return res
		}

		start := time.Now()
		ok, err := c.vault.Validate(opCtx, pin)
		res.latency = time.Since(start)
		if err != nil {
			if errors.Is(err, ErrPinNotSet) || errors.Is(err, vault.ErrPinNotSet) {
				res.err = ErrPinNotSet
			} else {
				res.err = fmt.Errorf("%w: %v", ErrStorage, err)
			}
			return res
		}
		res.valid = ok
		return res
	})
}

func (c *Controller) applyValidate(a *activeSession, res opResult) {
	a.awaiting = opNone

	switch {
	case errors.Is(res.err, ErrPinNotSet):
		_ = a.s.Fail()
		c.emitAudit(internalaudit.TypeUnlockFailure, a, false, ErrPinNotSet, nil)
		c.finish(a, OutcomeFailed, "", ErrPinNotSet)
		return
	case res.err != nil:
		c.storageFailure(a, res.err)
		return
	case res.locked:
		c.metricInc(MetricUnlockLockedOut)
		c.emitAudit(internalaudit.TypeUnlockLockedOut, a, false, ErrLockedOut, func(e *AuditEvent) {
			until := res.state.Until
			e.LockedUntil = &until
		})
		_ = a.s.Retry()
		c.emitLockedOut(a, res.state, ErrLockedOut)
		return
	}

	c.metricObserve(MetricValidateLatency, res.latency)
	subject := c.config.Lockout.Subject

	if res.valid {
		c.launch(a, opResetFailures, func(ctx context.Context) opResult {
			opCtx, cancel := c.opContext(context.WithoutCancel(ctx))
			defer cancel()

			now := c.clock.Now()
			rec, err := c.store.Update(opCtx, subject, func(cur lockout.FailureRecord) lockout.FailureRecord {
				return c.policy.OnVerified(cur, now)
			})
			return opResult{record: rec, err: err}
		})
		return
	}

	// The guess reached the vault while the record was unlocked, so it is
	// counted even if the session is cancelled or another instance locks the
	// record while the write is in flight.
	c.launch(a, opRecordFailure, func(ctx context.Context) opResult {
		opCtx, cancel := c.opContext(context.WithoutCancel(ctx))
		defer cancel()

		now := c.clock.Now()
		rec, err := c.store.Update(opCtx, subject, func(cur lockout.FailureRecord) lockout.FailureRecord {
			return c.policy.OnCheckedFailure(cur, now)
		})
		return opResult{record: rec, err: err}
	})
}

func (c *Controller) applyRecordFailure(a *activeSession, res opResult) {
	a.awaiting = opNone

	if res.err != nil {
		// A guess that cannot be counted must not be retried.
		c.storageFailure(a, res.err)
		return
	}

	st := c.policy.Evaluate(res.record, c.clock.Now())
	c.metricInc(MetricUnlockWrongPin)
	failures := res.record.ConsecutiveFailures
	c.emitAudit(internalaudit.TypeUnlockWrongPin, a, false, ErrWrongPin, func(e *AuditEvent) {
		left := st.AttemptsLeft
		e.Failures = &failures
		e.AttemptsLeft = &left
	})

	_ = a.s.Retry()
	ev := c.event(a, EventWrongPin)
	ev.AttemptsLeft = st.AttemptsLeft
	ev.Length = c.config.Pin.Length
	ev.Err = ErrWrongPin
	c.emit(ev)

	if st.IsLocked() {
		c.metricInc(MetricLockoutEngaged)
		c.emitAudit(internalaudit.TypeLockoutEngaged, a, false, ErrLockedOut, func(e *AuditEvent) {
			until := st.Until
			e.Failures = &failures
			e.LockedUntil = &until
		})
		c.emitLockedOut(a, st, ErrLockedOut)
	}
}

func (c *Controller) applyResetFailures(a *activeSession, res opResult) {
	a.awaiting = opNone

	if res.err != nil {
		c.logger.Warn("failure record not reset after successful unlock", "session_id", a.s.ID(), "error", res.err)
	}

	if a.mode == modeChangeVerify {
		_ = a.s.Succeed()
		c.emitAudit(internalaudit.TypeChangeVerified, a, true, nil, nil)
		c.end(a)
		c.startSet(modeChangeSet)
		return
	}

	_ = a.s.Succeed()
	c.metricInc(MetricUnlockSuccess)
	c.emitAudit(internalaudit.TypeUnlockSuccess, a, true, nil, func(e *AuditEvent) {
		e.Method = MethodPIN
	})
	c.finish(a, OutcomeSuccess, MethodPIN, nil)
}

func (c *Controller) emitLockedOut(a *activeSession, st lockout.State, err error) {
	ev := c.event(a, EventLockedOut)
	ev.LockedUntil = st.Until
	ev.Err = err
	c.emit(ev)
}

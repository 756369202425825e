package goPin

import (
	"context"
	"fmt"

	"github.com/MrEthical07/goPin/biometric"
	internalaudit "github.com/MrEthical07/goPin/internal/audit"
)

func (c *Controller) onRequestBiometric() {
	a := c.active
	if a == nil {
		c.reject(ErrNoActiveFlow)
		return
	}
	if !a.biometricOffered {
		c.reject(ErrBiometricNotOffered)
		return
	}
	if a.biometricPending {
		c.reject(ErrFlowInProgress)
		return
	}
	c.startBiometric(a)
}

// startBiometric runs one attempt with a fresh single-use handle. The
// attempt is bound to the session context, so cancelling the flow aborts
// the platform prompt.
func (c *Controller) startBiometric(a *activeSession) {
	a.biometricPending = true
	gate := c.gate

	c.launch(a, opBiometric, func(ctx context.Context) opResult {
		h, err := gate.Acquire(ctx)
		if err != nil {
			return opResult{bio: biometric.ResultUnavailable, err: err}
		}
		defer h.Discard()

		res, err := gate.Attempt(ctx, h)
		return opResult{bio: res, err: err}
	})
}

// applyBiometric never touches the failure record. Success resolves the
// flow even when a PIN validation is outstanding; that result is then
// dropped as stale.
func (c *Controller) applyBiometric(a *activeSession, res opResult) {
	a.biometricPending = false

	if res.bio == biometric.ResultSuccess {
		_ = a.s.Succeed()
		c.metricInc(MetricBiometricSuccess)
		c.emitAudit(internalaudit.TypeUnlockSuccess, a, true, nil, func(e *AuditEvent) {
			e.Method = MethodBiometric
		})
		c.finish(a, OutcomeSuccess, MethodBiometric, nil)
		return
	}

	err := fmt.Errorf("%w: %s", ErrBiometric, res.bio)
	if res.err != nil {
		err = fmt.Errorf("%w: %s: %v", ErrBiometric, res.bio, res.err)
	}
	c.metricInc(MetricBiometricFallback)
	c.emitAudit(internalaudit.TypeBiometricFallback, a, false, err, func(e *AuditEvent) {
		e.Detail = res.bio.String()
	})
	c.logger.Info("biometric unlock fell back to pin entry", "session_id", a.s.ID(), "result", res.bio.String(), "error", res.err)
}

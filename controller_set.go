package goPin

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goPin/flow"
	internalaudit "github.com/MrEthical07/goPin/internal/audit"
)

func (c *Controller) startSet(mode flowMode) {
	if c.active != nil {
		c.reject(ErrFlowInProgress)
		return
	}

	s := flow.NewSet(c.newSessionID(), c.config.Pin.Length, c.prompts())
	a := c.begin(s, mode, true)

	// Warm the vault while the user types so the first Save is not cold.
	c.launch(a, opPrepare, func(ctx context.Context) opResult {
		opCtx, cancel := c.opContext(ctx)
		defer cancel()
		return opResult{err: c.vault.CacheSecuredData(opCtx)}
	})
}

func (c *Controller) onMismatch(a *activeSession, page int) {
	c.metricInc(MetricPinSetMismatch)
	c.emitAudit(internalaudit.TypeSetMismatch, a, false, ErrPinMismatch, nil)

	ev := c.event(a, EventMismatch)
	ev.Page = page
	ev.Err = ErrPinMismatch
	c.emit(ev)
	c.emitPageChanged(a, page)
}

// commitPin saves a confirmed PIN. A first-time set refuses to overwrite an
// existing PIN; the change flow has already verified the old one.
func (c *Controller) commitPin(a *activeSession, pin string) {
	guardExisting := a.mode == modeSet

	c.launch(a, opSave, func(ctx context.Context) opResult {
		var res opResult

		opCtx, cancel := c.opContext(ctx)
		defer cancel()

		if guardExisting {
			set, err := c.vault.IsPinSet(opCtx)
			if err != nil {
				res.err = fmt.Errorf("%w: %v", ErrStorage, err)
				return res
			}
			if set {
				res.err = ErrPinAlreadySet
				return res
			}
		}
		if err := c.vault.Save(opCtx, pin); err != nil {
			res.err = fmt.Errorf("%w: %v", ErrStorage, err)
		}
		return res
	})
}

func (c *Controller) applySave(a *activeSession, res opResult) {
	a.awaiting = opNone

	switch {
	case errors.Is(res.err, ErrPinAlreadySet):
		_ = a.s.Fail()
		c.emitAudit(internalaudit.TypeSetFailure, a, false, res.err, nil)
		c.finish(a, OutcomeFailed, "", res.err)
	case res.err != nil:
		c.storageFailure(a, res.err)
	default:
		_ = a.s.Succeed()
		c.metricInc(MetricPinSetSuccess)
		c.emitAudit(internalaudit.TypeSetSuccess, a, true, nil, nil)
		c.finish(a, OutcomeSuccess, "", nil)
	}
}

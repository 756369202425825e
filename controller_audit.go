package goPin

import (
	"errors"
	"time"

	"github.com/MrEthical07/goPin/lockout"
)

// AuditErrorCode is the stable error classification written to
// [AuditEvent.Error].
type AuditErrorCode string

const (
	auditErrInvalidInput  AuditErrorCode = "invalid_input"
	auditErrInputLocked   AuditErrorCode = "input_locked"
	auditErrMismatch      AuditErrorCode = "mismatch"
	auditErrWrongPin      AuditErrorCode = "wrong_pin"
	auditErrLockedOut     AuditErrorCode = "locked_out"
	auditErrStorage       AuditErrorCode = "storage"
	auditErrBiometric     AuditErrorCode = "biometric"
	auditErrPinNotSet     AuditErrorCode = "pin_not_set"
	auditErrPinAlreadySet AuditErrorCode = "pin_already_set"
	auditErrStoreConflict AuditErrorCode = "store_conflict"
	auditErrInternal      AuditErrorCode = "internal_error"
)

// emitAudit sends one event to the dispatcher. fill, if set, adds the
// type-specific fields.
func (c *Controller) emitAudit(eventType string, a *activeSession, success bool, err error, fill func(*AuditEvent)) {
	if c == nil || c.audit == nil {
		return
	}

	event := AuditEvent{
		Time:    time.Now().UTC(),
		Type:    eventType,
		Subject: c.config.Lockout.Subject,
		Success: success,
		Error:   string(auditErrorCode(err)),
	}
	if a != nil {
		event.SessionID = a.s.ID()
		event.Flow = a.mode.String()
	}
	if fill != nil {
		fill(&event)
	}

	c.audit.Emit(c.runCtx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return auditErrInvalidInput
	case errors.Is(err, ErrInputLocked):
		return auditErrInputLocked
	case errors.Is(err, ErrPinMismatch):
		return auditErrMismatch
	case errors.Is(err, ErrWrongPin):
		return auditErrWrongPin
	case errors.Is(err, ErrLockedOut):
		return auditErrLockedOut
	case errors.Is(err, lockout.ErrStoreConflict):
		return auditErrStoreConflict
	case errors.Is(err, ErrStorage),
		errors.Is(err, lockout.ErrStoreUnavailable):
		return auditErrStorage
	case errors.Is(err, ErrBiometric):
		return auditErrBiometric
	case errors.Is(err, ErrPinNotSet):
		return auditErrPinNotSet
	case errors.Is(err, ErrPinAlreadySet):
		return auditErrPinAlreadySet
	default:
		return auditErrInternal
	}
}

func (c *Controller) metricInc(id MetricID) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.Inc(id)
}

func (c *Controller) metricObserve(id MetricID, d time.Duration) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.Observe(id, d)
}

package goPin

import "errors"

var (
	// ErrInvalidInput is returned for digits outside 0-9 and unknown
	// commands. Overflowing a full page is ignored, not reported.
	ErrInvalidInput = errors.New("invalid pin input")
	// ErrInputLocked is returned for digits or deletes that arrive while a
	// save or validation is outstanding.
	ErrInputLocked = errors.New("pin input locked while a check is pending")
	// ErrPinMismatch is reported when the Confirm page disagrees with Enter.
	ErrPinMismatch = errors.New("pin confirmation mismatch")
	// ErrWrongPin is reported when the vault rejects an unlock attempt.
	ErrWrongPin = errors.New("wrong pin")
	// ErrLockedOut is reported when an attempt is made while locked. The
	// vault is not consulted and the attempt is not counted.
	ErrLockedOut = errors.New("pin entry locked out")
	// ErrStorage is reported when the vault or failure store itself fails.
	// It is never counted as a wrong PIN.
	ErrStorage = errors.New("secure storage failure")
	// ErrBiometric wraps biometric outcomes other than success. It is only
	// logged; the flow falls back to manual entry.
	ErrBiometric = errors.New("biometric authentication failed")
	// ErrFlowInProgress is returned when a flow is started while another is active.
	ErrFlowInProgress = errors.New("pin flow already in progress")
	// ErrNoActiveFlow is returned for input with no active flow.
	ErrNoActiveFlow = errors.New("no active pin flow")
	// ErrPinNotSet is returned when unlocking before a PIN exists.
	ErrPinNotSet = errors.New("pin not set")
	// ErrPinAlreadySet is returned when the set flow would overwrite an
	// existing PIN. Use the change flow instead.
	ErrPinAlreadySet = errors.New("pin already set")
	// ErrBiometricNotOffered is returned for RequestBiometric when the
	// fast-path is not available for the active flow.
	ErrBiometricNotOffered = errors.New("biometric unlock not offered")
	// ErrControllerClosed is returned by Send after Close.
	ErrControllerClosed = errors.New("pin controller closed")
	// ErrControllerRunning is returned when Run is called twice.
	ErrControllerRunning = errors.New("pin controller already running")
)

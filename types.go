package goPin

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/MrEthical07/goPin/biometric"
	"github.com/MrEthical07/goPin/flow"
	internalaudit "github.com/MrEthical07/goPin/internal/audit"
	internalmetrics "github.com/MrEthical07/goPin/internal/metrics"
	"github.com/MrEthical07/goPin/lockout"
)

// SecureVault holds the PIN material. The controller never hashes or
// stores a PIN itself; it hands each completed entry to the vault and
// forgets it.
//
// Validate returns (false, nil) for a wrong PIN and a non-nil error only
// when the vault itself failed. vault.Vault is the reference implementation.
type SecureVault interface {
	IsPinSet(ctx context.Context) (bool, error)
	Save(ctx context.Context, pin string) error
	Validate(ctx context.Context, pin string) (bool, error)
	CacheSecuredData(ctx context.Context) error
}

// Navigator performs screen transitions when a flow resolves. Calls are
// made from the controller goroutine and must not block.
type Navigator interface {
	Dismiss(success bool)
	CloseApplication()
}

// BiometricProvider is the platform biometric boundary.
type BiometricProvider = biometric.Provider

// FailureStore persists the lockout FailureRecord with atomic updates.
type FailureStore = lockout.Store

// FailureRecord is the persisted failure counter.
type FailureRecord = lockout.FailureRecord

// LockoutState is derived from a FailureRecord at a point in time.
type LockoutState = lockout.State

// Clock supplies the current time for lockout decisions.
type Clock = lockout.Clock

// FlowKind identifies the active flow.
type FlowKind = flow.Kind

// Flow kinds.
const (
	FlowSet    = flow.KindSet
	FlowUnlock = flow.KindUnlock
)

// Outcome is the terminal result of a flow.
type Outcome = flow.Outcome

// Flow outcomes.
const (
	OutcomeSuccess   = flow.OutcomeSuccess
	OutcomeCancelled = flow.OutcomeCancelled
	OutcomeFailed    = flow.OutcomeFailed
)

// PageInfo describes a page for rendering.
type PageInfo = flow.PageInfo

// CommandKind enumerates inbound UI commands.
type CommandKind uint8

const (
	CmdStartSet CommandKind = iota
	CmdStartUnlock
	CmdStartChange
	CmdDigit
	CmdDelete
	CmdCancel
	CmdRequestBiometric
)

func (k CommandKind) String() string {
	switch k {
	case CmdStartSet:
		return "start_set"
	case CmdStartUnlock:
		return "start_unlock"
	case CmdStartChange:
		return "start_change"
	case CmdDigit:
		return "digit"
	case CmdDelete:
		return "delete"
	case CmdCancel:
		return "cancel"
	case CmdRequestBiometric:
		return "request_biometric"
	default:
		return "unknown"
	}
}

// Command is one inbound UI event.
type Command struct {
	Kind CommandKind
	// Digit is the value for CmdDigit.
	Digit int
	// Dismissible is used by CmdStartUnlock. A non-dismissible unlock is the
	// outermost entry point: cancelling it closes the application.
	Dismissible bool
}

// StartSet begins the first-time set/confirm flow.
func StartSet() Command { return Command{Kind: CmdStartSet} }

// StartUnlock begins the unlock flow.
func StartUnlock(dismissible bool) Command {
	return Command{Kind: CmdStartUnlock, Dismissible: dismissible}
}

// StartChange verifies the current PIN and then runs the set flow.
func StartChange() Command { return Command{Kind: CmdStartChange} }

// Digit appends d to the active page.
func Digit(d int) Command { return Command{Kind: CmdDigit, Digit: d} }

// Delete removes the last digit of the active page.
func Delete() Command { return Command{Kind: CmdDelete} }

// Cancel abandons the active flow.
func Cancel() Command { return Command{Kind: CmdCancel} }

// RequestBiometric starts a biometric attempt on the active unlock flow.
func RequestBiometric() Command { return Command{Kind: CmdRequestBiometric} }

// EventKind enumerates outbound view events.
type EventKind uint8

const (
	// EventPages carries the page list of a new session.
	EventPages EventKind = iota
	// EventFill carries the fill count of the active page.
	EventFill
	// EventPageChanged moves the view to Event.Page with an empty buffer.
	EventPageChanged
	// EventMismatch reports a Set confirm mismatch; the flow restarted.
	EventMismatch
	// EventWrongPin reports a rejected unlock attempt and the attempts left.
	EventWrongPin
	// EventLockedOut carries the lockout deadline for the countdown.
	EventLockedOut
	// EventBiometricPrompt tells the view biometric unlock is available.
	EventBiometricPrompt
	// EventStorageError reports a vault or store failure.
	EventStorageError
	// EventRejected reports a command that could not be applied.
	EventRejected
	// EventResolved is the last event of a session.
	EventResolved
)

func (k EventKind) String() string {
	switch k {
	case EventPages:
		return "pages"
	case EventFill:
		return "fill"
	case EventPageChanged:
		return "page_changed"
	case EventMismatch:
		return "mismatch"
	case EventWrongPin:
		return "wrong_pin"
	case EventLockedOut:
		return "locked_out"
	case EventBiometricPrompt:
		return "biometric_prompt"
	case EventStorageError:
		return "storage_error"
	case EventRejected:
		return "rejected"
	case EventResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Unlock methods reported in EventResolved.
const (
	MethodPIN       = "pin"
	MethodBiometric = "biometric"
)

// Event is one outbound message to the rendering boundary. Fields not
// relevant to Kind are zero.
type Event struct {
	Kind      EventKind
	SessionID string
	Flow      FlowKind

	Pages  []PageInfo
	Page   int
	Filled int
	Length int

	AttemptsLeft uint32
	LockedUntil  time.Time

	Outcome Outcome
	Method  string
	// Receipt is a signed unlock receipt, set on successful unlock when
	// receipts are enabled.
	Receipt string

	Err error
}

// AuditEvent is a structured audit record emitted by the controller.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONLinesSink is an [AuditSink] that writes one JSON object per line.
type JSONLinesSink = internalaudit.JSONLinesSink

// LogSink is an [AuditSink] that writes events through a [slog.Logger].
type LogSink = internalaudit.LogSink

// AuditStats counts audit events that were not delivered.
type AuditStats = internalaudit.Stats

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONLinesSink creates a [JSONLinesSink] that writes to w.
func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return internalaudit.NewJSONLinesSink(w)
}

// NewLogSink creates a [LogSink]. A nil logger uses [slog.Default].
func NewLogSink(logger *slog.Logger) *LogSink {
	return internalaudit.NewLogSink(logger)
}

// MetricID identifies a counter in the in-process metrics system.
type MetricID = internalmetrics.MetricID

const (
	MetricUnlockSuccess      = internalmetrics.MetricUnlockSuccess
	MetricUnlockWrongPin     = internalmetrics.MetricUnlockWrongPin
	MetricUnlockLockedOut    = internalmetrics.MetricUnlockLockedOut
	MetricLockoutEngaged     = internalmetrics.MetricLockoutEngaged
	MetricBiometricSuccess   = internalmetrics.MetricBiometricSuccess
	MetricBiometricFallback  = internalmetrics.MetricBiometricFallback
	MetricPinSetSuccess      = internalmetrics.MetricPinSetSuccess
	MetricPinSetMismatch     = internalmetrics.MetricPinSetMismatch
	MetricStorageFailure     = internalmetrics.MetricStorageFailure
	MetricFlowCancelled      = internalmetrics.MetricFlowCancelled
	MetricStaleResultDropped = internalmetrics.MetricStaleResultDropped
	MetricValidateLatency    = internalmetrics.MetricValidateLatency
)

// Metrics is the lock-free counter set.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a counter set from cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:                 cfg.Enabled,
		EnableLatencyHistograms: cfg.EnableLatencyHistograms,
	})
}

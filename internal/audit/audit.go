package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Event types written by the controller.
const (
	TypeUnlockSuccess     = "pin_unlock_success"
	TypeUnlockFailure     = "pin_unlock_failure"
	TypeUnlockWrongPin    = "pin_unlock_wrong_pin"
	TypeUnlockLockedOut   = "pin_unlock_locked_out"
	TypeLockoutEngaged    = "pin_lockout_engaged"
	TypeBiometricFallback = "pin_biometric_fallback"
	TypeSetSuccess        = "pin_set_success"
	TypeSetFailure        = "pin_set_failure"
	TypeSetMismatch       = "pin_set_mismatch"
	TypeChangeVerified    = "pin_change_verified"
	TypeStorageFailure    = "pin_storage_failure"
	TypeFlowCancelled     = "pin_flow_cancelled"
)

// Event is one outcome of a PIN or biometric flow. It has no field that can
// hold PIN digits.
type Event struct {
	Time      time.Time `json:"time"`
	Type      string    `json:"type"`
	Subject   string    `json:"subject,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Flow      string    `json:"flow,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`

	// Method is "pin" or "biometric" on unlock success.
	Method string `json:"method,omitempty"`
	// Failures and AttemptsLeft are set for counted wrong PINs and locks.
	Failures     *uint32    `json:"consecutive_failures,omitempty"`
	AttemptsLeft *uint32    `json:"attempts_left,omitempty"`
	LockedUntil  *time.Time `json:"locked_until,omitempty"`
	// Detail is a short machine-readable qualifier, e.g. the biometric
	// result or the operation pending at cancel.
	Detail string `json:"detail,omitempty"`
}

// Security reports whether e records a counted guess, a lock or a storage
// failure. The dispatcher waits for buffer space for these instead of
// dropping them at once.
func (e Event) Security() bool {
	switch e.Type {
	case TypeUnlockWrongPin, TypeLockoutEngaged, TypeStorageFailure:
		return true
	default:
		return false
	}
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink hands events to a buffered channel, mostly for tests.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONLinesSink writes one JSON object per line.
type JSONLinesSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	if w == nil {
		return &JSONLinesSink{}
	}
	return &JSONLinesSink{enc: json.NewEncoder(w)}
}

func (s *JSONLinesSink) Emit(_ context.Context, event Event) {
	if s == nil || s.enc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(event)
}

// LogSink writes events through a slog.Logger. Security events are logged
// at Warn, everything else at Info.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, event Event) {
	level := slog.LevelInfo
	if event.Security() {
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("subject", event.Subject),
		slog.String("session_id", event.SessionID),
		slog.String("flow", event.Flow),
		slog.Bool("success", event.Success),
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	if event.Method != "" {
		attrs = append(attrs, slog.String("method", event.Method))
	}
	if event.Failures != nil {
		attrs = append(attrs, slog.Any("consecutive_failures", *event.Failures))
	}
	if event.AttemptsLeft != nil {
		attrs = append(attrs, slog.Any("attempts_left", *event.AttemptsLeft))
	}
	if event.LockedUntil != nil {
		attrs = append(attrs, slog.Time("locked_until", *event.LockedUntil))
	}
	if event.Detail != "" {
		attrs = append(attrs, slog.String("detail", event.Detail))
	}
	s.logger.LogAttrs(ctx, level, event.Type, attrs...)
}

package goPin

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goPin/lockout"
	"github.com/MrEthical07/goPin/pinpad"
)

// Config is the complete controller configuration. Obtain a populated value
// from [DefaultConfig] and override fields before passing it to
// [Builder.WithConfig].
type Config struct {
	Pin        PinConfig
	Lockout    LockoutConfig
	Biometric  BiometricConfig
	Receipt    ReceiptConfig
	Controller ControllerConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

/*
====================================
PIN CONFIG
====================================
*/

// PinConfig controls page length and the opaque prompt identifiers passed
// to the view.
type PinConfig struct {
	Length        int
	EnterPrompt   string
	ConfirmPrompt string
	UnlockPrompt  string
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig parameterizes the backoff curve. The first MaxAttempts-1
// failures carry no delay; failure n >= MaxAttempts locks for
// min(BaseDelay * BackoffFactor^(n-MaxAttempts), MaxDelay).
type LockoutConfig struct {
	// Subject keys the FailureRecord, typically a wallet id.
	Subject       string
	MaxAttempts   uint32
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor uint32
}

/*
====================================
BIOMETRIC CONFIG
====================================
*/

// BiometricConfig controls the biometric fast-path.
type BiometricConfig struct {
	Enabled bool
	// AutoPrompt starts an attempt as soon as an unlock flow is ready,
	// without waiting for RequestBiometric.
	AutoPrompt bool
}

/*
====================================
RECEIPT CONFIG
====================================
*/

// ReceiptConfig controls signed unlock receipts.
type ReceiptConfig struct {
	Enabled       bool
	TTL           time.Duration
	SigningMethod string
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	KeyID         string
}

/*
====================================
CONTROLLER CONFIG
====================================
*/

// ControllerConfig sizes the command and event channels and bounds vault
// and store calls.
type ControllerConfig struct {
	CommandBuffer    int
	EventBuffer      int
	OperationTimeout time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// SecurityWait bounds how long a wrong-PIN, lockout or storage event
	// waits for buffer space when DropIfFull is set.
	SecurityWait time.Duration
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the production defaults: 6-digit PINs, lockout after
// 5 consecutive failures starting at 30 seconds and doubling up to 24 hours.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Pin: PinConfig{
			Length:        pinpad.DefaultLength,
			EnterPrompt:   "pin.enter",
			ConfirmPrompt: "pin.confirm",
			UnlockPrompt:  "pin.unlock",
		},
		Lockout: LockoutConfig{
			Subject:       lockout.DefaultSubject,
			MaxAttempts:   5,
			BaseDelay:     30 * time.Second,
			MaxDelay:      24 * time.Hour,
			BackoffFactor: 2,
		},
		Biometric: BiometricConfig{
			Enabled:    true,
			AutoPrompt: false,
		},
		Receipt: ReceiptConfig{
			Enabled:       false,
			TTL:           2 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "gopin",
		},
		Controller: ControllerConfig{
			CommandBuffer:    16,
			EventBuffer:      64,
			OperationTimeout: 10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize:   256,
			DropIfFull:   true,
			SecurityWait: 250 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

// HighSecurityConfig tightens the lockout curve and disables the biometric
// fast-path, so every unlock is a counted PIN attempt.
func HighSecurityConfig() Config {
	cfg := defaultConfig()
	cfg.Lockout.MaxAttempts = 3
	cfg.Lockout.BaseDelay = 5 * time.Minute
	cfg.Lockout.BackoffFactor = 4
	cfg.Biometric.Enabled = false
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false
	cfg.Metrics.Enabled = true
	return cfg
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Receipt.PrivateKey = cloneBytes(cfg.Receipt.PrivateKey)
	out.Receipt.PublicKey = cloneBytes(cfg.Receipt.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c LockoutConfig) policyConfig() lockout.Config {
	return lockout.Config{
		MaxAttempts:   c.MaxAttempts,
		BaseDelay:     c.BaseDelay,
		MaxDelay:      c.MaxDelay,
		BackoffFactor: c.BackoffFactor,
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.Pin.Length < 4 || c.Pin.Length > 12 {
		return errors.New("Pin Length must be between 4 and 12")
	}

	if strings.TrimSpace(c.Lockout.Subject) == "" {
		return errors.New("Lockout Subject must not be empty")
	}
	if err := c.Lockout.policyConfig().Validate(); err != nil {
		return err
	}

	if c.Receipt.Enabled {
		if c.Receipt.TTL <= 0 {
			return errors.New("Receipt TTL must be > 0")
		}
		switch c.Receipt.SigningMethod {
		case "ed25519", "hs256":
		default:
			return errors.New("unsupported Receipt signing method")
		}
		if len(c.Receipt.PrivateKey) == 0 {
			return errors.New("Receipt requires PrivateKey")
		}
	}

	if c.Controller.CommandBuffer <= 0 {
		return errors.New("Controller CommandBuffer must be > 0")
	}
	if c.Controller.EventBuffer <= 0 {
		return errors.New("Controller EventBuffer must be > 0")
	}
	if c.Controller.OperationTimeout <= 0 {
		return errors.New("Controller OperationTimeout must be > 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	if c.Audit.SecurityWait < 0 {
		return errors.New("Audit SecurityWait must be >= 0")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}

// LintWarning is a non-fatal configuration finding.
type LintWarning struct {
	Code    string
	Message string
}

// LintWarnings is the result of [Config.Lint].
type LintWarnings []LintWarning

// Codes returns the warning codes in order.
func (ws LintWarnings) Codes() []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Code)
	}
	return out
}

// Lint reports valid but risky settings.
func (c *Config) Lint() LintWarnings {
	var ws LintWarnings
	add := func(code, msg string) {
		ws = append(ws, LintWarning{Code: code, Message: msg})
	}

	if c.Lockout.MaxAttempts > 10 {
		add("max_attempts_high", "more than 10 free guesses covers a large share of a short PIN space")
	}
	if c.Lockout.BackoffFactor == 1 {
		add("backoff_flat", "lock delay never grows with repeated lockouts")
	}
	if c.Lockout.MaxDelay < time.Minute {
		add("max_delay_short", "maximum lock delay is under one minute")
	}
	if c.Pin.Length < pinpad.DefaultLength {
		add("pin_short", "PINs shorter than 6 digits")
	}
	if c.Biometric.Enabled {
		add("biometric_bypasses_lockout", "biometric success unlocks without consulting or resetting the PIN failure counter")
	}
	if c.Receipt.Enabled && c.Receipt.TTL > 10*time.Minute {
		add("receipt_ttl_long", "unlock receipts stay valid for more than 10 minutes")
	}
	if c.Receipt.Enabled && c.Receipt.SigningMethod == "hs256" && len(c.Receipt.PrivateKey) < 32 {
		add("receipt_key_weak", "hs256 receipt key is shorter than 32 bytes")
	}
	if c.Audit.Enabled && c.Audit.DropIfFull {
		add("audit_drop_if_full", "audit events are dropped when the buffer is full")
		if c.Audit.SecurityWait == 0 {
			add("audit_security_drop", "wrong-PIN and lockout audit events are dropped without waiting")
		}
	}

	return ws
}

package goPin

import (
	"errors"
	"log/slog"

	"github.com/MrEthical07/goPin/biometric"
	internalaudit "github.com/MrEthical07/goPin/internal/audit"
	"github.com/MrEthical07/goPin/lockout"
	"github.com/MrEthical07/goPin/receipt"
)

// Builder assembles a [Controller]. A Builder can be used for one Build.
type Builder struct {
	config Config

	vault     SecureVault
	provider  BiometricProvider
	navigator Navigator
	store     FailureStore
	clock     Clock
	logger    *slog.Logger
	auditSink AuditSink

	built bool
}

// New returns a Builder populated with [DefaultConfig].
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig replaces the configuration. cfg is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithVault sets the required SecureVault.
func (b *Builder) WithVault(v SecureVault) *Builder {
	b.vault = v
	return b
}

// WithBiometricProvider enables the biometric fast-path when
// Config.Biometric.Enabled is also set.
func (b *Builder) WithBiometricProvider(p BiometricProvider) *Builder {
	b.provider = p
	return b
}

// WithNavigator sets the navigation boundary. Without one, resolution is
// only reported through events.
func (b *Builder) WithNavigator(n Navigator) *Builder {
	b.navigator = n
	return b
}

// WithFailureStore sets the FailureRecord store. The default is an
// in-memory store, which does not survive restarts.
func (b *Builder) WithFailureStore(s FailureStore) *Builder {
	b.store = s
	return b
}

// WithClock overrides the wall clock used for lockout decisions.
func (b *Builder) WithClock(c Clock) *Builder {
	b.clock = c
	return b
}

// WithLogger sets the structured logger. The default is slog.Default().
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink sets the audit sink used when Config.Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and returns a Controller. Call
// [Controller.Run] to start it.
func (b *Builder) Build() (*Controller, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.vault == nil {
		return nil, errors.New("secure vault required")
	}

	policy, err := lockout.NewPolicy(cfg.Lockout.policyConfig())
	if err != nil {
		return nil, err
	}

	c := &Controller{
		config:    cfg,
		policy:    policy,
		store:     b.store,
		vault:     b.vault,
		gate:      biometric.NewGate(b.provider, cfg.Biometric.Enabled),
		navigator: b.navigator,
		clock:     b.clock,
		logger:    b.logger,
		commands:  make(chan Command, cfg.Controller.CommandBuffer),
		events:    make(chan Event, cfg.Controller.EventBuffer),
		results:   make(chan opResult, cfg.Controller.CommandBuffer),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	if c.store == nil {
		c.store = lockout.NewMemoryStore()
	}
	if c.clock == nil {
		c.clock = lockout.SystemClock{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	if cfg.Receipt.Enabled {
		iss, err := receipt.NewIssuer(receipt.Config{
			TTL:           cfg.Receipt.TTL,
			SigningMethod: receipt.SigningMethod(cfg.Receipt.SigningMethod),
			PrivateKey:    cloneBytes(cfg.Receipt.PrivateKey),
			PublicKey:     cloneBytes(cfg.Receipt.PublicKey),
			Issuer:        cfg.Receipt.Issuer,
			Audience:      cfg.Receipt.Audience,
			KeyID:         cfg.Receipt.KeyID,
		}, c.clock.Now)
		if err != nil {
			return nil, err
		}
		c.receipts = iss
	}

	c.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize:   cfg.Audit.BufferSize,
		DropIfFull:   cfg.Audit.DropIfFull,
		SecurityWait: cfg.Audit.SecurityWait,
	}, b.auditSink)
	c.metrics = NewMetrics(cfg.Metrics)

	b.built = true
	return c, nil
}

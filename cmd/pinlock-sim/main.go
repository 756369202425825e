// Command pinlock-sim drives a goPin controller from a terminal. Each input
// line is one command:
//
//	set | unlock | lock (non-dismissible unlock) | change
//	<digits> | del | cancel | bio | state | quit
//
// Configuration comes from GOPIN_* environment variables.
package main

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	goPin "github.com/MrEthical07/goPin"
	"github.com/MrEthical07/goPin/lockout/sqlitestore"
	"github.com/MrEthical07/goPin/metrics/export/prometheus"
	"github.com/MrEthical07/goPin/vault"
)

type simConfig struct {
	Store       string `env:"GOPIN_STORE" envDefault:"sqlite"`
	SQLitePath  string `env:"GOPIN_SQLITE_PATH" envDefault:"gopin.db"`
	RedisAddr   string `env:"GOPIN_REDIS_ADDR"`
	DatabaseURL string `env:"GOPIN_DATABASE_URL"`

	Subject     string        `env:"GOPIN_SUBJECT" envDefault:"default"`
	PinLength   int           `env:"GOPIN_PIN_LENGTH" envDefault:"6"`
	MaxAttempts uint32        `env:"GOPIN_MAX_ATTEMPTS" envDefault:"5"`
	BaseDelay   time.Duration `env:"GOPIN_BASE_DELAY" envDefault:"30s"`
	MaxDelay    time.Duration `env:"GOPIN_MAX_DELAY" envDefault:"24h"`

	Biometric       bool   `env:"GOPIN_BIOMETRIC" envDefault:"false"`
	BiometricResult string `env:"GOPIN_BIOMETRIC_RESULT" envDefault:"success"`
	Receipts        bool   `env:"GOPIN_RECEIPTS" envDefault:"false"`
	Audit           bool   `env:"GOPIN_AUDIT" envDefault:"false"`
	AuditFormat     string `env:"GOPIN_AUDIT_FORMAT" envDefault:"json"`
	MetricsAddr     string `env:"GOPIN_METRICS_ADDR"`
	LogLevel        string `env:"GOPIN_LOG_LEVEL" envDefault:"info"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pinlock-sim: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var sc simConfig
	if err := env.Parse(&sc); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(sc.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The PIN hash always lives in the local SQLite file; the failure record
	// backend is selectable.
	local, err := sqlitestore.Open(ctx, sc.SQLitePath)
	if err != nil {
		return err
	}
	defer local.Close()

	failures, closeStore, err := openFailureStore(ctx, sc, local, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	hasher, err := vault.NewHasher(vault.DefaultHasherConfig())
	if err != nil {
		return err
	}
	pinVault := vault.New(hasher, local, vault.Options{Subject: sc.Subject, Length: sc.PinLength})

	cfg := goPin.DefaultConfig()
	cfg.Pin.Length = sc.PinLength
	cfg.Lockout.Subject = sc.Subject
	cfg.Lockout.MaxAttempts = sc.MaxAttempts
	cfg.Lockout.BaseDelay = sc.BaseDelay
	cfg.Lockout.MaxDelay = sc.MaxDelay
	cfg.Biometric.Enabled = sc.Biometric
	cfg.Audit.Enabled = sc.Audit
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	if sc.Receipts {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return fmt.Errorf("generate receipt key: %w", err)
		}
		cfg.Receipt.Enabled = true
		cfg.Receipt.PrivateKey = priv
	}
	for _, w := range cfg.Lint() {
		logger.Warn("config lint", "code", w.Code, "message", w.Message)
	}

	builder := goPin.New().
		WithConfig(cfg).
		WithVault(pinVault).
		WithFailureStore(failures).
		WithNavigator(terminalNavigator{}).
		WithLogger(logger)
	switch sc.AuditFormat {
	case "json":
		builder.WithAuditSink(goPin.NewJSONLinesSink(os.Stderr))
	case "log":
		builder.WithAuditSink(goPin.NewLogSink(logger.With("component", "audit")))
	default:
		return fmt.Errorf("unknown GOPIN_AUDIT_FORMAT %q", sc.AuditFormat)
	}
	if sc.Biometric {
		result, err := parseBiometricResult(sc.BiometricResult)
		if err != nil {
			return err
		}
		builder.WithBiometricProvider(&scriptedBiometric{result: result})
	}

	controller, err := builder.Build()
	if err != nil {
		return err
	}
	defer controller.Close()

	if sc.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              sc.MetricsAddr,
			Handler:           prometheus.New(controller).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- controller.Run(ctx) }()

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range controller.Events() {
			printEvent(ev)
		}
	}()

	readCommands(ctx, controller, os.Stdin, logger)

	controller.Close()
	<-printed
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func readCommands(ctx context.Context, c *goPin.Controller, in *os.File, logger *slog.Logger) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return
		}
		if line == "state" {
			st, err := c.LockoutState(ctx)
			if err != nil {
				fmt.Printf("state: %v\n", err)
				continue
			}
			fmt.Printf("state: %s attempts_left=%d until=%s\n", st.Kind, st.AttemptsLeft, formatUntil(st.Until))
			continue
		}

		cmds, err := parseLine(line)
		if err != nil {
			fmt.Println(err)
			continue
		}
		for _, cmd := range cmds {
			if err := c.Send(ctx, cmd); err != nil {
				logger.Error("send failed", "command", cmd.Kind.String(), "error", err)
				return
			}
		}
	}
}

func parseLine(line string) ([]goPin.Command, error) {
	switch line {
	case "set":
		return []goPin.Command{goPin.StartSet()}, nil
	case "unlock":
		return []goPin.Command{goPin.StartUnlock(true)}, nil
	case "lock":
		return []goPin.Command{goPin.StartUnlock(false)}, nil
	case "change":
		return []goPin.Command{goPin.StartChange()}, nil
	case "del":
		return []goPin.Command{goPin.Delete()}, nil
	case "cancel":
		return []goPin.Command{goPin.Cancel()}, nil
	case "bio":
		return []goPin.Command{goPin.RequestBiometric()}, nil
	}

	cmds := make([]goPin.Command, 0, len(line))
	for _, r := range line {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("unknown command %q", line)
		}
		cmds = append(cmds, goPin.Digit(int(r-'0')))
	}
	return cmds, nil
}

func printEvent(ev goPin.Event) {
	switch ev.Kind {
	case goPin.EventPages:
		prompts := make([]string, 0, len(ev.Pages))
		for _, p := range ev.Pages {
			prompts = append(prompts, p.Prompt)
		}
		fmt.Printf("[%s] pages %s\n", ev.Flow, strings.Join(prompts, ", "))
	case goPin.EventFill:
		fmt.Printf("  %s%s\n", strings.Repeat("*", ev.Filled), strings.Repeat("_", ev.Length-ev.Filled))
	case goPin.EventPageChanged:
		fmt.Printf("  page %d\n", ev.Page)
	case goPin.EventWrongPin:
		fmt.Printf("  wrong pin, %d attempts left\n", ev.AttemptsLeft)
	case goPin.EventLockedOut:
		fmt.Printf("  locked until %s\n", formatUntil(ev.LockedUntil))
	case goPin.EventResolved:
		fmt.Printf("[%s] %s", ev.Flow, ev.Outcome)
		if ev.Method != "" {
			fmt.Printf(" via %s", ev.Method)
		}
		if ev.Err != nil {
			fmt.Printf(": %v", ev.Err)
		}
		if ev.Receipt != "" {
			fmt.Printf("\n  receipt %s", ev.Receipt)
		}
		fmt.Println()
	default:
		if ev.Err != nil {
			fmt.Printf("  %s: %v\n", ev.Kind, ev.Err)
		} else {
			fmt.Printf("  %s\n", ev.Kind)
		}
	}
}

func formatUntil(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.TimeOnly)
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

type terminalNavigator struct{}

func (terminalNavigator) Dismiss(success bool) {
	fmt.Printf("<< dismiss success=%t\n", success)
}

func (terminalNavigator) CloseApplication() {
	fmt.Println("<< close application")
}

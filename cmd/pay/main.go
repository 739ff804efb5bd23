package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/x402pay/payments/internal/config"
	"github.com/x402pay/payments/internal/facilitator"
	"github.com/x402pay/payments/internal/payment"
)

const facilitatorTimeout = 30 * time.Second

func main() {
	var (
		envFile    string
		overrides  []string
		logLevel   string
		verifyOnly bool
	)

	cmd := &cobra.Command{
		Use:           "pay",
		Short:         "Send one x402 payment through a facilitator",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), envFile, overrides, logLevel, verifyOnly)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "path to the .env file containing X402_* settings")
	cmd.Flags().StringArrayVar(&overrides, "set", nil, "override a config key without editing the .env file (KEY=VALUE, repeatable)")
	defaultLevel := os.Getenv(config.KeyLogLevel)
	if defaultLevel == "" {
		defaultLevel = "info"
	}
	cmd.Flags().StringVar(&logLevel, "log-level", defaultLevel, "log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&verifyOnly, "verify-only", false, "submit the payload to /verify but skip settlement")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, envFile string, overrides []string, logLevel string, verifyOnly bool) error {
	log, err := newLogger(logLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	sets, err := parseOverrides(overrides)
	if err != nil {
		return err
	}

	cfg, err := config.Load(envFile, sets, log)
	if err != nil {
		log.Error("invalid configuration", zap.Error(err))
		return err
	}

	fac := facilitator.NewClient(cfg.FacilitatorURL, facilitatorTimeout, log)
	svc := payment.NewService(cfg, fac, log)

	result, err := svc.Send(ctx, verifyOnly)
	if err != nil {
		log.Error("payment attempt failed", zap.Error(err))
		return err
	}

	switch result.Status {
	case payment.StatusVerificationFailed:
		return fmt.Errorf("payment rejected: %s", result.Verify.Reason)
	case payment.StatusSettlementFailed:
		return fmt.Errorf("settlement failed: %s", string(result.Settlement.Raw))
	case payment.StatusVerified:
		log.Info("skipping settlement because --verify-only was requested")
		return nil
	case payment.StatusSettled:
		log.Info("payment settled",
			zap.String("network", result.Settlement.Network),
			zap.String("transaction", result.Settlement.Transaction),
		)
		return nil
	default:
		return fmt.Errorf("unexpected payment status %q", result.Status)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func parseOverrides(pairs []string) (map[string]string, error) {
	overrides := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, errors.New("overrides must look like KEY=VALUE")
		}
		overrides[strings.TrimSpace(key)] = value
	}
	return overrides, nil
}

package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Run is the CLI entrypoint used by cmd/pulse.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return Execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
}

// RunDev is the entrypoint used by cmd/pulse-devserver.
func RunDev() error {
	if err := LoadDotEnv(); err != nil {
		return err
	}
	cfg := LoadConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := NewLogger(cfg, os.Stderr)

	if _, err := InitSentry(cfg.SentryDSN, cfg.Environment, Version); err != nil {
		log.Warn("sentry.init.fail", "err", err)
	}
	defer FlushSentry()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := RunDevServer(ctx, cfg, log, nil); err != nil {
		return fmt.Errorf("devserver: %w", err)
	}
	return nil
}

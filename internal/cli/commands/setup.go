// Package commands implements the leapdbt subcommands. Each command pulls
// the loaded configuration and logger from the command context and drives
// the engine.
package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapdbt/internal/config"
	"github.com/leapstack-labs/leapdbt/internal/engine"
	"github.com/leapstack-labs/leapdbt/pkg/cancel"

	// Register the built-in warehouse adapters.
	_ "github.com/leapstack-labs/leapdbt/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/leapdbt/pkg/adapters/postgres"
)

type invocationKey struct{}

// invocation is what the root command resolves before any subcommand runs.
type invocation struct {
	cfg    *config.Config
	logger *slog.Logger
}

// WithInvocation stores the resolved configuration and logger for the
// subcommands.
func WithInvocation(ctx context.Context, cfg *config.Config, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, invocationKey{}, &invocation{cfg: cfg, logger: logger})
}

func invocationFrom(ctx context.Context) (*config.Config, *slog.Logger) {
	if inv, ok := ctx.Value(invocationKey{}).(*invocation); ok {
		return inv.cfg, inv.logger
	}
	return nil, slog.New(slog.DiscardHandler)
}

// CommandContext bundles the dependencies a subcommand needs.
type CommandContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
	Engine *engine.Engine
}

// NewCommandContext builds the engine for a subcommand. The returned
// cleanup function closes it and must be deferred.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cfg, logger := invocationFrom(cmd.Context())
	if cfg == nil {
		var err error
		cfg, err = config.Load(cmd.Root().PersistentFlags())
		if err != nil {
			return nil, nil, err
		}
	}

	eng, err := createEngine(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() { _ = eng.Close() }
	return &CommandContext{Cfg: cfg, Logger: logger, Engine: eng}, cleanup, nil
}

func createEngine(cfg *config.Config, logger *slog.Logger) (*engine.Engine, error) {
	if stateDir := filepath.Dir(cfg.StatePath); stateDir != "." && stateDir != "" {
		if err := os.MkdirAll(stateDir, 0o750); err != nil {
			return nil, err
		}
	}

	return engine.New(engine.Config{
		ProjectDir: cfg.ProjectDir,
		Target:     cfg.Output,
		TargetName: cfg.TargetName,
		Vars:       cfg.EffectiveVars,
		StatePath:  cfg.StatePath,
		Logger:     logger,
	})
}

// signalToken bridges SIGINT/SIGTERM into a cancellation token so a running
// build stops between nodes instead of being killed mid-statement. The
// returned stop function releases the signal handler and the source.
func signalToken(ctx context.Context) (context.Context, cancel.Token, func()) {
	sigCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	src := cancel.NewSource()

	go func() {
		<-sigCtx.Done()
		src.Cancel()
	}()

	stop := func() {
		stopSignals()
		src.Close()
	}
	return sigCtx, src.Token(), stop
}

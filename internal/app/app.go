// Package app provides the top-level application lifecycle management for the
// pool ledger. It wires together the stores, caches, blob storage, event sinks
// and HTTP surface, and runs the ledger's background loops.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/poolledger/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the ledger service and blocks until the
// context is cancelled. Cleanup happens in Close.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "app: starting",
		slog.String("log_level", a.cfg.LogLevel),
		slog.Int("seed_pools", len(a.cfg.Pools)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	return a.ServeMode(ctx, deps)
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("app: shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

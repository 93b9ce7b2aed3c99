// Package app provides the top-level application lifecycle management for
// the load-test binary. It wires the node client and optional
// sinks/archivers, then dispatches to the configured run mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/paritytech/stps-go/internal/config"
)

// App is the root application object. It owns the configuration, logger,
// and a list of cleanup functions that are called in reverse order on
// shutdown.
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

// Run is the main entry point. It wires dependencies, selects the
// operating mode, and blocks until the run completes or the context is
// cancelled. The wiring's cleanup function is registered with the App;
// Close runs it, Run itself does not.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting load test",
		slog.String("mode", a.cfg.Mode),
		slog.String("chain", a.cfg.Run.Chain),
		slog.Int("tps_target", a.cfg.Run.TPSTarget),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch mode := strings.ToLower(a.cfg.Mode); mode {
	case "run":
		return a.RunMode(ctx, deps)
	case "seed":
		return a.SeedMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is
// safe to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

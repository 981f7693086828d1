// Package app owns the bridge lifecycle. It wires the monitor, pipeline,
// executor and optional backends together and runs them until the context
// is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/alertbridge/internal/config"
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

// Run wires all dependencies, starts every component and blocks until ctx
// is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting alert bridge",
		slog.String("mode", a.cfg.Mode),
		slog.String("alert_path", a.cfg.Alert.Path),
		slog.Any("symbols", a.cfg.EnabledSymbols()),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	err = a.run(ctx, deps)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) run(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	if deps.Gate != nil {
		g.Go(func() error { return deps.Gate.Run(ctx) })
	}
	g.Go(func() error {
		return deps.LocalDedup.RunSweeper(ctx, a.cfg.Trading.DedupGCInterval.Duration, time.Now, a.logger)
	})
	for _, async := range deps.Async {
		g.Go(func() error { return async.Run(ctx) })
	}
	if deps.Hub != nil {
		g.Go(func() error { return deps.Hub.Run(ctx) })
	}
	if deps.Server != nil {
		g.Go(func() error { return deps.Server.Run(ctx) })
	}

	// Connect eagerly so the first signal does not pay for the handshake. A
	// failure here is not fatal: every dispatch reconnects on its own.
	g.Go(func() error {
		if err := deps.Executor.Connect(ctx); err != nil && ctx.Err() == nil {
			a.logger.WarnContext(ctx, "initial terminal connection failed, will retry on next signal",
				slog.String("error", err.Error()),
			)
		}
		return nil
	})

	g.Go(func() error { return deps.Monitor.Run(ctx) })
	g.Go(func() error { return deps.Coordinator.Run(ctx, deps.Monitor.Lines()) })

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down alert bridge")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

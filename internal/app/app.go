// Package app owns the application lifecycle: it wires the stores, caches,
// chain boundary, and services together, starts the API server and the
// background loops, and tears everything down on shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/castmarket/fidmarket/internal/config"
	"github.com/castmarket/fidmarket/internal/server"
	"github.com/castmarket/fidmarket/internal/server/handler"
	"github.com/castmarket/fidmarket/internal/server/ws"
)

// shutdownGrace bounds how long in-flight requests may take on shutdown.
const shutdownGrace = 15 * time.Second

// App is the root application object. It owns the configuration, logger, and
// the cleanup functions that run in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the API server plus the background
// archive loop, and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	hub := ws.NewHub(a.logger)
	a.closers = append(a.closers, hub.Close)

	deps, cleanup, err := Wire(ctx, a.cfg, hub, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Market:   handler.NewMarketHandler(deps.Market, a.logger),
		Listings: handler.NewListingsHandler(deps.Query, a.logger),
		Stats:    handler.NewStatsHandler(deps.Stats, a.logger),
	}
	if deps.Archiver != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.Archiver, deps.ArchiveReader, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if deps.Archiver != nil && a.cfg.Archive.Interval.Duration > 0 {
		retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
		g.Go(func() error {
			deps.Archiver.Run(gctx, a.cfg.Archive.Interval.Duration, retention)
			return nil
		})
	}

	return g.Wait()
}

// Close tears down all resources in reverse registration order. Safe to call
// more than once.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

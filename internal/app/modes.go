package app

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leaselock/auctiond/internal/server"
	"github.com/leaselock/auctiond/internal/server/handler"
	"github.com/leaselock/auctiond/internal/server/ws"
	"github.com/leaselock/auctiond/internal/service"
	"github.com/leaselock/auctiond/internal/watcher"
)

// shutdownGrace is how long in-flight HTTP requests get to complete after the
// context is cancelled.
const shutdownGrace = 10 * time.Second

// ServerMode runs the HTTP + WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.Bus, service.EventChannel, a.logger)
	g.Go(func() error {
		err := hub.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	srv := a.buildServer(deps, hub)
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// WatcherMode runs only the resource-lock watcher.
func (a *App) WatcherMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watcher mode")

	w := a.buildWatcher(deps)
	err := w.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// FullMode runs the API server and the watcher in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.Bus, service.EventChannel, a.logger)
	g.Go(func() error {
		err := hub.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	srv := a.buildServer(deps, hub)
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	w := a.buildWatcher(deps)
	g.Go(func() error {
		err := w.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	return g.Wait()
}

// buildServer assembles the handlers and routes for the API server.
func (a *App) buildServer(deps *Dependencies, hub *ws.Hub) *server.Server {
	var exporter handler.JournalExporter
	if deps.Archiver != nil {
		exporter = deps.Archiver
	}

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Postgres, deps.Redis, a.logger),
		Auctions: handler.NewAuctionHandler(deps.Auctions, a.cfg.Server.AllowClockOverride, a.logger),
		Events:   handler.NewEventsHandler(deps.Auctions, exporter, a.logger),
	}

	return server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)
}

// buildWatcher assembles the resource-lock watcher.
func (a *App) buildWatcher(deps *Dependencies) *watcher.Watcher {
	return watcher.New(watcher.Config{
		Stream:       service.EventStream,
		ConsumerName: a.cfg.Watcher.ConsumerName,
		PollInterval: a.cfg.Watcher.PollInterval.Duration,
		BatchSize:    a.cfg.Watcher.BatchSize,
	}, deps.Bus, deps.Cursors, deps.Locker, a.logger)
}

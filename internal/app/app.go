// Package app wires the orchestrator's components together: config,
// registry, pipeline, scheduler, and HTTP surface. Grounded on the
// teacher's api/internal/app package — same dependencyInjector-plus-app
// split, same WithRecover(LogMiddleware(...)) handler chain, same
// context-driven graceful shutdown.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/audiostory/orchestrator/internal/transport"
)

type App struct {
	di  *dependencyInjector
	srv *http.Server
}

func New(ctx context.Context) *App {
	di := newDI()
	di.Logger()
	di.logRecoveredTasks()

	mux := http.NewServeMux()
	router := di.Router(ctx).MountRoutes(mux)

	return &App{
		di: di,
		srv: &http.Server{
			Addr: di.Config().Addr,
			Handler: transport.WithRecover(
				transport.LogMiddleware(router),
			),
		},
	}
}

func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", slog.String("addr", a.srv.Addr))
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.String("error", err.Error()))
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received")

	a.di.scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.di.Config().ShutdownTimeout)
	defer cancel()

	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
		return err
	}

	if a.di.archiver != nil {
		if err := a.di.archiver.Stop(shutdownCtx); err != nil {
			slog.Warn("archiver shutdown error", slog.String("error", err.Error()))
		}
	}

	slog.Info("server gracefully stopped")
	return nil
}

package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/you-humble/musicgen/internal/infra/config"
	"github.com/you-humble/musicgen/internal/transport"
)

type app struct {
	di  *dependencyInjector
	srv *http.Server
}

// New builds the HTTP gateway from the config at config.Path().
func New(ctx context.Context) *app {
	di := newDI(config.Path())
	di.Logger()
	mux := http.NewServeMux()
	return &app{
		di: di,
		srv: &http.Server{
			Addr: di.Config().Addr,
			Handler: transport.WithRecover(
				transport.LogMiddleware(
					di.Router(ctx).MountRoutes(mux),
				),
			),
		},
	}
}

func (a *app) Run(ctx context.Context) error {
	cfg := a.di.Config()

	newCleaner(
		cfg.Store.CleanupInterval,
		cfg.Store.TaskTTL,
		cfg.Archive.Retention,
		a.di.TaskStore(ctx),
		a.di.Archive(ctx),
	).StartCleanup(ctx)
	slog.Info("cleanup running",
		slog.String("interval", cfg.Store.CleanupInterval.String()),
		slog.String("task_ttl", cfg.Store.TaskTTL.String()),
	)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			slog.String("addr", a.srv.Addr),
			slog.String("mode", string(cfg.Mode)),
			slog.String("webhook_url", cfg.WebhookURL()),
		)
		if e := a.srv.ListenAndServe(); e != nil && !errors.Is(e, http.ErrServerClosed) {
			slog.Error("server error", slog.String("error", e.Error()))
			errCh <- e
		}
	}()

	var runErr error
	select {
	case runErr = <-errCh:
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
		runErr = errors.Join(runErr, err)
	}

	if err := a.di.Close(shutdownCtx); err != nil {
		slog.Error("release dependencies", slog.String("error", err.Error()))
		runErr = errors.Join(runErr, err)
	}

	if runErr == nil {
		slog.Info("server gracefully stopped")
	}
	return runErr
}

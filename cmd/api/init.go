package main

import (
	"context"
	"errors"
	"net/http"

	"go-chi-calculator/internal/calculator"
	"go-chi-calculator/internal/config"
	"go-chi-calculator/internal/observability"
	"go-chi-calculator/internal/preferences"
	"go-chi-calculator/internal/server"
	"go-chi-calculator/internal/storage"
)

type shutdownFunc func(context.Context) error

// initTelemetry brings up tracing, metrics and log export in that order.
// The returned shutdown flushes them in reverse.
func initTelemetry(ctx context.Context, cfg config.Telemetry) (shutdownFunc, error) {
	var shutdowns []shutdownFunc
	shutdown := func(ctx context.Context) error {
		var errs []error
		for i := len(shutdowns) - 1; i >= 0; i-- {
			errs = append(errs, shutdowns[i](ctx))
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (shutdownFunc, error) {
		_ = shutdown(ctx)
		return nil, err
	}

	traces, err := observability.InitTracing(ctx, cfg.Traces)
	if err != nil {
		return fail(err)
	}
	shutdowns = append(shutdowns, traces)

	metrics, err := observability.InitMetrics(ctx, cfg.Metrics)
	if err != nil {
		return fail(err)
	}
	shutdowns = append(shutdowns, metrics)

	// Domain instruments bind to whichever meter provider is now global.
	if err := calculator.InitMetrics(); err != nil {
		return fail(err)
	}
	if err := preferences.InitMetrics(); err != nil {
		return fail(err)
	}

	logs, err := observability.InitLogging(ctx, cfg.Logs)
	if err != nil {
		return fail(err)
	}
	shutdowns = append(shutdowns, logs)

	return shutdown, nil
}

// newHandler wires storage-backed services into the HTTP router. Idle
// sessions are swept until ctx is done.
func newHandler(ctx context.Context, cfg *config.Config, store storage.Store) http.Handler {
	sessions := calculator.NewRegistry(store, calculator.Options{
		HistoryLimit:     cfg.Calculator.HistoryLimit,
		MaxOperandLength: cfg.Calculator.MaxOperandLength,
		MaxSessions:      cfg.Calculator.MaxSessions,
		IdleTimeout:      cfg.Calculator.SessionIdleTimeout,
	})
	go sessions.Run(ctx)

	return server.NewRouter(server.Deps{
		Sessions:       sessions,
		Themes:         preferences.NewThemes(store, cfg.UI.DefaultTheme),
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	})
}

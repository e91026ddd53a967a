package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"go-chi-calculator/internal/config"
	"go-chi-calculator/internal/observability"
	"go-chi-calculator/internal/storage"
)

func main() {

	configPath := flag.String("config", "", "path to a YAML config file (defaults to $CONFIG_FILE or ./config.yaml)")
	flag.Parse()

	ctx := context.Background()

	if err := loadDotEnv(); err != nil {
		panic(err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	// Logger
	err = observability.InitLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		panic(err)
	}
	defer observability.SyncLogger()

	telemetryShutdown, err := initTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		panic(err)
	}
	defer telemetryShutdown(ctx)

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		observability.Logger.Fatal("opening storage failed", zap.Error(err))
	}
	defer store.Close()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()

	router := newHandler(sweepCtx, cfg, store)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		observability.Logger.Info("server started",
			zap.String("addr", cfg.Server.Addr),
			zap.String("storage", cfg.Storage.Driver),
		)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			observability.Logger.Fatal("server failed", zap.Error(err))
		}
	}()

	waitForShutdown(srv, cfg.Server.ShutdownTimeout)
}

func waitForShutdown(srv *http.Server, timeout time.Duration) {

	stop := make(chan os.Signal, 1)

	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		observability.Logger.Error("graceful shutdown failed", zap.Error(err))
	}
	observability.Logger.Info("server stopped")
}

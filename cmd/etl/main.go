package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/forecast-etl/internal/adapter/http"
	"github.com/couchcryptid/forecast-etl/internal/app"
	"github.com/couchcryptid/forecast-etl/internal/config"
	"github.com/couchcryptid/forecast-etl/internal/observability"
	"github.com/couchcryptid/forecast-etl/internal/scheduler"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck // nothing useful to do on exit

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()
	a, err := app.New(ctx, cfg, nil, clockwork.NewRealClock(), logger, metrics)
	if err != nil {
		return err
	}

	deps := httpadapter.Deps{
		Ready:  a,
		Runner: a.Runner,
		Cities: cfg,
		Store:  a.Store,
	}
	if a.History != nil {
		deps.History = a.History
	}
	srv := httpadapter.NewServer(cfg.HTTPAddr, deps, logger)
	sched := scheduler.New(cfg.CityNames(), cfg.RefreshInterval, a.Runner, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	if err := sched.Start(); err != nil {
		logger.Error("scheduler start failed", zap.Error(err))
	}

	// Warm the default city so readiness does not wait for the first tick.
	if _, err := a.Runner.Submit(cfg.DefaultCity); err != nil {
		logger.Warn("initial refresh not started", zap.String("city", cfg.DefaultCity), zap.Error(err))
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	sched.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	closed := make(chan error, 1)
	go func() { closed <- a.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			logger.Error("close error", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Warn("running cycles did not finish before the shutdown timeout")
	}

	logger.Info("shutdown complete")
	return nil
}

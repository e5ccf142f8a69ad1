// Package app wires the configured adapters into a ready-to-run pipeline.
package app

import (
	"context"
	"errors"

	"github.com/couchcryptid/forecast-etl/internal/adapter/csvstore"
	kafkaadapter "github.com/couchcryptid/forecast-etl/internal/adapter/kafka"
	"github.com/couchcryptid/forecast-etl/internal/adapter/owm"
	"github.com/couchcryptid/forecast-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/forecast-etl/internal/config"
	"github.com/couchcryptid/forecast-etl/internal/domain"
	"github.com/couchcryptid/forecast-etl/internal/observability"
	"github.com/couchcryptid/forecast-etl/internal/pipeline"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// App holds the wired components shared by the daemon and the CLI.
type App struct {
	Config   *config.Config
	Store    *csvstore.Store
	Pipeline *pipeline.Pipeline
	Runner   *pipeline.Runner
	History  *sqlite.History // nil when HISTORY_PATH is unset

	closers []func() error
	logger  *zap.Logger
}

// New builds the application from cfg. source overrides the upstream
// client when non-nil.
func New(ctx context.Context, cfg *config.Config, source domain.ForecastSource, clock clockwork.Clock, logger *zap.Logger, metrics *observability.Metrics) (*App, error) {
	a := &App{Config: cfg, logger: logger}
	mapping := domain.DefaultFieldMapping()
	a.Store = csvstore.New(cfg.DataDir, mapping, logger)

	if source == nil {
		client, err := owm.NewClient(owm.Options{
			APIKey:        cfg.OWMAPIKey,
			BaseURL:       cfg.OWMBaseURL,
			Lang:          cfg.OWMLang,
			Timeout:       cfg.OWMTimeout,
			RetryAttempts: cfg.OWMRetryAttempts,
			RetryDelay:    cfg.OWMRetryDelay,
			RateLimit:     cfg.OWMRateLimit,
		}, logger, metrics)
		if err != nil {
			return nil, err
		}
		source = owm.NewCachedSource(client, cfg.OWMCacheSize, cfg.OWMCacheTTL, clock, metrics)
	}

	var publisher pipeline.Publisher
	if cfg.KafkaEnabled {
		writer := kafkaadapter.NewWriter(cfg, logger)
		a.closers = append(a.closers, writer.Close)
		publisher = writer
		logger.Info("kafka publishing enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	var recorder pipeline.HistoryRecorder
	if cfg.HistoryPath != "" {
		history, err := sqlite.Open(ctx, cfg.HistoryPath, logger)
		if err != nil {
			a.Close() //nolint:errcheck // already failing
			return nil, err
		}
		a.History = history
		a.closers = append(a.closers, history.Close)
		recorder = history
	}

	assembler := pipeline.NewAssembler(a.Store, clock, logger, metrics)
	cleaner := pipeline.NewCleaner(a.Store, mapping, clock, logger, metrics)
	a.Pipeline = pipeline.New(cfg, source, assembler, cleaner, publisher, clock, logger, metrics)
	a.Runner = pipeline.NewRunner(a.Pipeline, recorder, clock, logger, metrics)
	return a, nil
}

// CheckReadiness reports ready once a cycle has cleaned a forecast and the
// run history, when enabled, answers.
func (a *App) CheckReadiness(ctx context.Context) error {
	if err := a.Pipeline.CheckReadiness(ctx); err != nil {
		return err
	}
	if a.History != nil {
		return a.History.Ping(ctx)
	}
	return nil
}

// Close waits for running cycles and releases the publisher and history.
func (a *App) Close() error {
	if a.Runner != nil {
		a.Runner.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

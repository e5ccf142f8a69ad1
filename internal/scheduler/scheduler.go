// Package scheduler refreshes every configured city on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/couchcryptid/forecast-etl/internal/pipeline"
	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Refresher runs a cycle for each city and waits for all of them.
type Refresher interface {
	RefreshAll(ctx context.Context, cities []string) []pipeline.Status
}

// Scheduler periodically refreshes a fixed set of cities.
type Scheduler struct {
	scheduler *gocron.Scheduler
	refresher Refresher
	cities    []string
	interval  time.Duration
	logger    *zap.Logger
}

// New creates a Scheduler. An interval of zero or less disables it.
func New(cities []string, interval time.Duration, refresher Refresher, logger *zap.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	// A slow round is never overlapped by the next tick.
	s.SingletonModeAll()
	s.WaitForScheduleAll()
	return &Scheduler{
		scheduler: s,
		refresher: refresher,
		cities:    cities,
		interval:  interval,
		logger:    logger,
	}
}

// Start schedules the refresh job and starts the underlying scheduler. The
// first round runs one interval after Start.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		s.logger.Info("scheduled refresh disabled")
		return nil
	}
	if len(s.cities) == 0 {
		s.logger.Info("scheduler: no cities configured; nothing to schedule")
		return nil
	}

	if _, err := s.scheduler.Every(s.interval).Do(s.round); err != nil {
		return err
	}
	s.scheduler.StartAsync()
	s.logger.Info("scheduled refresh started",
		zap.Duration("interval", s.interval),
		zap.Int("cities", len(s.cities)))
	return nil
}

func (s *Scheduler) round() {
	start := time.Now()
	statuses := s.refresher.RefreshAll(context.Background(), s.cities)

	var failed []string
	skipped := 0
	for _, st := range statuses {
		switch {
		case errors.Is(st.Err, pipeline.ErrRunInProgress):
			// A refresh submitted elsewhere is still running; it will report its own outcome.
			skipped++
			s.logger.Debug("scheduled refresh skipped, city already running", zap.String("city", st.City))
		case st.State == pipeline.StateFailed:
			failed = append(failed, st.City)
		}
	}
	s.logger.Info("scheduled refresh completed",
		zap.Int("cities", len(statuses)),
		zap.Int("failed", len(failed)),
		zap.Int("skipped", skipped),
		zap.Strings("failed_cities", failed),
		zap.Duration("duration", time.Since(start)))
}

// Stop stops the scheduler and cancels any future rounds.
func (s *Scheduler) Stop() {
	if s.scheduler != nil && s.scheduler.IsRunning() {
		s.scheduler.Stop()
	}
}

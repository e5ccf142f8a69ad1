package pipeline

import (
	"context"
	"errors"

	"github.com/couchcryptid/forecast-etl/internal/domain"
	"github.com/couchcryptid/forecast-etl/internal/observability"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// RawStore persists the raw artifact of a city.
type RawStore interface {
	WriteRaw(city string, t *domain.Table) (string, error)
}

// Assembler turns accepted forecast records into the persisted raw dataset.
type Assembler struct {
	store   RawStore
	clock   clockwork.Clock
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewAssembler creates an Assembler writing through store.
func NewAssembler(store RawStore, clock clockwork.Clock, logger *zap.Logger, metrics *observability.Metrics) *Assembler {
	return &Assembler{store: store, clock: clock, logger: logger, metrics: metrics}
}

// Assemble removes exact duplicate records, tags every record with city and
// replaces the raw artifact. An empty input fails with KindEmptyResult and
// writes nothing.
func (a *Assembler) Assemble(_ context.Context, city string, records []domain.ForecastRecord) (domain.RawDataset, error) {
	log := a.logger.With(zap.String("city", city))

	if len(records) == 0 {
		return domain.RawDataset{}, logFailure(log, a.metrics, city, &domain.Error{
			Kind:  domain.KindEmptyResult,
			Op:    opAssemble,
			City:  city,
			Index: -1,
			Msg:   "no forecast records were accepted",
		})
	}

	unique := dedupRecords(records)
	dropped := len(records) - len(unique)
	if dropped > 0 {
		log.Info("dropped duplicate records", zap.Int("count", dropped))
		a.metrics.DuplicatesDropped.WithLabelValues(opAssemble).Add(float64(dropped))
	}
	for i := range unique {
		unique[i].City = city
	}

	path, err := a.store.WriteRaw(city, domain.RecordsTable(unique))
	if err != nil {
		return domain.RawDataset{}, logFailure(log, a.metrics, city, err)
	}

	log.Info("raw dataset written", zap.String("path", path), zap.Int("records", len(unique)))
	return domain.RawDataset{
		City:      city,
		Records:   unique,
		Dropped:   dropped,
		FetchedAt: a.clock.Now().UTC(),
		Path:      path,
	}, nil
}

// dedupRecords keeps the first of every group of identical records, including
// the upstream city name they arrived with.
func dedupRecords(records []domain.ForecastRecord) []domain.ForecastRecord {
	seen := make(map[domain.ForecastRecord]struct{}, len(records))
	out := make([]domain.ForecastRecord, 0, len(records))
	for _, r := range records {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// logFailure logs a per-dataset failure with its stage and kind, counts it,
// and fills in the city when the error does not carry one.
func logFailure(log *zap.Logger, metrics *observability.Metrics, city string, err error) error {
	stage := "unknown"
	var de *domain.Error
	if errors.As(err, &de) {
		if de.Op != "" {
			stage = de.Op
		}
		if de.City == "" {
			de.City = city
		}
	}
	kind := domain.KindOf(err)
	log.Error("stage failed",
		zap.String("stage", stage),
		zap.String("kind", kind.String()),
		zap.Error(err))
	metrics.StageFailures.WithLabelValues(stage, kind.String()).Inc()
	return err
}

// StageOf returns the stage a failure happened in, or "" for nil errors.
func StageOf(err error) string {
	if err == nil {
		return ""
	}
	var de *domain.Error
	if errors.As(err, &de) && de.Op != "" {
		return de.Op
	}
	return "unknown"
}

package pipeline

import (
	"context"
	"errors"

	"github.com/couchcryptid/forecast-etl/internal/domain"
	"github.com/couchcryptid/forecast-etl/internal/observability"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// CleanStore reads the raw artifact and persists the cleaned one.
type CleanStore interface {
	ReadRaw(city string) (*domain.Table, string, error)
	WriteCleaned(city string, t *domain.Table) (string, error)
}

// Cleaner runs the cleaning stages over a city's raw artifact:
//
//	exists, load, schema, impute, dedup, parse_time, outliers, non_empty,
//	round, rename, persist
//
// Stages run strictly in that order. The first failure aborts the run and no
// cleaned artifact is written.
type Cleaner struct {
	store   CleanStore
	mapping *domain.FieldMapping
	clock   clockwork.Clock
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewCleaner creates a Cleaner.
func NewCleaner(store CleanStore, mapping *domain.FieldMapping, clock clockwork.Clock, logger *zap.Logger, metrics *observability.Metrics) *Cleaner {
	return &Cleaner{store: store, mapping: mapping, clock: clock, logger: logger, metrics: metrics}
}

// Clean produces the cleaned dataset for city from its raw artifact.
func (c *Cleaner) Clean(_ context.Context, city string) (domain.CleanedDataset, error) {
	log := c.logger.With(zap.String("city", city))
	fail := func(err error, path string) (domain.CleanedDataset, error) {
		var de *domain.Error
		if errors.As(err, &de) && de.Path == "" {
			de.Path = path
		}
		return domain.CleanedDataset{}, logFailure(log, c.metrics, city, err)
	}

	t, rawPath, err := c.store.ReadRaw(city)
	if err != nil {
		return fail(err, rawPath)
	}
	report := domain.CleanReport{InputRows: t.Len()}

	if err := domain.CheckSchema(t); err != nil {
		return fail(err, rawPath)
	}

	imputed, dropped, err := domain.Impute(t)
	if err != nil {
		return fail(err, rawPath)
	}
	report.Imputed, report.DroppedColumns = imputed, dropped
	for _, field := range domain.RawFields {
		if n := imputed[field]; n > 0 {
			log.Info("imputed missing values", zap.String("field", field), zap.Int("count", n))
			c.metrics.ValuesImputed.WithLabelValues(field).Add(float64(n))
		}
	}
	if len(dropped) > 0 {
		log.Warn("dropped columns without values", zap.Strings("columns", dropped))
	}

	report.Duplicates = domain.DropDuplicateTimes(t)
	if report.Duplicates > 0 {
		log.Info("dropped duplicate timestamps", zap.Int("count", report.Duplicates))
		c.metrics.DuplicatesDropped.WithLabelValues("clean").Add(float64(report.Duplicates))
	}

	if err := domain.ParseTimes(t); err != nil {
		return fail(err, rawPath)
	}

	report.Outliers = domain.RejectOutliers(t)
	for _, rule := range []string{domain.RuleTemperature, domain.RuleHumidity, domain.RuleWindSpeed} {
		if n := report.Outliers[rule]; n > 0 {
			log.Info("removed outlier rows", zap.String("rule", rule), zap.Int("count", n))
			c.metrics.RowsRemoved.WithLabelValues(rule).Add(float64(n))
		}
	}

	if n := domain.CountImplausiblePressure(t); n > 0 {
		report.Implausible = n
		log.Warn("kept rows with implausible pressure",
			zap.Int("count", n),
			zap.Float64("min", domain.MinPressure),
			zap.Float64("max", domain.MaxPressure))
		c.metrics.ValuesFlagged.WithLabelValues(domain.FieldPressure).Add(float64(n))
	}

	if t.Len() == 0 {
		return fail(&domain.Error{
			Kind:  domain.KindEmptyResult,
			Op:    opNonEmpty,
			City:  city,
			Index: -1,
			Msg:   "no rows left after cleaning",
		}, rawPath)
	}

	domain.RoundValues(t)
	rows := domain.CleanedRows(t)
	domain.RenameToDisplay(t, c.mapping)

	path, err := c.store.WriteCleaned(city, t)
	if err != nil {
		return fail(err, path)
	}
	report.OutputRows = t.Len()
	c.metrics.CleanedRows.WithLabelValues(city).Set(float64(report.OutputRows))

	log.Info("cleaned dataset written",
		zap.String("path", path),
		zap.Int("rows_in", report.InputRows),
		zap.Int("rows_out", report.OutputRows))

	return domain.CleanedDataset{
		City:    city,
		Table:   t,
		Rows:    rows,
		Report:  report,
		Path:    path,
		Cleaned: c.clock.Now().UTC(),
	}, nil
}

package pipeline

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/couchcryptid/forecast-etl/internal/config"
	"github.com/couchcryptid/forecast-etl/internal/domain"
	"github.com/couchcryptid/forecast-etl/internal/observability"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	opResolve  = "resolve"
	opAssemble = "assemble"
	opNonEmpty = "non_empty"
)

// CityLookup resolves a city identity to its configured entry.
type CityLookup interface {
	City(name string) (config.City, bool)
}

// Publisher delivers a cleaned dataset downstream.
type Publisher interface {
	Publish(ctx context.Context, dataset domain.CleanedDataset) error
}

// Result is everything one cycle produced, as far as it got.
type Result struct {
	City     string
	Raw      domain.RawDataset
	Cleaned  domain.CleanedDataset
	Rejected []domain.Rejection
}

// Pipeline orchestrates the fetch, extract, assemble and clean cycle for one city.
type Pipeline struct {
	cities    CityLookup
	source    domain.ForecastSource
	assembler *Assembler
	cleaner   *Cleaner
	publisher Publisher
	clock     clockwork.Clock
	logger    *zap.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
}

// New creates a Pipeline. publisher may be nil.
func New(
	cities CityLookup,
	source domain.ForecastSource,
	assembler *Assembler,
	cleaner *Cleaner,
	publisher Publisher,
	clock clockwork.Clock,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *Pipeline {
	return &Pipeline{
		cities:    cities,
		source:    source,
		assembler: assembler,
		cleaner:   cleaner,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness returns nil once at least one cycle has produced a cleaned
// dataset, or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no forecast has been cleaned yet")
	}
	return nil
}

// Resolve looks up a configured city. Unknown cities fail with KindNotFound
// before anything touches the network.
func (p *Pipeline) Resolve(name string) (config.City, error) {
	city, ok := p.cities.City(name)
	if !ok {
		return config.City{}, &domain.Error{
			Kind:  domain.KindNotFound,
			Op:    opResolve,
			City:  name,
			Index: -1,
			Msg:   "city is not configured",
		}
	}
	return city, nil
}

// RunCycle fetches, extracts, assembles and cleans the forecast for one
// city. Stages run strictly in sequence; the first failure ends the cycle
// and is returned as a *domain.Error. Publishing is best effort and never
// fails a cycle whose cleaned artifact was written.
func (p *Pipeline) RunCycle(ctx context.Context, name string) (Result, error) {
	start := p.clock.Now()
	res, err := p.runCycle(ctx, name)

	outcome := "ok"
	if err != nil {
		outcome = domain.KindOf(err).String()
	}
	p.metrics.PipelineRuns.WithLabelValues(outcome).Inc()
	p.metrics.CycleDuration.Observe(p.clock.Since(start).Seconds())
	return res, err
}

func (p *Pipeline) runCycle(ctx context.Context, name string) (Result, error) {
	res := Result{City: name}
	log := p.logger.With(zap.String("city", name))

	city, err := p.Resolve(name)
	if err != nil {
		return res, logFailure(log, p.metrics, name, err)
	}
	res.City = city.Name
	log = p.logger.With(zap.String("city", city.Name))

	resp, err := p.source.FetchForecast(ctx, city.Query)
	if err != nil {
		return res, logFailure(log, p.metrics, city.Name, err)
	}

	records, rejected := domain.ExtractForecast(resp, city.Name)
	res.Rejected = rejected
	p.metrics.RecordsExtracted.Add(float64(len(records)))
	for _, r := range rejected {
		field := r.Field
		if field == "" {
			field = "entry"
		}
		p.metrics.RecordsRejected.WithLabelValues(field).Inc()
		log.Warn("forecast entry rejected",
			zap.Int("index", r.Index),
			zap.String("field", r.Field),
			zap.String("reason", r.Reason))
	}
	log.Info("forecast extracted",
		zap.Int("entries", len(resp.Entries)),
		zap.Int("accepted", len(records)),
		zap.Int("rejected", len(rejected)))

	raw, err := p.assembler.Assemble(ctx, city.Name, records)
	if err != nil {
		return res, err
	}
	raw.Rejected = len(rejected)
	res.Raw = raw

	cleaned, err := p.cleaner.Clean(ctx, city.Name)
	if err != nil {
		return res, err
	}
	res.Cleaned = cleaned
	p.ready.Store(true)

	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, cleaned); err != nil {
			log.Warn("publish cleaned rows failed", zap.Error(err))
		} else {
			p.metrics.MessagesPublished.Add(float64(cleaned.Len()))
		}
	}
	return res, nil
}

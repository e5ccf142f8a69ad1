package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "forecast_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the forecast pipeline.
type Metrics struct {
	// Upstream forecast API.
	UpstreamRequests *prometheus.CounterVec // labels: outcome={success,<failure kind>,circuit_open}
	UpstreamDuration prometheus.Histogram
	CacheLookups     *prometheus.CounterVec // labels: result={hit,miss}

	// Extraction and cleaning.
	RecordsExtracted  prometheus.Counter
	RecordsRejected   *prometheus.CounterVec // labels: field
	DuplicatesDropped *prometheus.CounterVec // labels: stage={assemble,clean}
	ValuesImputed     *prometheus.CounterVec // labels: field
	RowsRemoved       *prometheus.CounterVec // labels: rule={temperature,humidity,wind_speed}
	ValuesFlagged     *prometheus.CounterVec // labels: field

	// Cycles.
	PipelineRuns  *prometheus.CounterVec // labels: outcome={ok,<failure kind>}
	StageFailures *prometheus.CounterVec // labels: stage, kind
	CycleDuration prometheus.Histogram
	RunsInFlight  prometheus.Gauge
	CleanedRows   *prometheus.GaugeVec // labels: city

	MessagesPublished prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.CacheLookups,
		m.RecordsExtracted,
		m.RecordsRejected,
		m.DuplicatesDropped,
		m.ValuesImputed,
		m.RowsRemoved,
		m.ValuesFlagged,
		m.PipelineRuns,
		m.StageFailures,
		m.CycleDuration,
		m.RunsInFlight,
		m.CleanedRows,
		m.MessagesPublished,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Forecast API requests by outcome.",
		}, []string{"outcome"}),
		UpstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Forecast API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecast_cache_total",
			Help:      "Forecast response cache lookups by result.",
		}, []string{"result"}),
		RecordsExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_extracted_total",
			Help:      "Forecast entries accepted by the extractor.",
		}),
		RecordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_rejected_total",
			Help:      "Forecast entries rejected by the extractor, by offending field.",
		}, []string{"field"}),
		DuplicatesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_dropped_total",
			Help:      "Duplicate rows dropped, by stage.",
		}, []string{"stage"}),
		ValuesImputed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "values_imputed_total",
			Help:      "Missing values filled during cleaning, by field.",
		}, []string{"field"}),
		RowsRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outlier_rows_removed_total",
			Help:      "Rows removed by outlier rejection, by rule.",
		}, []string{"rule"}),
		ValuesFlagged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "implausible_values_total",
			Help:      "Values kept despite lying outside their plausible range, by field.",
		}, []string{"field"}),
		PipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Completed fetch and clean cycles by outcome.",
		}, []string{"outcome"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Pipeline aborts by stage and failure kind.",
		}, []string{"stage", "kind"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete fetch and clean cycle.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		RunsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Cycles currently executing.",
		}),
		CleanedRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cleaned_rows",
			Help:      "Rows in the latest cleaned dataset per city.",
		}, []string{"city"}),
		MessagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Cleaned rows published to Kafka.",
		}),
	}
}

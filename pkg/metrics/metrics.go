// Package metrics defines the Prometheus collectors used across the
// indexer, importer and scoring service, and exposes an HTTP handler for
// scraping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	latencyBuckets   = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	candidateBuckets = prometheus.ExponentialBuckets(1, 10, 6)
)

// Metrics holds every collector a service may touch. Services register the
// full set; unused series are simply never exported.
type Metrics struct {
	// HTTP surface, fed by middleware.Metrics.
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Scoring.
	ScoreRequestsTotal *prometheus.CounterVec
	ScoreLatency       *prometheus.HistogramVec
	CandidatesScored   prometheus.Histogram
	ScoringErrorsTotal *prometheus.CounterVec
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter

	// Import and indexing.
	ConceptsImportedTotal *prometheus.CounterVec
	ConceptsIndexedTotal  *prometheus.CounterVec
	IndexFlushesTotal     *prometheus.CounterVec
	ShardDocCount         *prometheus.GaugeVec
	ActiveShards          prometheus.Gauge

	CircuitBreakerState *prometheus.GaugeVec
}

// New registers the collectors with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors with reg. It panics if reg
// already holds them.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by status code, method and route.",
		}, []string{"code", "method", "path"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: latencyBuckets,
		}, []string{"method", "path"}),
		HTTPRequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "HTTP requests being served.",
		}),

		ScoreRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "score_requests_total",
			Help: "Score requests by outcome (ok, empty, cache_hit, error).",
		}, []string{"outcome"}),
		ScoreLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "score_latency_seconds",
			Help:    "Score request latency in seconds.",
			Buckets: latencyBuckets[:9],
		}, []string{"cache_status"}),
		CandidatesScored: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "score_candidates",
			Help:    "Candidate concepts scored per request.",
			Buckets: append([]float64{0}, candidateBuckets...),
		}),
		ScoringErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scoring_errors_total",
			Help: "Candidates skipped because scoring failed, by field.",
		}, []string{"field"}),
		CacheHitsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Score cache hits.",
		}),
		CacheMissesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Score cache misses.",
		}),

		ConceptsImportedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "concepts_imported_total",
			Help: "MRCONSO rows processed by the importer, by status.",
		}, []string{"status"}),
		ConceptsIndexedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "concepts_indexed_total",
			Help: "Concepts handled by the indexer, by status.",
		}, []string{"status"}),
		IndexFlushesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "index_flushes_total",
			Help: "Memory index flushes to segments, by status.",
		}, []string{"status"}),
		ShardDocCount: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shard_document_count",
			Help: "Concepts held by each shard.",
		}, []string{"shard_id"}),
		ActiveShards: f.NewGauge(prometheus.GaugeOpts{
			Name: "active_shards",
			Help: "Index shards open in this process.",
		}),

		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
		}, []string{"name"}),
	}
}

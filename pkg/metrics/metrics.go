// Package metrics defines the Prometheus metric collectors used by the
// recovery service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	RecoveriesTotal      *prometheus.CounterVec
	RecoveryDuration     *prometheus.HistogramVec
	CandidatesTried      *prometheus.CounterVec
	ActiveShards         prometheus.Gauge
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	JobsTotal            *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A nil reg uses the
// default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		RecoveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recoveries_total",
				Help: "Recovery searches by algorithm and outcome (found, exhausted, error).",
			},
			[]string{"algorithm", "outcome"},
		),
		RecoveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recovery_duration_seconds",
				Help:    "Wall time of a recovery search in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"algorithm"},
		),
		CandidatesTried: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candidates_tried_total",
				Help: "Candidates submitted to the hash oracle.",
			},
			[]string{"algorithm"},
		),
		ActiveShards: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_shards",
				Help: "Number of search shards currently enumerating.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of result cache misses.",
			},
		),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recovery_jobs_total",
				Help: "Queued recovery jobs by final status.",
			},
			[]string{"status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.RecoveriesTotal,
		m.RecoveryDuration,
		m.CandidatesTried,
		m.ActiveShards,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.JobsTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

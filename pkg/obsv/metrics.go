// Package obsv holds the Prometheus metrics every error category and hot
// path named in spec.md §7 ("every error category is observable through
// metrics counters") feeds into. It deliberately stops at the metric
// objects themselves — exposing them over HTTP is the server front-end's
// job via its Config.MetricsHandler seam, kept outside this package's scope.
package obsv

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every counter/histogram/gauge meshmcp records. Construct
// with New; the zero value is not usable.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal         *prometheus.CounterVec
	RequestDuration       *prometheus.HistogramVec
	BackendHealthStatus   *prometheus.GaugeVec
	BackendLatencySeconds *prometheus.HistogramVec
	CircuitBreakerState   *prometheus.GaugeVec
	CircuitBreakerTrips   *prometheus.CounterVec

	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
	CacheSizeEntries *prometheus.GaugeVec

	BatchRequestsTotal *prometheus.CounterVec
	BatchSize          prometheus.Histogram
	BatchWaitSeconds   prometheus.Histogram
}

// New builds and registers every metric against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshmcp_requests_total",
			Help: "Total number of client requests processed, by method and outcome.",
		}, []string{"method", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meshmcp_request_duration_seconds",
			Help:    "Client request duration in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		BackendHealthStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meshmcp_backend_health_status",
			Help: "Backend health state (0=unknown, 1=healthy, 2=degraded, 3=unhealthy).",
		}, []string{"backend_id"}),
		BackendLatencySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meshmcp_backend_latency_seconds",
			Help:    "Backend call latency in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"backend_id"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meshmcp_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half_open).",
		}, []string{"backend_id"}),
		CircuitBreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshmcp_circuit_breaker_trips_total",
			Help: "Total number of times a backend's circuit breaker tripped open.",
		}, []string{"backend_id"}),
		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshmcp_cache_hits_total",
			Help: "Total cache hits, by tier.",
		}, []string{"tier"}),
		CacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshmcp_cache_misses_total",
			Help: "Total cache misses, by tier.",
		}, []string{"tier"}),
		CacheSizeEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meshmcp_cache_size_entries",
			Help: "Current number of entries held by each cache tier.",
		}, []string{"tier"}),
		BatchRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshmcp_batch_requests_total",
			Help: "Total requests submitted to the batch aggregator, by outcome.",
		}, []string{"outcome"}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshmcp_batch_size",
			Help:    "Distribution of waiter counts per flushed batch.",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 50},
		}),
		BatchWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshmcp_batch_wait_seconds",
			Help:    "Time a request waited in a batch before it flushed.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.075, 0.1, 0.15, 0.2, 0.5},
		}),
	}

	reg.MustRegister(
		m.RequestsTotal, m.RequestDuration,
		m.BackendHealthStatus, m.BackendLatencySeconds,
		m.CircuitBreakerState, m.CircuitBreakerTrips,
		m.CacheHitsTotal, m.CacheMissesTotal, m.CacheSizeEntries,
		m.BatchRequestsTotal, m.BatchSize, m.BatchWaitSeconds,
	)
	return m
}

// RecordRequest tallies one completed client request.
func (m *Metrics) RecordRequest(method, status string, d time.Duration) {
	m.RequestsTotal.WithLabelValues(method, status).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// Backend health gauge values, one per health state, matching the Rust
// original's 0..3 convention; kept as plain ints here so this package never
// needs to import pkg/health.
const (
	HealthUnknown   = 0
	HealthHealthy   = 1
	HealthDegraded  = 2
	HealthUnhealthy = 3
)

// RecordBackendHealth sets the current health gauge for backendID.
func (m *Metrics) RecordBackendHealth(backendID string, state int) {
	m.BackendHealthStatus.WithLabelValues(backendID).Set(float64(state))
}

// RecordBackendLatency observes one backend call's latency.
func (m *Metrics) RecordBackendLatency(backendID string, d time.Duration) {
	m.BackendLatencySeconds.WithLabelValues(backendID).Observe(d.Seconds())
}

// Circuit breaker state gauge values, matching the original Rust source's
// 0=closed/1=open/2=half-open convention.
const (
	BreakerClosed   = 0
	BreakerOpen     = 1
	BreakerHalfOpen = 2
)

// RecordBreakerState sets the current circuit-breaker gauge for backendID.
func (m *Metrics) RecordBreakerState(backendID string, state int) {
	m.CircuitBreakerState.WithLabelValues(backendID).Set(float64(state))
}

// RecordBreakerTrip increments the trip counter for backendID.
func (m *Metrics) RecordBreakerTrip(backendID string) {
	m.CircuitBreakerTrips.WithLabelValues(backendID).Inc()
}

// RecordCacheHit/RecordCacheMiss tally a tier's cache lookups.
func (m *Metrics) RecordCacheHit(tier string)  { m.CacheHitsTotal.WithLabelValues(tier).Inc() }
func (m *Metrics) RecordCacheMiss(tier string) { m.CacheMissesTotal.WithLabelValues(tier).Inc() }

// SetCacheSize reports a tier's current entry count.
func (m *Metrics) SetCacheSize(tier string, n int) {
	m.CacheSizeEntries.WithLabelValues(tier).Set(float64(n))
}

// RecordBatch tallies one flushed batch's waiter count and the wait time of
// one of its waiters.
func (m *Metrics) RecordBatch(outcome string, waiters int, wait time.Duration) {
	m.BatchRequestsTotal.WithLabelValues(outcome).Inc()
	m.BatchSize.Observe(float64(waiters))
	m.BatchWaitSeconds.Observe(wait.Seconds())
}

// Package metrics defines the Prometheus collectors for ingestion runs,
// upstream calls, the read cache and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/yesterday/internal/model"
)

const namespace = "yesterday"

// Metrics holds all Prometheus collectors.
type Metrics struct {
	RunsTotal           *prometheus.CounterVec
	RunDuration         *prometheus.HistogramVec
	ItemsTotal          *prometheus.CounterVec
	UpstreamRequests    *prometheus.CounterVec
	UpstreamLatency     *prometheus.HistogramVec
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg uses
// the default registry.
func New(reg prometheus.Registerer) *Metrics {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_runs_total",
				Help:      "Ingestion runs finished, by status.",
			},
			[]string{"status"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingest_run_duration_seconds",
				Help:      "Ingestion run wall time in seconds.",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		ItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_items_total",
				Help:      "Items indexed, by source and bucket.",
			},
			[]string{"source", "bucket"},
		),
		UpstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "Upstream HTTP requests by host and status (0 for transport errors).",
			},
			[]string{"host", "status"},
		),
		UpstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_request_duration_seconds",
				Help:      "Upstream HTTP request latency in seconds.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"host"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Day index cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Day index cache misses.",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 30, 120},
			},
			[]string{"method", "route"},
		),
		gatherer: gatherer,
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.ItemsTotal,
		m.UpstreamRequests,
		m.UpstreamLatency,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

// ObserveRun records one finished run.
func (m *Metrics) ObserveRun(status model.RunStatus, elapsed time.Duration) {
	m.RunsTotal.WithLabelValues(string(status)).Inc()
	m.RunDuration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
}

// AddItems counts indexed items for one source and bucket.
func (m *Metrics) AddItems(source string, bucket model.Bucket, n int) {
	m.ItemsTotal.WithLabelValues(source, string(bucket)).Add(float64(n))
}

// ObserveUpstream records one upstream request. It matches fetcher.Observer.
func (m *Metrics) ObserveUpstream(host string, status int, elapsed time.Duration) {
	m.UpstreamRequests.WithLabelValues(host, strconv.Itoa(status)).Inc()
	m.UpstreamLatency.WithLabelValues(host).Observe(elapsed.Seconds())
}

// CacheHit counts a cache hit.
func (m *Metrics) CacheHit() { m.CacheHitsTotal.Inc() }

// CacheMiss counts a cache miss.
func (m *Metrics) CacheMiss() { m.CacheMissesTotal.Inc() }

// Handler returns the Prometheus scrape handler for the registry the
// collectors were registered with.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

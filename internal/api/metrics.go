package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors exposed at GET /metrics.
//
// Grounded in the teacher's internal/workers/pool.go PoolMetrics (a
// hand-rolled counters+histogram struct tracking submitted/completed/
// failed/timed-out tasks and a ring-buffer of latencies); this repo
// exposes the same kind of counters through real Prometheus collectors
// instead, per SPEC_FULL.md's domain-stack wiring for
// prometheus/client_golang.
type Metrics struct {
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	regimeCacheHit  prometheus.Gauge
	registry        *prometheus.Registry
}

// NewMetrics registers a fresh collector set against a registry owned
// by this Metrics value, so several servers can coexist in one process.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "equityscore",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route, method, and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "equityscore",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total HTTP requests by route, method, and status.",
		}, []string{"route", "method", "status"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "equityscore",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Analysis Cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "equityscore",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Analysis Cache misses.",
		}),
		regimeCacheHit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "equityscore",
			Subsystem: "regime",
			Name:      "cache_hit",
			Help:      "1 if the most recent regime lookup was served from cache, 0 otherwise.",
		}),
	}

	m.registry.MustRegister(m.requestDuration, m.requestTotal, m.cacheHits, m.cacheMisses, m.regimeCacheHit)
	return m
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	statusStr := http.StatusText(status)
	if statusStr == "" {
		statusStr = "unknown"
	}
	m.requestDuration.WithLabelValues(route, method, statusStr).Observe(elapsed.Seconds())
	m.requestTotal.WithLabelValues(route, method, statusStr).Inc()
}

// ObserveCache records one Analysis Cache lookup outcome.
func (m *Metrics) ObserveCache(hit bool) {
	if hit {
		m.cacheHits.Inc()
		return
	}
	m.cacheMisses.Inc()
}

// ObserveRegimeCacheHit records whether the most recent regime lookup
// was served from cache.
func (m *Metrics) ObserveRegimeCacheHit(hit bool) {
	if hit {
		m.regimeCacheHit.Set(1)
		return
	}
	m.regimeCacheHit.Set(0)
}

// Handler returns the Prometheus scrape handler for this Metrics'
// registry.
func (m *Metrics) Handler() http.HandlerFunc {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP
}

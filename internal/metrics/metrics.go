// Package metrics holds the Prometheus collectors of the frontend and the
// export worker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "splithappens"

// Metrics may be nil, in which case every method records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	backendCalls   *prometheus.CounterVec
	backendLatency *prometheus.HistogramVec
	draftSaves     *prometheus.CounterVec
	staleDropped   *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	rateLimited    prometheus.Counter
	workspaces     prometheus.Gauge
	eventsOut      *prometheus.CounterVec
	exports        *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		backendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_calls_total",
			Help:      "Calls to the receipts backend, by endpoint and status. Status 0 means no response.",
		}, []string{"endpoint", "status"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_call_duration_seconds",
			Help:      "Latency of receipts backend calls.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"endpoint"}),
		draftSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draft_saves_total",
			Help:      "Draft split saves, by outcome.",
		}, []string{"outcome"}),
		staleDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_responses_total",
			Help:      "Backend responses dropped because the workspace moved on.",
		}, []string{"operation"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_cache_lookups_total",
			Help:      "Snapshot cache lookups, by snapshot kind and result.",
		}, []string{"kind", "result"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
		workspaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workspaces_active",
			Help:      "Browser workspaces held in memory.",
		}),
		eventsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events published to the bus, by type and outcome.",
		}, []string{"type", "outcome"}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_exports_total",
			Help:      "Ledger export attempts, by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration,
		m.backendCalls, m.backendLatency,
		m.draftSaves, m.staleDropped,
		m.cacheLookups, m.rateLimited,
		m.workspaces, m.eventsOut, m.exports,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveBackend(endpoint string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.backendCalls.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.backendLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func (m *Metrics) DraftSave(outcome string) {
	if m == nil {
		return
	}
	m.draftSaves.WithLabelValues(outcome).Inc()
}

func (m *Metrics) StaleDropped(operation string) {
	if m == nil {
		return
	}
	m.staleDropped.WithLabelValues(operation).Inc()
}

func (m *Metrics) CacheLookup(kind string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) SetWorkspaces(n int) {
	if m == nil {
		return
	}
	m.workspaces.Set(float64(n))
}

func (m *Metrics) EventPublished(eventType string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.eventsOut.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) Export(outcome string) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues(outcome).Inc()
}

// Package metrics exposes Prometheus collectors for the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "family_history"

// Metrics holds the registry and every application collector
type Metrics struct {
	registry *prometheus.Registry

	imports         *prometheus.CounterVec
	importedPoints  *prometheus.CounterVec
	skippedEntries  *prometheus.CounterVec
	historyRows     *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	events          *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_total",
			Help:      "Snapshot imports by family and outcome.",
		}, []string{"family", "status"}),
		importedPoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imported_points_total",
			Help:      "Point rows stored by imports.",
		}, []string{"family"}),
		skippedEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_skipped_entries_total",
			Help:      "Malformed or unknown export entries ignored by imports.",
		}, []string{"family"}),
		historyRows: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "history_table_players",
			Help:      "Players per computed history table.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"family"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "latest_cache_lookups_total",
			Help:      "Latest leaderboard cache lookups by result.",
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_events_total",
			Help:      "Events pushed to websocket subscribers.",
		}, []string{"type"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.imports,
		m.importedPoints,
		m.skippedEntries,
		m.historyRows,
		m.cacheLookups,
		m.events,
		m.requestDuration,
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ImportSucceeded records a stored snapshot
func (m *Metrics) ImportSucceeded(family string, points, skipped int) {
	m.imports.WithLabelValues(family, "ok").Inc()
	m.importedPoints.WithLabelValues(family).Add(float64(points))
	m.skippedEntries.WithLabelValues(family).Add(float64(skipped))
}

// ImportFailed records a rejected or failed import
func (m *Metrics) ImportFailed(family string) {
	m.imports.WithLabelValues(family, "error").Inc()
}

// HistoryComputed records the size of a computed history table
func (m *Metrics) HistoryComputed(family string, players int) {
	m.historyRows.WithLabelValues(family).Observe(float64(players))
}

// CacheHit records a latest cache hit
func (m *Metrics) CacheHit() {
	m.cacheLookups.WithLabelValues("hit").Inc()
}

// CacheMiss records a latest cache miss
func (m *Metrics) CacheMiss() {
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// EventBroadcast records an event pushed to subscribers
func (m *Metrics) EventBroadcast(eventType string) {
	m.events.WithLabelValues(eventType).Inc()
}

// Middleware observes request durations labelled by chi route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}

// Package metrics provides the Prometheus instrumentation of the calendar
// engine and the HTTP server that exposes it.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/calcache/pkg/compute"
	"github.com/marmos91/calcache/pkg/manager"
)

// ============================================================================
// Prometheus Metrics for the Calendar Engine
// ============================================================================

// Namespace prefixes every metric name.
const Namespace = "calcache"

// Label constants for metrics.
const (
	LabelResult    = "result"
	LabelOutcome   = "outcome"
	LabelDirection = "direction"
	LabelPath      = "path"
	LabelMethod    = "method"
	LabelCode      = "code"
)

// Result constants for lookup and prefetch counters.
const (
	ResultHit     = "hit"
	ResultMiss    = "miss"
	ResultIssued  = "issued"
	ResultSkipped = "skipped"
	ResultLimited = "limited"
)

var _ manager.Metrics = (*Metrics)(nil)

// Metrics is the Prometheus implementation of manager.Metrics. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Cache
	lookups          *prometheus.CounterVec
	evictions        prometheus.Counter
	evictionDistance prometheus.Histogram
	cacheSize        prometheus.Gauge

	// Dispatcher
	computations        *prometheus.CounterVec
	computationDuration *prometheus.HistogramVec
	queueDepth          prometheus.Gauge

	// Viewport and events
	viewportChanges *prometheus.CounterVec
	prefetch        *prometheus.CounterVec
	eventsDropped   prometheus.Counter

	// HTTP API
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	registered bool
}

// NewMetrics creates and registers the engine metrics.
// If registry is nil, metrics are created but not registered (useful for testing).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Month lookups by result",
			},
			[]string{LabelResult},
		),

		evictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "cache",
				Name:      "evictions_total",
				Help:      "Months evicted to respect the cache bound",
			},
		),

		evictionDistance: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "cache",
				Name:      "eviction_distance_months",
				Help:      "Distance from the viewport center of evicted months",
				Buckets:   []float64{1, 2, 3, 6, 12, 24, 60},
			},
		),

		cacheSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "cache",
				Name:      "months",
				Help:      "Number of resident months",
			},
		),

		computations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "compute",
				Name:      "tasks_total",
				Help:      "Finished compute tasks by outcome",
			},
			[]string{LabelOutcome},
		),

		computationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "compute",
				Name:      "duration_seconds",
				Help:      "Time spent computing one month",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{LabelOutcome},
		),

		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "compute",
				Name:      "queue_depth",
				Help:      "Number of queued compute tasks",
			},
		),

		viewportChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "viewport",
				Name:      "changes_total",
				Help:      "Viewport notifications by scroll direction",
			},
			[]string{LabelDirection},
		),

		prefetch: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "prefetch",
				Name:      "targets_total",
				Help:      "Planned prefetch months by result",
			},
			[]string{LabelResult},
		),

		eventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Notifications dropped because a subscriber buffer was full",
			},
		),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "API requests by route, method and status code",
			},
			[]string{LabelPath, LabelMethod, LabelCode},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "http",
				Name:      "duration_seconds",
				Help:      "API request duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{LabelPath, LabelMethod},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.lookups,
			m.evictions,
			m.evictionDistance,
			m.cacheSize,
			m.computations,
			m.computationDuration,
			m.queueDepth,
			m.viewportChanges,
			m.prefetch,
			m.eventsDropped,
			m.httpRequests,
			m.httpDuration,
		)
		m.registered = true
	}

	return m
}

// ============================================================================
// Cache Metrics
// ============================================================================

// ObserveLookup records a cache lookup.
func (m *Metrics) ObserveLookup(hit bool) {
	if m == nil {
		return
	}
	result := ResultMiss
	if hit {
		result = ResultHit
	}
	m.lookups.WithLabelValues(result).Inc()
}

// RecordEviction records one capacity eviction.
func (m *Metrics) RecordEviction(distance int) {
	if m == nil {
		return
	}
	m.evictions.Inc()
	m.evictionDistance.Observe(float64(distance))
}

// RecordSize sets the number of resident months.
func (m *Metrics) RecordSize(size int) {
	if m == nil {
		return
	}
	m.cacheSize.Set(float64(size))
}

// ============================================================================
// Dispatcher Metrics
// ============================================================================

// ObserveComputation records a finished task. Tasks that never ran only
// increment the counter.
func (m *Metrics) ObserveComputation(outcome compute.Outcome, duration time.Duration) {
	if m == nil {
		return
	}
	m.computations.WithLabelValues(string(outcome)).Inc()
	if duration > 0 {
		m.computationDuration.WithLabelValues(string(outcome)).Observe(duration.Seconds())
	}
}

// RecordQueueDepth sets the number of queued tasks.
func (m *Metrics) RecordQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// ============================================================================
// Viewport and Event Metrics
// ============================================================================

// RecordViewportChange counts a viewport notification.
func (m *Metrics) RecordViewportChange(direction string) {
	if m == nil {
		return
	}
	m.viewportChanges.WithLabelValues(direction).Inc()
}

// RecordPrefetch records the outcome of one prefetch plan.
func (m *Metrics) RecordPrefetch(issued, skipped, limited int) {
	if m == nil {
		return
	}
	m.prefetch.WithLabelValues(ResultIssued).Add(float64(issued))
	m.prefetch.WithLabelValues(ResultSkipped).Add(float64(skipped))
	m.prefetch.WithLabelValues(ResultLimited).Add(float64(limited))
}

// RecordEventDropped counts a notification lost to a slow subscriber.
func (m *Metrics) RecordEventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

// ============================================================================
// HTTP Metrics
// ============================================================================

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so server-sent events keep streaming.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware records request count and duration. route maps a request to a
// low-cardinality label (e.g. the chi route pattern); it runs after the
// handler.
func (m *Metrics) Middleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			path := route(r)
			m.httpRequests.WithLabelValues(path, r.Method, strconv.Itoa(rec.status)).Inc()
			m.httpDuration.WithLabelValues(path, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}

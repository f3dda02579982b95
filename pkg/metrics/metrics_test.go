package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/calcache/pkg/cache"
	"github.com/marmos91/calcache/pkg/compute"
)

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NotNil(t, m)
	assert.True(t, m.registered)

	m.ObserveLookup(true)
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewMetrics_NilRegistry(t *testing.T) {
	m := NewMetrics(nil)
	assert.False(t, m.registered)
	assert.NotPanics(t, func() { m.ObserveLookup(false) })
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveLookup(true)
		m.RecordEviction(3)
		m.RecordSize(4)
		m.ObserveComputation(compute.OutcomeSuccess, time.Millisecond)
		m.RecordQueueDepth(2)
		m.RecordViewportChange("forward")
		m.RecordPrefetch(1, 2, 3)
		m.RecordEventDropped()
	})

	h := m.Middleware(func(*http.Request) string { return "/" })(http.NotFoundHandler())
	assert.NotNil(t, h)
}

func TestMetrics_Cache(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveLookup(true)
	m.ObserveLookup(true)
	m.ObserveLookup(false)
	m.RecordEviction(2)
	m.RecordSize(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.lookups.WithLabelValues(ResultHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lookups.WithLabelValues(ResultMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evictions))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.cacheSize))
	assert.Equal(t, 1, testutil.CollectAndCount(m.evictionDistance))
}

func TestMetrics_Dispatcher(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveComputation(compute.OutcomeSuccess, 10*time.Millisecond)
	m.ObserveComputation(compute.OutcomeTimeout, time.Second)
	m.ObserveComputation(compute.OutcomeCancelled, 0)
	m.RecordQueueDepth(5)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.computations.WithLabelValues(string(compute.OutcomeSuccess))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.computations.WithLabelValues(string(compute.OutcomeCancelled))))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, 2, testutil.CollectAndCount(m.computationDuration), "tasks that never ran have no duration")
}

func TestMetrics_ViewportAndEvents(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordViewportChange("forward")
	m.RecordViewportChange("forward")
	m.RecordPrefetch(3, 1, 2)
	m.RecordEventDropped()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.viewportChanges.WithLabelValues("forward")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.prefetch.WithLabelValues(ResultIssued)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.prefetch.WithLabelValues(ResultSkipped)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.prefetch.WithLabelValues(ResultLimited)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsDropped))
}

func TestMetrics_Middleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	h := m.Middleware(func(*http.Request) string { return "/api/v1/months/{month}" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
	)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/months/2025-03", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/api/v1/months/{month}", http.MethodGet, "418")))
}

type staticSource struct {
	stats    cache.Statistics
	dispatch compute.Stats
}

func (s staticSource) StatisticsSnapshot() cache.Statistics { return s.stats }
func (s staticSource) DispatcherStats() compute.Stats       { return s.dispatch }

func TestStatsCollector(t *testing.T) {
	src := staticSource{
		stats:    cache.Statistics{Hits: 3, Misses: 1, InFlightCoalesced: 2, CurrentSize: 4, MaxSize: 24},
		dispatch: compute.Stats{Started: 5, Executing: 1, Abandoned: 1},
	}
	c := NewStatsCollector(src)

	expected := `
# HELP calcache_engine_hit_ratio Cache hit ratio since start
# TYPE calcache_engine_hit_ratio gauge
calcache_engine_hit_ratio 0.75
# HELP calcache_engine_max_months Configured cache capacity in months
# TYPE calcache_engine_max_months gauge
calcache_engine_max_months 24
# HELP calcache_engine_abandoned Timed-out computations still holding a worker
# TYPE calcache_engine_abandoned gauge
calcache_engine_abandoned 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"calcache_engine_hit_ratio", "calcache_engine_max_months", "calcache_engine_abandoned"))
	assert.Equal(t, 8, testutil.CollectAndCount(c))
}

func TestServer_Handler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RecordSize(3)

	srv := NewServer(Config{Enabled: true}, reg)
	assert.Equal(t, DefaultPort, srv.Port())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "calcache_cache_months 3")
}

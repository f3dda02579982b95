package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/calcache/pkg/api/handlers"
	"github.com/marmos91/calcache/pkg/api/middleware"
	"github.com/marmos91/calcache/pkg/calendar"
	"github.com/marmos91/calcache/pkg/compute"
	"github.com/marmos91/calcache/pkg/manager"
	"github.com/marmos91/calcache/pkg/metrics"
	"github.com/marmos91/calcache/pkg/schedule"
)

// ============================================================================
// Test Helpers
// ============================================================================

var march = calendar.NewMonthKey(2025, time.March)

func newEngine(t *testing.T, fn compute.ComputeFunc) *manager.Manager {
	t.Helper()

	m, err := manager.New(fn, manager.DefaultConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	t.Cleanup(func() {
		_ = m.Shutdown(time.Second)
		cancel()
	})
	return m
}

func rosterCompute() compute.ComputeFunc {
	return schedule.NewStaticSource(schedule.Default(), 0).Compute
}

// blockingCompute holds every computation until release is closed.
func blockingCompute(release <-chan struct{}) compute.ComputeFunc {
	roster := rosterCompute()
	return func(ctx context.Context, key calendar.MonthKey) ([]calendar.DayData, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return roster(ctx, key)
	}
}

func newTestRouter(t *testing.T, engine handlers.Engine, reg *prometheus.Registry) http.Handler {
	t.Helper()
	var m *metrics.Metrics
	if reg != nil {
		m = metrics.NewMetrics(reg)
	}
	return NewRouter(engine, APIConfig{}, m)
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), "body: %s", w.Body.String())
	return v
}

// ============================================================================
// Health
// ============================================================================

func TestRouter_Health(t *testing.T) {
	engine := newEngine(t, rosterCompute())
	router := newTestRouter(t, engine, nil)

	w := do(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[handlers.Response](t, w)
	assert.Equal(t, "healthy", resp.Status)
	data := resp.Data.(map[string]any)
	assert.EqualValues(t, engine.Config().Cache.MaxSize, data["max_size"])

	require.NoError(t, engine.Shutdown(time.Second))

	w = do(t, router, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRouter_RootRedirectsToHealth(t *testing.T) {
	router := newTestRouter(t, newEngine(t, rosterCompute()), nil)

	w := do(t, router, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
	assert.Equal(t, "/health", w.Header().Get("Location"))
}

// ============================================================================
// Months
// ============================================================================

func TestRouter_GetMonthWithWait(t *testing.T) {
	router := newTestRouter(t, newEngine(t, rosterCompute()), nil)

	w := do(t, router, http.MethodGet, "/api/v1/months/2025-03?wait=2s", "")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[handlers.MonthResponse](t, w)
	assert.Equal(t, "2025-03", resp.Month)
	assert.Equal(t, calendar.StateLoaded, resp.State)
	assert.Equal(t, 31, resp.DayCount)
	assert.Len(t, resp.Days, 31)
	assert.NotNil(t, resp.LastAccess)
}

func TestRouter_GetMonthWhileLoading(t *testing.T) {
	release := make(chan struct{})
	engine := newEngine(t, blockingCompute(release))
	router := newTestRouter(t, engine, nil)

	w := do(t, router, http.MethodGet, "/api/v1/months/2025-03", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	resp := decode[handlers.MonthResponse](t, w)
	assert.Equal(t, calendar.StateLoading, resp.State)
	assert.Empty(t, resp.Days)

	// A short wait that expires still answers with the snapshot.
	w = do(t, router, http.MethodGet, "/api/v1/months/2025-03?wait=10ms", "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	close(release)

	w = do(t, router, http.MethodGet, "/api/v1/months/2025-03?wait=2s", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode[handlers.MonthResponse](t, w)
	assert.Equal(t, calendar.StateLoaded, resp.State)
}

func TestRouter_GetMonthRejectsBadInput(t *testing.T) {
	router := newTestRouter(t, newEngine(t, rosterCompute()), nil)

	tests := []struct {
		name   string
		target string
	}{
		{"malformed month", "/api/v1/months/2025-3x"},
		{"month out of range", "/api/v1/months/2025-13"},
		{"bad wait", "/api/v1/months/2025-03?wait=soon"},
		{"negative wait", "/api/v1/months/2025-03?wait=-1s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodGet, tt.target, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, handlers.ContentTypeProblemJSON, w.Header().Get("Content-Type"))
		})
	}
}

func TestRouter_ComputationFailureIsReported(t *testing.T) {
	failing := func(context.Context, calendar.MonthKey) ([]calendar.DayData, error) {
		return nil, assert.AnError
	}
	router := newTestRouter(t, newEngine(t, failing), nil)

	w := do(t, router, http.MethodGet, "/api/v1/months/2025-03?wait=2s", "")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[handlers.MonthResponse](t, w)
	assert.Equal(t, calendar.StateError, resp.State)
	assert.Contains(t, resp.Error, assert.AnError.Error())
}

func TestRouter_ListAndInvalidate(t *testing.T) {
	engine := newEngine(t, rosterCompute())
	router := newTestRouter(t, engine, nil)

	for _, m := range []string{"2025-04", "2025-02"} {
		w := do(t, router, http.MethodGet, "/api/v1/months/"+m+"?wait=2s", "")
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := do(t, router, http.MethodGet, "/api/v1/months", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]handlers.MonthResponse](t, w)
	require.Len(t, list, 2)
	assert.Equal(t, "2025-02", list[0].Month)
	assert.Equal(t, "2025-04", list[1].Month)
	assert.Empty(t, list[0].Days, "list omits day payloads")

	w = do(t, router, http.MethodDelete, "/api/v1/months/2025-02", "")
	require.Equal(t, http.StatusOK, w.Code)
	inv := decode[handlers.InvalidateResponse](t, w)
	assert.Equal(t, calendar.StateStale, inv.State)

	w = do(t, router, http.MethodDelete, "/api/v1/months", "")
	require.Equal(t, http.StatusOK, w.Code)
	all := decode[handlers.InvalidateAllResponse](t, w)
	require.Len(t, all.Changed, 2)
	assert.Equal(t, "2025-02", all.Changed[0].Month)
	assert.Equal(t, "2025-04", all.Changed[1].Month)
	for _, c := range all.Changed {
		assert.Equal(t, calendar.StateStale, c.State)
	}
}

// ============================================================================
// Viewport and Stats
// ============================================================================

func TestRouter_Viewport(t *testing.T) {
	engine := newEngine(t, rosterCompute())
	router := newTestRouter(t, engine, nil)

	w := do(t, router, http.MethodGet, "/api/v1/viewport", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/viewport",
		`{"center":"2025-03","direction":"forward","velocity":3}`)
	require.Equal(t, http.StatusOK, w.Code)

	plan := decode[handlers.PlanResponse](t, w)
	assert.Equal(t, "2025-03", plan.Center)
	assert.Equal(t, 3, plan.Depth)
	require.Len(t, plan.Prefetch, 3)
	assert.Equal(t, "2025-04", plan.Prefetch[0].Month)
	assert.Equal(t, 1, plan.Prefetch[0].Priority)
	assert.Equal(t, "2025-06", plan.Prefetch[2].Month)

	w = do(t, router, http.MethodGet, "/api/v1/viewport", "")
	require.Equal(t, http.StatusOK, w.Code)
	vp := decode[calendar.ViewportState](t, w)
	assert.Equal(t, march, vp.Center)
	assert.Equal(t, calendar.DirectionForward, vp.Direction)
}

func TestRouter_ViewportRejectsBadBody(t *testing.T) {
	router := newTestRouter(t, newEngine(t, rosterCompute()), nil)

	for _, body := range []string{
		`{"direction":"forward"}`,
		`{"center":"2025-03","direction":"sideways"}`,
		`not json`,
	} {
		w := do(t, router, http.MethodPost, "/api/v1/viewport", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestRouter_Stats(t *testing.T) {
	engine := newEngine(t, rosterCompute())
	router := newTestRouter(t, engine, nil)

	do(t, router, http.MethodGet, "/api/v1/months/2025-03?wait=2s", "")
	do(t, router, http.MethodGet, "/api/v1/months/2025-03", "")

	w := do(t, router, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	stats := decode[handlers.StatsResponse](t, w)
	assert.Equal(t, 1, stats.Cache.CurrentSize)
	assert.Equal(t, engine.Config().Cache.MaxSize, stats.Cache.MaxSize)
	assert.EqualValues(t, 1, stats.Cache.Hits)
	assert.EqualValues(t, 1, stats.Cache.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
	assert.EqualValues(t, 1, stats.Dispatcher.Succeeded)
	assert.Nil(t, stats.Viewport)
}

// ============================================================================
// Middleware
// ============================================================================

func TestRouter_RequestID(t *testing.T) {
	router := newTestRouter(t, newEngine(t, rosterCompute()), nil)

	w := do(t, router, http.MethodGet, "/health", "")
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(middleware.RequestIDHeader, "trace-me")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "trace-me", w.Header().Get(middleware.RequestIDHeader))
}

func TestRouter_UnknownRoutesAreProblems(t *testing.T) {
	router := newTestRouter(t, newEngine(t, rosterCompute()), nil)

	w := do(t, router, http.MethodGet, "/api/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, handlers.ContentTypeProblemJSON, w.Header().Get("Content-Type"))

	w = do(t, router, http.MethodPut, "/api/v1/stats", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, handlers.ContentTypeProblemJSON, w.Header().Get("Content-Type"))
}

func TestRouter_RecordsRouteMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	router := newTestRouter(t, newEngine(t, rosterCompute()), reg)

	do(t, router, http.MethodGet, "/api/v1/months/2025-03", "")
	do(t, router, http.MethodGet, "/api/v1/months/2025-04", "")

	families, err := reg.Gather()
	require.NoError(t, err)

	var count float64
	for _, mf := range families {
		if mf.GetName() != "calcache_http_requests_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == metrics.LabelPath && label.GetValue() == "/api/v1/months/{month}" {
					count += metric.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, 2.0, count)
}

// ============================================================================
// Event Stream
// ============================================================================

func TestRouter_EventStream(t *testing.T) {
	engine := newEngine(t, rosterCompute())
	srv := httptest.NewServer(newTestRouter(t, engine, nil))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events?months=2025-03&states=Loaded", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "retry: 3000\n", line)

	// The subscription is registered before the preamble is flushed.
	engine.GetMonthAsync(ctx, calendar.NewMonthKey(2025, time.January))
	engine.GetMonthAsync(ctx, march)

	var event, data string
	for data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}

	assert.Equal(t, "month", event)
	var msg handlers.EventMessage
	require.NoError(t, json.Unmarshal([]byte(data), &msg))
	assert.Equal(t, "2025-03", msg.Month)
	assert.Equal(t, calendar.StateLoaded, msg.State)
	assert.Len(t, msg.Days, 31)
}

func TestRouter_EventStreamRejectsBadFilters(t *testing.T) {
	router := newTestRouter(t, newEngine(t, rosterCompute()), nil)

	for _, target := range []string{
		"/api/v1/events?months=2025-99",
		"/api/v1/events?from=2025-01",
		"/api/v1/events?states=Sideways",
	} {
		w := do(t, router, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}
}

func TestRouter_EventStreamAfterShutdown(t *testing.T) {
	engine := newEngine(t, rosterCompute())
	router := newTestRouter(t, engine, nil)
	require.NoError(t, engine.Shutdown(time.Second))

	w := do(t, router, http.MethodGet, "/api/v1/events", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

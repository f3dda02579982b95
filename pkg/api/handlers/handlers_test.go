package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/calcache/pkg/calendar"
)

func TestLiveness_ReturnsOK(t *testing.T) {
	handler := NewHealthHandler(nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	handler.Liveness(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok, "expected Data to be a map, got %T", resp.Data)
	assert.Equal(t, "calcache", data["service"])
	assert.NotEmpty(t, data["uptime"])
}

func TestReadiness_NilEngine(t *testing.T) {
	handler := NewHealthHandler(nil)
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w := httptest.NewRecorder()

	handler.Readiness(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "engine not initialized", resp.Error)
}

func TestWriteProblem(t *testing.T) {
	w := httptest.NewRecorder()
	BadRequest(w, "center is required")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, ContentTypeProblemJSON, w.Header().Get("Content-Type"))

	var p Problem
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	assert.Equal(t, "about:blank", p.Type)
	assert.Equal(t, "Bad Request", p.Title)
	assert.Equal(t, http.StatusBadRequest, p.Status)
	assert.Equal(t, "center is required", p.Detail)
}

func TestParseMonthList(t *testing.T) {
	keys, err := parseMonthList("2025-01, 2025-03,,")
	require.NoError(t, err)
	assert.Equal(t, []calendar.MonthKey{
		calendar.NewMonthKey(2025, 1),
		calendar.NewMonthKey(2025, 3),
	}, keys)

	_, err = parseMonthList("2025-01,2025-13")
	assert.Error(t, err)
}

func TestParseStateList(t *testing.T) {
	states, err := parseStateList("Loaded,Error")
	require.NoError(t, err)
	assert.Equal(t, []calendar.DataState{calendar.StateLoaded, calendar.StateError}, states)

	_, err = parseStateList("Loaded,Bogus")
	assert.Error(t, err)
}

func TestDecodeJSONBody(t *testing.T) {
	t.Run("accepts known fields", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"center":"2025-03","direction":"forward","velocity":2}`))
		w := httptest.NewRecorder()

		var vp calendar.ViewportState
		require.True(t, decodeJSONBody(w, req, &vp))
		assert.Equal(t, calendar.NewMonthKey(2025, 3), vp.Center)
		assert.Equal(t, calendar.DirectionForward, vp.Direction)
		assert.Equal(t, 2, vp.Velocity)
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"center":"2025-03","zoom":2}`))
		w := httptest.NewRecorder()

		var vp calendar.ViewportState
		assert.False(t, decodeJSONBody(w, req, &vp))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects malformed month", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"center":"March"}`))
		w := httptest.NewRecorder()

		var vp calendar.ViewportState
		assert.False(t, decodeJSONBody(w, req, &vp))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

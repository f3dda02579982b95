package handlers

import (
	"net/http"
	"time"
)

// HealthHandler handles health check endpoints.
//
// Health endpoints provide:
//   - Liveness probe: Is the server process running?
//   - Readiness probe: Is the calendar engine accepting requests?
type HealthHandler struct {
	engine  Engine
	started time.Time
}

// NewHealthHandler creates a new health handler.
//
// The engine parameter may be nil, in which case the readiness check
// returns unhealthy status.
func NewHealthHandler(engine Engine) *HealthHandler {
	return &HealthHandler{engine: engine, started: time.Now()}
}

// Liveness handles GET /health - simple liveness probe.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, healthyResponse(map[string]any{
		"service": "calcache",
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	}))
}

// Readiness handles GET /health/ready - readiness probe.
//
// Returns 503 Service Unavailable when the engine is missing or shut down.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		WriteJSON(w, http.StatusServiceUnavailable, unhealthyResponse("engine not initialized"))
		return
	}
	if h.engine.Closed() {
		WriteJSON(w, http.StatusServiceUnavailable, unhealthyResponse("engine is shutting down"))
		return
	}

	stats := h.engine.StatisticsSnapshot()
	dispatch := h.engine.DispatcherStats()
	WriteJSONOK(w, healthyResponse(map[string]any{
		"months":    stats.CurrentSize,
		"max_size":  stats.MaxSize,
		"pending":   dispatch.Pending,
		"executing": dispatch.Executing,
		"abandoned": dispatch.Abandoned,
	}))
}

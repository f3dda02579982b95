package handlers

import "net/http"

// StatsHandler serves engine statistics.
type StatsHandler struct {
	engine Engine
}

// NewStatsHandler creates a stats handler.
func NewStatsHandler(engine Engine) *StatsHandler {
	return &StatsHandler{engine: engine}
}

// Get handles GET /api/v1/stats.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	stats := h.engine.StatisticsSnapshot()
	resp := StatsResponse{
		Cache:         stats,
		HitRate:       stats.HitRate(),
		Dispatcher:    h.engine.DispatcherStats(),
		EventsDropped: h.engine.EventsDropped(),
	}
	if vp, ok := h.engine.Viewport(); ok {
		resp.Viewport = &vp
	}
	WriteJSONOK(w, resp)
}

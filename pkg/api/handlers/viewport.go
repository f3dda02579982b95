package handlers

import (
	"net/http"

	"github.com/marmos91/calcache/pkg/calendar"
)

// ViewportHandler forwards UI scroll notifications to the engine.
type ViewportHandler struct {
	engine Engine
}

// NewViewportHandler creates a viewport handler.
func NewViewportHandler(engine Engine) *ViewportHandler {
	return &ViewportHandler{engine: engine}
}

// Update handles POST /api/v1/viewport.
//
// Body: {"center":"2025-03","direction":"forward","velocity":3}
// Returns the prefetch plan that was scheduled.
func (h *ViewportHandler) Update(w http.ResponseWriter, r *http.Request) {
	var vp calendar.ViewportState
	if !decodeJSONBody(w, r, &vp) {
		return
	}
	if !vp.Center.Valid() {
		BadRequest(w, "center is required (YYYY-MM)")
		return
	}
	if h.engine.Closed() {
		ServiceUnavailable(w, "Calendar engine is shutting down")
		return
	}

	plan := h.engine.OnViewportChanged(r.Context(), vp)
	WriteJSONOK(w, newPlanResponse(plan))
}

// Get handles GET /api/v1/viewport - the last reported viewport.
func (h *ViewportHandler) Get(w http.ResponseWriter, r *http.Request) {
	vp, ok := h.engine.Viewport()
	if !ok {
		NotFound(w, "No viewport has been reported yet")
		return
	}
	WriteJSONOK(w, vp)
}

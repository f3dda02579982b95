package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/marmos91/calcache/pkg/calendar"
)

// MonthHandler serves month snapshots and invalidation.
type MonthHandler struct {
	engine  Engine
	maxWait time.Duration
}

// NewMonthHandler creates a month handler. maxWait caps the ?wait parameter.
func NewMonthHandler(engine Engine, maxWait time.Duration) *MonthHandler {
	return &MonthHandler{engine: engine, maxWait: maxWait}
}

// List handles GET /api/v1/months - resident months without their days,
// in calendar order.
func (h *MonthHandler) List(w http.ResponseWriter, r *http.Request) {
	entries := h.engine.Entries()
	resp := make([]MonthResponse, 0, len(entries))
	for _, block := range entries {
		resp = append(resp, newMonthResponse(block, false))
	}
	WriteJSONOK(w, resp)
}

// Get handles GET /api/v1/months/{month}.
//
// The request is a demand lookup: a missing, failed or stale month is
// scheduled for computation. Without ?wait the current snapshot is
// returned at once (202 Accepted while Loading). With ?wait=<duration>
// the handler waits up to that long (capped) for the computation.
func (h *MonthHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, ok := monthParam(w, r)
	if !ok {
		return
	}

	var wait time.Duration
	if v := r.URL.Query().Get("wait"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			BadRequest(w, "wait must be a non-negative duration such as 500ms or 2s")
			return
		}
		wait = min(d, h.maxWait)
	}

	ctx := r.Context()
	future := h.engine.GetMonthAsync(ctx, key)

	if wait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, wait)
		block, err := future.Wait(waitCtx)
		cancel()
		switch {
		case err == nil, errors.Is(err, calendar.ErrComputationFailed):
			WriteJSONOK(w, newMonthResponse(block, true))
			return
		case engineUnavailable(w, err):
			return
		case errors.Is(err, calendar.ErrCancelled), errors.Is(err, context.DeadlineExceeded):
			// Fall through to the snapshot below.
		case errors.Is(err, context.Canceled):
			return
		default:
			InternalServerError(w, err.Error())
			return
		}
	} else if block, ok := future.Result(); ok {
		err := future.Err()
		if engineUnavailable(w, err) {
			return
		}
		if err == nil || errors.Is(err, calendar.ErrComputationFailed) {
			WriteJSONOK(w, newMonthResponse(block, true))
			return
		}
	}

	block, ok := h.engine.Peek(key)
	if !ok {
		block = calendar.MonthBlock{Key: key, State: calendar.StateNotRequested}
	}
	status := http.StatusOK
	if block.State == calendar.StateLoading {
		status = http.StatusAccepted
	}
	WriteJSON(w, status, newMonthResponse(block, true))
}

// Invalidate handles DELETE /api/v1/months/{month}.
func (h *MonthHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	key, ok := monthParam(w, r)
	if !ok {
		return
	}
	state := h.engine.Invalidate(r.Context(), key)
	WriteJSONOK(w, InvalidateResponse{Month: key.String(), State: state})
}

// InvalidateAll handles DELETE /api/v1/months.
func (h *MonthHandler) InvalidateAll(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, newInvalidateAllResponse(h.engine.InvalidateAll(r.Context())))
}

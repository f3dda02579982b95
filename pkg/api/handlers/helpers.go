package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/marmos91/calcache/pkg/cache"
	"github.com/marmos91/calcache/pkg/calendar"
	"github.com/marmos91/calcache/pkg/compute"
	"github.com/marmos91/calcache/pkg/events"
	"github.com/marmos91/calcache/pkg/prefetch"
)

// Engine is the calendar engine surface used by the API.
// *manager.Manager implements it.
type Engine interface {
	GetMonthAsync(ctx context.Context, key calendar.MonthKey) *compute.Future
	Peek(key calendar.MonthKey) (calendar.MonthBlock, bool)
	Entries() []calendar.MonthBlock
	Invalidate(ctx context.Context, key calendar.MonthKey) calendar.DataState
	InvalidateAll(ctx context.Context) []cache.Change
	OnViewportChanged(ctx context.Context, vp calendar.ViewportState) prefetch.Plan
	Viewport() (calendar.ViewportState, bool)
	StatisticsSnapshot() cache.Statistics
	DispatcherStats() compute.Stats
	EventsDropped() uint64
	Subscribe(opts ...events.SubscribeOption) (*events.Subscription, error)
	Unsubscribe(id uuid.UUID) bool
	Closed() bool
}

// maxBodyBytes bounds request bodies; the largest is a viewport.
const maxBodyBytes = 4 << 10

// decodeJSONBody decodes a JSON request body into the provided pointer.
// Returns true if successful, false if decoding fails (error response is written automatically).
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		BadRequest(w, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// monthParam parses the {month} URL parameter.
// Returns false if it is malformed (error response is written automatically).
func monthParam(w http.ResponseWriter, r *http.Request) (calendar.MonthKey, bool) {
	key, err := calendar.ParseMonthKey(chi.URLParam(r, "month"))
	if err != nil {
		BadRequest(w, err.Error())
		return calendar.MonthKey{}, false
	}
	return key, true
}

// parseMonthList parses a comma separated list of YYYY-MM keys.
func parseMonthList(s string) ([]calendar.MonthKey, error) {
	var keys []calendar.MonthKey
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, err := calendar.ParseMonthKey(part)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// parseStateList parses a comma separated list of data state names.
func parseStateList(s string) ([]calendar.DataState, error) {
	var states []calendar.DataState
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		state, err := calendar.ParseDataState(part)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}

// engineUnavailable writes 503 when err means the engine is shutting down.
func engineUnavailable(w http.ResponseWriter, err error) bool {
	if errors.Is(err, calendar.ErrClosed) {
		ServiceUnavailable(w, "Calendar engine is shutting down")
		return true
	}
	return false
}

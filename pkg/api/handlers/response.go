package handlers

import (
	"time"

	"github.com/marmos91/calcache/pkg/cache"
	"github.com/marmos91/calcache/pkg/calendar"
	"github.com/marmos91/calcache/pkg/compute"
	"github.com/marmos91/calcache/pkg/events"
	"github.com/marmos91/calcache/pkg/prefetch"
)

// Response is the envelope of health responses.
type Response struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func healthyResponse(data any) Response {
	return Response{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

func unhealthyResponse(errMsg string) Response {
	return Response{
		Status:    "unhealthy",
		Timestamp: time.Now().UTC(),
		Error:     errMsg,
	}
}

// MonthResponse is the snapshot of one cached month.
type MonthResponse struct {
	Month        string             `json:"month"`
	State        calendar.DataState `json:"state"`
	DayCount     int                `json:"day_count"`
	Days         []calendar.DayData `json:"days,omitempty"`
	Error        string             `json:"error,omitempty"`
	LastAccess   *time.Time         `json:"last_access,omitempty"`
	DistanceHint int                `json:"distance_hint"`
}

func newMonthResponse(block calendar.MonthBlock, withDays bool) MonthResponse {
	resp := MonthResponse{
		Month:        block.Key.String(),
		State:        block.State,
		DayCount:     len(block.Days),
		Error:        block.ErrorInfo(),
		DistanceHint: block.DistanceHint,
	}
	if withDays {
		resp.Days = block.Days
	}
	if !block.LastAccess.IsZero() {
		t := block.LastAccess.UTC()
		resp.LastAccess = &t
	}
	return resp
}

// InvalidateResponse reports the state of a month after invalidation.
type InvalidateResponse struct {
	Month string             `json:"month"`
	State calendar.DataState `json:"state"`
}

// InvalidateAllResponse lists the months whose state changed.
type InvalidateAllResponse struct {
	Changed []InvalidateResponse `json:"changed"`
}

func newInvalidateAllResponse(changes []cache.Change) InvalidateAllResponse {
	resp := InvalidateAllResponse{Changed: make([]InvalidateResponse, 0, len(changes))}
	for _, c := range changes {
		resp.Changed = append(resp.Changed, InvalidateResponse{Month: c.Key.String(), State: c.State})
	}
	return resp
}

// TargetResponse is one planned prefetch.
type TargetResponse struct {
	Month    string `json:"month"`
	Priority int    `json:"priority"`
}

// PlanResponse is the result of a viewport change.
type PlanResponse struct {
	Center   string           `json:"center"`
	Depth    int              `json:"depth"`
	Prefetch []TargetResponse `json:"prefetch"`
	Skipped  []string         `json:"skipped"`
}

func newPlanResponse(plan prefetch.Plan) PlanResponse {
	resp := PlanResponse{
		Center:   plan.Center.String(),
		Depth:    plan.Depth,
		Prefetch: make([]TargetResponse, 0, len(plan.Prefetch)),
		Skipped:  make([]string, 0, len(plan.Skipped)),
	}
	for _, t := range plan.Prefetch {
		resp.Prefetch = append(resp.Prefetch, TargetResponse{Month: t.Key.String(), Priority: t.Priority})
	}
	for _, k := range plan.Skipped {
		resp.Skipped = append(resp.Skipped, k.String())
	}
	return resp
}

// StatsResponse is the engine statistics snapshot.
type StatsResponse struct {
	Cache         cache.Statistics        `json:"cache"`
	HitRate       float64                 `json:"hit_rate"`
	Dispatcher    compute.Stats           `json:"dispatcher"`
	EventsDropped uint64                  `json:"events_dropped"`
	Viewport      *calendar.ViewportState `json:"viewport,omitempty"`
}

// EventMessage is the JSON payload of one server-sent event.
type EventMessage struct {
	Month    string             `json:"month"`
	State    calendar.DataState `json:"state"`
	Days     []calendar.DayData `json:"days,omitempty"`
	Progress int                `json:"progress"`
	Error    string             `json:"error,omitempty"`
	Time     time.Time          `json:"time"`
}

func newEventMessage(ev events.Event) EventMessage {
	return EventMessage{
		Month:    ev.Key.String(),
		State:    ev.State,
		Days:     ev.Days,
		Progress: ev.Progress,
		Error:    ev.ErrorInfo(),
		Time:     ev.Time.UTC(),
	}
}

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/marmos91/calcache/internal/logger"
	"github.com/marmos91/calcache/pkg/events"
)

// DefaultKeepalive is the comment ping period when none is configured.
const DefaultKeepalive = 15 * time.Second

// EventsHandler streams engine notifications as Server-Sent Events.
//
// Message format:
//
//	id: 7
//	event: month
//	data: {"month":"2025-03","state":"Loaded","days":[...],"progress":-1,"time":"..."}
//
// Keep-alive comments (":\n\n") are sent every keepalive interval.
type EventsHandler struct {
	engine    Engine
	keepalive time.Duration
	buffer    int
}

// NewEventsHandler creates an SSE handler. buffer overrides the engine's
// default subscription capacity when positive.
func NewEventsHandler(engine Engine, keepalive time.Duration, buffer int) *EventsHandler {
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	return &EventsHandler{engine: engine, keepalive: keepalive, buffer: buffer}
}

// Stream handles GET /api/v1/events.
//
// Optional filters:
//   - months=2025-01,2025-02  only these months
//   - from=2025-01&to=2025-06 an inclusive range
//   - states=Loaded,Error     only these states
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	opts, ok := h.subscribeOptions(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		InternalServerError(w, "Streaming not supported")
		return
	}

	sub, err := h.engine.Subscribe(opts...)
	if err != nil {
		if !engineUnavailable(w, err) {
			InternalServerError(w, err.Error())
		}
		return
	}
	defer h.engine.Unsubscribe(sub.ID())

	ctx := r.Context()
	logger.InfoCtx(ctx, "Event stream connected",
		logger.KeySubscriber, sub.ID().String(),
		"remote_addr", r.RemoteAddr)
	start := time.Now()
	defer func() {
		logger.InfoCtx(ctx, "Event stream disconnected",
			logger.KeySubscriber, sub.ID().String(),
			logger.KeyDurationMs, time.Since(start).Milliseconds(),
			"dropped", sub.Dropped())
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Long-lived stream: lift the server's write deadline.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		logger.DebugCtx(ctx, "Could not clear write deadline", logger.KeyError, err)
	}

	if _, err := fmt.Fprintf(w, "retry: 3000\n\n"); err != nil {
		return
	}
	flusher.Flush()

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-sub.C():
			if !ok {
				// Engine shut down.
				_, _ = fmt.Fprint(w, "event: closed\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			data, err := json.Marshal(newEventMessage(ev))
			if err != nil {
				logger.WarnCtx(ctx, "Event marshal failed", logger.KeyMonth, ev.Key.String(), logger.KeyError, err)
				continue
			}
			seq++
			if _, err := fmt.Fprintf(w, "id: %d\nevent: month\ndata: %s\n\n", seq, data); err != nil {
				return
			}
			flusher.Flush()
			keepalive.Reset(h.keepalive)

		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ":\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) subscribeOptions(w http.ResponseWriter, r *http.Request) ([]events.SubscribeOption, bool) {
	q := r.URL.Query()
	var opts []events.SubscribeOption

	if h.buffer > 0 {
		opts = append(opts, events.WithBuffer(h.buffer))
	}

	if v := q.Get("months"); v != "" {
		keys, err := parseMonthList(v)
		if err != nil {
			BadRequest(w, "months: "+err.Error())
			return nil, false
		}
		opts = append(opts, events.WithKeys(keys...))
	}

	from, to := q.Get("from"), q.Get("to")
	if from != "" || to != "" {
		if from == "" || to == "" {
			BadRequest(w, "from and to must be given together")
			return nil, false
		}
		keys, err := parseMonthList(from + "," + to)
		if err != nil {
			BadRequest(w, "range: "+err.Error())
			return nil, false
		}
		opts = append(opts, events.WithRange(keys[0], keys[1]))
	}

	if v := q.Get("states"); v != "" {
		states, err := parseStateList(v)
		if err != nil {
			BadRequest(w, "states: "+err.Error())
			return nil, false
		}
		opts = append(opts, events.WithStates(states...))
	}

	return opts, true
}

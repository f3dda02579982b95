// Package events delivers month state changes to observers.
//
// A Bus fans every published Event out to its subscriptions. Each
// subscription owns a buffered channel; publishing never blocks, so a
// subscriber that falls behind loses events (counted per subscription)
// instead of stalling the compute workers.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/calcache/internal/logger"
	"github.com/marmos91/calcache/pkg/calendar"
)

// DefaultBufferSize is the channel capacity of a subscription.
const DefaultBufferSize = 64

// ProgressUnknown is the Progress of events that carry no progress report.
const ProgressUnknown = -1

// Event is a state change of one month.
type Event struct {
	Key   calendar.MonthKey  `json:"month"`
	State calendar.DataState `json:"state"`

	// Days is set for Loaded events and for Stale/Loading events that still
	// carry previous days.
	Days []calendar.DayData `json:"days,omitempty"`

	// Progress is the completion percent of a Loading month, or
	// ProgressUnknown.
	Progress int `json:"progress"`

	// Err is set for Error events.
	Err error `json:"-"`

	Time time.Time `json:"time"`
}

// NewEvent returns an event for block stamped with the current time.
func NewEvent(block calendar.MonthBlock) Event {
	return Event{
		Key:      block.Key,
		State:    block.State,
		Days:     block.Days,
		Progress: ProgressUnknown,
		Err:      block.Err,
		Time:     time.Now(),
	}
}

// ProgressEvent returns a Loading event carrying percent.
func ProgressEvent(key calendar.MonthKey, percent int) Event {
	return Event{
		Key:      key,
		State:    calendar.StateLoading,
		Progress: percent,
		Time:     time.Now(),
	}
}

// ErrorInfo returns the failure description, or "" if the event has no error.
func (e Event) ErrorInfo() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// Metrics receives bus observations.
type Metrics interface {
	RecordEventDropped()
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) BusOption {
	return func(b *Bus) { b.metrics = m }
}

// Bus is a non-blocking fan-out of events. It is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]*Subscription
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
	metrics   Metrics
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{subs: make(map[uuid.UUID]*Subscription)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new subscription. After Close it returns
// calendar.ErrClosed.
func (b *Bus) Subscribe(opts ...SubscribeOption) (*Subscription, error) {
	s := &Subscription{id: uuid.New(), buffer: DefaultBufferSize}
	for _, opt := range opts {
		opt(s)
	}
	s.ch = make(chan Event, s.buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, calendar.ErrClosed
	}
	b.subs[s.id] = s

	logger.Debug("Event subscription added",
		logger.KeySubscriber, s.id.String(),
		"buffer", s.buffer,
		"subscribers", len(b.subs))
	return s, nil
}

// Unsubscribe removes a subscription and closes its channel. It reports
// whether the subscription existed.
func (b *Bus) Unsubscribe(id uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.subs[id]
	if !ok {
		return false
	}
	delete(b.subs, id)
	close(s.ch)

	logger.Debug("Event subscription removed",
		logger.KeySubscriber, id.String(),
		"dropped", s.dropped.Load())
	return true
}

// Publish delivers ev to every matching subscription without blocking.
// Events are dropped for subscriptions whose buffer is full.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.published.Add(1)

	for _, s := range b.subs {
		if !s.matches(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
			if b.metrics != nil {
				b.metrics.RecordEventDropped()
			}
			logger.Debug("Event dropped, subscriber buffer full",
				logger.KeySubscriber, s.id.String(),
				logger.KeyMonth, ev.Key.String(),
				logger.KeyState, ev.State.String())
		}
	}
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Published returns the number of events published.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// Dropped returns the number of deliveries dropped across all subscriptions.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscription channel. Later publishes are ignored.
// Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}

package events

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/marmos91/calcache/pkg/calendar"
)

// Subscription receives the events that pass its filters.
type Subscription struct {
	id      uuid.UUID
	ch      chan Event
	buffer  int
	filters []func(Event) bool
	dropped atomic.Uint64
}

// ID returns the subscription identifier used by Unsubscribe.
func (s *Subscription) ID() uuid.UUID {
	return s.id
}

// C returns the event channel. It is closed on Unsubscribe or Bus.Close.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Dropped returns how many events this subscription lost to a full buffer.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription) matches(ev Event) bool {
	for _, f := range s.filters {
		if !f(ev) {
			return false
		}
	}
	return true
}

// SubscribeOption configures a Subscription. Filters combine with AND.
type SubscribeOption func(*Subscription)

// WithBuffer sets the channel capacity. Values below 1 are ignored.
func WithBuffer(n int) SubscribeOption {
	return func(s *Subscription) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// WithFilter delivers only events for which keep returns true.
func WithFilter(keep func(Event) bool) SubscribeOption {
	return func(s *Subscription) { s.filters = append(s.filters, keep) }
}

// WithKeys delivers only events for the given months.
func WithKeys(keys ...calendar.MonthKey) SubscribeOption {
	set := make(map[calendar.MonthKey]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return WithFilter(func(ev Event) bool {
		_, ok := set[ev.Key]
		return ok
	})
}

// WithRange delivers only events for months in [from, to].
func WithRange(from, to calendar.MonthKey) SubscribeOption {
	if to.Before(from) {
		from, to = to, from
	}
	return WithFilter(func(ev Event) bool {
		return !ev.Key.Before(from) && !to.Before(ev.Key)
	})
}

// WithStates delivers only events in the given states.
func WithStates(states ...calendar.DataState) SubscribeOption {
	return WithFilter(func(ev Event) bool {
		for _, st := range states {
			if ev.State == st {
				return true
			}
		}
		return false
	})
}

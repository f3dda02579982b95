// Package compute runs month computations on a bounded worker pool.
//
// The Dispatcher guarantees at most one in-flight computation per month:
// concurrent requests for the same month coalesce onto a single task and
// share its Future. Queued tasks are ordered by priority (distance from the
// viewport center), then demand before prefetch, then submission order.
//
// Workers only run after Start, so the queue can be populated and inspected
// deterministically in tests.
package compute

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/calcache/pkg/calendar"
)

// ComputeFunc produces the day data for one month.
//
// It must return exactly key.DaysIn() entries. The context is cancelled when
// the computation times out or the dispatcher shuts down, and carries a
// progress reporter reachable through ReportProgress.
type ComputeFunc func(ctx context.Context, key calendar.MonthKey) ([]calendar.DayData, error)

// ErrQueueFull is the cause recorded when a demand request is rejected
// because the task queue is at capacity.
var ErrQueueFull = errors.New("compute queue is full")

// Default tuning values.
const (
	DefaultWorkers   = 3
	DefaultQueueSize = 256
	DefaultTimeout   = 30 * time.Second
)

// Config holds the dispatcher tuning knobs.
type Config struct {
	// Workers is the number of concurrent computations.
	Workers int `mapstructure:"workers" yaml:"workers" validate:"gte=1,lte=64"`

	// QueueSize bounds the number of queued (not yet executing) tasks.
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size" validate:"gte=1"`

	// Timeout bounds a single computation. Zero disables the timeout.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		Workers:   DefaultWorkers,
		QueueSize: DefaultQueueSize,
		Timeout:   DefaultTimeout,
	}
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Timeout < 0 {
		c.Timeout = DefaultTimeout
	}
}

// ============================================================================
// Request Kind
// ============================================================================

// RequestKind distinguishes user-driven requests from speculative ones.
type RequestKind int

const (
	// KindDemand is a request for a month the UI is waiting on.
	KindDemand RequestKind = iota

	// KindPrefetch is a speculative request issued by the planner.
	KindPrefetch
)

// String returns the string representation of RequestKind.
func (k RequestKind) String() string {
	switch k {
	case KindDemand:
		return "demand"
	case KindPrefetch:
		return "prefetch"
	default:
		return "unknown"
	}
}

// ============================================================================
// Outcomes and Stats
// ============================================================================

// Outcome labels how a task ended. Used for metrics.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeError     Outcome = "error"
	OutcomePanic     Outcome = "panic"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeRejected  Outcome = "rejected"
	OutcomeClosed    Outcome = "closed"
)

// Metrics receives dispatcher observations. Implementations must be safe
// for concurrent use.
type Metrics interface {
	// ObserveComputation records a finished task and how long it ran.
	// Cancelled and rejected tasks report a zero duration.
	ObserveComputation(outcome Outcome, duration time.Duration)

	// RecordQueueDepth records the number of queued tasks.
	RecordQueueDepth(depth int)
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Started   uint64 `json:"started" yaml:"started"`
	Succeeded uint64 `json:"succeeded" yaml:"succeeded"`
	Failed    uint64 `json:"failed" yaml:"failed"`
	TimedOut  uint64 `json:"timed_out" yaml:"timed_out"`
	Cancelled uint64 `json:"cancelled" yaml:"cancelled"`
	Rejected  uint64 `json:"rejected" yaml:"rejected"`
	Coalesced uint64 `json:"coalesced" yaml:"coalesced"`
	Pending   int    `json:"pending" yaml:"pending"`
	Executing int    `json:"executing" yaml:"executing"`

	// Abandoned counts timed-out computations that have not returned yet.
	// Each keeps its worker busy.
	Abandoned int `json:"abandoned" yaml:"abandoned"`

	LastError   string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty" yaml:"last_error_at,omitempty"`
}

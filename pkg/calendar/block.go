package calendar

import (
	"fmt"
	"strings"
	"time"
)

// DayData is the per-day payload produced by the month-computation function.
// It is opaque to the engine.
type DayData any

// ============================================================================
// Data State
// ============================================================================

// DataState is the lifecycle state of a month in the cache.
type DataState int

const (
	// StateNotRequested means no computation has been requested for the month.
	StateNotRequested DataState = iota

	// StateLoading means a computation is queued or executing.
	StateLoading

	// StateLoaded means Days holds the computed month.
	StateLoaded

	// StateError means the last computation failed. Err describes why.
	StateError

	// StateStale means Days holds a previously computed month that was
	// invalidated. It is scheduled like NotRequested but keeps its days for
	// optimistic display.
	StateStale
)

// String returns the string representation of DataState.
func (s DataState) String() string {
	switch s {
	case StateNotRequested:
		return "NotRequested"
	case StateLoading:
		return "Loading"
	case StateLoaded:
		return "Loaded"
	case StateError:
		return "Error"
	case StateStale:
		return "Stale"
	default:
		return "Unknown"
	}
}

// ParseDataState parses a state name (case-insensitive).
func ParseDataState(s string) (DataState, error) {
	switch strings.ToLower(s) {
	case "notrequested", "not_requested":
		return StateNotRequested, nil
	case "loading":
		return StateLoading, nil
	case "loaded":
		return StateLoaded, nil
	case "error":
		return StateError, nil
	case "stale":
		return StateStale, nil
	default:
		return StateNotRequested, fmt.Errorf("unknown data state %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s DataState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *DataState) UnmarshalText(text []byte) error {
	parsed, err := ParseDataState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// NeedsComputation reports whether a request for a month in this state must
// start a new computation.
func (s DataState) NeedsComputation() bool {
	switch s {
	case StateLoaded, StateLoading:
		return false
	default:
		return true
	}
}

// ============================================================================
// Month Block
// ============================================================================

// MonthBlock is the cached unit for one month.
type MonthBlock struct {
	// Key identifies the month.
	Key MonthKey

	// Days holds one entry per calendar day when State is Loaded.
	// A Loading or Stale block may carry the previous (stale) days.
	Days []DayData

	// State is the lifecycle state of the block.
	State DataState

	// LastAccess is refreshed on every cache hit and drives recency eviction.
	LastAccess time.Time

	// DistanceHint is the absolute month distance from the last known
	// viewport center. It is the primary eviction signal.
	DistanceHint int

	// Err is set when State is Error.
	Err error
}

// NewLoadingBlock returns a Loading placeholder for key.
func NewLoadingBlock(key MonthKey) MonthBlock {
	return MonthBlock{Key: key, State: StateLoading}
}

// NewLoadedBlock returns a Loaded block holding days.
func NewLoadedBlock(key MonthKey, days []DayData) MonthBlock {
	return MonthBlock{Key: key, State: StateLoaded, Days: days}
}

// NewErrorBlock returns an Error block describing err.
func NewErrorBlock(key MonthKey, err error) MonthBlock {
	return MonthBlock{Key: key, State: StateError, Err: err}
}

// LastAccessEpochMillis returns LastAccess as Unix milliseconds (0 if unset).
func (b MonthBlock) LastAccessEpochMillis() int64 {
	if b.LastAccess.IsZero() {
		return 0
	}
	return b.LastAccess.UnixMilli()
}

// ErrorInfo returns the failure description, or "" if the block has no error.
func (b MonthBlock) ErrorInfo() string {
	if b.Err == nil {
		return ""
	}
	return b.Err.Error()
}

// Clone returns a copy that shares no mutable slice with b.
// The DayData values themselves are copied by reference.
func (b MonthBlock) Clone() MonthBlock {
	if b.Days != nil {
		days := make([]DayData, len(b.Days))
		copy(days, b.Days)
		b.Days = days
	}
	return b
}

// Validate checks the Loaded invariant: a Loaded block holds exactly one
// entry per calendar day of its month.
func (b MonthBlock) Validate() error {
	if !b.Key.Valid() {
		return fmt.Errorf("invalid month key %v", b.Key)
	}
	if b.State == StateLoaded && len(b.Days) != b.Key.DaysIn() {
		return fmt.Errorf("month %s has %d days, computed %d", b.Key, b.Key.DaysIn(), len(b.Days))
	}
	return nil
}

package calendar

import (
	"errors"
	"fmt"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrComputationFailed is the class of every failed month computation:
	// the compute function returned an error, panicked, produced the wrong
	// number of days or exceeded its timeout.
	ErrComputationFailed = errors.New("month computation failed")

	// ErrCapacityViolation reports an internal cache invariant breach.
	// It is logged and self-healed and never returned to callers.
	ErrCapacityViolation = errors.New("cache capacity violated")

	// ErrCancelled is returned when a request was superseded or dropped
	// before its computation started. It is a normal outcome, not a failure.
	ErrCancelled = errors.New("request cancelled")

	// ErrClosed is returned for requests made after shutdown.
	ErrClosed = errors.New("calendar engine is closed")
)

// ComputationError describes a failed month computation.
type ComputationError struct {
	// Key is the month whose computation failed.
	Key MonthKey

	// Cause is the underlying error (nil for timeouts).
	Cause error

	// TimedOut is set when the computation was abandoned past its timeout.
	TimedOut bool

	// Panicked is set when the compute function panicked.
	Panicked bool
}

// Error implements the error interface.
func (e *ComputationError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("compute %s: timed out", e.Key)
	case e.Panicked:
		return fmt.Sprintf("compute %s: panic: %v", e.Key, e.Cause)
	case e.Cause != nil:
		return fmt.Sprintf("compute %s: %v", e.Key, e.Cause)
	default:
		return fmt.Sprintf("compute %s: failed", e.Key)
	}
}

// Unwrap returns the underlying cause.
func (e *ComputationError) Unwrap() error {
	return e.Cause
}

// Is makes every ComputationError match ErrComputationFailed.
func (e *ComputationError) Is(target error) bool {
	return target == ErrComputationFailed
}

// IsTimeout reports whether err is a timed-out computation.
func IsTimeout(err error) bool {
	var ce *ComputationError
	return errors.As(err, &ce) && ce.TimedOut
}

package logger

import (
	"log/slog"
	"time"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements for log aggregation and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID   = "trace_id"   // OpenTelemetry trace ID for request correlation
	KeySpanID    = "span_id"    // OpenTelemetry span ID for operation tracking
	KeyRequestID = "request_id" // HTTP request ID

	// ========================================================================
	// Calendar Model
	// ========================================================================
	KeyMonth     = "month"     // Month key, formatted as 2006-01
	KeyState     = "state"     // Data state: Loading, Loaded, Error, Stale
	KeyDays      = "days"      // Number of computed days
	KeyDistance  = "distance"  // Distance hint from the viewport center
	KeyCenter    = "center"    // Viewport center month
	KeyDirection = "direction" // Scroll direction
	KeyVelocity  = "velocity"  // Scroll velocity
	KeyProgress  = "progress"  // Computation progress percent

	// ========================================================================
	// Cache
	// ========================================================================
	KeyCacheHit  = "cache_hit"  // Cache hit indicator
	KeyCacheSize = "cache_size" // Current number of resident months
	KeyMaxSize   = "max_size"   // Cache capacity in months
	KeyEvicted   = "evicted"    // Evicted month
	KeyScore     = "score"      // Eviction score of the victim

	// ========================================================================
	// Dispatcher
	// ========================================================================
	KeyWorkerID    = "worker_id"    // Worker goroutine index
	KeyWorkers     = "workers"      // Worker pool size
	KeyPriority    = "priority"     // Task priority (lower runs first)
	KeyRequestKind = "request_kind" // demand or prefetch
	KeyPending     = "pending"      // Queued task count
	KeyCoalesced   = "coalesced"    // Request joined an in-flight task
	KeyTargets     = "targets"      // Planned prefetch targets

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyOperation  = "operation"   // Engine operation name
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyTimeout    = "timeout"     // Configured timeout
	KeyError      = "error"       // Error message
	KeyPath       = "path"        // File path (config, schedule)
	KeyAddress    = "address"     // Listen address
	KeySubscriber = "subscriber"  // Subscription ID
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Month returns a slog.Attr for a month key. Anything implementing
// fmt.Stringer (calendar.MonthKey) is accepted so this package stays free of
// domain imports.
func Month(key interface{ String() string }) slog.Attr {
	return slog.String(KeyMonth, key.String())
}

// State returns a slog.Attr for a data state
func State(state interface{ String() string }) slog.Attr {
	return slog.String(KeyState, state.String())
}

// Distance returns a slog.Attr for a distance hint
func Distance(d int) slog.Attr {
	return slog.Int(KeyDistance, d)
}

// Priority returns a slog.Attr for a task priority
func Priority(p int) slog.Attr {
	return slog.Int(KeyPriority, p)
}

// WorkerID returns a slog.Attr for a worker index
func WorkerID(id int) slog.Attr {
	return slog.Int(KeyWorkerID, id)
}

// RequestKind returns a slog.Attr for the request kind
func RequestKind(kind interface{ String() string }) slog.Attr {
	return slog.String(KeyRequestKind, kind.String())
}

// CacheHit returns a slog.Attr for cache hit indicator
func CacheHit(hit bool) slog.Attr {
	return slog.Bool(KeyCacheHit, hit)
}

// CacheSize returns a slog.Attr for current cache size
func CacheSize(n int) slog.Attr {
	return slog.Int(KeyCacheSize, n)
}

// DurationMs returns a slog.Attr for a duration in milliseconds
func DurationMs(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMs, float64(d.Microseconds())/1000.0)
}

// Err returns a slog.Attr for an error. A nil error yields an empty attr,
// which handlers drop.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

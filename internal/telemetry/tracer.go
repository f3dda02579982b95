package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for calendar engine spans.
const (
	AttrMonth       = "calendar.month"
	AttrState       = "calendar.state"
	AttrDays        = "calendar.days"
	AttrCenter      = "viewport.center"
	AttrDirection   = "viewport.direction"
	AttrVelocity    = "viewport.velocity"
	AttrCacheHit    = "cache.hit"
	AttrCacheSize   = "cache.size"
	AttrDistance    = "cache.distance"
	AttrPriority    = "compute.priority"
	AttrRequestKind = "compute.kind"
	AttrCoalesced   = "compute.coalesced"
	AttrWorkerID    = "compute.worker"
	AttrTargets     = "prefetch.targets"
)

// Span names. Format: <component>.<operation>
const (
	SpanGetMonth        = "manager.get_month"
	SpanViewportChanged = "manager.viewport_changed"
	SpanInvalidate      = "manager.invalidate"
	SpanCompute         = "compute.month"
)

// Month returns an attribute for a month key
func Month(key string) attribute.KeyValue {
	return attribute.String(AttrMonth, key)
}

// State returns an attribute for a data state
func State(state string) attribute.KeyValue {
	return attribute.String(AttrState, state)
}

// CacheHit returns an attribute for cache hit status
func CacheHit(hit bool) attribute.KeyValue {
	return attribute.Bool(AttrCacheHit, hit)
}

// Distance returns an attribute for a distance hint
func Distance(d int) attribute.KeyValue {
	return attribute.Int(AttrDistance, d)
}

// Priority returns an attribute for a task priority
func Priority(p int) attribute.KeyValue {
	return attribute.Int(AttrPriority, p)
}

// RequestKind returns an attribute for demand/prefetch
func RequestKind(kind string) attribute.KeyValue {
	return attribute.String(AttrRequestKind, kind)
}

// Coalesced returns an attribute marking a coalesced request
func Coalesced(c bool) attribute.KeyValue {
	return attribute.Bool(AttrCoalesced, c)
}

// Targets returns an attribute for the number of planned prefetch months
func Targets(n int) attribute.KeyValue {
	return attribute.Int(AttrTargets, n)
}

// Viewport returns the attributes describing a viewport
func Viewport(center, direction string, velocity int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCenter, center),
		attribute.String(AttrDirection, direction),
		attribute.Int(AttrVelocity, velocity),
	}
}

// StartMonthSpan starts a span for an operation on a single month.
func StartMonthSpan(ctx context.Context, name, month string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(append([]attribute.KeyValue{Month(month)}, attrs...)...))
}

// StartComputeSpan starts a span around one execution of the compute function.
func StartComputeSpan(ctx context.Context, month string, workerID int) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanCompute,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(Month(month), attribute.Int(AttrWorkerID, workerID)),
	)
}

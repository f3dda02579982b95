package cache

// CacheMetrics provides observability for store operations.
//
// This is optional: when no implementation is supplied, metrics collection
// is skipped. pkg/metrics provides the Prometheus implementation.
type CacheMetrics interface {
	// ObserveLookup records a Get as a hit or a miss.
	ObserveLookup(hit bool)

	// RecordEviction records one capacity eviction of a month at the given
	// distance from the viewport center.
	RecordEviction(distance int)

	// RecordSize records the current number of resident months.
	RecordSize(size int)
}

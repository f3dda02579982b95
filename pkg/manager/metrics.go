package manager

import (
	"github.com/marmos91/calcache/pkg/cache"
	"github.com/marmos91/calcache/pkg/compute"
	"github.com/marmos91/calcache/pkg/events"
)

// Metrics is the full set of engine observations. pkg/metrics provides the
// Prometheus implementation; a nil Metrics disables collection.
type Metrics interface {
	cache.CacheMetrics
	compute.Metrics
	events.Metrics

	// RecordViewportChange counts a viewport notification.
	RecordViewportChange(direction string)

	// RecordPrefetch records the outcome of one prefetch plan. limited
	// counts targets held back by the rate limiter.
	RecordPrefetch(issued, skipped, limited int)
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/calcache/pkg/cache"
	"github.com/marmos91/calcache/pkg/compute"
)

// StatsSource exposes engine snapshots. *manager.Manager implements it.
type StatsSource interface {
	StatisticsSnapshot() cache.Statistics
	DispatcherStats() compute.Stats
}

// StatsCollector exports engine snapshots at scrape time.
type StatsCollector struct {
	source StatsSource

	hits      *prometheus.Desc
	misses    *prometheus.Desc
	coalesced *prometheus.Desc
	hitRatio  *prometheus.Desc
	maxSize   *prometheus.Desc
	executing *prometheus.Desc
	abandoned *prometheus.Desc
	started   *prometheus.Desc
}

// NewStatsCollector creates a collector reading from source.
func NewStatsCollector(source StatsSource) *StatsCollector {
	desc := func(subsystem, name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(Namespace, subsystem, name), help, nil, nil)
	}
	return &StatsCollector{
		source:    source,
		hits:      desc("engine", "hits", "Cache hits since start"),
		misses:    desc("engine", "misses", "Cache misses since start"),
		coalesced: desc("engine", "coalesced", "Requests that joined an in-flight computation"),
		hitRatio:  desc("engine", "hit_ratio", "Cache hit ratio since start"),
		maxSize:   desc("engine", "max_months", "Configured cache capacity in months"),
		executing: desc("engine", "executing", "Computations currently executing"),
		abandoned: desc("engine", "abandoned", "Timed-out computations still holding a worker"),
		started:   desc("engine", "computations_started", "Computations started since start"),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.coalesced
	ch <- c.hitRatio
	ch <- c.maxSize
	ch <- c.executing
	ch <- c.abandoned
	ch <- c.started
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.StatisticsSnapshot()
	d := c.source.DispatcherStats()

	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(c.coalesced, prometheus.CounterValue, float64(s.InFlightCoalesced))
	ch <- prometheus.MustNewConstMetric(c.hitRatio, prometheus.GaugeValue, s.HitRate())
	ch <- prometheus.MustNewConstMetric(c.maxSize, prometheus.GaugeValue, float64(s.MaxSize))
	ch <- prometheus.MustNewConstMetric(c.executing, prometheus.GaugeValue, float64(d.Executing))
	ch <- prometheus.MustNewConstMetric(c.abandoned, prometheus.GaugeValue, float64(d.Abandoned))
	ch <- prometheus.MustNewConstMetric(c.started, prometheus.CounterValue, float64(d.Started))
}

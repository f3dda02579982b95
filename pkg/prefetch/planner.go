// Package prefetch decides which months to precompute around the viewport.
//
// The planner is pure: it looks at a ViewportState and, optionally, the
// current state of each candidate month, and returns the months to request
// ordered closest first. Scheduling is left to the caller.
package prefetch

import (
	"errors"
	"fmt"
	"math"

	"github.com/marmos91/calcache/pkg/calendar"
)

// Default tuning values.
const (
	DefaultVelocityUnit = 1
	DefaultMinPrefetch  = 1
	DefaultMaxPrefetch  = 6
	DefaultIdleRadius   = 1
)

// ErrInvalidConfig is returned by New for an unusable configuration.
var ErrInvalidConfig = errors.New("invalid prefetch configuration")

// Config holds the planner tuning knobs.
type Config struct {
	// VelocityUnit is the velocity that buys one extra month of look-ahead.
	VelocityUnit int `mapstructure:"velocity_unit" yaml:"velocity_unit" validate:"gte=1"`

	// MinPrefetch is the look-ahead depth while scrolling slowly. A moving
	// viewport always looks at least one month ahead.
	MinPrefetch int `mapstructure:"min_prefetch" yaml:"min_prefetch" validate:"gte=1"`

	// MaxPrefetch caps the look-ahead depth while scrolling fast.
	MaxPrefetch int `mapstructure:"max_prefetch" yaml:"max_prefetch" validate:"gtefield=MinPrefetch"`

	// IdleRadius is how many months on each side are warmed when idle.
	IdleRadius int `mapstructure:"idle_radius" yaml:"idle_radius" validate:"gte=0"`
}

// DefaultConfig returns the default planner configuration.
func DefaultConfig() Config {
	return Config{
		VelocityUnit: DefaultVelocityUnit,
		MinPrefetch:  DefaultMinPrefetch,
		MaxPrefetch:  DefaultMaxPrefetch,
		IdleRadius:   DefaultIdleRadius,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.VelocityUnit < 1 {
		return fmt.Errorf("%w: velocity_unit must be positive, got %d", ErrInvalidConfig, c.VelocityUnit)
	}
	if c.MinPrefetch < 1 {
		return fmt.Errorf("%w: min_prefetch must be at least 1, got %d", ErrInvalidConfig, c.MinPrefetch)
	}
	if c.IdleRadius < 0 {
		return fmt.Errorf("%w: idle_radius must not be negative", ErrInvalidConfig)
	}
	if c.MaxPrefetch < c.MinPrefetch {
		return fmt.Errorf("%w: max_prefetch %d is below min_prefetch %d",
			ErrInvalidConfig, c.MaxPrefetch, c.MinPrefetch)
	}
	return nil
}

// StateLookup reports the cache state of a month without side effects.
type StateLookup func(calendar.MonthKey) calendar.DataState

// Target is a month the planner wants computed.
type Target struct {
	Key calendar.MonthKey `json:"key"`

	// Priority is the distance from the viewport center; lower runs first.
	Priority int `json:"priority"`
}

// Plan is the result of planning one viewport.
type Plan struct {
	// Center is the month the UI is showing. It is always requested.
	Center calendar.MonthKey `json:"center"`

	// Depth is the look-ahead depth derived from the velocity.
	Depth int `json:"depth"`

	// Prefetch lists the months to request speculatively, closest first.
	Prefetch []Target `json:"prefetch"`

	// Skipped lists candidate months that were already Loaded.
	Skipped []calendar.MonthKey `json:"skipped,omitempty"`
}

// Keys returns the center followed by the prefetch months.
func (p Plan) Keys() []calendar.MonthKey {
	keys := make([]calendar.MonthKey, 0, len(p.Prefetch)+1)
	keys = append(keys, p.Center)
	for _, t := range p.Prefetch {
		keys = append(keys, t.Key)
	}
	return keys
}

// Planner computes prefetch plans. It holds no mutable state and is safe
// for concurrent use.
type Planner struct {
	cfg Config
}

// New creates a planner.
func New(cfg Config) (*Planner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Planner{cfg: cfg}, nil
}

// Config returns the planner configuration.
func (p *Planner) Config() Config {
	return p.cfg
}

// Depth returns how many months ahead to prefetch at velocity:
// round(velocity / VelocityUnit) clamped to [MinPrefetch, MaxPrefetch].
// Negative velocities count as zero.
func (p *Planner) Depth(velocity int) int {
	velocity = max(velocity, 0)
	n := int(math.Round(float64(velocity) / float64(p.cfg.VelocityUnit)))
	return min(max(n, p.cfg.MinPrefetch), p.cfg.MaxPrefetch)
}

// Targets returns the candidate months around the viewport, excluding the
// center, closest first.
//
// Scrolling forward yields center+1..center+n, backward center-1..center-n.
// An idle viewport yields both neighbors out to IdleRadius, earlier month
// first at equal distance.
func (p *Planner) Targets(vp calendar.ViewportState) []calendar.MonthKey {
	vp = vp.Normalized()

	if step := vp.Direction.Step(); step != 0 {
		n := p.Depth(vp.Velocity)
		keys := make([]calendar.MonthKey, 0, n)
		for i := 1; i <= n; i++ {
			keys = append(keys, vp.Center.Add(i*step))
		}
		return keys
	}

	keys := make([]calendar.MonthKey, 0, 2*p.cfg.IdleRadius)
	for i := 1; i <= p.cfg.IdleRadius; i++ {
		keys = append(keys, vp.Center.Add(-i), vp.Center.Add(i))
	}
	return keys
}

// InRange reports whether key is the center or one of the targets of vp.
func (p *Planner) InRange(vp calendar.ViewportState, key calendar.MonthKey) bool {
	if key == vp.Center {
		return true
	}
	for _, t := range p.Targets(vp) {
		if t == key {
			return true
		}
	}
	return false
}

// Plan returns the center plus the targets of vp that still need work.
// Targets whose state is Loaded are skipped; Stale, Error, Loading and absent
// months are kept. A nil lookup keeps every target.
func (p *Planner) Plan(vp calendar.ViewportState, lookup StateLookup) Plan {
	vp = vp.Normalized()

	plan := Plan{Center: vp.Center, Depth: p.Depth(vp.Velocity)}
	if vp.Direction == calendar.DirectionNone {
		plan.Depth = p.cfg.IdleRadius
	}

	for _, key := range p.Targets(vp) {
		if lookup != nil && lookup(key) == calendar.StateLoaded {
			plan.Skipped = append(plan.Skipped, key)
			continue
		}
		plan.Prefetch = append(plan.Prefetch, Target{Key: key, Priority: key.Distance(vp.Center)})
	}
	return plan
}

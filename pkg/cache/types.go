package cache

import (
	"errors"
	"fmt"

	"github.com/marmos91/calcache/pkg/calendar"
)

// Default tuning values.
const (
	DefaultMaxSize        = 24
	DefaultPinRadius      = 1
	DefaultDistanceWeight = 1000
	DefaultRecencyWeight  = 1
)

// ErrInvalidConfig is returned by New when the configuration cannot
// guarantee the store's bound.
var ErrInvalidConfig = errors.New("invalid cache configuration")

// Config holds the CacheStore tuning knobs.
type Config struct {
	// MaxSize is the maximum number of resident months.
	MaxSize int `mapstructure:"max_size" yaml:"max_size" validate:"required,gte=2"`

	// PinRadius protects months within this distance of the viewport center
	// from eviction. 1 pins the center and its immediate neighbors.
	PinRadius int `mapstructure:"pin_radius" yaml:"pin_radius" validate:"gte=0"`

	// DistanceWeight scales the distance hint in the eviction score.
	DistanceWeight int64 `mapstructure:"distance_weight" yaml:"distance_weight" validate:"gte=1"`

	// RecencyWeight scales the recency rank in the eviction score.
	RecencyWeight int64 `mapstructure:"recency_weight" yaml:"recency_weight" validate:"gte=0"`
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize:        DefaultMaxSize,
		PinRadius:      DefaultPinRadius,
		DistanceWeight: DefaultDistanceWeight,
		RecencyWeight:  DefaultRecencyWeight,
	}
}

// Validate checks the cross-field constraints of the configuration:
//   - the pinned window leaves at least one evictable slot plus room for
//     the incoming month, so a full store always has a victim;
//   - distance dominates recency, so a farther month is always evicted
//     before a nearer one regardless of access order.
func (c Config) Validate() error {
	if c.MaxSize < 1 {
		return fmt.Errorf("%w: max_size must be positive, got %d", ErrInvalidConfig, c.MaxSize)
	}
	if c.PinRadius < 0 {
		return fmt.Errorf("%w: pin_radius must not be negative, got %d", ErrInvalidConfig, c.PinRadius)
	}
	if minSize := 2*c.PinRadius + 2; c.MaxSize < minSize {
		return fmt.Errorf("%w: max_size %d is too small for pin_radius %d (need >= %d)",
			ErrInvalidConfig, c.MaxSize, c.PinRadius, minSize)
	}
	if c.DistanceWeight <= 0 || c.RecencyWeight < 0 {
		return fmt.Errorf("%w: weights must be positive", ErrInvalidConfig)
	}
	if c.DistanceWeight <= c.RecencyWeight*int64(c.MaxSize) {
		return fmt.Errorf("%w: distance_weight %d must exceed recency_weight*max_size (%d)",
			ErrInvalidConfig, c.DistanceWeight, c.RecencyWeight*int64(c.MaxSize))
	}
	return nil
}

// ============================================================================
// Statistics
// ============================================================================

// Statistics is a read-only snapshot of the store counters.
// All counters are monotonic except CurrentSize.
type Statistics struct {
	Hits              uint64 `json:"hits" yaml:"hits"`
	Misses            uint64 `json:"misses" yaml:"misses"`
	Evictions         uint64 `json:"evictions" yaml:"evictions"`
	InFlightCoalesced uint64 `json:"in_flight_coalesced" yaml:"in_flight_coalesced"`
	CurrentSize       int    `json:"current_size" yaml:"current_size"`
	MaxSize           int    `json:"max_size" yaml:"max_size"`
}

// HitRate returns Hits / (Hits + Misses), or 0 before any lookup.
func (s Statistics) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Change describes the state a month ended up in after a bulk operation.
// State is NotRequested when the month was removed.
type Change struct {
	Key   calendar.MonthKey
	State calendar.DataState
}

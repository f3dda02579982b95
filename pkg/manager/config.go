package manager

import (
	"fmt"
	"time"

	"github.com/marmos91/calcache/pkg/cache"
	"github.com/marmos91/calcache/pkg/compute"
	"github.com/marmos91/calcache/pkg/events"
	"github.com/marmos91/calcache/pkg/prefetch"
)

// Config is the engine configuration: the tuning of every component the
// manager owns.
type Config struct {
	Cache      cache.Config    `mapstructure:"cache" yaml:"cache"`
	Dispatcher compute.Config  `mapstructure:"dispatcher" yaml:"dispatcher"`
	Prefetch   prefetch.Config `mapstructure:"prefetch" yaml:"prefetch"`

	// PrefetchRate limits speculative requests per second. Zero disables
	// the limit. Demand requests are never limited.
	PrefetchRate float64 `mapstructure:"prefetch_rate" yaml:"prefetch_rate" validate:"gte=0"`

	// PrefetchBurst is the token bucket size when PrefetchRate is set.
	PrefetchBurst int `mapstructure:"prefetch_burst" yaml:"prefetch_burst" validate:"gte=0"`

	// RetainErrors keeps Error blocks in the cache. When false, a failed
	// month is reported to subscribers and then removed.
	RetainErrors bool `mapstructure:"retain_errors" yaml:"retain_errors"`

	// EventBuffer is the default channel capacity of subscriptions.
	EventBuffer int `mapstructure:"event_buffer" yaml:"event_buffer" validate:"gte=0"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Cache:         cache.DefaultConfig(),
		Dispatcher:    compute.DefaultConfig(),
		Prefetch:      prefetch.DefaultConfig(),
		PrefetchBurst: 2 * prefetch.DefaultMaxPrefetch,
		RetainErrors:  true,
		EventBuffer:   events.DefaultBufferSize,
	}
}

// Validate checks every component configuration.
func (c Config) Validate() error {
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := c.Prefetch.Validate(); err != nil {
		return fmt.Errorf("prefetch: %w", err)
	}
	if c.Dispatcher.Workers < 0 || c.Dispatcher.QueueSize < 0 || c.Dispatcher.Timeout < 0 {
		return fmt.Errorf("dispatcher: negative values are not allowed")
	}
	if c.PrefetchRate < 0 || c.PrefetchBurst < 0 {
		return fmt.Errorf("prefetch_rate and prefetch_burst must not be negative")
	}
	return nil
}

// window returns the widest number of months one viewport can pin in the
// cache: the center plus the look-ahead on one side, or both idle sides.
func (c Config) window() int {
	return 1 + max(c.Prefetch.MaxPrefetch, 2*c.Prefetch.IdleRadius)
}

// ShutdownTimeout is used by Shutdown callers that have no deadline of their own.
const ShutdownTimeout = 10 * time.Second

package schedule

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/marmos91/calcache/internal/logger"
	"github.com/marmos91/calcache/pkg/calendar"
	"github.com/marmos91/calcache/pkg/compute"
)

// Config configures the schedule source.
type Config struct {
	// Path is the schedule YAML file. Empty uses the built-in roster.
	Path string `mapstructure:"path" yaml:"path"`

	// Watch reloads the file when it changes and invalidates the cache.
	Watch bool `mapstructure:"watch" yaml:"watch"`

	// Latency simulates an expensive computation. It is spread evenly
	// across the days of a month.
	// Default: 0 (no delay)
	Latency time.Duration `mapstructure:"latency" yaml:"latency" validate:"gte=0"`

	// Debounce coalesces bursts of file events into one reload.
	// Default: 200ms
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce" validate:"gte=0"`
}

// DefaultDebounce is the reload debounce used when none is configured.
const DefaultDebounce = 200 * time.Millisecond

// Source serves month computations from the current schedule. The schedule
// can be swapped at runtime; computations in progress keep the snapshot they
// started with.
type Source struct {
	cfg     Config
	current atomic.Pointer[Schedule]
	reloads atomic.Uint64
}

// NewSource loads the configured schedule.
func NewSource(cfg Config) (*Source, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	s := &Source{cfg: cfg}

	if cfg.Path == "" {
		s.current.Store(Default())
		return s, nil
	}

	sched, err := Load(cfg.Path)
	if err != nil {
		return nil, err
	}
	s.current.Store(sched)
	logger.Info("Schedule loaded", logger.KeyPath, cfg.Path, "pattern_days", sched.PatternLength())
	return s, nil
}

// NewStaticSource serves sched without a backing file.
func NewStaticSource(sched *Schedule, latency time.Duration) *Source {
	s := &Source{cfg: Config{Latency: latency, Debounce: DefaultDebounce}}
	s.current.Store(sched)
	return s
}

// Schedule returns the current schedule snapshot.
func (s *Source) Schedule() *Schedule {
	return s.current.Load()
}

// Reloads returns the number of successful reloads.
func (s *Source) Reloads() uint64 {
	return s.reloads.Load()
}

// Reload re-reads the schedule file. On error the current schedule is kept.
func (s *Source) Reload() error {
	if s.cfg.Path == "" {
		return nil
	}
	sched, err := Load(s.cfg.Path)
	if err != nil {
		return err
	}
	s.current.Store(sched)
	s.reloads.Add(1)
	logger.Info("Schedule reloaded", logger.KeyPath, s.cfg.Path, "pattern_days", sched.PatternLength())
	return nil
}

// Compute implements compute.ComputeFunc. It honors cancellation between
// days and reports progress as it goes.
func (s *Source) Compute(ctx context.Context, key calendar.MonthKey) ([]calendar.DayData, error) {
	if !key.Valid() {
		return nil, fmt.Errorf("invalid month %v", key)
	}
	sched := s.current.Load()

	n := key.DaysIn()
	perDay := s.cfg.Latency / time.Duration(n)
	first := key.FirstDay()
	days := make([]calendar.DayData, n)

	var timer *time.Timer
	for i := range days {
		if perDay > 0 {
			if timer == nil {
				timer = time.NewTimer(perDay)
				defer timer.Stop()
			} else {
				timer.Reset(perDay)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}

		days[i] = sched.DayOn(first.AddDate(0, 0, i))
		compute.ReportProgress(ctx, (i+1)*100/n)
	}
	return days, nil
}

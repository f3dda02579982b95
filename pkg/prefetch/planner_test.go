package prefetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/calcache/pkg/calendar"
)

func newTestPlanner(t *testing.T, cfg Config) *Planner {
	t.Helper()
	p, err := New(cfg)
	require.NoError(t, err)
	return p
}

func march() calendar.MonthKey {
	return calendar.NewMonthKey(2025, time.March)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero velocity unit", mutate: func(c *Config) { c.VelocityUnit = 0 }, wantErr: true},
		{name: "negative min", mutate: func(c *Config) { c.MinPrefetch = -1 }, wantErr: true},
		{name: "max below min", mutate: func(c *Config) { c.MinPrefetch = 4; c.MaxPrefetch = 2 }, wantErr: true},
		{name: "negative idle radius", mutate: func(c *Config) { c.IdleRadius = -1 }, wantErr: true},
		{name: "zero min", mutate: func(c *Config) { c.MinPrefetch = 0; c.MaxPrefetch = 0 }, wantErr: true},
		{name: "fixed depth", mutate: func(c *Config) { c.MinPrefetch = 3; c.MaxPrefetch = 3 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPlanner_Depth(t *testing.T) {
	p := newTestPlanner(t, DefaultConfig())

	assert.Equal(t, 1, p.Depth(-10), "negative velocity clamps to zero then min")
	assert.Equal(t, 1, p.Depth(0))
	assert.Equal(t, 3, p.Depth(3))
	assert.Equal(t, 6, p.Depth(6))
	assert.Equal(t, 6, p.Depth(100))

	cfg := DefaultConfig()
	cfg.VelocityUnit = 2
	p = newTestPlanner(t, cfg)
	assert.Equal(t, 2, p.Depth(3), "1.5 rounds half away from zero")
	assert.Equal(t, 2, p.Depth(4))
	assert.Equal(t, 1, p.Depth(1))
}

func TestPlanner_Targets(t *testing.T) {
	p := newTestPlanner(t, DefaultConfig())
	c := march()

	forward := p.Targets(calendar.ViewportState{Center: c, Direction: calendar.DirectionForward, Velocity: 3})
	assert.Equal(t, []calendar.MonthKey{c.Add(1), c.Add(2), c.Add(3)}, forward)

	backward := p.Targets(calendar.ViewportState{Center: c, Direction: calendar.DirectionBackward, Velocity: 2})
	assert.Equal(t, []calendar.MonthKey{c.Add(-1), c.Add(-2)}, backward)

	idle := p.Targets(calendar.ViewportState{Center: c, Velocity: 50})
	assert.Equal(t, []calendar.MonthKey{c.Add(-1), c.Add(1)}, idle)

	cfg := DefaultConfig()
	cfg.IdleRadius = 2
	wide := newTestPlanner(t, cfg).Targets(calendar.ViewportState{Center: c})
	assert.Equal(t, []calendar.MonthKey{c.Add(-1), c.Add(1), c.Add(-2), c.Add(2)}, wide)
}

func TestPlanner_TargetsStayWithinBounds(t *testing.T) {
	p := newTestPlanner(t, DefaultConfig())
	c := march()

	for _, dir := range []calendar.Direction{calendar.DirectionForward, calendar.DirectionBackward} {
		for velocity := -3; velocity <= 20; velocity++ {
			vp := calendar.ViewportState{Center: c, Direction: dir, Velocity: velocity}
			targets := p.Targets(vp)

			require.Len(t, targets, p.Depth(velocity))
			for _, key := range targets {
				d := key.Index() - c.Index()
				assert.Equal(t, dir.Step(), sign(d), "target %s on the wrong side", key)
				assert.LessOrEqual(t, key.Distance(c), DefaultMaxPrefetch)
				assert.GreaterOrEqual(t, key.Distance(c), 1)
			}
		}
	}
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	default:
		return 0
	}
}

func TestPlanner_PlanSkipsLoaded(t *testing.T) {
	p := newTestPlanner(t, DefaultConfig())
	c := march()

	states := map[calendar.MonthKey]calendar.DataState{
		c:        calendar.StateLoaded,
		c.Add(1): calendar.StateLoaded,
		c.Add(2): calendar.StateStale,
		c.Add(3): calendar.StateLoading,
		c.Add(4): calendar.StateError,
	}
	lookup := func(key calendar.MonthKey) calendar.DataState { return states[key] }

	plan := p.Plan(calendar.ViewportState{Center: c, Direction: calendar.DirectionForward, Velocity: 5}, lookup)

	assert.Equal(t, c, plan.Center, "center is always planned")
	assert.Equal(t, 5, plan.Depth)
	assert.Equal(t, []calendar.MonthKey{c.Add(1)}, plan.Skipped)
	assert.Equal(t, []Target{
		{Key: c.Add(2), Priority: 2},
		{Key: c.Add(3), Priority: 3},
		{Key: c.Add(4), Priority: 4},
		{Key: c.Add(5), Priority: 5},
	}, plan.Prefetch)
	assert.Equal(t, []calendar.MonthKey{c, c.Add(2), c.Add(3), c.Add(4), c.Add(5)}, plan.Keys())
}

func TestPlanner_PlanIdleNilLookup(t *testing.T) {
	p := newTestPlanner(t, DefaultConfig())
	c := march()

	plan := p.Plan(calendar.ViewportState{Center: c}, nil)
	assert.Equal(t, 1, plan.Depth)
	assert.Empty(t, plan.Skipped)
	assert.Equal(t, []Target{{Key: c.Add(-1), Priority: 1}, {Key: c.Add(1), Priority: 1}}, plan.Prefetch)
}

func TestPlanner_InRange(t *testing.T) {
	p := newTestPlanner(t, DefaultConfig())
	c := march()
	vp := calendar.ViewportState{Center: c, Direction: calendar.DirectionForward, Velocity: 2}

	assert.True(t, p.InRange(vp, c))
	assert.True(t, p.InRange(vp, c.Add(2)))
	assert.False(t, p.InRange(vp, c.Add(3)))
	assert.False(t, p.InRange(vp, c.Add(-1)))
}

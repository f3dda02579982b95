package compute

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/calcache/pkg/calendar"
)

// ============================================================================
// Test Helpers
// ============================================================================

func month(m time.Month) calendar.MonthKey {
	return calendar.NewMonthKey(2025, m)
}

func daysFor(key calendar.MonthKey) []calendar.DayData {
	days := make([]calendar.DayData, key.DaysIn())
	for i := range days {
		days[i] = i + 1
	}
	return days
}

// instantCompute returns a full month immediately and counts calls per key.
type instantCompute struct {
	mu    sync.Mutex
	calls map[calendar.MonthKey]int
}

func (c *instantCompute) fn(_ context.Context, key calendar.MonthKey) ([]calendar.DayData, error) {
	c.mu.Lock()
	if c.calls == nil {
		c.calls = make(map[calendar.MonthKey]int)
	}
	c.calls[key]++
	c.mu.Unlock()
	return daysFor(key), nil
}

func (c *instantCompute) count(key calendar.MonthKey) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[key]
}

// gatedCompute blocks every computation until the gate is opened.
type gatedCompute struct {
	gate    chan struct{}
	entered chan calendar.MonthKey
	calls   atomic.Int32
}

func newGatedCompute() *gatedCompute {
	return &gatedCompute{gate: make(chan struct{}), entered: make(chan calendar.MonthKey, 64)}
}

func (g *gatedCompute) fn(_ context.Context, key calendar.MonthKey) ([]calendar.DayData, error) {
	g.calls.Add(1)
	g.entered <- key
	<-g.gate
	return daysFor(key), nil
}

func newTestDispatcher(t *testing.T, fn ComputeFunc, cfg Config, opts ...Option) *Dispatcher {
	t.Helper()
	d := NewDispatcher(fn, cfg, opts...)
	t.Cleanup(func() { _ = d.Close(time.Second) })
	return d
}

func waitFuture(t *testing.T, f *Future) (calendar.MonthBlock, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	block, err := f.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "future for %s never resolved", f.Key())
	return block, err
}

// ============================================================================
// Queue Ordering
// ============================================================================

func TestDispatcher_QueueOrderBeforeStart(t *testing.T) {
	d := newTestDispatcher(t, (&instantCompute{}).fn, DefaultConfig())

	d.Request(month(time.June), 3, KindPrefetch)
	d.Request(month(time.April), 1, KindPrefetch)
	d.Request(month(time.February), 1, KindDemand)
	d.Request(month(time.March), 0, KindDemand)
	d.Request(month(time.May), 1, KindPrefetch)

	assert.Equal(t, 5, d.Pending())
	assert.Equal(t, []calendar.MonthKey{
		month(time.March),    // priority 0
		month(time.February), // priority 1, demand
		month(time.April),    // priority 1, prefetch, submitted first
		month(time.May),
		month(time.June),
	}, d.PendingKeys())
}

func TestDispatcher_CoalesceUpgradesQueuedPrefetch(t *testing.T) {
	d := newTestDispatcher(t, (&instantCompute{}).fn, DefaultConfig())

	d.Request(month(time.February), 2, KindPrefetch)
	first, coalesced := d.Request(month(time.June), 4, KindPrefetch)
	require.False(t, coalesced)

	second, coalesced := d.Request(month(time.June), 1, KindDemand)
	assert.True(t, coalesced)
	assert.Same(t, first, second)

	assert.Equal(t, []calendar.MonthKey{month(time.June), month(time.February)}, d.PendingKeys())
	assert.Equal(t, uint64(1), d.Stats().Coalesced)
	assert.Equal(t, 2, d.Pending())
}

func TestDispatcher_Reprioritize(t *testing.T) {
	d := newTestDispatcher(t, (&instantCompute{}).fn, DefaultConfig())

	for _, m := range []time.Month{time.January, time.February, time.March} {
		d.Request(month(m), int(m), KindPrefetch)
	}

	center := month(time.March)
	d.Reprioritize(func(key calendar.MonthKey) int { return key.Distance(center) })

	assert.Equal(t, []calendar.MonthKey{month(time.March), month(time.February), month(time.January)}, d.PendingKeys())
}

// ============================================================================
// Execution
// ============================================================================

func TestDispatcher_ComputesAndResolves(t *testing.T) {
	c := &instantCompute{}
	d := newTestDispatcher(t, c.fn, DefaultConfig())

	f, _ := d.Request(month(time.March), 0, KindDemand)
	d.Start(context.Background())

	block, err := waitFuture(t, f)
	require.NoError(t, err)
	assert.Equal(t, calendar.StateLoaded, block.State)
	assert.Len(t, block.Days, 31)
	assert.Equal(t, 1, c.count(month(time.March)))

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Started)
	assert.Equal(t, uint64(1), stats.Succeeded)
	assert.False(t, d.InFlight(month(time.March)))
}

func TestDispatcher_AtMostOneInFlight(t *testing.T) {
	g := newGatedCompute()
	d := newTestDispatcher(t, g.fn, DefaultConfig())
	d.Start(context.Background())

	const callers = 50
	futures := make([]*Future, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			futures[i], _ = d.Request(month(time.March), 0, KindDemand)
		}(i)
	}
	wg.Wait()

	<-g.entered
	assert.True(t, d.InFlight(month(time.March)))
	close(g.gate)

	for _, f := range futures {
		assert.Same(t, futures[0], f)
		block, err := waitFuture(t, f)
		require.NoError(t, err)
		assert.Equal(t, calendar.StateLoaded, block.State)
	}
	assert.Equal(t, int32(1), g.calls.Load())
	assert.Equal(t, uint64(callers-1), d.Stats().Coalesced)
}

func TestDispatcher_RespectsWorkerBound(t *testing.T) {
	var running, peak atomic.Int32
	release := make(chan struct{})
	fn := func(_ context.Context, key calendar.MonthKey) ([]calendar.DayData, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return daysFor(key), nil
	}

	cfg := DefaultConfig()
	cfg.Workers = 2
	d := newTestDispatcher(t, fn, cfg)

	var futures []*Future
	for i := 0; i < 6; i++ {
		f, _ := d.Request(month(time.January).Add(i), i, KindPrefetch)
		futures = append(futures, f)
	}
	d.Start(context.Background())

	require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	for _, f := range futures {
		_, err := waitFuture(t, f)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), peak.Load())
}

func TestDispatcher_FailuresBecomeErrorBlocks(t *testing.T) {
	boom := errors.New("schedule store unavailable")

	tests := []struct {
		name     string
		fn       ComputeFunc
		panicked bool
		cause    error
	}{
		{
			name: "error",
			fn: func(context.Context, calendar.MonthKey) ([]calendar.DayData, error) {
				return nil, boom
			},
			cause: boom,
		},
		{
			name: "panic",
			fn: func(context.Context, calendar.MonthKey) ([]calendar.DayData, error) {
				panic("nil schedule")
			},
			panicked: true,
		},
		{
			name: "wrong day count",
			fn: func(context.Context, calendar.MonthKey) ([]calendar.DayData, error) {
				return make([]calendar.DayData, 3), nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hooked []calendar.MonthBlock
			var mu sync.Mutex
			d := newTestDispatcher(t, tt.fn, DefaultConfig(), WithCompleteHook(func(b calendar.MonthBlock) {
				mu.Lock()
				hooked = append(hooked, b)
				mu.Unlock()
			}))
			d.Start(context.Background())

			f, _ := d.Request(month(time.March), 0, KindDemand)
			block, err := waitFuture(t, f)

			require.Error(t, err)
			assert.ErrorIs(t, err, calendar.ErrComputationFailed)
			assert.Equal(t, calendar.StateError, block.State)
			assert.NotEmpty(t, block.ErrorInfo())

			var cerr *calendar.ComputationError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.panicked, cerr.Panicked)
			if tt.cause != nil {
				assert.ErrorIs(t, err, tt.cause)
			}

			mu.Lock()
			require.Len(t, hooked, 1)
			assert.Equal(t, calendar.StateError, hooked[0].State)
			mu.Unlock()
			assert.Equal(t, uint64(1), d.Stats().Failed)
			assert.NotEmpty(t, d.Stats().LastError)
		})
	}
}

// stubbornCompute ignores its context and blocks until released, tracking
// how many computations are alive at once.
type stubbornCompute struct {
	release chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
	calls   atomic.Int32
}

func newStubbornCompute() *stubbornCompute {
	return &stubbornCompute{release: make(chan struct{})}
}

func (s *stubbornCompute) fn(_ context.Context, key calendar.MonthKey) ([]calendar.DayData, error) {
	s.calls.Add(1)
	n := s.active.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	<-s.release
	s.active.Add(-1)
	return daysFor(key), nil
}

func TestDispatcher_TimeoutAbandonsComputation(t *testing.T) {
	sc := newStubbornCompute()
	released := false
	defer func() {
		if !released {
			close(sc.release)
		}
	}()

	cfg := DefaultConfig()
	cfg.Workers = 1
	cfg.Timeout = 20 * time.Millisecond
	d := newTestDispatcher(t, sc.fn, cfg)
	d.Start(context.Background())

	f, _ := d.Request(month(time.March), 0, KindDemand)
	block, err := waitFuture(t, f)
	assert.True(t, calendar.IsTimeout(err))
	assert.Equal(t, calendar.StateError, block.State)
	assert.False(t, d.InFlight(month(time.March)))
	assert.Equal(t, 1, d.Stats().Abandoned)

	// A retry waits for the abandoned computation instead of running beside it.
	retry, coalesced := d.Request(month(time.March), 0, KindDemand)
	require.False(t, coalesced)
	joined, coalesced := d.Request(month(time.March), 0, KindPrefetch)
	assert.True(t, coalesced)
	assert.Same(t, retry, joined)

	// The only worker is still held, so other months queue too.
	other, _ := d.Request(month(time.April), 1, KindDemand)

	time.Sleep(60 * time.Millisecond)
	_, done := retry.Result()
	assert.False(t, done, "retry started while the abandoned computation was alive")
	_, done = other.Result()
	assert.False(t, done, "abandoned computation did not count against the pool")
	assert.Equal(t, int32(1), sc.calls.Load())
	assert.Equal(t, 2, d.Pending())

	close(sc.release)
	released = true

	block, err = waitFuture(t, retry)
	require.NoError(t, err)
	assert.Equal(t, calendar.StateLoaded, block.State)
	_, err = waitFuture(t, other)
	require.NoError(t, err)

	assert.Equal(t, int32(1), sc.peak.Load(), "at most one computation alive at a time")
	assert.Equal(t, int32(3), sc.calls.Load())
	assert.Equal(t, 0, d.Stats().Abandoned)
	assert.Equal(t, uint64(1), d.Stats().TimedOut)
}

func TestDispatcher_CancelWaitingBehindAbandoned(t *testing.T) {
	sc := newStubbornCompute()
	defer close(sc.release)

	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.Timeout = 20 * time.Millisecond
	d := newTestDispatcher(t, sc.fn, cfg)
	d.Start(context.Background())

	f, _ := d.Request(month(time.March), 0, KindPrefetch)
	_, err := waitFuture(t, f)
	require.True(t, calendar.IsTimeout(err))

	waiting, _ := d.Request(month(time.March), 2, KindPrefetch)
	assert.True(t, d.InFlight(month(time.March)))

	cancelled := d.CancelQueued(func(calendar.MonthKey, RequestKind) bool { return false })
	assert.Equal(t, []calendar.MonthKey{month(time.March)}, cancelled)
	_, err = waitFuture(t, waiting)
	assert.ErrorIs(t, err, calendar.ErrCancelled)
	assert.False(t, d.InFlight(month(time.March)))

	again, _ := d.Request(month(time.March), 0, KindDemand)
	assert.True(t, d.Cancel(month(time.March)))
	_, err = waitFuture(t, again)
	assert.ErrorIs(t, err, calendar.ErrCancelled)
	assert.Equal(t, int32(1), sc.calls.Load())
}

func TestDispatcher_CompleteHookRunsBeforeResolution(t *testing.T) {
	var (
		mu       sync.Mutex
		written  = map[calendar.MonthKey]calendar.DataState{}
		resolved bool
		f        *Future
	)
	d := newTestDispatcher(t, (&instantCompute{}).fn, DefaultConfig(), WithCompleteHook(func(b calendar.MonthBlock) {
		mu.Lock()
		written[b.Key] = b.State
		_, resolved = f.Result()
		mu.Unlock()
	}))

	f, _ = d.Request(month(time.March), 0, KindDemand)
	d.Start(context.Background())

	_, err := waitFuture(t, f)
	require.NoError(t, err)
	assert.False(t, d.InFlight(month(time.March)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, calendar.StateLoaded, written[month(time.March)])
	assert.False(t, resolved, "hook runs before the future resolves")
}

func TestDispatcher_RequestAfterCompletionStartsNewTask(t *testing.T) {
	c := &instantCompute{}
	d := newTestDispatcher(t, c.fn, DefaultConfig())
	d.Start(context.Background())

	first, _ := d.Request(month(time.March), 0, KindDemand)
	_, err := waitFuture(t, first)
	require.NoError(t, err)

	second, coalesced := d.Request(month(time.March), 0, KindDemand)
	assert.False(t, coalesced)
	assert.NotSame(t, first, second)
	_, err = waitFuture(t, second)
	require.NoError(t, err)
	assert.Equal(t, 2, c.count(month(time.March)))
}

func TestDispatcher_ProgressReporting(t *testing.T) {
	var (
		mu      sync.Mutex
		reports []int
	)
	fn := func(ctx context.Context, key calendar.MonthKey) ([]calendar.DayData, error) {
		for _, p := range []int{-5, 10, 5, 50, 150} {
			ReportProgress(ctx, p)
		}
		return daysFor(key), nil
	}
	d := newTestDispatcher(t, fn, DefaultConfig(), WithProgressHook(func(_ calendar.MonthKey, pct int) {
		mu.Lock()
		reports = append(reports, pct)
		mu.Unlock()
	}))
	d.Start(context.Background())

	f, _ := d.Request(month(time.March), 0, KindDemand)
	_, err := waitFuture(t, f)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 10, 50, 100}, reports)

	assert.NotPanics(t, func() { ReportProgress(context.Background(), 50) })
}

// ============================================================================
// Cancellation
// ============================================================================

func TestDispatcher_CancelQueued(t *testing.T) {
	d := newTestDispatcher(t, (&instantCompute{}).fn, DefaultConfig())

	f, _ := d.Request(month(time.March), 0, KindPrefetch)
	assert.True(t, d.Cancel(month(time.March)))
	assert.False(t, d.Cancel(month(time.March)))

	block, err := waitFuture(t, f)
	assert.ErrorIs(t, err, calendar.ErrCancelled)
	assert.Equal(t, calendar.StateNotRequested, block.State)
	assert.Equal(t, 0, d.Pending())
	assert.Equal(t, uint64(1), d.Stats().Cancelled)
}

func TestDispatcher_CancelExecutingDeliversResult(t *testing.T) {
	g := newGatedCompute()
	d := newTestDispatcher(t, g.fn, DefaultConfig())
	d.Start(context.Background())

	f, _ := d.Request(month(time.March), 0, KindDemand)
	<-g.entered

	assert.False(t, d.Cancel(month(time.March)), "executing tasks are only flagged")
	close(g.gate)

	block, err := waitFuture(t, f)
	require.NoError(t, err)
	assert.Equal(t, calendar.StateLoaded, block.State)
}

func TestDispatcher_CancelQueuedFilter(t *testing.T) {
	d := newTestDispatcher(t, (&instantCompute{}).fn, DefaultConfig())

	demand, _ := d.Request(month(time.January), 0, KindDemand)
	far, _ := d.Request(month(time.December), 9, KindPrefetch)
	near, _ := d.Request(month(time.February), 1, KindPrefetch)

	window := map[calendar.MonthKey]bool{month(time.February): true}
	cancelled := d.CancelQueued(func(key calendar.MonthKey, kind RequestKind) bool {
		return kind == KindDemand || window[key]
	})

	assert.Equal(t, []calendar.MonthKey{month(time.December)}, cancelled)
	assert.ErrorIs(t, far.Err(), calendar.ErrCancelled)
	_, ok := demand.Result()
	assert.False(t, ok)
	_, ok = near.Result()
	assert.False(t, ok)
	assert.Equal(t, []calendar.MonthKey{month(time.January), month(time.February)}, d.PendingKeys())
}

func TestDispatcher_QueueFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 2
	d := newTestDispatcher(t, (&instantCompute{}).fn, cfg)

	d.Request(month(time.January), 0, KindDemand)
	d.Request(month(time.February), 0, KindDemand)

	demand, coalesced := d.Request(month(time.March), 0, KindDemand)
	assert.False(t, coalesced)
	block, err := waitFuture(t, demand)
	assert.Equal(t, calendar.StateError, block.State)
	assert.ErrorIs(t, err, ErrQueueFull)

	prefetch, _ := d.Request(month(time.April), 0, KindPrefetch)
	_, err = waitFuture(t, prefetch)
	assert.ErrorIs(t, err, calendar.ErrCancelled)

	// Joining a queued task never counts against capacity.
	_, coalesced = d.Request(month(time.January), 0, KindPrefetch)
	assert.True(t, coalesced)
	assert.Equal(t, uint64(2), d.Stats().Rejected)
}

// ============================================================================
// Shutdown
// ============================================================================

func TestDispatcher_CloseResolvesEverything(t *testing.T) {
	started := make(chan struct{})
	fn := func(ctx context.Context, key calendar.MonthKey) ([]calendar.DayData, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	cfg := DefaultConfig()
	cfg.Workers = 1
	d := NewDispatcher(fn, cfg)

	running, _ := d.Request(month(time.March), 0, KindDemand)
	d.Start(context.Background())
	<-started
	queued, _ := d.Request(month(time.April), 1, KindPrefetch)

	require.NoError(t, d.Close(time.Second))
	require.NoError(t, d.Close(time.Second), "Close is idempotent")

	_, err := waitFuture(t, running)
	assert.ErrorIs(t, err, calendar.ErrClosed)
	_, err = waitFuture(t, queued)
	assert.ErrorIs(t, err, calendar.ErrClosed)

	late, _ := d.Request(month(time.May), 0, KindDemand)
	_, err = waitFuture(t, late)
	assert.ErrorIs(t, err, calendar.ErrClosed)
	assert.False(t, d.InFlight(month(time.March)))
}

func TestDispatcher_StopContextResolvesRequests(t *testing.T) {
	g := newGatedCompute()
	defer close(g.gate)

	var (
		mu        sync.Mutex
		abandoned []calendar.MonthKey
	)
	hook := WithAbandonHook(func(key calendar.MonthKey) {
		mu.Lock()
		abandoned = append(abandoned, key)
		mu.Unlock()
	})

	cfg := DefaultConfig()
	cfg.Workers = 1
	d := newTestDispatcher(t, g.fn, cfg, hook)

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)

	running, _ := d.Request(month(time.March), 0, KindDemand)
	<-g.entered
	queued, _ := d.Request(month(time.April), 1, KindPrefetch)

	cancel()

	_, err := waitFuture(t, queued)
	assert.ErrorIs(t, err, calendar.ErrClosed)
	_, err = waitFuture(t, running)
	assert.ErrorIs(t, err, calendar.ErrClosed)

	late, coalesced := d.Request(month(time.May), 0, KindDemand)
	assert.False(t, coalesced)
	assert.ErrorIs(t, late.Err(), calendar.ErrClosed)
	assert.Equal(t, 0, d.Pending())

	mu.Lock()
	assert.ElementsMatch(t, []calendar.MonthKey{month(time.March), month(time.April)}, abandoned)
	mu.Unlock()
}

func TestDispatcher_CloseWithoutStart(t *testing.T) {
	d := NewDispatcher((&instantCompute{}).fn, DefaultConfig())
	f, _ := d.Request(month(time.March), 0, KindDemand)

	require.NoError(t, d.Close(time.Second))
	assert.ErrorIs(t, f.Err(), calendar.ErrClosed)
}

// ============================================================================
// Future
// ============================================================================

func TestFuture(t *testing.T) {
	key := month(time.March)

	loaded := Resolved(calendar.NewLoadedBlock(key, daysFor(key)))
	block, ok := loaded.Result()
	require.True(t, ok)
	assert.Equal(t, calendar.StateLoaded, block.State)
	assert.NoError(t, loaded.Err())

	cerr := &calendar.ComputationError{Key: key, Cause: errors.New("boom")}
	failed := Resolved(calendar.NewErrorBlock(key, cerr))
	assert.ErrorIs(t, failed.Err(), calendar.ErrComputationFailed)

	pending := newFuture(key)
	_, ok = pending.Result()
	assert.False(t, ok)
	assert.NoError(t, pending.Err())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	block, err := pending.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, calendar.StateLoading, block.State)

	pending.resolve(calendar.NewLoadedBlock(key, daysFor(key)), nil)
	pending.resolve(calendar.MonthBlock{}, errors.New("ignored"))
	assert.NoError(t, pending.Err())
	select {
	case <-pending.Done():
	default:
		t.Fatal("Done not closed after resolve")
	}
}

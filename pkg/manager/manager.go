// Package manager is the calendar engine facade.
//
// A Manager owns one month cache, one compute dispatcher, one prefetch
// planner and one event bus, and is the only component the UI talks to.
// It is constructed explicitly and its lifecycle belongs to the caller.
//
// Lock order: Manager.mu, then the dispatcher lock. The cache and the event
// bus are leaves and never call back out.
package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/marmos91/calcache/internal/logger"
	"github.com/marmos91/calcache/internal/telemetry"
	"github.com/marmos91/calcache/pkg/cache"
	"github.com/marmos91/calcache/pkg/calendar"
	"github.com/marmos91/calcache/pkg/compute"
	"github.com/marmos91/calcache/pkg/events"
	"github.com/marmos91/calcache/pkg/prefetch"
)

// Manager coordinates the cache, the dispatcher and the planner.
type Manager struct {
	cfg Config

	// mu serializes every read-decide-request sequence so that placeholder
	// insertion and task submission for a month are observed together.
	mu          sync.Mutex
	viewport    calendar.ViewportState
	hasViewport bool

	store      *cache.Store
	dispatcher *compute.Dispatcher
	planner    *prefetch.Planner
	bus        *events.Bus
	limiter    *rate.Limiter
	metrics    Metrics

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Option configures a Manager.
type Option func(*options)

type options struct {
	metrics Metrics
	clock   func() time.Time
}

// WithMetrics attaches a metrics sink to every component.
func WithMetrics(m Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock overrides the clock used for LastAccess timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// New creates a Manager around fn. Workers do not run until Start.
func New(fn compute.ComputeFunc, cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager{cfg: cfg, metrics: o.metrics}

	storeOpts := []cache.Option{}
	busOpts := []events.BusOption{}
	dispatcherOpts := []compute.Option{
		compute.WithCompleteHook(m.onComplete),
		compute.WithProgressHook(m.onProgress),
		compute.WithAbandonHook(m.onAbandon),
	}
	if o.metrics != nil {
		storeOpts = append(storeOpts, cache.WithMetrics(o.metrics))
		busOpts = append(busOpts, events.WithMetrics(o.metrics))
		dispatcherOpts = append(dispatcherOpts, compute.WithMetrics(o.metrics))
	}
	if o.clock != nil {
		storeOpts = append(storeOpts, cache.WithClock(o.clock))
	}

	store, err := cache.New(cfg.Cache, storeOpts...)
	if err != nil {
		return nil, err
	}
	planner, err := prefetch.New(cfg.Prefetch)
	if err != nil {
		return nil, err
	}

	m.store = store
	m.planner = planner
	m.bus = events.NewBus(busOpts...)
	m.dispatcher = compute.NewDispatcher(fn, cfg.Dispatcher, dispatcherOpts...)
	if cfg.PrefetchRate > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.PrefetchRate), max(cfg.PrefetchBurst, 1))
	}

	if w := cfg.window(); w >= cfg.Cache.MaxSize {
		logger.Warn("Prefetch window does not fit in the cache, prefetched months will evict each other",
			logger.KeyMaxSize, cfg.Cache.MaxSize,
			"window", w)
	}
	return m, nil
}

// Start launches the compute workers. Once ctx is done the engine stops
// computing: pending and later requests resolve with calendar.ErrClosed and
// their placeholders are rolled back. Shutdown is still required to close
// subscriptions.
func (m *Manager) Start(ctx context.Context) {
	logger.Info("Starting calendar engine",
		logger.KeyMaxSize, m.cfg.Cache.MaxSize,
		logger.KeyWorkers, m.cfg.Dispatcher.Workers)
	m.dispatcher.Start(ctx)
}

// ============================================================================
// Month Access
// ============================================================================

// GetMonthAsync returns a Future for the month. It never blocks on
// computation.
//
// A Loaded month resolves immediately. A Loading month returns the Future of
// the computation already in flight. Any other month gets a Loading
// placeholder (keeping Stale days for display) and a new demand computation;
// the result is written to the cache before the Future resolves.
func (m *Manager) GetMonthAsync(ctx context.Context, key calendar.MonthKey) *compute.Future {
	ctx, span := telemetry.StartMonthSpan(ctx, telemetry.SpanGetMonth, key.String())
	defer span.End()

	if m.closed.Load() {
		return compute.Failed(key, calendar.ErrClosed)
	}

	m.mu.Lock()
	f, hit, coalesced := m.requestLocked(key, compute.KindDemand)
	m.mu.Unlock()

	span.SetAttributes(telemetry.CacheHit(hit), telemetry.Coalesced(coalesced))
	logger.DebugCtx(ctx, "Month requested",
		logger.KeyMonth, key.String(),
		logger.KeyCacheHit, hit,
		logger.KeyCoalesced, coalesced)
	return f
}

// GetMonth blocks until the month is computed or ctx is done.
func (m *Manager) GetMonth(ctx context.Context, key calendar.MonthKey) (calendar.MonthBlock, error) {
	return m.GetMonthAsync(ctx, key).Wait(ctx)
}

// Peek returns the cached block without side effects.
func (m *Manager) Peek(key calendar.MonthKey) (calendar.MonthBlock, bool) {
	return m.store.Peek(key)
}

// Entries returns snapshots of every cached month in calendar order.
func (m *Manager) Entries() []calendar.MonthBlock {
	return m.store.Entries()
}

// requestLocked implements the cache-or-compute decision for one month.
// hit reports a Loaded block served from the cache. Caller must hold m.mu.
func (m *Manager) requestLocked(key calendar.MonthKey, kind compute.RequestKind) (f *compute.Future, hit, coalesced bool) {
	var (
		block    calendar.MonthBlock
		resident bool
	)
	if kind == compute.KindDemand {
		block, resident = m.store.Get(key)
	} else {
		block, resident = m.store.Peek(key)
	}

	priority := m.priorityLocked(key)

	if resident {
		switch block.State {
		case calendar.StateLoaded:
			return compute.Resolved(block), true, false
		case calendar.StateLoading:
			f, coalesced = m.dispatcher.Request(key, priority, kind)
			if coalesced {
				m.store.RecordCoalesced()
			} else if res, done := f.Result(); done {
				m.settleLocked(key, res, f.Err())
			}
			return f, false, coalesced
		}
	}

	placeholder := calendar.NewLoadingBlock(key)
	if resident && block.State == calendar.StateStale {
		placeholder.Days = block.Days
	}
	evicted := m.store.Put(placeholder)
	m.bus.Publish(events.NewEvent(placeholder))
	for _, k := range evicted {
		m.bus.Publish(events.Event{Key: k, State: calendar.StateNotRequested, Progress: events.ProgressUnknown})
	}

	f, coalesced = m.dispatcher.Request(key, priority, kind)
	if coalesced {
		m.store.RecordCoalesced()
	} else if res, done := f.Result(); done {
		m.settleLocked(key, res, f.Err())
	}
	return f, false, coalesced
}

// settleLocked reconciles the placeholder of a request the dispatcher
// resolved on the spot (queue full or closed). Caller must hold m.mu.
func (m *Manager) settleLocked(key calendar.MonthKey, block calendar.MonthBlock, err error) {
	if block.State == calendar.StateError {
		m.onComplete(block)
		return
	}
	state := m.store.Abandon(key)
	m.publishState(key, state)
	logger.Debug("Month request dropped",
		logger.KeyMonth, key.String(),
		logger.KeyState, state.String(),
		logger.KeyError, err)
}

// priorityLocked returns the queue priority of key: its distance from the
// viewport center, or 0 before the first viewport. Caller must hold m.mu.
func (m *Manager) priorityLocked(key calendar.MonthKey) int {
	if !m.hasViewport {
		return 0
	}
	return key.Distance(m.viewport.Center)
}

// ============================================================================
// Completion
// ============================================================================

// onComplete writes a finished computation back into the cache and notifies
// subscribers. It runs under the dispatcher lock and must not call back into
// the dispatcher.
func (m *Manager) onComplete(block calendar.MonthBlock) {
	stored, ok := m.store.Complete(block)
	if !ok {
		logger.Debug("Discarding result for evicted month",
			logger.KeyMonth, block.Key.String(),
			logger.KeyState, block.State.String())
		return
	}

	if stored.State == calendar.StateError && !m.cfg.RetainErrors {
		m.store.Remove(stored.Key)
	}
	m.bus.Publish(events.NewEvent(stored))
}

// onAbandon rolls back the placeholder of a request the dispatcher dropped
// while stopping. It runs under the dispatcher lock.
func (m *Manager) onAbandon(key calendar.MonthKey) {
	state := m.store.Abandon(key)
	m.publishState(key, state)
	logger.Debug("Month request abandoned by stopped dispatcher",
		logger.KeyMonth, key.String(),
		logger.KeyState, state.String())
}

func (m *Manager) onProgress(key calendar.MonthKey, percent int) {
	m.bus.Publish(events.ProgressEvent(key, percent))
}

// publishState notifies subscribers that key moved to state. Loaded and
// Stale events carry the cached days.
func (m *Manager) publishState(key calendar.MonthKey, state calendar.DataState) {
	if block, ok := m.store.Peek(key); ok {
		m.bus.Publish(events.NewEvent(block))
		return
	}
	m.bus.Publish(events.Event{Key: key, State: state, Progress: events.ProgressUnknown})
}

// ============================================================================
// Invalidation
// ============================================================================

// Invalidate marks one month as out of date and returns its new state.
// Loaded becomes Stale and keeps its days, Error is removed, and a Loading
// month will store its result as Stale.
func (m *Manager) Invalidate(ctx context.Context, key calendar.MonthKey) calendar.DataState {
	ctx, span := telemetry.StartMonthSpan(ctx, telemetry.SpanInvalidate, key.String())
	defer span.End()

	m.mu.Lock()
	before := m.store.State(key)
	state := m.store.MarkStale(key)
	m.mu.Unlock()

	if state != before {
		m.publishState(key, state)
	}
	span.SetAttributes(telemetry.State(state.String()))
	logger.DebugCtx(ctx, "Month invalidated",
		logger.KeyMonth, key.String(),
		logger.KeyState, state.String())
	return state
}

// InvalidateAll invalidates every cached month and returns the resulting
// state of each.
func (m *Manager) InvalidateAll(ctx context.Context) []cache.Change {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanInvalidate)
	defer span.End()

	m.mu.Lock()
	changes := m.store.MarkAllStale()
	m.mu.Unlock()

	for _, c := range changes {
		if c.State != calendar.StateLoading {
			m.publishState(c.Key, c.State)
		}
	}
	logger.InfoCtx(ctx, "Invalidated all months", "count", len(changes))
	return changes
}

// ============================================================================
// Subscriptions and Introspection
// ============================================================================

// Subscribe registers an observer of month state changes.
func (m *Manager) Subscribe(opts ...events.SubscribeOption) (*events.Subscription, error) {
	opts = append([]events.SubscribeOption{events.WithBuffer(m.cfg.EventBuffer)}, opts...)
	return m.bus.Subscribe(opts...)
}

// Unsubscribe removes an observer and closes its channel.
func (m *Manager) Unsubscribe(id uuid.UUID) bool {
	return m.bus.Unsubscribe(id)
}

// StatisticsSnapshot returns the cache counters.
func (m *Manager) StatisticsSnapshot() cache.Statistics {
	return m.store.Stats()
}

// DispatcherStats returns the compute counters.
func (m *Manager) DispatcherStats() compute.Stats {
	return m.dispatcher.Stats()
}

// EventsDropped returns the number of notifications lost to slow subscribers.
func (m *Manager) EventsDropped() uint64 {
	return m.bus.Dropped()
}

// Viewport returns the last viewport reported by OnViewportChanged.
func (m *Manager) Viewport() (calendar.ViewportState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewport, m.hasViewport
}

// Config returns the engine configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Closed reports whether Shutdown has been called.
func (m *Manager) Closed() bool {
	return m.closed.Load()
}

// ============================================================================
// Shutdown
// ============================================================================

// Shutdown stops the engine: pending requests resolve with
// calendar.ErrClosed, executing computations are cancelled and every
// subscription is closed. It waits up to timeout for the workers and is
// idempotent.
func (m *Manager) Shutdown(timeout time.Duration) error {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		logger.Info("Shutting down calendar engine", logger.KeyTimeout, timeout)

		m.mu.Lock()
		m.closeErr = m.dispatcher.Close(timeout)
		m.mu.Unlock()

		m.bus.Close()
		logger.Info("Calendar engine stopped", "stats", m.store.Stats().String())
	})
	return m.closeErr
}

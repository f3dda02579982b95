package compute

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/calcache/internal/logger"
	"github.com/marmos91/calcache/internal/telemetry"
	"github.com/marmos91/calcache/pkg/calendar"
)

// Dispatcher schedules month computations on a bounded worker pool.
type Dispatcher struct {
	fn  ComputeFunc
	cfg Config

	mu       sync.Mutex
	cond     *sync.Cond
	queue    taskQueue
	inFlight map[calendar.MonthKey]*task
	seq      uint64

	// abandoned holds months whose timed-out computation is still running.
	// A new request for such a month waits in deferred until it returns.
	abandoned map[calendar.MonthKey]struct{}
	deferred  map[calendar.MonthKey]*task

	started  bool
	closed   bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	executing   atomic.Int64
	lingering   atomic.Int64
	launched    atomic.Uint64
	succeeded   atomic.Uint64
	failed      atomic.Uint64
	timedOut    atomic.Uint64
	cancelled   atomic.Uint64
	rejected    atomic.Uint64
	coalesced   atomic.Uint64
	lastErr     error
	lastErrorAt time.Time

	onComplete func(calendar.MonthBlock)
	onProgress func(calendar.MonthKey, int)
	onAbandon  func(calendar.MonthKey)
	metrics    Metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCompleteHook registers fn to run with every finished Loaded or Error
// block. It runs on the worker goroutine before the Future resolves, and
// atomically with the month leaving the in-flight set: a Request either
// coalesces before fn runs or starts a new task after it. fn is called with
// the dispatcher lock held and must not call back into the Dispatcher.
func WithCompleteHook(fn func(calendar.MonthBlock)) Option {
	return func(d *Dispatcher) { d.onComplete = fn }
}

// WithAbandonHook registers fn to run for every task dropped because the
// dispatcher stopped, so the caller can roll back state it created for the
// request. Like the complete hook it runs with the dispatcher lock held.
func WithAbandonHook(fn func(calendar.MonthKey)) Option {
	return func(d *Dispatcher) { d.onAbandon = fn }
}

// WithProgressHook registers fn to receive ReportProgress updates.
func WithProgressHook(fn func(calendar.MonthKey, int)) Option {
	return func(d *Dispatcher) { d.onProgress = fn }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher creates a dispatcher. Workers do not run until Start.
func NewDispatcher(fn ComputeFunc, cfg Config, opts ...Option) *Dispatcher {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		fn:       fn,
		cfg:      cfg,
		inFlight:  make(map[calendar.MonthKey]*task),
		abandoned: make(map[calendar.MonthKey]struct{}),
		deferred:  make(map[calendar.MonthKey]*task),
		ctx:       ctx,
		cancel:    cancel,
	}
	d.cond = sync.NewCond(&d.mu)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the worker pool. Cancelling ctx stops the workers, aborts
// executing computations and resolves queued tasks with calendar.ErrClosed;
// later requests fail the same way. Start is idempotent.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started || d.closed {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.cancel()
	d.ctx, d.cancel = context.WithCancel(ctx)
	runCtx := d.ctx
	d.mu.Unlock()

	context.AfterFunc(runCtx, func() {
		d.mu.Lock()
		if n := d.drainLocked(); n > 0 {
			logger.Info("Compute dispatcher context done, dropped queued requests", "drained", n)
		}
		d.cond.Broadcast()
		d.mu.Unlock()
	})

	logger.Info("Starting compute dispatcher",
		logger.KeyWorkers, d.cfg.Workers,
		"queue_size", d.cfg.QueueSize,
		logger.KeyTimeout, d.cfg.Timeout)

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

// ============================================================================
// Submission
// ============================================================================

// Request schedules a computation for key, or joins the one already in
// flight. coalesced reports whether an existing task was joined.
//
// Joining a queued prefetch task with a demand request upgrades the task to
// demand. Joining a queued task with a lower priority value moves it forward.
//
// When the queue is full a demand request resolves immediately with an Error
// block (cause ErrQueueFull) and a prefetch request with calendar.ErrCancelled.
// After Close, or once the Start context is done, every request resolves
// with calendar.ErrClosed.
//
// A month whose previous computation timed out but has not returned yet is
// not started again until it does: the new task waits outside the queue.
func (d *Dispatcher) Request(key calendar.MonthKey, priority int, kind RequestKind) (f *Future, coalesced bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stoppedLocked() {
		return Failed(key, calendar.ErrClosed), false
	}

	if t, ok := d.inFlight[key]; ok {
		d.coalesced.Add(1)
		if t.deferred {
			if kind == KindDemand {
				t.kind = KindDemand
			}
			t.priority = min(t.priority, priority)
		} else if t.queued() {
			changed := false
			if kind == KindDemand && t.kind == KindPrefetch {
				t.kind = KindDemand
				changed = true
			}
			if priority < t.priority {
				t.priority = priority
				changed = true
			}
			if changed {
				d.queue.fix(t)
			}
		}
		logger.Debug("Compute request coalesced",
			logger.KeyMonth, key.String(),
			logger.KeyRequestKind, kind.String())
		return t.future, true
	}

	if d.queue.Len() >= d.cfg.QueueSize {
		d.rejected.Add(1)
		d.observe(OutcomeRejected, 0)
		logger.Warn("Compute queue full, rejecting request",
			logger.KeyMonth, key.String(),
			logger.KeyRequestKind, kind.String(),
			logger.KeyPending, d.queue.Len())
		if kind == KindPrefetch {
			return Failed(key, calendar.ErrCancelled), false
		}
		cerr := &calendar.ComputationError{Key: key, Cause: ErrQueueFull}
		return Resolved(calendar.NewErrorBlock(key, cerr)), false
	}

	d.seq++
	t := &task{
		key:      key,
		priority: priority,
		kind:     kind,
		seq:      d.seq,
		future:   newFuture(key),
		index:    -1,
	}
	if _, busy := d.abandoned[key]; busy {
		t.deferred = true
		d.deferred[key] = t
		d.inFlight[key] = t
		logger.Debug("Compute request waiting for abandoned computation",
			logger.KeyMonth, key.String(),
			logger.KeyRequestKind, kind.String())
		return t.future, false
	}
	d.queue.push(t)
	d.inFlight[key] = t
	d.recordDepth()
	d.cond.Signal()

	logger.Debug("Compute request queued",
		logger.KeyMonth, key.String(),
		logger.KeyPriority, priority,
		logger.KeyRequestKind, kind.String(),
		logger.KeyPending, d.queue.Len())
	return t.future, false
}

// Cancel removes a queued task and resolves its Future with
// calendar.ErrCancelled, returning true. An executing task is only flagged:
// its result is still delivered and cached, and Cancel returns false.
func (d *Dispatcher) Cancel(key calendar.MonthKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.inFlight[key]
	if !ok {
		return false
	}
	switch {
	case t.deferred:
		d.undeferLocked(t)
	case t.queued():
		d.queue.remove(t)
		d.recordDepth()
	default:
		t.cancelRequested = true
		return false
	}

	d.dropLocked(t, calendar.ErrCancelled, OutcomeCancelled)
	return true
}

// CancelQueued cancels every queued task for which keep returns false and
// returns the cancelled months. Executing tasks are never affected.
func (d *Dispatcher) CancelQueued(keep func(key calendar.MonthKey, kind RequestKind) bool) []calendar.MonthKey {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := d.queue.filter(func(t *task) bool { return !keep(t.key, t.kind) })
	for _, t := range d.deferred {
		if !keep(t.key, t.kind) {
			d.undeferLocked(t)
			removed = append(removed, t)
		}
	}
	keys := make([]calendar.MonthKey, 0, len(removed))
	for _, t := range removed {
		d.dropLocked(t, calendar.ErrCancelled, OutcomeCancelled)
		keys = append(keys, t.key)
	}
	if len(removed) > 0 {
		d.recordDepth()
		logger.Debug("Cancelled queued computations", "count", len(removed))
	}
	return keys
}

// Reprioritize recomputes the priority of every queued task.
func (d *Dispatcher) Reprioritize(priority func(key calendar.MonthKey) int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, t := range d.queue {
		t.priority = priority(t.key)
	}
	for _, t := range d.deferred {
		t.priority = priority(t.key)
	}
	d.queue.reindex()
}

// stoppedLocked reports whether requests can no longer run. Caller must
// hold d.mu.
func (d *Dispatcher) stoppedLocked() bool {
	return d.closed || d.ctx.Err() != nil
}

func (d *Dispatcher) undeferLocked(t *task) {
	delete(d.deferred, t.key)
	t.deferred = false
}

// dropLocked forgets a task that never ran. Caller must hold d.mu.
func (d *Dispatcher) dropLocked(t *task, err error, outcome Outcome) {
	if d.inFlight[t.key] == t {
		delete(d.inFlight, t.key)
	}
	if outcome == OutcomeCancelled {
		d.cancelled.Add(1)
	}
	d.observe(outcome, 0)
	t.future.resolve(calendar.MonthBlock{Key: t.key, State: calendar.StateNotRequested}, err)
}

// closeLocked drops a task because the dispatcher stopped. The abandon hook
// runs before the Future resolves. Caller must hold d.mu.
func (d *Dispatcher) closeLocked(t *task) {
	if d.onAbandon != nil {
		d.onAbandon(t.key)
	}
	d.dropLocked(t, calendar.ErrClosed, OutcomeClosed)
}

// drainLocked closes every task that has not started and returns how many
// there were. Caller must hold d.mu.
func (d *Dispatcher) drainLocked() int {
	drained := d.queue.filter(func(*task) bool { return true })
	for _, t := range d.deferred {
		d.undeferLocked(t)
		drained = append(drained, t)
	}
	for _, t := range drained {
		d.closeLocked(t)
	}
	d.recordDepth()
	return len(drained)
}

// ============================================================================
// Workers
// ============================================================================

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	logger.Debug("Compute worker started", logger.KeyWorkerID, id)
	for {
		t, ctx, ok := d.next()
		if !ok {
			logger.Debug("Compute worker stopped", logger.KeyWorkerID, id)
			return
		}
		if stuck := d.execute(ctx, id, t); stuck != nil {
			d.awaitAbandoned(ctx, t.key, stuck)
		}
	}
}

// next blocks until a task is available or the dispatcher stops.
func (d *Dispatcher) next() (*task, context.Context, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for d.queue.Len() == 0 && !d.closed && d.ctx.Err() == nil {
		d.cond.Wait()
	}
	if d.closed || d.ctx.Err() != nil {
		return nil, nil, false
	}

	t := d.queue.pop()
	d.executing.Add(1)
	d.recordDepth()
	return t, d.ctx, true
}

type result struct {
	days []calendar.DayData
	err  error
}

// execute runs one task and delivers its result. When the computation timed
// out without returning, execute returns the channel it will report on.
func (d *Dispatcher) execute(parent context.Context, workerID int, t *task) <-chan result {
	d.launched.Add(1)
	start := time.Now()

	ctx, cancel := parent, context.CancelFunc(func() {})
	if d.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, d.cfg.Timeout)
	}
	defer cancel()

	ctx, span := telemetry.StartComputeSpan(ctx, t.key.String(), workerID)
	defer span.End()

	reporter := &progressReporter{key: t.key, hook: d.onProgress}
	reporter.last.Store(-1)
	defer reporter.finished.Store(true)

	logger.Debug("Computing month",
		logger.KeyMonth, t.key.String(),
		logger.KeyWorkerID, workerID,
		logger.KeyRequestKind, t.kind.String())

	// Buffered so an abandoned computation can still deliver and exit.
	done := make(chan result, 1)
	go func() {
		days, err := d.safeCompute(withProgress(ctx, reporter), t.key)
		done <- result{days: days, err: err}
	}()

	var (
		block     calendar.MonthBlock
		outcome   Outcome
		abandoned bool
	)
	select {
	case res := <-done:
		if res.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
			block, outcome = d.timeoutBlock(t.key), OutcomeTimeout
		} else if parent.Err() != nil && res.err != nil {
			d.abort(t, start)
			return nil
		} else {
			block, outcome = d.resultBlock(t.key, res)
		}
	case <-ctx.Done():
		if parent.Err() != nil {
			d.abort(t, start)
			return nil
		}
		block, outcome = d.timeoutBlock(t.key), OutcomeTimeout
		abandoned = true
	}

	if block.State == calendar.StateError {
		telemetry.RecordError(ctx, block.Err)
	}
	d.finish(t, block, outcome, time.Since(start), abandoned)
	if abandoned {
		return done
	}
	return nil
}

// awaitAbandoned holds the worker until a timed-out computation returns, so
// live computations never exceed the pool size, then starts any request
// for the same month that waited behind it.
func (d *Dispatcher) awaitAbandoned(parent context.Context, key calendar.MonthKey, done <-chan result) {
	select {
	case <-done:
		logger.Debug("Abandoned computation returned, result discarded", logger.KeyMonth, key.String())
	case <-parent.Done():
	}

	d.mu.Lock()
	delete(d.abandoned, key)
	if t, ok := d.deferred[key]; ok {
		d.undeferLocked(t)
		if d.stoppedLocked() {
			d.closeLocked(t)
		} else {
			d.queue.push(t)
			d.recordDepth()
			d.cond.Signal()
		}
	}
	d.mu.Unlock()
	d.lingering.Add(-1)
}

// safeCompute calls the compute function, converting panics into errors.
func (d *Dispatcher) safeCompute(ctx context.Context, key calendar.MonthKey) (days []calendar.DayData, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &calendar.ComputationError{Key: key, Cause: fmt.Errorf("%v", r), Panicked: true}
		}
	}()
	return d.fn(ctx, key)
}

func (d *Dispatcher) timeoutBlock(key calendar.MonthKey) calendar.MonthBlock {
	return calendar.NewErrorBlock(key, &calendar.ComputationError{Key: key, TimedOut: true})
}

// resultBlock converts a compute result into a Loaded or Error block.
func (d *Dispatcher) resultBlock(key calendar.MonthKey, res result) (calendar.MonthBlock, Outcome) {
	if res.err != nil {
		var cerr *calendar.ComputationError
		if errors.As(res.err, &cerr) {
			if cerr.Panicked {
				return calendar.NewErrorBlock(key, cerr), OutcomePanic
			}
			return calendar.NewErrorBlock(key, cerr), OutcomeError
		}
		return calendar.NewErrorBlock(key, &calendar.ComputationError{Key: key, Cause: res.err}), OutcomeError
	}

	block := calendar.NewLoadedBlock(key, res.days)
	if err := block.Validate(); err != nil {
		return calendar.NewErrorBlock(key, &calendar.ComputationError{Key: key, Cause: err}), OutcomeError
	}
	return block, OutcomeSuccess
}

// finish runs the completion hook and releases the in-flight entry under
// d.mu, then resolves the Future. An abandoned month stays blocked until
// awaitAbandoned releases it.
func (d *Dispatcher) finish(t *task, block calendar.MonthBlock, outcome Outcome, elapsed time.Duration, abandoned bool) {
	switch outcome {
	case OutcomeSuccess:
		d.succeeded.Add(1)
		logger.Debug("Month computed",
			logger.KeyMonth, t.key.String(),
			logger.KeyDays, len(block.Days),
			logger.KeyDurationMs, float64(elapsed.Microseconds())/1000.0)
	case OutcomeTimeout:
		d.timedOut.Add(1)
		d.recordError(block.Err)
		logger.Warn("Month computation timed out, abandoning",
			logger.KeyMonth, t.key.String(),
			logger.KeyTimeout, d.cfg.Timeout)
	default:
		d.failed.Add(1)
		d.recordError(block.Err)
		logger.Warn("Month computation failed",
			logger.KeyMonth, t.key.String(),
			logger.KeyError, block.ErrorInfo())
	}
	d.observe(outcome, elapsed)

	d.mu.Lock()
	if d.onComplete != nil {
		d.onComplete(block)
	}
	if d.inFlight[t.key] == t {
		delete(d.inFlight, t.key)
	}
	if abandoned {
		d.abandoned[t.key] = struct{}{}
		d.lingering.Add(1)
	}
	if t.cancelRequested {
		logger.Debug("Delivered result of cancelled computation", logger.KeyMonth, t.key.String())
	}
	d.mu.Unlock()
	d.executing.Add(-1)

	t.future.resolve(block, blockErr(block))
}

// abort releases a task whose computation was interrupted by shutdown.
func (d *Dispatcher) abort(t *task, start time.Time) {
	d.mu.Lock()
	d.closeLocked(t)
	d.mu.Unlock()
	d.executing.Add(-1)
	logger.Debug("Month computation aborted by shutdown",
		logger.KeyMonth, t.key.String(),
		logger.KeyDurationMs, float64(time.Since(start).Microseconds())/1000.0)
}

func (d *Dispatcher) recordError(err error) {
	d.mu.Lock()
	d.lastErr = err
	d.lastErrorAt = time.Now()
	d.mu.Unlock()
}

// ============================================================================
// Shutdown
// ============================================================================

// Close stops accepting requests, resolves queued tasks with
// calendar.ErrClosed, cancels executing computations and waits up to timeout
// for workers to exit. Close is idempotent.
func (d *Dispatcher) Close(timeout time.Duration) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	drained := d.drainLocked()
	d.cond.Broadcast()
	d.mu.Unlock()

	d.cancel()

	logger.Info("Stopping compute dispatcher", "drained", drained)

	stopped := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		logger.Info("Compute dispatcher stopped gracefully")
		return nil
	case <-time.After(timeout):
		logger.Warn("Compute dispatcher stop timed out", "executing", d.executing.Load())
		return fmt.Errorf("compute dispatcher: workers still running after %s", timeout)
	}
}

// ============================================================================
// Introspection
// ============================================================================

// InFlight reports whether key is queued or executing.
func (d *Dispatcher) InFlight(key calendar.MonthKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inFlight[key]
	return ok
}

// Pending returns the number of tasks waiting to run, including those held
// behind an abandoned computation.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Len() + len(d.deferred)
}

// PendingKeys returns the queued months in the order workers will take them.
func (d *Dispatcher) PendingKeys() []calendar.MonthKey {
	d.mu.Lock()
	ordered := d.queue.ordered()
	d.mu.Unlock()

	keys := make([]calendar.MonthKey, len(ordered))
	for i, t := range ordered {
		keys[i] = t.key
	}
	return keys
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	pending := d.queue.Len() + len(d.deferred)
	lastErr, lastAt := d.lastErr, d.lastErrorAt
	d.mu.Unlock()

	s := Stats{
		Started:     d.launched.Load(),
		Succeeded:   d.succeeded.Load(),
		Failed:      d.failed.Load(),
		TimedOut:    d.timedOut.Load(),
		Cancelled:   d.cancelled.Load(),
		Rejected:    d.rejected.Load(),
		Coalesced:   d.coalesced.Load(),
		Pending:     pending,
		Executing:   int(d.executing.Load()),
		Abandoned:   int(d.lingering.Load()),
		LastErrorAt: lastAt,
	}
	if lastErr != nil {
		s.LastError = lastErr.Error()
	}
	return s
}

func (d *Dispatcher) observe(outcome Outcome, elapsed time.Duration) {
	if d.metrics != nil {
		d.metrics.ObserveComputation(outcome, elapsed)
	}
}

// recordDepth reports the queue depth. Caller must hold d.mu.
func (d *Dispatcher) recordDepth() {
	if d.metrics != nil {
		d.metrics.RecordQueueDepth(d.queue.Len())
	}
}

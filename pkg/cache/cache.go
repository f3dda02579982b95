// Package cache implements the bounded per-month block store.
//
// The Store holds at most MaxSize MonthBlocks. When a new month is inserted
// into a full store, the resident month with the highest eviction score is
// removed first:
//
//	score = distanceHint*DistanceWeight - recencyRank*RecencyWeight
//
// where recencyRank 0 is the least recently accessed month. Months within
// PinRadius of the viewport center are never chosen.
//
// All state is guarded by a single mutex; statistics counters are atomics so
// snapshots never contend with the hit path.
package cache

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/calcache/internal/logger"
	"github.com/marmos91/calcache/pkg/calendar"
)

// entry is a resident month plus bookkeeping that never leaves the store.
type entry struct {
	block calendar.MonthBlock

	// accessSeq orders entries by recency; larger is more recent.
	accessSeq uint64

	// staleOnComplete is set when a Loading month is invalidated: its
	// computation result will be stored as Stale.
	staleOnComplete bool
}

// Store is the bounded month cache. It is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	cfg       Config
	entries   map[calendar.MonthKey]*entry
	center    calendar.MonthKey
	hasCenter bool
	accessSeq uint64

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	coalesced atomic.Uint64

	metrics CacheMetrics
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics attaches a metrics sink.
func WithMetrics(m CacheMetrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock overrides the clock used for LastAccess timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty Store. It fails if cfg cannot guarantee the bound.
func New(cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		cfg:     cfg,
		entries: make(map[calendar.MonthKey]*entry, cfg.MaxSize),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the store configuration.
func (s *Store) Config() Config {
	return s.cfg
}

// touch marks e as the most recently accessed entry. Caller must hold s.mu.
func (s *Store) touch(e *entry) {
	s.accessSeq++
	e.accessSeq = s.accessSeq
	e.block.LastAccess = s.now()
}

// distanceTo returns the distance hint for key. Caller must hold s.mu.
func (s *Store) distanceTo(key calendar.MonthKey) int {
	if !s.hasCenter {
		return 0
	}
	return key.Distance(s.center)
}

// ============================================================================
// Lookup
// ============================================================================

// Get returns a snapshot of the month and refreshes its recency.
//
// A resident Loaded or Loading month counts as a hit. An absent month, or a
// resident Error or Stale month (both need a new computation), counts as a
// miss. The boolean reports residency, not hit/miss.
func (s *Store) Get(key calendar.MonthKey) (calendar.MonthBlock, bool) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		s.recordLookup(false)
		return calendar.MonthBlock{}, false
	}
	s.touch(e)
	block := e.block.Clone()
	s.mu.Unlock()

	s.recordLookup(!block.State.NeedsComputation())
	return block, true
}

func (s *Store) recordLookup(hit bool) {
	if hit {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
	}
	if s.metrics != nil {
		s.metrics.ObserveLookup(hit)
	}
}

// Peek returns a snapshot of the month without touching recency or counters.
func (s *Store) Peek(key calendar.MonthKey) (calendar.MonthBlock, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return calendar.MonthBlock{}, false
	}
	return e.block.Clone(), true
}

// State returns the state of the month, or NotRequested if it is not resident.
func (s *Store) State(key calendar.MonthKey) calendar.DataState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		return e.block.State
	}
	return calendar.StateNotRequested
}

// ============================================================================
// Mutation
// ============================================================================

// Put inserts or replaces a month and returns the months evicted to make
// room. The stored DistanceHint is recomputed from the current center.
func (s *Store) Put(block calendar.MonthBlock) []calendar.MonthKey {
	s.mu.Lock()
	defer s.mu.Unlock()

	block = block.Clone()
	block.DistanceHint = s.distanceTo(block.Key)

	if e, ok := s.entries[block.Key]; ok {
		e.block = block
		e.staleOnComplete = false
		s.touch(e)
		return nil
	}

	var evicted []calendar.MonthKey
	for len(s.entries) >= s.cfg.MaxSize {
		victim, ok := s.evictOne()
		if !ok {
			break
		}
		evicted = append(evicted, victim)
	}

	e := &entry{block: block}
	s.touch(e)
	s.entries[block.Key] = e

	evicted = append(evicted, s.enforceBound()...)
	s.recordSize()
	return evicted
}

// Complete stores a computation result for a month that is still resident.
//
// Results for months that were evicted (and not requested again) are
// discarded and ok is false. A month invalidated while Loading is stored as
// Stale. Recency is not refreshed: completion is not an access.
func (s *Store) Complete(block calendar.MonthBlock) (stored calendar.MonthBlock, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[block.Key]
	if !ok {
		return calendar.MonthBlock{}, false
	}

	block = block.Clone()
	block.LastAccess = e.block.LastAccess
	block.DistanceHint = e.block.DistanceHint
	if e.staleOnComplete && block.State == calendar.StateLoaded {
		block.State = calendar.StateStale
	}
	e.block = block
	e.staleOnComplete = false
	return block.Clone(), true
}

// Abandon rolls back a Loading placeholder whose computation will never
// deliver (cancelled before it started). A placeholder carrying previous
// days reverts to Stale; an empty one is removed. Other states are left
// untouched. It returns the resulting state.
func (s *Store) Abandon(key calendar.MonthKey) calendar.DataState {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return calendar.StateNotRequested
	}
	if e.block.State != calendar.StateLoading {
		return e.block.State
	}
	if len(e.block.Days) == 0 {
		delete(s.entries, key)
		s.recordSize()
		return calendar.StateNotRequested
	}
	e.block.State = calendar.StateStale
	e.staleOnComplete = false
	return calendar.StateStale
}

// Remove evicts a month explicitly. It reports whether the month was resident.
func (s *Store) Remove(key calendar.MonthKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	s.recordSize()
	return true
}

// MarkStale invalidates a month and returns the state it ended up in:
//   - Loaded becomes Stale and keeps its days;
//   - Error is removed (NotRequested);
//   - Loading stays Loading and its result will be stored as Stale;
//   - Stale and absent months are unchanged.
func (s *Store) MarkStale(key calendar.MonthKey) calendar.DataState {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return calendar.StateNotRequested
	}
	state := s.markStaleLocked(e)
	s.recordSize()
	return state
}

// MarkAllStale invalidates every resident month and returns the resulting
// state of each, ordered by month.
func (s *Store) MarkAllStale() []Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	changes := make([]Change, 0, len(s.entries))
	for key, e := range s.entries {
		changes = append(changes, Change{Key: key, State: s.markStaleLocked(e)})
	}
	s.recordSize()

	sort.Slice(changes, func(i, j int) bool { return changes[i].Key.Before(changes[j].Key) })
	return changes
}

// markStaleLocked applies invalidation to e. Caller must hold s.mu.
func (s *Store) markStaleLocked(e *entry) calendar.DataState {
	switch e.block.State {
	case calendar.StateLoaded:
		e.block.State = calendar.StateStale
	case calendar.StateError:
		delete(s.entries, e.block.Key)
		return calendar.StateNotRequested
	case calendar.StateLoading:
		e.staleOnComplete = true
	}
	return e.block.State
}

// UpdateDistanceHints records center as the viewport center and recomputes
// every resident month's distance hint. O(size).
func (s *Store) UpdateDistanceHints(center calendar.MonthKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.center = center
	s.hasCenter = true
	for key, e := range s.entries {
		e.block.DistanceHint = key.Distance(center)
	}
}

// Center returns the last recorded viewport center.
func (s *Store) Center() (calendar.MonthKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.center, s.hasCenter
}

// Clear removes every month. Counters are preserved.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.entries)
	s.recordSize()
}

// ============================================================================
// Introspection
// ============================================================================

// Len returns the number of resident months.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Keys returns the resident months in calendar order.
func (s *Store) Keys() []calendar.MonthKey {
	s.mu.Lock()
	keys := make([]calendar.MonthKey, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
	return keys
}

// Entries returns snapshots of every resident month in calendar order.
func (s *Store) Entries() []calendar.MonthBlock {
	s.mu.Lock()
	blocks := make([]calendar.MonthBlock, 0, len(s.entries))
	for _, e := range s.entries {
		blocks = append(blocks, e.block.Clone())
	}
	s.mu.Unlock()

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Key.Before(blocks[j].Key) })
	return blocks
}

// RecordCoalesced counts a request that joined an in-flight computation.
func (s *Store) RecordCoalesced() {
	s.coalesced.Add(1)
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Statistics {
	return Statistics{
		Hits:              s.hits.Load(),
		Misses:            s.misses.Load(),
		Evictions:         s.evictions.Load(),
		InFlightCoalesced: s.coalesced.Load(),
		CurrentSize:       s.Len(),
		MaxSize:           s.cfg.MaxSize,
	}
}

// String implements fmt.Stringer for debug logging.
func (s Statistics) String() string {
	return fmt.Sprintf("size=%d/%d hits=%d misses=%d evictions=%d coalesced=%d",
		s.CurrentSize, s.MaxSize, s.Hits, s.Misses, s.Evictions, s.InFlightCoalesced)
}

// recordSize reports the current size. Caller must hold s.mu.
func (s *Store) recordSize() {
	if s.metrics != nil {
		s.metrics.RecordSize(len(s.entries))
	}
}

func logEviction(key calendar.MonthKey, distance int, score int64, size int) {
	logger.Debug("cache eviction",
		logger.KeyEvicted, key.String(),
		logger.KeyDistance, distance,
		logger.KeyScore, score,
		logger.KeyCacheSize, size,
	)
}

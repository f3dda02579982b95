package cache

import (
	"fmt"
	"sort"

	"github.com/marmos91/calcache/internal/logger"
	"github.com/marmos91/calcache/pkg/calendar"
)

// ============================================================================
// Distance-weighted LRU Eviction
// ============================================================================
//
// Distance from the viewport center dominates; recency breaks ties between
// months at the same distance. Config.Validate guarantees the dominance
// (DistanceWeight > RecencyWeight*MaxSize) and that a full store always holds
// at least one month outside the pinned window.

type candidate struct {
	e      *entry
	pinned bool
	score  int64
}

// rankCandidates scores every resident month. Caller must hold s.mu.
func (s *Store) rankCandidates() []candidate {
	cands := make([]candidate, 0, len(s.entries))
	for _, e := range s.entries {
		cands = append(cands, candidate{e: e})
	}

	// Recency rank 0 is the least recently accessed entry.
	sort.Slice(cands, func(i, j int) bool {
		return cands[i].e.accessSeq < cands[j].e.accessSeq
	})
	for rank := range cands {
		c := &cands[rank]
		c.pinned = s.hasCenter && c.e.block.Key.Distance(s.center) <= s.cfg.PinRadius
		c.score = int64(c.e.block.DistanceHint)*s.cfg.DistanceWeight - int64(rank)*s.cfg.RecencyWeight
	}
	return cands
}

// pickVictim returns the evictable month with the highest score. Ties go to
// the least recently accessed month. When every month is pinned (only
// possible if the bound is already broken) pins are ignored.
func pickVictim(cands []candidate) (candidate, bool) {
	best, found := candidate{}, false
	for _, ignorePins := range []bool{false, true} {
		for _, c := range cands {
			if c.pinned && !ignorePins {
				continue
			}
			if !found || c.score > best.score {
				best, found = c, true
			}
		}
		if found {
			return best, true
		}
	}
	return best, false
}

// evictOne removes the best victim. Caller must hold s.mu.
func (s *Store) evictOne() (calendar.MonthKey, bool) {
	victim, ok := pickVictim(s.rankCandidates())
	if !ok {
		return calendar.MonthKey{}, false
	}

	key := victim.e.block.Key
	delete(s.entries, key)
	s.evictions.Add(1)
	if s.metrics != nil {
		s.metrics.RecordEviction(victim.e.block.DistanceHint)
	}
	logEviction(key, victim.e.block.DistanceHint, victim.score, len(s.entries))
	return key, true
}

// enforceBound repairs a capacity violation by evicting until the store is
// within MaxSize. It never fires while the eviction invariant holds.
// Caller must hold s.mu.
func (s *Store) enforceBound() []calendar.MonthKey {
	if len(s.entries) <= s.cfg.MaxSize {
		return nil
	}

	err := fmt.Errorf("%w: %d months resident, max %d", calendar.ErrCapacityViolation, len(s.entries), s.cfg.MaxSize)
	logger.Error("cache bound violated, evicting", logger.Err(err))

	var evicted []calendar.MonthKey
	for len(s.entries) > s.cfg.MaxSize {
		key, ok := s.evictOne()
		if !ok {
			break
		}
		evicted = append(evicted, key)
	}
	return evicted
}

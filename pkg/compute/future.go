package compute

import (
	"context"
	"sync"

	"github.com/marmos91/calcache/pkg/calendar"
)

// Future is the shared result of one month computation. Every caller that
// coalesced onto the same task receives the same Future.
type Future struct {
	key  calendar.MonthKey
	done chan struct{}
	once sync.Once

	block calendar.MonthBlock
	err   error
}

func newFuture(key calendar.MonthKey) *Future {
	return &Future{key: key, done: make(chan struct{})}
}

// Resolved returns a Future that is already complete with block.
// An Error block resolves with its Err.
func Resolved(block calendar.MonthBlock) *Future {
	f := newFuture(block.Key)
	f.resolve(block, blockErr(block))
	return f
}

// Failed returns a Future that is already complete with err and no data.
func Failed(key calendar.MonthKey, err error) *Future {
	f := newFuture(key)
	f.resolve(calendar.MonthBlock{Key: key, State: calendar.StateNotRequested}, err)
	return f
}

func blockErr(block calendar.MonthBlock) error {
	if block.State == calendar.StateError {
		return block.Err
	}
	return nil
}

// resolve completes the future. Only the first call has an effect.
func (f *Future) resolve(block calendar.MonthBlock, err error) {
	f.once.Do(func() {
		f.block = block
		f.err = err
		close(f.done)
	})
}

// Key returns the month this future computes.
func (f *Future) Key() calendar.MonthKey {
	return f.key
}

// Done returns a channel closed when the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx is done.
//
// A failed computation returns its Error block together with the
// *calendar.ComputationError. A cancelled or shut-down request returns
// calendar.ErrCancelled or calendar.ErrClosed with a NotRequested block.
func (f *Future) Wait(ctx context.Context) (calendar.MonthBlock, error) {
	select {
	case <-f.done:
		return f.block.Clone(), f.err
	case <-ctx.Done():
		return calendar.MonthBlock{Key: f.key, State: calendar.StateLoading}, ctx.Err()
	}
}

// Result returns the block without blocking. ok is false while pending.
func (f *Future) Result() (block calendar.MonthBlock, ok bool) {
	select {
	case <-f.done:
		return f.block.Clone(), true
	default:
		return calendar.MonthBlock{}, false
	}
}

// Err returns the resolution error, or nil while pending or on success.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

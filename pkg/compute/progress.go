package compute

import (
	"context"
	"sync/atomic"

	"github.com/marmos91/calcache/pkg/calendar"
)

type progressKey struct{}

// progressReporter forwards progress for one task until the task finishes.
type progressReporter struct {
	key      calendar.MonthKey
	last     atomic.Int32
	finished atomic.Bool
	hook     func(calendar.MonthKey, int)
}

func withProgress(ctx context.Context, r *progressReporter) context.Context {
	return context.WithValue(ctx, progressKey{}, r)
}

// ReportProgress reports completion percent (clamped to 0..100) for the
// month being computed in ctx. Reports that do not advance the percentage,
// and reports made after the task finished or timed out, are ignored. It is
// a no-op outside a dispatcher computation.
func ReportProgress(ctx context.Context, percent int) {
	r, ok := ctx.Value(progressKey{}).(*progressReporter)
	if !ok || r == nil || r.hook == nil || r.finished.Load() {
		return
	}
	percent = min(max(percent, 0), 100)
	for {
		last := r.last.Load()
		if int32(percent) <= last {
			return
		}
		if r.last.CompareAndSwap(last, int32(percent)) {
			break
		}
	}
	r.hook(r.key, percent)
}

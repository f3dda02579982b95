package compute

import (
	"container/heap"
	"sort"

	"github.com/marmos91/calcache/pkg/calendar"
)

// task is one scheduled computation. It lives in the in-flight map from
// submission until it finishes, and in the queue until a worker takes it.
type task struct {
	key      calendar.MonthKey
	priority int
	kind     RequestKind
	seq      uint64
	future   *Future

	// index is the heap position, or -1 once the task left the queue.
	index int

	// deferred is set while the task waits for an abandoned computation of
	// the same month to return. A deferred task is never in the queue.
	deferred bool

	// cancelRequested is set by Cancel on an executing task. The result is
	// still delivered and cached.
	cancelRequested bool
}

func (t *task) queued() bool {
	return t.index >= 0
}

// before reports whether a runs before b: lower priority value first, then
// demand before prefetch, then submission order.
func before(a, b *task) bool {
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	if a.kind != b.kind {
		return a.kind < b.kind
	}
	return a.seq < b.seq
}

// taskQueue implements heap.Interface over pending tasks.
type taskQueue []*task

func (q taskQueue) Len() int           { return len(q) }
func (q taskQueue) Less(i, j int) bool { return before(q[i], q[j]) }

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*task)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}

func (q *taskQueue) push(t *task) {
	heap.Push(q, t)
}

func (q *taskQueue) pop() *task {
	return heap.Pop(q).(*task)
}

func (q *taskQueue) remove(t *task) {
	heap.Remove(q, t.index)
	t.index = -1
}

func (q *taskQueue) fix(t *task) {
	heap.Fix(q, t.index)
}

// filter removes and returns every task for which drop reports true.
func (q *taskQueue) filter(drop func(*task) bool) []*task {
	var removed []*task
	kept := (*q)[:0]
	for _, t := range *q {
		if drop(t) {
			t.index = -1
			removed = append(removed, t)
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(*q); i++ {
		(*q)[i] = nil
	}
	*q = kept
	q.reindex()
	return removed
}

// reindex restores heap order after priorities changed in place.
func (q *taskQueue) reindex() {
	for i, t := range *q {
		t.index = i
	}
	heap.Init(q)
}

// ordered returns the queued tasks in the order workers would take them.
func (q taskQueue) ordered() []*task {
	out := make([]*task, len(q))
	copy(out, q)
	sort.Slice(out, func(i, j int) bool { return before(out[i], out[j]) })
	return out
}

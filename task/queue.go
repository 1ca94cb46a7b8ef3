package task

import (
	"container/heap"
	"sort"
)

// Queue is a multi-bucket priority structure: one sorted bucket per
// distinct priority value, plus a min-heap over the set of occupied
// priorities. Bucketing keeps Remove (by identity) and depth-aware
// peeking cheap without forcing every push/pop through a full
// comparison-based heap over the whole membership.
//
// Within a bucket, tasks are kept sorted by creation order (Task.Less
// already orders by priority first, but members of one bucket share a
// priority, so the ordering collapses to creation order — the
// deterministic tie-break).
type Queue struct {
	buckets    map[int][]Task
	priorities *intHeap
	index      map[string]bool // membership by Task.ID(), for O(1) has-tasks checks
}

// NewQueue creates an empty priority task queue.
func NewQueue() *Queue {
	h := &intHeap{}
	heap.Init(h)
	return &Queue{
		buckets:    make(map[int][]Task),
		priorities: h,
		index:      make(map[string]bool),
	}
}

// Push inserts a task: O(log n) heap work in the number of distinct
// priorities, plus a re-sort of the task's priority bucket.
func (q *Queue) Push(t Task) {
	p := t.Priority()
	if _, ok := q.buckets[p]; !ok {
		heap.Push(q.priorities, p)
	}
	bucket := append(q.buckets[p], t)
	sort.SliceStable(bucket, func(i, j int) bool { return bucket[i].ID() < bucket[j].ID() })
	q.buckets[p] = bucket
	q.index[t.ID()] = true
}

// Pop removes and returns the task with the lowest priority, breaking ties
// by creation order. Behaviour is undefined (panics) if the queue is
// empty — callers must check Len()/HasTasksWithinDepth first.
func (q *Queue) Pop() Task {
	if q.priorities.Len() == 0 {
		panic("task: Pop called on empty queue")
	}
	top := (*q.priorities)[0]
	bucket := q.buckets[top]
	t := bucket[0]
	bucket = bucket[1:]
	if len(bucket) == 0 {
		delete(q.buckets, top)
		heap.Pop(q.priorities)
	} else {
		q.buckets[top] = bucket
	}
	delete(q.index, t.ID())
	return t
}

// Len returns the total number of queued tasks.
func (q *Queue) Len() int {
	return len(q.index)
}

// HasTasksWithinDepth reports whether any queued task has depth <=
// maxDepth. A nil maxDepth means "no limit": true iff the queue is
// non-empty.
func (q *Queue) HasTasksWithinDepth(maxDepth *int) bool {
	if maxDepth == nil {
		return q.Len() > 0
	}
	for _, bucket := range q.buckets {
		for _, t := range bucket {
			if t.Depth() <= *maxDepth {
				return true
			}
		}
	}
	return false
}

// AllTasks returns a snapshot of current membership keyed by Task.ID().
func (q *Queue) AllTasks() map[string]Task {
	out := make(map[string]Task, q.Len())
	for _, bucket := range q.buckets {
		for _, t := range bucket {
			out[t.ID()] = t
		}
	}
	return out
}

// Remove deletes a specific task by identity; a no-op if absent.
func (q *Queue) Remove(t Task) {
	p := t.Priority()
	bucket, ok := q.buckets[p]
	if !ok {
		return
	}
	for i, cur := range bucket {
		if cur.ID() == t.ID() {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(q.buckets, p)
		q.priorities.removeValue(p)
	} else {
		q.buckets[p] = bucket
	}
	delete(q.index, t.ID())
}

// intHeap is a standard container/heap min-heap of int priorities.
type intHeap []int

func (h intHeap) Len() int            { return len(h) }
func (h intHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h intHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *intHeap) Push(x interface{}) { *h = append(*h, x.(int)) }
func (h *intHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// removeValue removes one occurrence of v from the heap, re-establishing
// the heap invariant. Used when a priority bucket empties out due to
// Remove rather than Pop.
func (h *intHeap) removeValue(v int) {
	for i, x := range *h {
		if x == v {
			heap.Remove(h, i)
			return
		}
	}
}

package alarm

import (
	"container/heap"
	"sync"

	"github.com/edgevision/aibox/internal/model"
)

// entry is one heap slot: priority desc, enqueueOrder asc on ties.
type entry struct {
	payload model.AlarmPayload
	index   int
}

type priorityHeap []*entry

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].payload.Priority != h[j].payload.Priority {
		return h[i].payload.Priority > h[j].payload.Priority
	}
	return h[i].payload.EnqueueOrder() < h[j].payload.EnqueueOrder()
}
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *priorityHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Queue is the bounded alarm priority queue of spec.md §4.12: on overflow
// past MaxSize, the lowest-priority entry is evicted (oldest on ties).
type Queue struct {
	mu      sync.Mutex
	heap    priorityHeap
	maxSize int
	nextSeq uint64
	notify  chan struct{}
}

// NewQueue returns a Queue bounded to maxSize entries.
func NewQueue(maxSize int) *Queue {
	q := &Queue{maxSize: maxSize, notify: make(chan struct{}, 1)}
	heap.Init(&q.heap)
	return q
}

// Enqueue stamps payload with the next enqueue order and inserts it,
// evicting the lowest-priority (oldest-on-tie) entry if the queue is full.
func (q *Queue) Enqueue(payload model.AlarmPayload) model.AlarmPayload {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextSeq++
	payload = payload.WithEnqueueOrder(q.nextSeq)
	heap.Push(&q.heap, &entry{payload: payload})

	if len(q.heap) > q.maxSize {
		q.evictLowestLocked()
	}

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return payload
}

// evictLowestLocked removes the worst entry (lowest priority, oldest on
// ties) — the heap's max-priority ordering makes this a linear scan, which
// is fine at MAX_QUEUE's bounded size.
func (q *Queue) evictLowestLocked() {
	worst := 0
	for i := 1; i < len(q.heap); i++ {
		if q.heap[i].payload.Priority < q.heap[worst].payload.Priority ||
			(q.heap[i].payload.Priority == q.heap[worst].payload.Priority &&
				q.heap[i].payload.EnqueueOrder() < q.heap[worst].payload.EnqueueOrder()) {
			worst = i
		}
	}
	heap.Remove(&q.heap, worst)
}

// Pop blocks on notify until an entry is available, then pops the
// highest-priority one. Returns false if stop is closed while waiting.
func (q *Queue) Pop(stop <-chan struct{}) (model.AlarmPayload, bool) {
	for {
		q.mu.Lock()
		if len(q.heap) > 0 {
			e := heap.Pop(&q.heap).(*entry)
			q.mu.Unlock()
			return e.payload, true
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-stop:
			return model.AlarmPayload{}, false
		}
	}
}

// Len returns the current queue length.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

package source

import "sync"

// Queue is a bounded FIFO of events that evicts the oldest entry when full.
// Push-based adapters buffer into it between polls.
type Queue struct {
	mu      sync.Mutex
	items   []Event
	limit   int
	dropped int
}

func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = 256
	}
	return &Queue{limit: limit}
}

// Push appends ev and reports whether an older event was evicted.
func (q *Queue) Push(ev Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.limit {
		q.items = q.items[1:]
		q.dropped++
		q.items = append(q.items, ev)
		return true
	}
	q.items = append(q.items, ev)
	return false
}

// Drain returns the buffered events in arrival order and the number evicted since
// the previous Drain.
func (q *Queue) Drain() ([]Event, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out, dropped := q.items, q.dropped
	q.items, q.dropped = nil, 0
	return out, dropped
}

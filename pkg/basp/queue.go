package basp

import "sync"

// MessageQueue restores the order of deliveries that complete out of order.
//
// The owning goroutine reserves an id with NewID before any asynchronous
// work starts. Whoever finishes the work calls Push (or Drop on failure).
// Deliveries run strictly in id order, one at a time.
type MessageQueue struct {
	mu       sync.Mutex
	nextID   uint64
	next     uint64 // next id to deliver
	pending  map[uint64]func()
	draining bool
}

// NewMessageQueue returns an empty queue.
func NewMessageQueue() *MessageQueue {
	return &MessageQueue{pending: make(map[uint64]func())}
}

// NewID reserves the next delivery slot.
func (q *MessageQueue) NewID() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextID
	q.nextID++
	return id
}

// Push schedules fn for slot id.
func (q *MessageQueue) Push(id uint64, fn func()) {
	q.complete(id, fn)
}

// Drop releases slot id without delivering anything.
func (q *MessageQueue) Drop(id uint64) {
	q.complete(id, nil)
}

// Pending returns the number of completed slots waiting on an earlier one.
func (q *MessageQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *MessageQueue) complete(id uint64, fn func()) {
	q.mu.Lock()
	if id < q.next {
		q.mu.Unlock()
		return
	}
	if fn == nil {
		fn = func() {}
	}
	q.pending[id] = fn
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	for {
		f, ok := q.pending[q.next]
		if !ok {
			break
		}
		delete(q.pending, q.next)
		q.next++
		q.mu.Unlock()
		f()
		q.mu.Lock()
	}
	q.draining = false
	q.mu.Unlock()
}

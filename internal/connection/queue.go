package connection

import "sync"

// Queue is the ordered, unbounded inbound message queue between the receive
// pump and the router. It is a growable ring: Push never blocks and never
// drops, Pop blocks until an item arrives or the queue is closed.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf    []RawMessage
	head   int
	tail   int
	count  int
	closed bool

	pushed int64
	popped int64
}

// NewQueue creates a queue with the given initial capacity.
func NewQueue(initialCapacity int) *Queue {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	q := &Queue{buf: make([]RawMessage, initialCapacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends a message, growing the ring when full.
// Returns false once the queue is closed.
func (q *Queue) Push(msg RawMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if q.count == len(q.buf) {
		q.grow()
	}

	q.buf[q.tail] = msg
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++
	q.pushed++

	q.cond.Signal()
	return true
}

// Pop removes the oldest message, blocking until one is available.
// The second return is false when the queue is closed and drained.
func (q *Queue) Pop() (RawMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}

	if q.count == 0 {
		return RawMessage{}, false
	}
	return q.popLocked(), true
}

// TryPop removes the oldest message without blocking.
func (q *Queue) TryPop() (RawMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return RawMessage{}, false
	}
	return q.popLocked(), true
}

func (q *Queue) popLocked() RawMessage {
	msg := q.buf[q.head]
	q.buf[q.head] = RawMessage{}
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	q.popped++
	return msg
}

// Close stops the queue. Pending items remain poppable; Push is rejected.
// Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// grow doubles capacity, unwrapping the ring. Caller holds the lock.
func (q *Queue) grow() {
	next := make([]RawMessage, len(q.buf)*2)
	if q.head < q.tail || q.count == 0 {
		copy(next, q.buf[q.head:q.head+q.count])
	} else {
		n := copy(next, q.buf[q.head:])
		copy(next[n:], q.buf[:q.tail])
	}
	q.buf = next
	q.head = 0
	q.tail = q.count
}

package pipeline

import "sync"

// Queue is an unbounded FIFO of frames shared by one producer and one
// consumer. Push never blocks.
type Queue struct {
	mu    sync.Mutex
	items []Frame
	head  int
	ready chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push appends f and wakes a waiting consumer.
func (q *Queue) Push(f Frame) {
	q.mu.Lock()
	q.items = append(q.items, f)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Pop removes the oldest frame. ok is false when the queue is empty.
func (q *Queue) Pop() (f Frame, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == len(q.items) {
		return Frame{}, false
	}
	f = q.items[q.head]
	q.items[q.head] = Frame{}
	q.head++

	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head > 1024 && q.head*2 > len(q.items):
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return f, true
}

// Len reports the number of queued frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Ready receives a value after at least one Push since the last receive.
func (q *Queue) Ready() <-chan struct{} { return q.ready }

// ABOUTME: Unbounded single-consumer FIFO queue with a pump goroutine
// ABOUTME: Push never blocks; the consumer reads from C() until Close

package pubsub

import "sync"

// Queue is an unbounded, ordered queue with exactly one consumer.
// Producers call Push from any goroutine; the consumer ranges over C().
type Queue[T any] struct {
	mu      sync.Mutex
	pending []T
	closed  bool

	wake chan struct{}
	done chan struct{}
	out  chan T
	once sync.Once
}

// NewQueue creates a queue and starts its pump.
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan T),
	}
	go q.pump()
	return q
}

// Push appends v. Returns false if the queue is closed, in which case v is dropped.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, v)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// C returns the delivery channel. It is closed after Close once the pump exits.
func (q *Queue[T]) C() <-chan T {
	return q.out
}

// Len reports the number of items not yet handed to the consumer.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close drops pending items and stops delivery. Safe to call more than once.
func (q *Queue[T]) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.pending = nil
		q.mu.Unlock()
		close(q.done)
	})
}

// pump moves items from pending to out one at a time, preserving order.
func (q *Queue[T]) pump() {
	defer close(q.out)

	for {
		v, ok := q.next()
		if !ok {
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			}
		}

		select {
		case q.out <- v:
		case <-q.done:
			return
		}
	}
}

// next pops the head of pending. ok is false when nothing is queued or the queue is closed.
func (q *Queue[T]) next() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.pending) == 0 {
		return v, false
	}
	v = q.pending[0]
	var zero T
	q.pending[0] = zero
	q.pending = q.pending[1:]
	return v, true
}

package containers

import "errors"

var (
	ErrQueueEmpty = errors.New("queue is empty")
	ErrQueueFull  = errors.New("queue is full")
)

// RingQueue is a fixed-capacity FIFO over a circular buffer. Not safe
// for concurrent use, callers bring their own locking.
type RingQueue[T any] struct {
	data  []T
	read  int
	write int
	count int
}

func NewRingQueue[T any](capacity int) *RingQueue[T] {
	return &RingQueue[T]{data: make([]T, capacity)}
}

func (q *RingQueue[T]) Enqueue(value T) error {
	if q.IsFull() {
		return ErrQueueFull
	}
	q.data[q.write] = value
	q.write = (q.write + 1) % len(q.data)
	q.count++
	return nil
}

func (q *RingQueue[T]) Dequeue() (T, error) {
	var zero T
	if q.IsEmpty() {
		return zero, ErrQueueEmpty
	}
	value := q.data[q.read]
	q.data[q.read] = zero
	q.read = (q.read + 1) % len(q.data)
	q.count--
	return value, nil
}

// Peek returns the front element without removing it.
func (q *RingQueue[T]) Peek() (T, error) {
	if q.IsEmpty() {
		var zero T
		return zero, ErrQueueEmpty
	}
	return q.data[q.read], nil
}

func (q *RingQueue[T]) IsEmpty() bool { return q.count == 0 }

func (q *RingQueue[T]) IsFull() bool { return q.count == len(q.data) }

func (q *RingQueue[T]) Len() int { return q.count }

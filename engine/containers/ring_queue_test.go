package containers

import (
	"errors"
	"testing"
)

func TestRingQueueWrapAround(t *testing.T) {
	rq := NewRingQueue[int](3)

	for i := 0; i < 3; i++ {
		if err := rq.Enqueue(i); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if err := rq.Enqueue(99); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("enqueue on a full queue: %v", err)
	}

	if v, _ := rq.Dequeue(); v != 0 {
		t.Fatalf("dequeued %v, want 0", v)
	}
	if err := rq.Enqueue(3); err != nil {
		t.Fatalf("enqueue after dequeue: %v", err)
	}

	for want := 1; want <= 3; want++ {
		v, err := rq.Dequeue()
		if err != nil || v != want {
			t.Fatalf("dequeued %v (%v), want %d", v, err, want)
		}
	}
	if !rq.IsEmpty() {
		t.Fatalf("queue should be empty")
	}
	if _, err := rq.Dequeue(); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("dequeue on an empty queue: %v", err)
	}
}

func TestRingQueuePeek(t *testing.T) {
	rq := NewRingQueue[string](2)
	rq.Enqueue("front")
	rq.Enqueue("back")

	if v, _ := rq.Peek(); v != "front" {
		t.Fatalf("peeked %v", v)
	}
	if v, _ := rq.Peek(); v != "front" {
		t.Fatalf("peek must not consume, got %v", v)
	}
	if rq.Len() != 2 {
		t.Fatalf("len after peek = %d, want 2", rq.Len())
	}
	if v, _ := rq.Dequeue(); v != "front" {
		t.Fatalf("dequeued %v", v)
	}
}

package containers

import "testing"

func TestRingQueueFIFO(t *testing.T) {
	q := NewRingQueue[int](3)
	for i := 1; i <= 3; i++ {
		if err := q.Enqueue(i); err != nil {
			t.Fatalf("Enqueue(%d) failed: %v", i, err)
		}
	}
	if err := q.Enqueue(4); err != ErrQueueFull {
		t.Errorf("Enqueue on full queue = %v, want %v", err, ErrQueueFull)
	}
	for want := 1; want <= 3; want++ {
		got, err := q.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if got != want {
			t.Errorf("Dequeue() = %d, want %d", got, want)
		}
	}
	if _, err := q.Dequeue(); err != ErrQueueEmpty {
		t.Errorf("Dequeue on empty queue = %v, want %v", err, ErrQueueEmpty)
	}
}

func TestRingQueuePushOverwritesOldest(t *testing.T) {
	q := NewRingQueue[float64](2)
	q.Push(1)
	q.Push(2)
	q.Push(3)

	var got []float64
	q.Each(func(v float64) { got = append(got, v) })
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("Each visited %v, want [2 3]", got)
	}
	if front, _ := q.Peek(); front != 2 {
		t.Errorf("Peek() = %v, want 2", front)
	}
}

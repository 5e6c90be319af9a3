// Package queue provides the FIFO containers used by the driver.
package queue

// Bounded is a FIFO queue holding at most a fixed number of items.
// Enqueuing into a full queue evicts the oldest item.
//
// Bounded is not goroutine-safe.
type Bounded[T any] struct {
	items []T
	limit int
}

// NewBounded creates a Bounded queue that keeps at most limit items.
// A limit below 1 is treated as 1.
func NewBounded[T any](limit int) *Bounded[T] {
	if limit < 1 {
		limit = 1
	}

	return &Bounded[T]{items: make([]T, 0, limit), limit: limit}
}

// Enqueue adds an item to the tail of the queue and reports whether an
// older item was evicted to make room for it.
func (q *Bounded[T]) Enqueue(item T) bool {
	evicted := false
	if len(q.items) == q.limit {
		copy(q.items, q.items[1:])
		q.items = q.items[:len(q.items)-1]
		evicted = true
	}
	q.items = append(q.items, item)

	return evicted
}

// Dequeue removes and returns the item at the head of the queue.
func (q *Bounded[T]) Dequeue() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	copy(q.items, q.items[1:])
	q.items[len(q.items)-1] = zero
	q.items = q.items[:len(q.items)-1]

	return item, true
}

// Peek returns the item at the head of the queue without removing it.
func (q *Bounded[T]) Peek() (T, bool) {
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}

	return q.items[0], true
}

// Items returns a copy of the queued items, oldest first.
func (q *Bounded[T]) Items() []T {
	out := make([]T, len(q.items))
	copy(out, q.items)

	return out
}

// Reset empties the queue, reusing the underlying array.
func (q *Bounded[T]) Reset() {
	clear(q.items)
	q.items = q.items[:0]
}

// IsEmpty returns true if the queue is empty.
func (q *Bounded[T]) IsEmpty() bool {
	return len(q.items) == 0
}

// Length returns the number of items in the queue.
func (q *Bounded[T]) Length() int {
	return len(q.items)
}

// Limit returns the maximum number of items kept.
func (q *Bounded[T]) Limit() int {
	return q.limit
}

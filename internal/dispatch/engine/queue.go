package engine

// queue is a FIFO owned by a single run.
type queue[T any] struct {
	items []T
	head  int
}

func (q *queue[T]) push(items ...T) {
	q.items = append(q.items, items...)
}

func (q *queue[T]) pop() (T, bool) {
	var zero T
	if q.head >= len(q.items) {
		return zero, false
	}
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return item, true
}

func (q *queue[T]) len() int {
	return len(q.items) - q.head
}

// pending copies the items not yet popped.
func (q *queue[T]) pending() []T {
	if q.len() == 0 {
		return nil
	}
	return append([]T(nil), q.items[q.head:]...)
}

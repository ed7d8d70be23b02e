// Package queue holds rows waiting for a batched database write.
package queue

import "sync"

// Queue is a mutex-guarded FIFO. Producers Push, a single writer takes
// batches with PopN and puts a failed batch back with Requeue.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
}

func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

func (q *Queue[T]) Push(items ...T) {
	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// PopN takes up to n items from the front. It returns nil when n <= 0 or
// the queue is empty.
func (q *Queue[T]) PopN(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	n = min(n, len(q.items))
	if n <= 0 {
		return nil
	}
	batch := make([]T, n)
	copy(batch, q.items)
	q.items = q.items[n:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return batch
}

// Requeue puts a batch back ahead of anything pushed since it was taken,
// keeping row order intact across a failed write.
func (q *Queue[T]) Requeue(items ...T) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(append(make([]T, 0, len(items)+len(q.items)), items...), q.items...)
	q.mu.Unlock()
}

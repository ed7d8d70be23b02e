package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPopN(t *testing.T) {
	q := New[int]()
	assert.Nil(t, q.PopN(3))

	q.Push(1, 2, 3, 4, 5)
	assert.Equal(t, []int{1, 2}, q.PopN(2))
	assert.Nil(t, q.PopN(0))
	assert.Nil(t, q.PopN(-1))
	assert.Equal(t, []int{3, 4, 5}, q.PopN(10))
	assert.Equal(t, 0, q.Len())
}

func TestPopN_BatchIsACopy(t *testing.T) {
	q := New[int]()
	q.Push(1, 2, 3)
	batch := q.PopN(2)
	batch[0] = 99

	q.Requeue(batch...)
	assert.Equal(t, []int{99, 2, 3}, q.PopN(3))
}

func TestRequeue_KeepsOrderAheadOfNewItems(t *testing.T) {
	q := New[string]()
	q.Push("a", "b", "c")

	batch := q.PopN(2)
	q.Push("d")
	q.Requeue(batch...)
	q.Requeue()

	assert.Equal(t, 4, q.Len())
	assert.Equal(t, []string{"a", "b", "c", "d"}, q.PopN(4))
}

func TestConcurrentProducers(t *testing.T) {
	q := New[int]()

	var wg sync.WaitGroup
	for p := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				q.Push(p*100 + i)
			}
		}()
	}

	var got []int
	done := make(chan struct{})
	go func() {
		defer close(done)
		for len(got) < 800 {
			got = append(got, q.PopN(64)...)
		}
	}()

	wg.Wait()
	<-done
	require.Len(t, got, 800)

	seen := make(map[int]bool, 800)
	for _, v := range got {
		seen[v] = true
	}
	assert.Len(t, seen, 800)
}

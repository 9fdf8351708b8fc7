package queue

import (
	"sync"

	"github.com/golang-collections/collections/queue"
)

// Queue is the FIFO data structure
type Queue interface {
	// Add a element to the list tail, return false if list is full or closed
	Add(v interface{}) bool
	// Pop retrieve the element at list head without blocking
	Pop() (interface{}, bool)
	// Size return the count of elements in queue
	Size() int
	// Close the queue, later Add calls fail
	Close()
}

type blockQueue struct {
	mu     sync.Mutex
	list   *queue.Queue
	closed bool
	max    int
}

// NewBlockQueue construct a bounded queue, max is the maximum elements can add into queue.
func NewBlockQueue(max int) Queue {
	return &blockQueue{
		list: queue.New(),
		max:  max,
	}
}

func (q *blockQueue) Pop() (interface{}, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.list.Len() == 0 {
		return nil, false
	}

	return q.list.Dequeue(), true
}

// Add return true if add success, else return false.
func (q *blockQueue) Add(v interface{}) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed && q.list.Len() < q.max {
		q.list.Enqueue(v)
		return true
	}

	return false
}

func (q *blockQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.list.Len()
}

func (q *blockQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
}

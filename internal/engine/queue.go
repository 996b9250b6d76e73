package engine

import (
	"context"
	"sync"
)

// Queue is the unbounded FIFO of queued instances shared by all producers
// (polling loop, scheduler generator, chaining workers) and all consumers
// (workers). Push never blocks, so a burst of file events can grow it
// arbitrarily before workers catch up; there is deliberately no
// backpressure.
type Queue struct {
	mu    sync.Mutex
	items []Instance

	// notify carries at most one token; any waiting consumer that wakes
	// drains until the queue is empty again.
	notify chan struct{}
}

func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

func (q *Queue) Push(in Instance) {
	q.mu.Lock()
	q.items = append(q.items, in)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes the oldest instance, suspending until one is available.
// It returns false only when ctx is cancelled.
func (q *Queue) Pop(ctx context.Context) (Instance, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			in := q.items[0]
			q.items[0] = Instance{}
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			q.mu.Unlock()
			return in, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Instance{}, false
		case <-q.notify:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

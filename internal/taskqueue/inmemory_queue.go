package taskqueue

import (
	"context"
	"fmt"
)

// DefaultCapacity bounds an InMemoryQueue created with a non-positive capacity.
const DefaultCapacity = 1024

// InMemoryQueue holds tasks in a buffered channel for a single process.
// Enqueue blocks while the queue is full. It is safe for concurrent use.
type InMemoryQueue struct {
	tasks chan Task
}

var _ Queue = (*InMemoryQueue)(nil)

// NewInMemoryQueue returns a queue that buffers up to capacity tasks.
func NewInMemoryQueue(capacity int) *InMemoryQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &InMemoryQueue{tasks: make(chan Task, capacity)}
}

// Enqueue stamps t and buffers it, waiting for room until ctx is done.
func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) error {
	if !t.Type.Known() {
		return fmt.Errorf("taskqueue: enqueue: unknown task type %q", t.Type)
	}
	stamp(&t)
	select {
	case q.tasks <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue returns the oldest buffered task, waiting until one arrives or ctx
// is done.
func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case t := <-q.tasks:
		return &t, nil
	}
}

// Len reports how many tasks are buffered.
func (q *InMemoryQueue) Len() int {
	return len(q.tasks)
}

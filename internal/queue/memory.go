package queue

import (
	"context"
	"fmt"

	"github.com/bull/docindex/internal/storage"
)

// MemoryQueue is an in-process queue backed by a buffered channel.
type MemoryQueue struct {
	ch chan string
}

// NewMemoryQueue creates a queue holding at most capacity undelivered ids.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{ch: make(chan string, capacity)}
}

// Enqueue blocks while the queue is full. If ctx ends first the publish is
// reported as a transient failure.
func (q *MemoryQueue) Enqueue(ctx context.Context, taskID string) error {
	select {
	case q.ch <- taskID:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue task %s: %w: %w", taskID, storage.ErrTransient, ctx.Err())
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	select {
	case id := <-q.ch:
		return &Delivery{TaskID: id}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of undelivered ids.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

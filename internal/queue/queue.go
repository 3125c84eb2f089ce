// Package queue carries indexing task ids from the coordinator to workers.
//
// Delivery is at-least-once: a task id may be delivered more than once, and
// consumers rely on the coordinator's idempotent reports to absorb duplicates.
package queue

import "context"

// Dispatcher publishes task ids for asynchronous execution.
type Dispatcher interface {
	// Enqueue publishes taskID. A returned error wraps storage.ErrTransient
	// when the failure is a transport problem worth retrying later.
	Enqueue(ctx context.Context, taskID string) error
}

// Consumer receives task ids published by a Dispatcher.
type Consumer interface {
	// Dequeue blocks until a task is available or ctx is done.
	Dequeue(ctx context.Context) (*Delivery, error)
}

// Delivery is one received task id. Ack must be called once the task has been
// reported so the entry is not redelivered. A delivery that is never acked is
// handed out again by queues that support recovery.
type Delivery struct {
	TaskID string
	ack    func(ctx context.Context) error
}

// NewDelivery wraps taskID with an acknowledgement callback. A nil ack makes
// Ack a no-op.
func NewDelivery(taskID string, ack func(ctx context.Context) error) *Delivery {
	return &Delivery{TaskID: taskID, ack: ack}
}

// Ack acknowledges the delivery.
func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

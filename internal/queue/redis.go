package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/bull/docindex/internal/storage"
)

const (
	// DefaultRedisQueue is the list task ids are pushed to.
	DefaultRedisQueue = "docindex:tasks"

	processingSuffix = ":processing"
	blockTimeout     = 5 * time.Second
	maxEnqueueTries  = 4
)

// RedisQueue is a reliable queue on Redis lists. Enqueue pushes to the shared
// pending list; Dequeue atomically moves an id to this consumer's processing
// list, and Ack removes it from there. Ids left in processing by a crashed or
// interrupted consumer are moved back by Recover when a consumer with the same
// id starts again. Each live consumer needs its own id; consumers sharing one
// would requeue each other's in-flight tasks.
type RedisQueue struct {
	client     *redis.Client
	pending    string
	processing string
	logger     *slog.Logger
}

// NewRedisQueue creates a queue on the named list. consumerID selects the
// processing list; an empty id uses a single shared one.
func NewRedisQueue(client *redis.Client, name, consumerID string, logger *slog.Logger) *RedisQueue {
	if name == "" {
		name = DefaultRedisQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	processing := name + processingSuffix
	if consumerID != "" {
		processing += ":" + consumerID
	}
	return &RedisQueue{
		client:     client,
		pending:    name,
		processing: processing,
		logger:     logger,
	}
}

// Enqueue pushes taskID, retrying transport errors with exponential backoff.
func (q *RedisQueue) Enqueue(ctx context.Context, taskID string) error {
	operation := func() error {
		return q.client.LPush(ctx, q.pending, taskID).Err()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	err := backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(b, maxEnqueueTries-1), ctx),
		func(err error, wait time.Duration) {
			q.logger.Warn("Enqueue failed, retrying", "task_id", taskID, "error", err, "wait", wait)
		})
	if err != nil {
		return fmt.Errorf("enqueue task %s: %w: %w", taskID, storage.ErrTransient, err)
	}
	return nil
}

// Dequeue blocks until an id is available, polling in blockTimeout slices so
// cancellation is observed promptly.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		id, err := q.client.BLMove(ctx, q.pending, q.processing, "RIGHT", "LEFT", blockTimeout).Result()
		switch {
		case err == nil:
			return &Delivery{TaskID: id, ack: q.ackFunc(id)}, nil
		case errors.Is(err, redis.Nil):
			continue
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			return nil, fmt.Errorf("dequeue: %w: %w", storage.ErrTransient, err)
		}
	}
}

func (q *RedisQueue) ackFunc(id string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := q.client.LRem(ctx, q.processing, 1, id).Err(); err != nil {
			return fmt.Errorf("ack task %s: %w", id, err)
		}
		return nil
	}
}

// Recover moves every id in this consumer's processing list back to pending
// and returns how many were moved. Call it before starting consumers.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := q.client.LMove(ctx, q.processing, q.pending, "RIGHT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, fmt.Errorf("recover: %w", err)
		}
		moved++
	}
	if moved > 0 {
		q.logger.Info("Recovered unacknowledged tasks", "count", moved, "queue", q.pending)
	}
	return moved, nil
}

// Ping checks the Redis connection.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

package taskqueue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue on a Redis list, so transports and workers can
// run in separate processes.
//
// It uses a single list with key:
//
//	<prefix>tasks
//
// Values are gob-encoded Task structs.
type RedisQueue struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// Ensure RedisQueue implements Queue.
var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue constructs a Redis-backed Queue. prefix defaults to "bellbot:".
func NewRedisQueue(client *redis.Client, prefix string, logger *slog.Logger) *RedisQueue {
	if prefix == "" {
		prefix = "bellbot:"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisQueue{
		client: client,
		key:    prefix + "tasks",
		logger: logger,
	}
}

// Enqueue pushes a task onto the list (LPUSH).
func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	stamp(&t)
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

// Dequeue blocks on BRPOP until a task is available or ctx is cancelled.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	// BRPop returns [key, value]
	res, err := q.client.BRPop(ctx, 0, q.key).Result()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("redis queue: unexpected BRPOP reply %q", res)
	}
	return DecodeTask([]byte(res[1]))
}

// Len returns the approximate number of tasks queued (LLEN).
func (q *RedisQueue) Len() int {
	n, err := q.client.LLen(context.Background(), q.key).Result()
	if err != nil {
		q.logger.Warn("redis_queue_len_failed", slog.Any("error", err))
		return 0
	}
	return int(n)
}

package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrQueueFull is returned by a bounded queue that cannot accept more work.
var ErrQueueFull = errors.New("job queue is full")

// Queue hands job ids from the API to workers.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	// Dequeue blocks until a job id is available or ctx ends.
	Dequeue(ctx context.Context) (string, error)
}

// MemoryQueue is a bounded in-process queue.
type MemoryQueue struct {
	ch chan string
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{ch: make(chan string, size)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, jobID string) error {
	select {
	case q.ch <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (string, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Len reports queued ids.
func (q *MemoryQueue) Len() int { return len(q.ch) }

// DefaultQueueKey is the redis list holding pending job ids.
const DefaultQueueKey = "ocrbase:jobs:queue"

const brpopTimeout = 2 * time.Second

// RedisQueue is a redis list shared by every API and worker process.
type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	if err := q.client.LPush(ctx, q.key, jobID).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		res, err := q.client.BRPop(ctx, brpopTimeout, q.key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", fmt.Errorf("dequeue job: %w", err)
		case len(res) == 2:
			return res[1], nil
		}
	}
}

// Len reports queued ids.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

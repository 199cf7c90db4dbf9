package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisQueue implements JobQueue using one Redis list per priority lane.
// Keys: <name>:<priority> => LPUSH JSON(MediaJob)
// BRPOP is given the lane keys in precedence order; Redis pops from the
// first non-empty key, which gives strict priority with FIFO inside a lane.
type RedisQueue struct {
	client      *redis.Client
	name        string
	maxLen      int
	pollTimeout time.Duration
	closed      atomic.Bool
	logger      zerolog.Logger
}

func NewRedisQueue(client *redis.Client, name string, maxLen int) *RedisQueue {
	return &RedisQueue{
		client:      client,
		name:        name,
		maxLen:      maxLen,
		pollTimeout: time.Second,
		logger:      componentLogger("RedisQueue"),
	}
}

func (q *RedisQueue) laneKey(p Priority) string { return fmt.Sprintf("%s:%s", q.name, p) }

func (q *RedisQueue) laneKeys() []string {
	keys := make([]string, 0, numPriorities)
	for _, p := range Priorities {
		keys = append(keys, q.laneKey(p))
	}
	return keys
}

func (q *RedisQueue) Publish(ctx context.Context, job MediaJob) error {
	if q.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if q.closed.Load() {
		return ErrQueueClosed
	}
	if !job.Priority.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidInput, job.Priority)
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if q.maxLen > 0 {
		total := 0
		for _, key := range q.laneKeys() {
			n, err := q.client.LLen(ctx, key).Result()
			if err != nil {
				return err
			}
			total += int(n)
		}
		if total >= q.maxLen {
			return fmt.Errorf("%w, cannot publish job %s", ErrQueueFull, job.ID)
		}
	}

	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.laneKey(job.Priority), b).Err(); err != nil {
		return err
	}

	q.logger.Debug().Str("job_id", job.ID).Stringer("priority", job.Priority).Msg("Published job")
	return nil
}

// Dequeue blocks in BRPOP for at most pollTimeout at a time so that context
// cancellation and Close are noticed promptly.
func (q *RedisQueue) Dequeue(ctx context.Context) (MediaJob, error) {
	if q.client == nil {
		return MediaJob{}, fmt.Errorf("redis client is nil")
	}

	keys := q.laneKeys()
	for {
		if q.closed.Load() {
			return MediaJob{}, ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return MediaJob{}, err
		}

		res, err := q.client.BRPop(ctx, q.pollTimeout, keys...).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return MediaJob{}, ctx.Err()
			}
			return MediaJob{}, fmt.Errorf("brpop failed: %w", err)
		}

		// res is [key, value]
		var job MediaJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			q.logger.Error().Err(err).Str("lane", res[0]).Msg("Dropping malformed queue message")
			continue
		}
		return job, nil
	}
}

func (q *RedisQueue) Len(ctx context.Context, p Priority) (int, error) {
	if !p.Valid() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidInput, p)
	}
	n, err := q.client.LLen(ctx, q.laneKey(p)).Result()
	return int(n), err
}

// Close marks the queue closed locally; the Redis lists are left intact for other processes.
func (q *RedisQueue) Close() {
	q.closed.Store(true)
}

package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisDB implements JobRegistry using Redis as a key-value store
// Keys: job:<id> => JSON(JobStatus)
// Sorted set for listing: jobs (score: createdAt unix)
// Channel job-updates:<id> carries every stored update
type RedisDB struct {
	client *redis.Client
	now    func() time.Time
	logger zerolog.Logger
}

func NewRedisDB(client *redis.Client) *RedisDB {
	return &RedisDB{client: client, now: time.Now, logger: componentLogger("RedisRegistry")}
}

func (r *RedisDB) jobKey(id string) string { return fmt.Sprintf("job:%s", id) }
func (r *RedisDB) updateKey(id string) string { return fmt.Sprintf("job-updates:%s", id) }

func (r *RedisDB) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 2*time.Second)
}

func (r *RedisDB) Create(ctx context.Context, job MediaJob) (JobStatus, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	status := newPendingStatus(job, r.now())
	b, err := json.Marshal(status)
	if err != nil {
		return JobStatus{}, err
	}

	created, err := r.client.SetNX(ctx, r.jobKey(job.ID), b, 0).Result()
	if err != nil {
		return JobStatus{}, err
	}
	if !created {
		return JobStatus{}, fmt.Errorf("job with ID %s already exists", job.ID)
	}
	if err := r.client.ZAdd(ctx, "jobs", redis.Z{Score: float64(status.CreatedAt.UnixMilli()), Member: job.ID}).Err(); err != nil {
		return JobStatus{}, err
	}
	return status, nil
}

func (r *RedisDB) Get(ctx context.Context, jobID string) (JobStatus, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	return r.get(ctx, r.client, jobID)
}

func (r *RedisDB) get(ctx context.Context, c redis.Cmdable, jobID string) (JobStatus, error) {
	val, err := c.Get(ctx, r.jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return JobStatus{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return JobStatus{}, err
	}
	var s JobStatus
	if err := json.Unmarshal(val, &s); err != nil {
		return JobStatus{}, err
	}
	return s, nil
}

// Update performs an optimistic WATCH/MULTI transaction. Only the owning
// worker writes an entry, so the transaction is expected to succeed first time.
func (r *RedisDB) Update(ctx context.Context, jobID string, mutation func(*JobStatus)) (JobStatus, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	key := r.jobKey(jobID)
	var next JobStatus
	txf := func(tx *redis.Tx) error {
		current, err := r.get(ctx, tx, jobID)
		if err != nil {
			return err
		}
		next, err = applyUpdate(current, mutation, r.now())
		if err != nil {
			return err
		}
		b, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, 0)
			pipe.Publish(ctx, r.updateKey(jobID), b)
			return nil
		})
		return err
	}

	if err := r.client.Watch(ctx, txf, key); err != nil {
		return JobStatus{}, err
	}
	return next, nil
}

func (r *RedisDB) All(ctx context.Context) ([]JobStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	ids, err := r.client.ZRevRange(ctx, "jobs", 0, -1).Result()
	if err != nil {
		return nil, err
	}
	all := make([]JobStatus, 0, len(ids))
	for _, id := range ids {
		s, err := r.get(ctx, r.client, id)
		if err == nil {
			all = append(all, s)
		}
	}
	return all, nil
}

// Subscribe listens on the job's update channel. The returned channel is
// closed once the subscription ends.
func (r *RedisDB) Subscribe(ctx context.Context, jobID string) (<-chan JobStatus, func()) {
	ctx, cancelCtx := context.WithCancel(ctx)
	out := make(chan JobStatus, 1)
	pubsub := r.client.Subscribe(ctx, r.updateKey(jobID))
	// Wait for the subscription confirmation so no publish after this call is lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		r.logger.Warn().Err(err).Str("job_id", jobID).Msg("Status subscription not confirmed, relying on polling")
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			cancelCtx()
			if err := pubsub.Close(); err != nil {
				r.logger.Debug().Err(err).Str("job_id", jobID).Msg("Failed to close subscription")
			}
		})
	}

	go func() {
		defer close(out)
		defer cancel()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var s JobStatus
				if err := json.Unmarshal([]byte(msg.Payload), &s); err != nil {
					r.logger.Warn().Err(err).Str("job_id", jobID).Msg("Ignoring malformed status update")
					continue
				}
				sendLatest(out, s)
			}
		}
	}()

	return out, cancel
}

package shared

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// WorkerPool is a fixed set of goroutines consuming a JobQueue. Each worker
// owns the registry entry of the job it dequeued until that job is terminal.
type WorkerPool struct {
	size       int
	queue      JobQueue
	registry   JobRegistry
	fetcher    Fetcher
	jobTimeout time.Duration

	active  atomic.Int32
	started atomic.Bool
	now     func() time.Time
	logger  zerolog.Logger
}

// NewWorkerPool creates a pool of size workers. A jobTimeout of zero lets a
// fetch run until the fetcher returns.
func NewWorkerPool(size int, queue JobQueue, registry JobRegistry, fetcher Fetcher, jobTimeout time.Duration) *WorkerPool {
	if size <= 0 {
		size = DefaultMaxWorkers
	}
	return &WorkerPool{
		size:       size,
		queue:      queue,
		registry:   registry,
		fetcher:    fetcher,
		jobTimeout: jobTimeout,
		now:        time.Now,
		logger:     componentLogger("WorkerPool"),
	}
}

func (pool *WorkerPool) Size() int { return pool.size }

// Active returns the number of workers currently executing a job.
func (pool *WorkerPool) Active() int { return int(pool.active.Load()) }

// Run starts the workers and blocks until ctx is cancelled (or the queue is
// closed) and every worker has finished its current job.
func (pool *WorkerPool) Run(ctx context.Context) error {
	if !pool.started.CompareAndSwap(false, true) {
		return errors.New("cannot start an already started worker pool")
	}
	defer pool.started.Store(false)

	pool.logger.Info().Int("workers", pool.size).Msg("Starting worker pool")

	wg := &sync.WaitGroup{}
	for i := 0; i < pool.size; i++ {
		wg.Add(1)
		go func(label string) {
			defer wg.Done()
			pool.work(ctx, label)
		}(fmt.Sprintf("worker-%d", i))
	}

	wg.Wait()
	pool.logger.Info().Msg("All workers have shut down")
	return nil
}

// work is the loop for a single worker
func (pool *WorkerPool) work(ctx context.Context, label string) {
	logger := pool.logger.With().Str("worker", label).Logger()
	logger.Debug().Msg("Worker started")

	for {
		// Queued jobs are left for the next run once shutdown starts.
		if ctx.Err() != nil {
			logger.Debug().Msg("Worker stopping")
			return
		}
		job, err := pool.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				logger.Debug().Msg("Worker stopping")
				return
			}
			logger.Error().Err(err).Msg("Dequeue failed")
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

		pool.process(ctx, job, logger)
	}
}

// process executes one job and records the outcome. Fetch failures and
// panics become a Failed status; nothing is propagated past the worker.
func (pool *WorkerPool) process(ctx context.Context, job MediaJob, logger zerolog.Logger) {
	logger = logger.With().Str("job_id", job.ID).Logger()

	pool.active.Add(1)
	ActiveWorkers.Inc()
	defer func() {
		pool.active.Add(-1)
		ActiveWorkers.Dec()
	}()

	// Registry writes must land even while the pool is shutting down.
	writeCtx := context.WithoutCancel(ctx)

	start := pool.now()
	if _, err := pool.registry.Update(writeCtx, job.ID, MarkRunning(start)); err != nil {
		logger.Error().Err(err).Msg("Failed to mark job as running, skipping")
		return
	}
	logger.Info().Str("url", job.URL).Str("kind", string(job.Kind)).Str("format", job.Format).Msg("Processing job")

	path, err := pool.fetch(writeCtx, job)

	var mutation func(*JobStatus)
	state := JobStateCompleted
	if err != nil {
		state = JobStateFailed
		mutation = MarkFailed(err.Error(), pool.now())
	} else {
		mutation = MarkCompleted(path, pool.now())
	}

	if _, uerr := pool.registry.Update(writeCtx, job.ID, mutation); uerr != nil {
		// If the update fails the job stays Running. Requires monitoring.
		logger.Error().Err(uerr).Str("state", string(state)).Msg("Failed to record job outcome")
	}

	elapsed := pool.now().Sub(start)
	JobsFinished.WithLabelValues(string(state)).Inc()
	JobDuration.WithLabelValues(string(job.Kind), string(state)).Observe(elapsed.Seconds())

	if err != nil {
		logger.Warn().Err(err).Dur("elapsed", elapsed).Msg("Job failed")
		return
	}
	logger.Info().Str("path", path).Dur("elapsed", elapsed).Msg("Job completed")
}

func (pool *WorkerPool) fetch(ctx context.Context, job MediaJob) (path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetcher panic: %v", r)
		}
	}()

	if pool.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pool.jobTimeout)
		defer cancel()
	}

	path, err = pool.fetcher.FetchMedia(ctx, job.URL, job.Format, job.Kind)
	if err == nil && path == "" {
		err = errors.New("fetcher returned no file path")
	}
	return path, err
}

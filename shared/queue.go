// shared/queue.go
package shared

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// JobQueue is a set of FIFO lanes, one per Priority. Dequeue always serves
// the highest non-empty lane first.
type JobQueue interface {
	Publish(ctx context.Context, job MediaJob) error
	// Dequeue blocks until a job is available, ctx is done or the queue is closed.
	Dequeue(ctx context.Context) (MediaJob, error)
	Len(ctx context.Context, p Priority) (int, error)
	Close()
}

// InMemoryQueue implements JobQueue with a slice per lane guarded by a mutex.
// Waiting consumers park on the wake channel, which is closed and replaced
// on every publish.
type InMemoryQueue struct {
	mu     sync.Mutex
	lanes  [numPriorities][]MediaJob
	size   int
	maxLen int
	wake   chan struct{}
	stop   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

// NewInMemoryQueue creates a new in-memory queue. A maxLen of zero or less
// leaves the lanes unbounded.
func NewInMemoryQueue(maxLen int) *InMemoryQueue {
	return &InMemoryQueue{
		maxLen: maxLen,
		wake:   make(chan struct{}),
		stop:   make(chan struct{}),
		logger: componentLogger("Queue"),
	}
}

// laneIndex maps a priority to its lane. Lane 0 is served first.
func laneIndex(p Priority) int {
	return int(PriorityUrgent - p)
}

// Publish appends the job to the tail of its priority lane. It never blocks.
func (q *InMemoryQueue) Publish(_ context.Context, job MediaJob) error {
	if !job.Priority.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidInput, job.Priority)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case <-q.stop:
		return ErrQueueClosed
	default:
	}
	if q.maxLen > 0 && q.size >= q.maxLen {
		return fmt.Errorf("%w, cannot publish job %s", ErrQueueFull, job.ID)
	}

	idx := laneIndex(job.Priority)
	q.lanes[idx] = append(q.lanes[idx], job)
	q.size++
	QueueDepth.WithLabelValues(job.Priority.String()).Set(float64(len(q.lanes[idx])))

	close(q.wake)
	q.wake = make(chan struct{})

	q.logger.Debug().Str("job_id", job.ID).Stringer("priority", job.Priority).Msg("Published job")
	return nil
}

// Dequeue removes the head of the highest non-empty lane.
func (q *InMemoryQueue) Dequeue(ctx context.Context) (MediaJob, error) {
	for {
		if err := ctx.Err(); err != nil {
			return MediaJob{}, err
		}
		q.mu.Lock()
		if job, ok := q.popLocked(); ok {
			q.mu.Unlock()
			return job, nil
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-wake:
		case <-q.stop:
			q.mu.Lock()
			job, ok := q.popLocked()
			q.mu.Unlock()
			if ok {
				return job, nil
			}
			return MediaJob{}, ErrQueueClosed
		case <-ctx.Done():
			return MediaJob{}, ctx.Err()
		}
	}
}

func (q *InMemoryQueue) popLocked() (MediaJob, bool) {
	for idx := range q.lanes {
		lane := q.lanes[idx]
		if len(lane) == 0 {
			continue
		}

		job := lane[0]
		lane[0] = MediaJob{}
		q.lanes[idx] = lane[1:]
		q.size--
		QueueDepth.WithLabelValues(job.Priority.String()).Set(float64(len(q.lanes[idx])))
		return job, true
	}
	return MediaJob{}, false
}

func (q *InMemoryQueue) Len(_ context.Context, p Priority) (int, error) {
	if !p.Valid() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidInput, p)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes[laneIndex(p)]), nil
}

// Close stops the queue from accepting new messages and releases blocked consumers.
// Jobs already waiting in the lanes can still be dequeued.
func (q *InMemoryQueue) Close() {
	q.once.Do(func() {
		q.logger.Info().Msg("Closing queue")
		close(q.stop)
	})
}

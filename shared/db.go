// shared/db.go
package shared

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// JobRegistry maps job ids to their current JobStatus. Each entry has a single
// writer (the worker that dequeued the job) and any number of readers.
type JobRegistry interface {
	Create(ctx context.Context, job MediaJob) (JobStatus, error)
	Get(ctx context.Context, jobID string) (JobStatus, error)
	// Update applies mutation to a copy of the status and stores it if the
	// resulting state transition is legal.
	Update(ctx context.Context, jobID string, mutation func(*JobStatus)) (JobStatus, error)
	All(ctx context.Context) ([]JobStatus, error) // For admin purposes
	// Subscribe delivers the latest status after each update until cancel is
	// called or ctx is done. Slow receivers only see the most recent value.
	Subscribe(ctx context.Context, jobID string) (<-chan JobStatus, func())
}

// applyUpdate runs mutation against a copy of current and validates the result.
func applyUpdate(current JobStatus, mutation func(*JobStatus), now time.Time) (JobStatus, error) {
	next := current.clone()
	mutation(&next)

	if next.ID != current.ID {
		return current, fmt.Errorf("%w: job id cannot change", ErrIllegalTransition)
	}
	if !current.State.canTransition(next.State) {
		return current, fmt.Errorf("%w: %s -> %s for job %s", ErrIllegalTransition, current.State, next.State, current.ID)
	}

	next.UpdatedAt = now
	return next, nil
}

// sendLatest replaces any undelivered value in a one-slot channel.
func sendLatest(ch chan JobStatus, status JobStatus) {
	for {
		select {
		case ch <- status:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// InMemoryDB implements JobRegistry using an in-memory map
type InMemoryDB struct {
	jobs        map[string]*JobStatus
	jobsMutex   sync.RWMutex
	subscribers map[string]map[chan JobStatus]struct{}
	subsMutex   sync.Mutex
	now         func() time.Time
}

// NewInMemoryDB creates a new in-memory registry instance
func NewInMemoryDB() *InMemoryDB {
	return &InMemoryDB{
		jobs:        make(map[string]*JobStatus),
		subscribers: make(map[string]map[chan JobStatus]struct{}),
		now:         time.Now,
	}
}

// Create adds a Pending status for the job
func (db *InMemoryDB) Create(_ context.Context, job MediaJob) (JobStatus, error) {
	db.jobsMutex.Lock()
	defer db.jobsMutex.Unlock()

	if _, exists := db.jobs[job.ID]; exists {
		return JobStatus{}, fmt.Errorf("job with ID %s already exists", job.ID)
	}
	status := newPendingStatus(job, db.now())
	db.jobs[job.ID] = &status
	return status.clone(), nil
}

// Get retrieves a copy of the status so callers never observe a partial update
func (db *InMemoryDB) Get(_ context.Context, jobID string) (JobStatus, error) {
	db.jobsMutex.RLock()
	defer db.jobsMutex.RUnlock()

	status, exists := db.jobs[jobID]
	if !exists {
		return JobStatus{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return status.clone(), nil
}

func (db *InMemoryDB) Update(_ context.Context, jobID string, mutation func(*JobStatus)) (JobStatus, error) {
	db.jobsMutex.Lock()
	current, exists := db.jobs[jobID]
	if !exists {
		db.jobsMutex.Unlock()
		return JobStatus{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	next, err := applyUpdate(*current, mutation, db.now())
	if err != nil {
		db.jobsMutex.Unlock()
		return current.clone(), err
	}
	db.jobs[jobID] = &next
	db.jobsMutex.Unlock()

	db.notify(next)
	return next.clone(), nil
}

// All retrieves every status, newest first
func (db *InMemoryDB) All(_ context.Context) ([]JobStatus, error) {
	db.jobsMutex.RLock()
	defer db.jobsMutex.RUnlock()

	all := make([]JobStatus, 0, len(db.jobs))
	for _, status := range db.jobs {
		all = append(all, status.clone())
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return all, nil
}

func (db *InMemoryDB) Subscribe(ctx context.Context, jobID string) (<-chan JobStatus, func()) {
	ch := make(chan JobStatus, 1)

	db.subsMutex.Lock()
	if db.subscribers[jobID] == nil {
		db.subscribers[jobID] = make(map[chan JobStatus]struct{})
	}
	db.subscribers[jobID][ch] = struct{}{}
	db.subsMutex.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			db.subsMutex.Lock()
			delete(db.subscribers[jobID], ch)
			if len(db.subscribers[jobID]) == 0 {
				delete(db.subscribers, jobID)
			}
			db.subsMutex.Unlock()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()

	return ch, cancel
}

func (db *InMemoryDB) notify(status JobStatus) {
	db.subsMutex.Lock()
	defer db.subsMutex.Unlock()

	for ch := range db.subscribers[status.ID] {
		sendLatest(ch, status.clone())
	}
}

package shared

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusPoller_TimesOutWhileJobKeepsRunning(t *testing.T) {
	release := make(chan struct{})
	h := startPool(t, &stubFetcher{release: release, path: "/downloads/long.mp4"}, 1)
	id := h.submit(t, "https://x/long", "")

	poller := NewStatusPoller(h.registry, 50*time.Millisecond)
	start := time.Now()
	result, err := poller.Watch(context.Background(), id, nil, 2*time.Second)
	require.NoError(t, err)

	assert.True(t, result.TimedOut)
	assert.Equal(t, JobStateRunning, result.Status.State)
	assert.LessOrEqual(t, result.Fraction, maxPendingProgress)
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second)

	// The job was never cancelled and finishes normally.
	close(release)
	status := h.waitTerminal(t, id)
	assert.Equal(t, JobStateCompleted, status.State)
	assert.Equal(t, "/downloads/long.mp4", status.ResultPath)
}

func TestStatusPoller_ReturnsOnCompletion(t *testing.T) {
	release := make(chan struct{})
	h := startPool(t, &stubFetcher{release: release}, 1)
	id := h.submit(t, "https://x/1", "")

	var (
		mu      sync.Mutex
		updates []Progress
	)
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(release)
	}()

	poller := NewStatusPoller(h.registry, time.Hour)
	result, err := poller.Watch(context.Background(), id, func(p Progress) {
		mu.Lock()
		updates = append(updates, p)
		mu.Unlock()
	}, 10*time.Second)
	require.NoError(t, err)

	assert.False(t, result.TimedOut)
	assert.Equal(t, JobStateCompleted, result.Status.State)
	assert.Equal(t, 1.0, result.Fraction)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, updates)
	assert.Equal(t, JobStateCompleted, updates[len(updates)-1].Status.State)
	for _, p := range updates[:len(updates)-1] {
		assert.Less(t, p.Fraction, 1.0)
	}
}

func TestStatusPoller_AlreadyTerminal(t *testing.T) {
	ctx := context.Background()
	registry := NewInMemoryDB()
	_, err := registry.Create(ctx, newJob("job-1", "https://x/1", PriorityNormal))
	require.NoError(t, err)
	_, err = registry.Update(ctx, "job-1", MarkFailed("bad url", time.Now()))
	require.NoError(t, err)

	calls := 0
	result, err := NewStatusPoller(registry, time.Second).Watch(ctx, "job-1", func(Progress) { calls++ }, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, JobStateFailed, result.Status.State)
	assert.False(t, result.TimedOut)
	assert.Equal(t, 1, calls)
}

func TestStatusPoller_UnknownJob(t *testing.T) {
	_, err := NewStatusPoller(NewInMemoryDB(), time.Second).Watch(context.Background(), "missing", nil, time.Second)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestStatusPoller_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	registry := NewInMemoryDB()
	_, err := registry.Create(ctx, newJob("job-1", "https://x/1", PriorityNormal))
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	result, err := NewStatusPoller(registry, time.Second).Watch(ctx, "job-1", nil, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, JobStatePending, result.Status.State)
}

func TestStatusPoller_RedisRegistry(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	registry := NewRedisDB(client)
	_, err := registry.Create(ctx, newJob("job-1", "https://x/1", PriorityNormal))
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		registry.Update(ctx, "job-1", MarkRunning(time.Now()))
		registry.Update(ctx, "job-1", MarkCompleted("/downloads/1.mp4", time.Now()))
	}()

	result, err := NewStatusPoller(registry, 20*time.Millisecond).Watch(ctx, "job-1", nil, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, JobStateCompleted, result.Status.State)
	assert.Equal(t, "/downloads/1.mp4", result.Status.ResultPath)
}

func TestProgressFraction(t *testing.T) {
	running := JobStatus{State: JobStateRunning}
	tests := []struct {
		name    string
		status  JobStatus
		elapsed time.Duration
		timeout time.Duration
		want    float64
	}{
		{"start", running, 0, time.Minute, 0},
		{"half way", running, 30 * time.Second, time.Minute, 0.5},
		{"capped", running, 59 * time.Second, time.Minute, maxPendingProgress},
		{"past deadline", running, 2 * time.Minute, time.Minute, maxPendingProgress},
		{"completed", JobStatus{State: JobStateCompleted}, time.Second, time.Minute, 1},
		{"failed stays capped", JobStatus{State: JobStateFailed}, 2 * time.Minute, time.Minute, maxPendingProgress},
		{"no timeout", running, time.Second, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, progressFraction(tt.status, tt.elapsed, tt.timeout), 1e-9)
		})
	}
}

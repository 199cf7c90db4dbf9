package shared

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// registries runs fn against every JobRegistry implementation.
func registries(t *testing.T, fn func(t *testing.T, reg JobRegistry)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewInMemoryDB())
	})
	t.Run("redis", func(t *testing.T) {
		_, client := newTestRedis(t)
		fn(t, NewRedisDB(client))
	})
}

func TestRegistry_CreateAndGet(t *testing.T) {
	registries(t, func(t *testing.T, reg JobRegistry) {
		ctx := context.Background()
		job := newJob("job-1", "https://x/1", PriorityHigh)

		created, err := reg.Create(ctx, job)
		require.NoError(t, err)
		assert.Equal(t, JobStatePending, created.State)

		got, err := reg.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, "https://x/1", got.URL)
		assert.Equal(t, PriorityHigh, got.Priority)
		assert.Equal(t, JobStatePending, got.State)
		assert.Empty(t, got.ResultPath)

		_, err = reg.Create(ctx, job)
		assert.Error(t, err, "duplicate ids are rejected")
	})
}

func TestRegistry_GetUnknown(t *testing.T) {
	registries(t, func(t *testing.T, reg JobRegistry) {
		_, err := reg.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrJobNotFound)

		_, err = reg.Update(context.Background(), "nope", MarkRunning(time.Now()))
		assert.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestRegistry_Lifecycle(t *testing.T) {
	registries(t, func(t *testing.T, reg JobRegistry) {
		ctx := context.Background()
		_, err := reg.Create(ctx, newJob("job-1", "https://x/1", PriorityNormal))
		require.NoError(t, err)

		running, err := reg.Update(ctx, "job-1", MarkRunning(time.Now()))
		require.NoError(t, err)
		assert.Equal(t, JobStateRunning, running.State)
		require.NotNil(t, running.StartedAt)

		done, err := reg.Update(ctx, "job-1", MarkCompleted("/downloads/1.mp4", time.Now()))
		require.NoError(t, err)
		assert.Equal(t, JobStateCompleted, done.State)
		assert.Equal(t, "/downloads/1.mp4", done.ResultPath)
		assert.False(t, done.UpdatedAt.Before(running.UpdatedAt))

		got, err := reg.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, JobStateCompleted, got.State)
		assert.Equal(t, "/downloads/1.mp4", got.ResultPath)
	})
}

func TestRegistry_IllegalTransitions(t *testing.T) {
	registries(t, func(t *testing.T, reg JobRegistry) {
		ctx := context.Background()
		_, err := reg.Create(ctx, newJob("job-1", "https://x/1", PriorityNormal))
		require.NoError(t, err)

		_, err = reg.Update(ctx, "job-1", MarkCompleted("/tmp/x", time.Now()))
		assert.ErrorIs(t, err, ErrIllegalTransition, "pending cannot complete without running")

		_, err = reg.Update(ctx, "job-1", MarkRunning(time.Now()))
		require.NoError(t, err)
		_, err = reg.Update(ctx, "job-1", MarkFailed("boom", time.Now()))
		require.NoError(t, err)

		_, err = reg.Update(ctx, "job-1", MarkRunning(time.Now()))
		assert.ErrorIs(t, err, ErrIllegalTransition, "terminal states are final")
		_, err = reg.Update(ctx, "job-1", MarkCompleted("/tmp/x", time.Now()))
		assert.ErrorIs(t, err, ErrIllegalTransition)

		got, err := reg.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, JobStateFailed, got.State)
		assert.Equal(t, "boom", got.Error)
		assert.Empty(t, got.ResultPath)
	})
}

func TestRegistry_PendingMayFailDirectly(t *testing.T) {
	registries(t, func(t *testing.T, reg JobRegistry) {
		ctx := context.Background()
		_, err := reg.Create(ctx, newJob("job-1", "https://x/1", PriorityNormal))
		require.NoError(t, err)

		got, err := reg.Update(ctx, "job-1", MarkFailed("could not queue", time.Now()))
		require.NoError(t, err)
		assert.Equal(t, JobStateFailed, got.State)
	})
}

func TestRegistry_SameStateRewrites(t *testing.T) {
	registries(t, func(t *testing.T, reg JobRegistry) {
		ctx := context.Background()
		_, err := reg.Create(ctx, newJob("job-1", "https://x/1", PriorityNormal))
		require.NoError(t, err)

		_, err = reg.Update(ctx, "job-1", func(s *JobStatus) {})
		require.NoError(t, err, "pending may be rewritten as pending")

		_, err = reg.Update(ctx, "job-1", MarkRunning(time.Now()))
		require.NoError(t, err)
		_, err = reg.Update(ctx, "job-1", MarkRunning(time.Now()))
		require.NoError(t, err, "running may be rewritten as running")

		_, err = reg.Update(ctx, "job-1", MarkCompleted("/tmp/x", time.Now()))
		require.NoError(t, err)
		_, err = reg.Update(ctx, "job-1", MarkCompleted("/tmp/y", time.Now()))
		assert.ErrorIs(t, err, ErrIllegalTransition, "completed is final")

		got, err := reg.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, "/tmp/x", got.ResultPath)
	})
}

func TestRegistry_AllNewestFirst(t *testing.T) {
	registries(t, func(t *testing.T, reg JobRegistry) {
		ctx := context.Background()
		base := time.Now()
		for i, id := range []string{"old", "mid", "new"} {
			j := newJob(id, "https://x/"+id, PriorityNormal)
			j.SubmittedAt = base.Add(time.Duration(i) * time.Second)
			_, err := reg.Create(ctx, j)
			require.NoError(t, err)
		}

		all, err := reg.All(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "new", all[0].ID)
		assert.Equal(t, "old", all[2].ID)
	})
}

func TestRegistry_Subscribe(t *testing.T) {
	registries(t, func(t *testing.T, reg JobRegistry) {
		ctx := context.Background()
		_, err := reg.Create(ctx, newJob("job-1", "https://x/1", PriorityNormal))
		require.NoError(t, err)

		updates, cancel := reg.Subscribe(ctx, "job-1")
		defer cancel()

		_, err = reg.Update(ctx, "job-1", MarkRunning(time.Now()))
		require.NoError(t, err)

		select {
		case s := <-updates:
			assert.Equal(t, JobStateRunning, s.State)
		case <-time.After(2 * time.Second):
			t.Fatal("no update delivered")
		}
	})
}

func TestInMemoryDB_ReadersGetCopies(t *testing.T) {
	ctx := context.Background()
	db := NewInMemoryDB()
	_, err := db.Create(ctx, newJob("job-1", "https://x/1", PriorityNormal))
	require.NoError(t, err)
	_, err = db.Update(ctx, "job-1", MarkRunning(time.Now()))
	require.NoError(t, err)

	got, err := db.Get(ctx, "job-1")
	require.NoError(t, err)
	got.State = JobStateCompleted
	*got.StartedAt = time.Time{}

	again, err := db.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobStateRunning, again.State)
	assert.False(t, again.StartedAt.IsZero())
}

func TestInMemoryDB_SlowSubscriberSeesLatest(t *testing.T) {
	ctx := context.Background()
	db := NewInMemoryDB()
	_, err := db.Create(ctx, newJob("job-1", "https://x/1", PriorityNormal))
	require.NoError(t, err)

	updates, cancel := db.Subscribe(ctx, "job-1")
	defer cancel()

	_, err = db.Update(ctx, "job-1", MarkRunning(time.Now()))
	require.NoError(t, err)
	_, err = db.Update(ctx, "job-1", MarkCompleted("/tmp/1.mp4", time.Now()))
	require.NoError(t, err)

	s := <-updates
	assert.Equal(t, JobStateCompleted, s.State)
}

func TestInMemoryDB_SubscribeCancelledByContext(t *testing.T) {
	db := NewInMemoryDB()
	ctx, cancel := context.WithCancel(context.Background())
	_, unsubscribe := db.Subscribe(ctx, "job-1")
	defer unsubscribe()

	cancel()
	require.Eventually(t, func() bool {
		db.subsMutex.Lock()
		defer db.subsMutex.Unlock()
		return len(db.subscribers) == 0
	}, time.Second, 5*time.Millisecond)
}

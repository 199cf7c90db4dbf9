package shared

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cache, err := NewMemoryCache(100, time.Minute)
	require.NoError(t, err)
	cache.WithClock(clock.Now)

	cache.Put(ctx, "https://x/1", Metadata{Title: "T"})

	got, found := cache.Get(ctx, "https://x/1")
	require.True(t, found)
	assert.Equal(t, Metadata{Title: "T"}, got)

	clock.Advance(59 * time.Second)
	_, found = cache.Get(ctx, "https://x/1")
	assert.True(t, found, "still fresh just before the ttl")

	clock.Advance(time.Second)
	_, found = cache.Get(ctx, "https://x/1")
	assert.False(t, found)
	assert.Zero(t, cache.Len(), "expired entry is evicted on read")
}

func TestMemoryCache_PutOverwritesAndRestartsTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cache, err := NewMemoryCache(100, time.Minute)
	require.NoError(t, err)
	cache.WithClock(clock.Now)

	cache.Put(ctx, "https://x/1", Metadata{Title: "old"})
	clock.Advance(50 * time.Second)
	cache.Put(ctx, "https://x/1", Metadata{Title: "new"})
	clock.Advance(50 * time.Second)

	got, found := cache.Get(ctx, "https://x/1")
	require.True(t, found)
	assert.Equal(t, "new", got.Title)
}

func TestMemoryCache_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cache, err := NewMemoryCache(100, time.Minute)
	require.NoError(t, err)
	cache.WithClock(clock.Now)

	cache.Put(ctx, "https://x/old-1", Metadata{Title: "1"})
	cache.Put(ctx, "https://x/old-2", Metadata{Title: "2"})
	clock.Advance(30 * time.Second)
	cache.Put(ctx, "https://x/fresh", Metadata{Title: "3"})
	clock.Advance(45 * time.Second)

	assert.Equal(t, 2, cache.Sweep())
	assert.Equal(t, 1, cache.Len())
	_, found := cache.Get(ctx, "https://x/fresh")
	assert.True(t, found)
}

func TestMemoryCache_BoundedSize(t *testing.T) {
	ctx := context.Background()
	cache, err := NewMemoryCache(2, time.Hour)
	require.NoError(t, err)

	cache.Put(ctx, "a", Metadata{Title: "a"})
	cache.Put(ctx, "b", Metadata{Title: "b"})
	cache.Put(ctx, "c", Metadata{Title: "c"})

	assert.Equal(t, 2, cache.Len())
	_, found := cache.Get(ctx, "a")
	assert.False(t, found, "least recently used entry is dropped")
}

func TestMemoryCache_RejectsNonPositiveTTL(t *testing.T) {
	_, err := NewMemoryCache(10, 0)
	assert.Error(t, err)
}

func TestRedisMetadataCache(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	cache := NewRedisMetadataCache(client, "meta:", time.Minute)

	_, found := cache.Get(ctx, "https://x/1")
	assert.False(t, found)

	cache.Put(ctx, "https://x/1", Metadata{Title: "T", Duration: 42})
	got, found := cache.Get(ctx, "https://x/1")
	require.True(t, found)
	assert.Equal(t, "T", got.Title)
	assert.Equal(t, 42.0, got.Duration)
	assert.True(t, mr.Exists("meta:https://x/1"))

	mr.FastForward(time.Minute)
	_, found = cache.Get(ctx, "https://x/1")
	assert.False(t, found)
}

func TestRedisMetadataCache_UnavailableIsMiss(t *testing.T) {
	mr, client := newTestRedis(t)
	cache := NewRedisMetadataCache(client, "meta:", time.Minute)
	mr.Close()

	cache.Put(context.Background(), "https://x/1", Metadata{Title: "T"})
	_, found := cache.Get(context.Background(), "https://x/1")
	assert.False(t, found)
}

func TestNoOpsCache(t *testing.T) {
	cache := NewNoOpsCache()
	cache.Put(context.Background(), "https://x/1", Metadata{Title: "T"})
	_, found := cache.Get(context.Background(), "https://x/1")
	assert.False(t, found)
}

func TestNewMetadataCache(t *testing.T) {
	_, client := newTestRedis(t)
	cfg := CacheConfig{TTL: time.Minute, MaxEntries: 10, KeyPrefix: "meta:"}

	tests := []struct {
		name    string
		typ     string
		want    any
		wantErr bool
	}{
		{"default", "", &MemoryCache{}, false},
		{"memory", "memory", &MemoryCache{}, false},
		{"redis", "redis", &RedisMetadataCache{}, false},
		{"noop", "noop", &NoOpsCache{}, false},
		{"unknown", "memcached", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cfg
			c.Type = tt.typ
			got, err := NewMetadataCache(c, client)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, got)
		})
	}

	_, err := NewMetadataCache(CacheConfig{Type: "redis", TTL: time.Minute}, nil)
	assert.Error(t, err)
}

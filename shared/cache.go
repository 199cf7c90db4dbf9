package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// MetadataCache stores metadata per URL. A miss is a normal outcome, never an error.
type MetadataCache interface {
	Get(ctx context.Context, url string) (Metadata, bool)
	Put(ctx context.Context, url string, meta Metadata)
}

// NewMetadataCache builds the cache selected by config.Type.
func NewMetadataCache(config CacheConfig, client *redis.Client) (MetadataCache, error) {
	switch config.Type {
	case "", "memory":
		return NewMemoryCache(config.MaxEntries, config.TTL)
	case "redis":
		if client == nil {
			return nil, errors.New("redis cache requires a redis client")
		}
		return NewRedisMetadataCache(client, config.KeyPrefix, config.TTL), nil
	case "noop":
		return NewNoOpsCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s", config.Type)
	}
}

func recordLookup(found bool) {
	if found {
		CacheLookups.WithLabelValues("hit").Inc()
	} else {
		CacheLookups.WithLabelValues("miss").Inc()
	}
}

// MemoryCache is a bounded LRU whose entries also expire after ttl.
// Expired entries are removed lazily by Get, or in bulk by Sweep.
type MemoryCache struct {
	cache *lru.Cache
	ttl   time.Duration
	now   func() time.Time
}

type cacheEntry struct {
	value      Metadata
	insertedAt time.Time
}

func NewMemoryCache(maxSize int, ttl time.Duration) (*MemoryCache, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive, got %s", ttl)
	}
	cache, err := lru.New(maxSize)
	if err != nil {
		return nil, err
	}

	return &MemoryCache{
		cache: cache,
		ttl:   ttl,
		now:   time.Now,
	}, nil
}

// WithClock replaces the time source used for insertion stamps and expiry checks.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

func (c *MemoryCache) expired(e cacheEntry, now time.Time) bool {
	return now.Sub(e.insertedAt) >= c.ttl
}

func (c *MemoryCache) Get(_ context.Context, url string) (Metadata, bool) {
	val, found := c.cache.Get(url)
	if !found {
		recordLookup(false)
		return Metadata{}, false
	}

	entry := val.(cacheEntry)
	if c.expired(entry, c.now()) {
		// Only evict the entry we inspected; a concurrent Put may already
		// have replaced it with a fresh one.
		if cur, ok := c.cache.Peek(url); ok && cur.(cacheEntry).insertedAt.Equal(entry.insertedAt) {
			c.cache.Remove(url)
		}
		recordLookup(false)
		return Metadata{}, false
	}

	recordLookup(true)
	return entry.value, true
}

func (c *MemoryCache) Put(_ context.Context, url string, meta Metadata) {
	c.cache.Add(url, cacheEntry{value: meta, insertedAt: c.now()})
}

// Len reports the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	return c.cache.Len()
}

// Sweep removes every expired entry and returns how many were evicted.
func (c *MemoryCache) Sweep() int {
	now := c.now()
	evicted := 0
	for _, key := range c.cache.Keys() {
		val, ok := c.cache.Peek(key)
		if !ok {
			continue
		}
		if c.expired(val.(cacheEntry), now) {
			c.cache.Remove(key)
			evicted++
		}
	}
	return evicted
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (c *MemoryCache) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	logger := componentLogger("MetadataCache")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				logger.Debug().Int("evicted", n).Msg("Swept expired metadata")
			}
		}
	}
}

// RedisMetadataCache stores JSON metadata under <prefix><url> with a native Redis TTL.
type RedisMetadataCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

func NewRedisMetadataCache(client *redis.Client, prefix string, ttl time.Duration) *RedisMetadataCache {
	return &RedisMetadataCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: componentLogger("MetadataCache"),
	}
}

func (c *RedisMetadataCache) Get(ctx context.Context, url string) (Metadata, bool) {
	data, err := c.client.Get(ctx, c.prefix+url).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("url", url).Msg("Metadata cache read failed, treating as miss")
		}
		recordLookup(false)
		return Metadata{}, false
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		c.logger.Warn().Err(err).Str("url", url).Msg("Discarding malformed cached metadata")
		recordLookup(false)
		return Metadata{}, false
	}
	recordLookup(true)
	return meta, true
}

func (c *RedisMetadataCache) Put(ctx context.Context, url string, meta Metadata) {
	data, err := json.Marshal(meta)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to encode metadata")
		return
	}
	if err := c.client.Set(ctx, c.prefix+url, data, c.ttl).Err(); err != nil {
		c.logger.Error().Err(err).Str("url", url).Msg("Failed to cache metadata")
	}
}

// NoOpsCache disables caching
type NoOpsCache struct{}

func NewNoOpsCache() *NoOpsCache {
	return &NoOpsCache{}
}

func (c *NoOpsCache) Get(_ context.Context, _ string) (Metadata, bool) {
	return Metadata{}, false // Always cache miss
}

func (c *NoOpsCache) Put(_ context.Context, _ string, _ Metadata) {}

package shared

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RateLimiter provides per-client fixed-window limiting (requests per minute)
// with an optional Redis backend shared across gateway replicas.
type RateLimiter struct {
	rpm    int
	redis  *redis.Client
	now    func() time.Time
	logger zerolog.Logger

	mu      sync.Mutex
	windows map[string]*rateWindow
}

type rateWindow struct {
	start time.Time
	count int
}

func NewRateLimiter(rpm int, redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{
		rpm:     rpm,
		redis:   redisClient,
		now:     time.Now,
		logger:  componentLogger("RateLimiter"),
		windows: make(map[string]*rateWindow),
	}
}

// key for the current minute window
func minuteKey(client string, now time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", client, now.Unix()/60)
}

// Allow returns whether the request is allowed and the remaining quota (best-effort).
// A non-positive limit disables limiting.
func (r *RateLimiter) Allow(ctx context.Context, client string) (bool, int) {
	if r.rpm <= 0 {
		return true, r.rpm
	}
	if r.redis != nil {
		ctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()

		key := minuteKey(client, r.now())
		pipe := r.redis.TxPipeline()
		incr := pipe.Incr(ctx, key)
		// Expire slightly after the minute so late requests still count
		pipe.Expire(ctx, key, 65*time.Second)
		if _, err := pipe.Exec(ctx); err != nil {
			r.logger.Warn().Err(err).Msg("Redis rate limit failed, falling back to in-memory")
			return r.allowInMem(client)
		}
		n := int(incr.Val())
		return n <= r.rpm, r.rpm - n
	}
	return r.allowInMem(client)
}

func (r *RateLimiter) allowInMem(client string) (bool, int) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[client]
	if !ok || now.Sub(w.start) >= time.Minute {
		w = &rateWindow{start: now}
		r.windows[client] = w
		r.pruneLocked(now)
	}
	w.count++
	return w.count <= r.rpm, r.rpm - w.count
}

// pruneLocked drops windows that have already expired.
func (r *RateLimiter) pruneLocked(now time.Time) {
	for k, w := range r.windows {
		if now.Sub(w.start) >= time.Minute {
			delete(r.windows, k)
		}
	}
}

// Middleware rejects requests over the limit with 429.
func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		allowed, remaining := r.Allow(req.Context(), GetClientIP(req))
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(r.rpm))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// GetClientIP extracts client IP from headers or RemoteAddr
func GetClientIP(r *http.Request) string {
	// Try common proxy headers
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Use the first IP in the list
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return strings.TrimSpace(rip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

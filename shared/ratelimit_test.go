package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_InMemoryWindow(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	rl := NewRateLimiter(2, nil)
	rl.now = clock.Now

	ok, remaining := rl.Allow(ctx, "1.2.3.4")
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)
	ok, _ = rl.Allow(ctx, "1.2.3.4")
	assert.True(t, ok)
	ok, _ = rl.Allow(ctx, "1.2.3.4")
	assert.False(t, ok)

	ok, _ = rl.Allow(ctx, "5.6.7.8")
	assert.True(t, ok, "limits are per client")

	clock.Advance(time.Minute)
	ok, _ = rl.Allow(ctx, "1.2.3.4")
	assert.True(t, ok, "a new window resets the count")
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, nil)
	for i := 0; i < 100; i++ {
		ok, _ := rl.Allow(context.Background(), "1.2.3.4")
		require.True(t, ok)
	}
}

func TestRateLimiter_Redis(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	rl := NewRateLimiter(1, client)

	ok, _ := rl.Allow(ctx, "1.2.3.4")
	assert.True(t, ok)
	ok, remaining := rl.Allow(ctx, "1.2.3.4")
	assert.False(t, ok)
	assert.Negative(t, remaining)

	// A second limiter sharing Redis sees the same window.
	other := NewRateLimiter(1, client)
	ok, _ = other.Allow(ctx, "1.2.3.4")
	assert.False(t, ok)
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, nil)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/info", nil)
	req.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", GetClientIP(req))

	req.Header.Set("X-Real-IP", " 198.51.100.7 ")
	assert.Equal(t, "198.51.100.7", GetClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 198.51.100.7")
	assert.Equal(t, "203.0.113.9", GetClientIP(req))
}

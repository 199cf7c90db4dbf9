package shared

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// stubFetcher is a scriptable Fetcher for tests.
type stubFetcher struct {
	meta      Metadata
	metaErr   error
	mediaErr  error
	path      string
	emptyPath bool
	release   chan struct{} // when set, FetchMedia blocks until it is closed
	panicWith any

	metaCalls  atomic.Int32
	mediaCalls atomic.Int32
}

func (f *stubFetcher) FetchMetadata(_ context.Context, _ string) (Metadata, error) {
	f.metaCalls.Add(1)
	return f.meta, f.metaErr
}

func (f *stubFetcher) FetchMedia(ctx context.Context, url, _ string, _ MediaKind) (string, error) {
	f.mediaCalls.Add(1)
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.mediaErr != nil {
		return "", f.mediaErr
	}
	if f.emptyPath {
		return "", nil
	}
	if f.path != "" {
		return f.path, nil
	}
	return "/downloads/" + url[len(url)-1:] + ".mp4", nil
}

func (f *stubFetcher) ListFormats(kind MediaKind) []FormatDescriptor {
	return NewYtDlpFetcher("", "", "").ListFormats(kind)
}

var errFetch = errors.New("extractor exploded")

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newJob(id, url string, p Priority) MediaJob {
	return MediaJob{ID: id, URL: url, Kind: MediaKindVideo, Format: "best", Priority: p, SubmittedAt: time.Now()}
}

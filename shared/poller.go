package shared

import (
	"context"
	"time"
)

// maxPendingProgress caps the time-derived progress until a terminal state is seen.
const maxPendingProgress = 0.9

// Progress is reported to the watcher after every sample.
type Progress struct {
	Status   JobStatus     `json:"status"`
	Fraction float64       `json:"progress"`
	Elapsed  time.Duration `json:"elapsed"`
}

// WatchResult is the outcome of a Watch call. TimedOut means observation
// stopped before the job reached a terminal state; the job itself keeps running.
type WatchResult struct {
	Status   JobStatus `json:"status"`
	Fraction float64   `json:"progress"`
	TimedOut bool      `json:"timed_out"`
}

// StatusPoller observes the registry for a single job at a time per Watch call.
type StatusPoller struct {
	registry JobRegistry
	interval time.Duration
	now      func() time.Time
}

func NewStatusPoller(registry JobRegistry, interval time.Duration) *StatusPoller {
	if interval <= 0 {
		interval = time.Second
	}
	return &StatusPoller{registry: registry, interval: interval, now: time.Now}
}

// Watch samples the job's status every interval, and immediately whenever the
// registry publishes a change, until the status is terminal or timeout elapses.
// onUpdate may be nil. Only an unknown job id or a cancelled ctx return an error.
func (p *StatusPoller) Watch(ctx context.Context, jobID string, onUpdate func(Progress), timeout time.Duration) (WatchResult, error) {
	// Subscribe before the first read so no update can slip in between.
	updates, unsubscribe := p.registry.Subscribe(ctx, jobID)
	defer unsubscribe()

	status, err := p.registry.Get(ctx, jobID)
	if err != nil {
		return WatchResult{}, err
	}

	start := p.now()
	report := func(s JobStatus) WatchResult {
		elapsed := p.now().Sub(start)
		fraction := progressFraction(s, elapsed, timeout)
		if onUpdate != nil {
			onUpdate(Progress{Status: s, Fraction: fraction, Elapsed: elapsed})
		}
		return WatchResult{Status: s, Fraction: fraction}
	}

	last := report(status)
	if status.State.IsTerminal() {
		return last, nil
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-deadline.C:
			last.TimedOut = true
			return last, nil
		case s, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			status = s
		case <-ticker.C:
			s, err := p.registry.Get(ctx, jobID)
			if err != nil {
				if ctx.Err() != nil {
					return last, ctx.Err()
				}
				// Transient read errors keep the previous observation.
				continue
			}
			status = s
		}

		last = report(status)
		if status.State.IsTerminal() {
			return last, nil
		}
	}
}

func progressFraction(s JobStatus, elapsed, timeout time.Duration) float64 {
	if s.State == JobStateCompleted {
		return 1
	}
	if timeout <= 0 {
		return 0
	}
	f := float64(elapsed) / float64(timeout)
	if f > maxPendingProgress {
		f = maxPendingProgress
	}
	return f
}

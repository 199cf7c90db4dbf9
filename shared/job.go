// shared/job.go
package shared

import (
	"fmt"
	"strings"
	"time"
)

// Metadata structure for response
type Metadata struct {
	Title     string  `json:"title"`
	Uploader  string  `json:"uploader"`
	Duration  float64 `json:"duration"`
	Thumbnail string  `json:"thumbnail,omitempty"`
	Ext       string  `json:"ext,omitempty"`
}

// FormatDescriptor is one selectable quality for a media kind.
type FormatDescriptor struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type MediaKind string

const (
	MediaKindVideo MediaKind = "video"
	MediaKindAudio MediaKind = "audio"
)

func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(strings.ToLower(strings.TrimSpace(s))) {
	case MediaKindVideo:
		return MediaKindVideo, nil
	case MediaKindAudio:
		return MediaKindAudio, nil
	}
	return "", fmt.Errorf("%w: unknown media kind %q", ErrInvalidInput, s)
}

// Priority selects the lane a job waits in. Higher values are dequeued first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// Priorities lists every tier in dequeue precedence order (highest first).
var Priorities = [...]Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}

const numPriorities = len(Priorities)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityUrgent
}

// ParsePriority converts the wire form of a tier. An empty string is treated as normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "urgent":
		return PriorityUrgent, nil
	}
	return PriorityNormal, fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, s)
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// SubmitRequest is the client input for a new job
type SubmitRequest struct {
	URL      string `json:"url" validate:"required,url"`
	Kind     string `json:"kind" validate:"required,oneof=video audio"`
	Format   string `json:"format" validate:"required"`
	Priority string `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
}

type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// canTransition reports whether a status may move from s to next.
// Pending -> Running -> {Completed, Failed}; a Pending job may also fail
// directly when it could not be queued.
func (s JobState) canTransition(next JobState) bool {
	if s == next {
		return !s.IsTerminal()
	}
	switch s {
	case JobStatePending:
		return next == JobStateRunning || next == JobStateFailed
	case JobStateRunning:
		return next.IsTerminal()
	}
	return false
}

// MediaJob is the unit of work carried by the queue. It is never mutated
// once created.
type MediaJob struct {
	ID          string    `json:"job_id"`
	URL         string    `json:"url"`
	Kind        MediaKind `json:"kind"`
	Format      string    `json:"format"`
	Priority    Priority  `json:"priority"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// JobStatus represents the observable state of a MediaJob
type JobStatus struct {
	ID          string     `json:"job_id"`
	State       JobState   `json:"state"`
	URL         string     `json:"url"`
	Kind        MediaKind  `json:"kind"`
	Format      string     `json:"format"`
	Priority    Priority   `json:"priority"`
	ResultPath  string     `json:"result_path,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"last_updated"`
}

func newPendingStatus(job MediaJob, now time.Time) JobStatus {
	return JobStatus{
		ID:        job.ID,
		State:     JobStatePending,
		URL:       job.URL,
		Kind:      job.Kind,
		Format:    job.Format,
		Priority:  job.Priority,
		CreatedAt: job.SubmittedAt,
		UpdatedAt: now,
	}
}

// clone returns a deep copy so readers never share the time pointers
// with the writer.
func (s JobStatus) clone() JobStatus {
	c := s
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// MarkRunning, MarkCompleted and MarkFailed are the mutations applied by
// the worker owning a job.
func MarkRunning(now time.Time) func(*JobStatus) {
	return func(s *JobStatus) {
		s.State = JobStateRunning
		s.StartedAt = &now
	}
}

func MarkCompleted(path string, now time.Time) func(*JobStatus) {
	return func(s *JobStatus) {
		s.State = JobStateCompleted
		s.ResultPath = path
		s.Error = ""
		s.CompletedAt = &now
	}
}

func MarkFailed(reason string, now time.Time) func(*JobStatus) {
	return func(s *JobStatus) {
		s.State = JobStateFailed
		s.ResultPath = ""
		s.Error = reason
		s.CompletedAt = &now // Mark completion time even for failures
	}
}

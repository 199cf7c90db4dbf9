package shared

import "errors"

var (
	// ErrInvalidInput is returned synchronously for rejected submissions; no job is created.
	ErrInvalidInput = errors.New("invalid input")

	ErrJobNotFound = errors.New("job not found")

	// ErrIllegalTransition guards the Pending -> Running -> {Completed, Failed} state machine.
	ErrIllegalTransition = errors.New("illegal job state transition")

	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

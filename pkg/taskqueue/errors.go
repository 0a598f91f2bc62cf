package taskqueue

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionLost fails every queued and pending task when the connection closes.
	ErrConnectionLost = errors.New("taskqueue: connection lost")

	// ErrQueueClosed is returned by Enqueue after Close. It wraps ErrConnectionLost.
	ErrQueueClosed = fmt.Errorf("taskqueue: queue closed: %w", ErrConnectionLost)

	// ErrUnknownFeedback describes feedback flags the correlator does not understand.
	// It is only logged, never returned to callers.
	ErrUnknownFeedback = errors.New("taskqueue: unknown feedback flags")

	// ErrCommandRejected fails a task the hub answered with a generic error.
	ErrCommandRejected = errors.New("taskqueue: command rejected by hub")

	// ErrInvalidTask is returned by Enqueue for tasks that could never resolve.
	ErrInvalidTask = errors.New("taskqueue: invalid task")
)

package task

import "github.com/google/uuid"

// TaskQueueReader provides read-only access to queued task IDs, allowing
// workers to consume them without the ability to enqueue.
type TaskQueueReader interface {
	// GetChannel returns a read-only channel of task IDs.
	GetChannel() <-chan uuid.UUID

	// Release marks id as no longer queued once a worker is done with it,
	// so the dispatcher may queue it again.
	Release(id uuid.UUID)
}

// TaskQueueWriter provides write access to the task queue.
type TaskQueueWriter interface {
	// Enqueue adds a task ID to the queue.
	// Returns ErrAlreadyQueued, ErrQueueFull or ErrQueueClosed.
	Enqueue(id uuid.UUID) error

	// Close closes the task queue, preventing further submission.
	Close()
}

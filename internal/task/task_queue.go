package task

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Common errors returned by the TaskQueue
var (
	ErrQueueClosed   = errors.New("task queue is closed")
	ErrQueueFull     = errors.New("task queue is full")
	ErrAlreadyQueued = errors.New("task already queued")
)

// TaskQueue is a bounded queue of task IDs. An ID stays marked as queued from
// Enqueue until a worker calls Release, so the dispatcher never queues the
// same task twice while it is waiting or being delivered.
type TaskQueue struct {
	mu      sync.Mutex
	ids     chan uuid.UUID
	pending map[uuid.UUID]struct{}
	logger  *slog.Logger
	closed  bool
}

var (
	_ TaskQueueReader = (*TaskQueue)(nil)
	_ TaskQueueWriter = (*TaskQueue)(nil)
)

// NewTaskQueue creates a new task queue with the specified buffer size
func NewTaskQueue(size int, logger *slog.Logger) *TaskQueue {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskQueue{
		ids:     make(chan uuid.UUID, size),
		pending: make(map[uuid.UUID]struct{}),
		logger:  logger,
	}
}

// Enqueue adds a task ID to the queue for processing.
func (q *TaskQueue) Enqueue(id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if _, ok := q.pending[id]; ok {
		return ErrAlreadyQueued
	}

	select {
	case q.ids <- id:
		q.pending[id] = struct{}{}
		q.logger.Debug("task enqueued",
			"task_id", id,
			"queue_len", len(q.ids),
			"queue_cap", cap(q.ids))
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.ids))
	}
}

// Release implements TaskQueueReader.
func (q *TaskQueue) Release(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, id)
}

// Len returns the number of IDs waiting in the queue.
func (q *TaskQueue) Len() int {
	return len(q.ids)
}

// Cap returns the queue capacity.
func (q *TaskQueue) Cap() int {
	return cap(q.ids)
}

// Close closes the task queue, preventing further task submission
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ids)
		q.logger.Info("task queue closed")
	}
}

// GetChannel returns a read-only channel for consuming task IDs
func (q *TaskQueue) GetChannel() <-chan uuid.UUID {
	return q.ids
}

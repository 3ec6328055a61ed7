package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/safe-notify/internal/domain"
)

// ListFilter narrows a task listing. The zero value lists every task.
type ListFilter struct {
	// Status limits the listing to one status when non-empty.
	Status domain.Status

	// Limit caps the number of tasks returned; zero means no cap.
	Limit int
}

// TaskStore is the single owner of notification task records. Every other
// component reads and mutates tasks only through these operations, and every
// returned task is a snapshot the caller may keep without affecting the store.
// Version: 1.0
type TaskStore interface {
	// Create inserts task with status PENDING and zero attempts unless a task
	// with the same idempotency key already exists, in which case it returns
	// the existing task and created=false. The check and insert are atomic.
	Create(ctx context.Context, task *domain.Task) (existing *domain.Task, created bool, err error)

	// Get retrieves a task by ID.
	// Returns ErrTaskNotFound if the task does not exist.
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// List returns task snapshots ordered by UpdatedAt descending, then ID
	// descending.
	List(ctx context.Context, filter ListFilter) ([]*domain.Task, error)

	// Transition moves a task from status from to status to and applies
	// update, as one compare-and-swap.
	// Returns ErrTaskNotFound if the task does not exist,
	// domain.ErrInvalidTransition if from -> to is not a legal edge,
	// and ErrConflict if the task is no longer in status from, or if the
	// transition claims the task (to == PROCESSING) before its NextRetryAt.
	Transition(ctx context.Context, id uuid.UUID, from, to domain.Status, update domain.TaskUpdate) (*domain.Task, error)

	// ListDue returns up to limit PENDING or FAILED tasks whose NextRetryAt is
	// not after now, earliest eligibility first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Task, error)

	// ListStuck returns PROCESSING tasks whose claim started before olderThan.
	ListStuck(ctx context.Context, olderThan time.Time) ([]*domain.Task, error)
}

// CheckTransition validates the from -> to edge and the current state of
// task, returning the error TaskStore.Transition must report. Backends call
// it while holding whatever guard makes their read-check-write atomic.
func CheckTransition(task *domain.Task, from, to domain.Status, now time.Time) error {
	if !domain.CanTransition(from, to) {
		return &domain.TransitionError{TaskID: task.ID, From: from, To: to}
	}
	if task.Status != from {
		return NewStoreError("task", "transition",
			"expected status "+string(from)+", found "+string(task.Status), ErrConflict)
	}
	if to == domain.StatusProcessing && now.Before(task.NextRetryAt) {
		return NewStoreError("task", "transition",
			"task is not eligible until "+task.NextRetryAt.Format(time.RFC3339Nano), ErrConflict)
	}
	return nil
}

package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/safe-notify/internal/domain"
)

// Type names a lifecycle event.
type Type string

// Lifecycle event types.
const (
	TypeTaskCreated        Type = "task.created"
	TypeTaskSent           Type = "task.sent"
	TypeTaskRetryScheduled Type = "task.retry_scheduled"
	TypeTaskDeadLettered   Type = "task.dead_lettered"
	TypeTaskReplayed       Type = "task.replayed"
	TypeTaskRecovered      Type = "task.recovered"
)

// TaskEvent records one committed task transition.
type TaskEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	Type         Type          `json:"type"`
	TaskID       uuid.UUID     `json:"task_id"`
	EntityID     string        `json:"entity_id"`
	Status       domain.Status `json:"status"`
	AttemptCount int           `json:"attempt_count"`
	LastError    string        `json:"last_error,omitempty"`
	NextRetryAt  *time.Time    `json:"next_retry_at,omitempty"`

	// OccurredAt is the task's UpdatedAt after the transition
	OccurredAt time.Time `json:"occurred_at"`
}

// NewTaskEvent builds an event of type t from a task snapshot taken right
// after the transition.
func NewTaskEvent(t Type, task *domain.Task) *TaskEvent {
	event := &TaskEvent{
		ID:           uuid.New(),
		Type:         t,
		TaskID:       task.ID,
		EntityID:     task.EntityID,
		Status:       task.Status,
		AttemptCount: task.AttemptCount,
		LastError:    task.LastError,
		OccurredAt:   task.UpdatedAt,
	}
	if t == TypeTaskRetryScheduled {
		next := task.NextRetryAt
		event.NextRetryAt = &next
	}
	return event
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	HandleEvent(ctx context.Context, event *TaskEvent) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event *TaskEvent) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *TaskEvent) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
// This allows services to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *TaskEvent) error
}

// NopEmitter discards every event.
type NopEmitter struct{}

// EmitEvent implements EventEmitter.
func (NopEmitter) EmitEvent(context.Context, *TaskEvent) error { return nil }

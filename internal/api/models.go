package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/safe-notify/internal/domain"
	"github.com/phrazzld/safe-notify/internal/redact"
)

// SubmitEventRequest is the POST /events payload. Empty eventType and
// priority take the intake defaults.
type SubmitEventRequest struct {
	EventType        string `json:"eventType"        validate:"omitempty,oneof=ticket_escalated ticket_assigned ticket_resolved sla_breached"`
	EntityID         string `json:"entityId"         validate:"required,max=128"`
	Priority         string `json:"priority"         validate:"omitempty,oneof=LOW MED HIGH"`
	RecipientEmail   string `json:"recipientEmail"   validate:"required,email"`
	ChaosFailPercent int    `json:"chaosFailPercent" validate:"min=0,max=100"`
	IdempotencyKey   string `json:"idempotencyKey"   validate:"omitempty,max=255"`
}

func (req SubmitEventRequest) params() domain.NewTaskParams {
	return domain.NewTaskParams{
		EventType:        domain.EventType(req.EventType),
		EntityID:         req.EntityID,
		Recipient:        req.RecipientEmail,
		Priority:         domain.Priority(req.Priority),
		ChaosFailPercent: req.ChaosFailPercent,
		IdempotencyKey:   req.IdempotencyKey,
	}
}

// TaskResponse is the client view of a task.
type TaskResponse struct {
	TaskID           uuid.UUID        `json:"task_id"`
	IdempotencyKey   string           `json:"idempotency_key"`
	EventType        domain.EventType `json:"event_type"`
	EntityID         string           `json:"entity_id"`
	Channel          domain.Channel   `json:"channel"`
	RecipientEmail   string           `json:"recipient_email"`
	Priority         domain.Priority  `json:"priority"`
	ChaosFailPercent int              `json:"chaos_fail_percent"`
	Status           domain.Status    `json:"status"`
	InFlight         bool             `json:"in_flight"`
	AttemptCount     int              `json:"attempt_count"`
	MaxAttempts      int              `json:"max_attempts"`
	LastError        string           `json:"last_error"`
	NextRetryAt      time.Time        `json:"next_retry_at"`
	WorkerID         string           `json:"worker_id,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// SubmitEventResponse is the POST /events response.
type SubmitEventResponse struct {
	TaskResponse
	Duplicate bool `json:"duplicate"`
}

// ListNotificationsResponse is the GET /notifications response.
type ListNotificationsResponse struct {
	Items []TaskResponse `json:"items"`
}

// ReplayResponse is the POST /tasks/{task_id}/replay response.
type ReplayResponse struct {
	OK     bool         `json:"ok"`
	TaskID uuid.UUID    `json:"task_id"`
	Task   TaskResponse `json:"task"`
}

// publicStatus hides the in-flight hold from readers: a claimed task is
// still pending delivery.
func publicStatus(s domain.Status) domain.Status {
	if s == domain.StatusProcessing {
		return domain.StatusPending
	}
	return s
}

func toTaskResponse(t *domain.Task) TaskResponse {
	return TaskResponse{
		TaskID:           t.ID,
		IdempotencyKey:   t.IdempotencyKey,
		EventType:        t.EventType,
		EntityID:         t.EntityID,
		Channel:          t.Channel,
		RecipientEmail:   t.Recipient,
		Priority:         t.Priority,
		ChaosFailPercent: t.ChaosFailPercent,
		Status:           publicStatus(t.Status),
		InFlight:         t.Status == domain.StatusProcessing,
		AttemptCount:     t.AttemptCount,
		MaxAttempts:      t.MaxAttempts,
		LastError:        redact.String(t.LastError),
		NextRetryAt:      t.NextRetryAt,
		WorkerID:         t.WorkerID,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

func toTaskResponses(tasks []*domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskResponse(t))
	}
	return out
}

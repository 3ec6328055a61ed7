package domain

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Priority is an informational ordering hint; it never preempts scheduling.
type Priority string

// Supported priorities.
const (
	PriorityLow  Priority = "LOW"
	PriorityMed  Priority = "MED"
	PriorityHigh Priority = "HIGH"
)

// EventType identifies why a notification was raised.
type EventType string

// Supported event types.
const (
	EventTicketEscalated EventType = "ticket_escalated"
	EventTicketAssigned  EventType = "ticket_assigned"
	EventTicketResolved  EventType = "ticket_resolved"
	EventSLABreached     EventType = "sla_breached"
)

// Channel is the delivery channel tag of a task.
type Channel string

// ChannelEmail is the only channel currently supported.
const ChannelEmail Channel = "EMAIL"

// Intake limits.
const (
	MaxEntityIDLength       = 128
	MaxIdempotencyKeyLength = 255
)

var validate = validator.New()

// Task is one notification's unit of work and its lifecycle state.
type Task struct {
	ID                  uuid.UUID  `json:"task_id"`
	IdempotencyKey      string     `json:"idempotency_key"`
	EventType           EventType  `json:"event_type"`
	EntityID            string     `json:"entity_id"`
	Channel             Channel    `json:"channel"`
	Recipient           string     `json:"recipient_email"`
	Priority            Priority   `json:"priority"`
	ChaosFailPercent    int        `json:"chaos_fail_percent"`
	Status              Status     `json:"status"`
	AttemptCount        int        `json:"attempt_count"`
	MaxAttempts         int        `json:"max_attempts"`
	LastError           string     `json:"last_error"`
	NextRetryAt         time.Time  `json:"next_retry_at"`
	WorkerID            string     `json:"worker_id,omitempty"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// NewTaskParams holds the admission-time fields of an event.
type NewTaskParams struct {
	EventType        EventType
	EntityID         string
	Channel          Channel
	Recipient        string
	Priority         Priority
	ChaosFailPercent int
	IdempotencyKey   string
}

// NewTask validates params and builds a PENDING task eligible immediately.
func NewTask(params NewTaskParams, maxAttempts int, now time.Time) (*Task, error) {
	params.EntityID = strings.TrimSpace(params.EntityID)
	params.Recipient = strings.TrimSpace(params.Recipient)
	params.IdempotencyKey = strings.TrimSpace(params.IdempotencyKey)
	if params.Channel == "" {
		params.Channel = ChannelEmail
	}

	if err := params.Validate(); err != nil {
		return nil, err
	}
	if maxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be positive, got %d", maxAttempts)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate task id: %w", err)
	}

	now = now.UTC()
	return &Task{
		ID:               id,
		IdempotencyKey:   IdempotencyKey(params),
		EventType:        params.EventType,
		EntityID:         params.EntityID,
		Channel:          params.Channel,
		Recipient:        params.Recipient,
		Priority:         params.Priority,
		ChaosFailPercent: params.ChaosFailPercent,
		Status:           StatusPending,
		MaxAttempts:      maxAttempts,
		NextRetryAt:      now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Validate checks every intake field. The first failure is returned as a
// *ValidationError.
func (p NewTaskParams) Validate() error {
	switch p.EventType {
	case EventTicketEscalated, EventTicketAssigned, EventTicketResolved, EventSLABreached:
	case "":
		return NewValidationError("eventType", "is required", nil)
	default:
		return NewValidationError("eventType", fmt.Sprintf("%q is not a supported event type", p.EventType), nil)
	}

	if p.EntityID == "" {
		return NewValidationError("entityId", "is required", nil)
	}
	if utf8.RuneCountInString(p.EntityID) > MaxEntityIDLength {
		return NewValidationError("entityId", fmt.Sprintf("must be at most %d characters", MaxEntityIDLength), nil)
	}

	if p.Channel != ChannelEmail {
		return NewValidationError("channel", fmt.Sprintf("%q is not a supported channel", p.Channel), nil)
	}

	if p.Recipient == "" {
		return NewValidationError("recipientEmail", "is required", nil)
	}
	if err := validate.Var(p.Recipient, "email"); err != nil {
		return NewValidationError("recipientEmail", "must be a valid email address", nil)
	}

	switch p.Priority {
	case PriorityLow, PriorityMed, PriorityHigh:
	default:
		return NewValidationError("priority", "must be one of LOW, MED, HIGH", nil)
	}

	if p.ChaosFailPercent < 0 || p.ChaosFailPercent > 100 {
		return NewValidationError("chaosFailPercent", "must be an integer between 0 and 100", nil)
	}

	if utf8.RuneCountInString(p.IdempotencyKey) > MaxIdempotencyKeyLength {
		return NewValidationError("idempotencyKey", fmt.Sprintf("must be at most %d characters", MaxIdempotencyKeyLength), nil)
	}
	return nil
}

// IdempotencyKey returns the caller-supplied key when present, otherwise
// event_type:entity_id:channel:recipient.
func IdempotencyKey(p NewTaskParams) string {
	if key := strings.TrimSpace(p.IdempotencyKey); key != "" {
		return key
	}
	channel := p.Channel
	if channel == "" {
		channel = ChannelEmail
	}
	return fmt.Sprintf("%s:%s:%s:%s",
		p.EventType,
		strings.TrimSpace(p.EntityID),
		channel,
		strings.ToLower(strings.TrimSpace(p.Recipient)))
}

// CompareIDs orders task IDs by their bytes, which for UUIDv7 is creation
// order. It matches the ordering of the uuid column in Postgres.
func CompareIDs(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

// Eligible reports whether the task may be claimed at now.
func (t *Task) Eligible(now time.Time) bool {
	return t.Status.Dispatchable() && !now.Before(t.NextRetryAt)
}

// Clone returns a deep copy so callers never share a store's record.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.ProcessingStartedAt != nil {
		started := *t.ProcessingStartedAt
		c.ProcessingStartedAt = &started
	}
	return &c
}

// TaskUpdate lists the fields a transition may change alongside the status.
// Nil pointers leave the field untouched.
type TaskUpdate struct {
	AttemptCount *int
	LastError    *string
	NextRetryAt  *time.Time
	// WorkerID sets the claim owner; an empty string releases the claim.
	WorkerID *string
}

// Apply moves t to status to and applies u, stamping UpdatedAt with now.
// Claims set ProcessingStartedAt; every other status clears the claim.
func (t *Task) Apply(to Status, u TaskUpdate, now time.Time) {
	now = now.UTC()
	t.Status = to
	if u.AttemptCount != nil {
		t.AttemptCount = *u.AttemptCount
	}
	if u.LastError != nil {
		t.LastError = *u.LastError
	}
	if u.NextRetryAt != nil {
		t.NextRetryAt = u.NextRetryAt.UTC()
	}
	if u.WorkerID != nil {
		t.WorkerID = *u.WorkerID
	}
	if to == StatusProcessing {
		started := now
		t.ProcessingStartedAt = &started
	} else {
		t.WorkerID = ""
		t.ProcessingStartedAt = nil
	}
	t.UpdatedAt = now
}

// Ptr returns a pointer to v; it keeps TaskUpdate literals short.
func Ptr[T any](v T) *T {
	return &v
}

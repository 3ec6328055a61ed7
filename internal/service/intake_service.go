package service

import (
	"context"
	"log/slog"

	"github.com/phrazzld/safe-notify/internal/clock"
	"github.com/phrazzld/safe-notify/internal/domain"
	"github.com/phrazzld/safe-notify/internal/events"
	"github.com/phrazzld/safe-notify/internal/platform/logger"
	"github.com/phrazzld/safe-notify/internal/store"
)

// Defaults applied to intake fields the caller leaves empty.
const (
	DefaultEventType = domain.EventTicketEscalated
	DefaultPriority  = domain.PriorityHigh
)

// IntakeService admits new events as notification tasks.
type IntakeService interface {
	// Submit validates params and creates a task for them, unless a task with
	// the same idempotency key already exists. It returns the canonical task
	// and whether this call created it.
	Submit(ctx context.Context, params domain.NewTaskParams) (task *domain.Task, created bool, err error)
}

type intakeServiceImpl struct {
	store       store.TaskStore
	emitter     events.EventEmitter
	clock       clock.Clock
	maxAttempts int
	logger      *slog.Logger
}

// NewIntakeService creates an IntakeService. New tasks get maxAttempts as
// their attempt budget.
func NewIntakeService(
	st store.TaskStore,
	emitter events.EventEmitter,
	clk clock.Clock,
	maxAttempts int,
	logger *slog.Logger,
) (IntakeService, error) {
	if st == nil {
		return nil, dependencyError("intake", "store")
	}
	if maxAttempts <= 0 {
		return nil, &ServiceError{
			Service:   "intake",
			Operation: "create_service",
			Message:   "maxAttempts must be positive",
		}
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &intakeServiceImpl{
		store:       st,
		emitter:     emitter,
		clock:       clk,
		maxAttempts: maxAttempts,
		logger:      logger.With("component", "intake_service"),
	}, nil
}

// Submit implements IntakeService.
func (s *intakeServiceImpl) Submit(ctx context.Context, params domain.NewTaskParams) (*domain.Task, bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if params.EventType == "" {
		params.EventType = DefaultEventType
	}
	if params.Priority == "" {
		params.Priority = DefaultPriority
	}

	task, err := domain.NewTask(params, s.maxAttempts, s.clock.Now())
	if err != nil {
		log.Debug("rejected event", "error", err)
		return nil, false, NewServiceError("intake", "submit", "invalid event", err)
	}

	canonical, created, err := s.store.Create(ctx, task)
	if err != nil {
		log.Error("failed to create task",
			"idempotency_key", task.IdempotencyKey,
			"error", err)
		return nil, false, NewServiceError("intake", "submit", "failed to create task", err)
	}

	if !created {
		log.Info("duplicate event suppressed",
			"task_id", canonical.ID,
			"idempotency_key", canonical.IdempotencyKey,
			"status", canonical.Status)
		return canonical, false, nil
	}

	log.Info("task created",
		"task_id", canonical.ID,
		"event_type", canonical.EventType,
		"entity_id", canonical.EntityID,
		"priority", canonical.Priority,
		"chaos_fail_percent", canonical.ChaosFailPercent)

	// Handlers log their own failures.
	_ = s.emitter.EmitEvent(ctx, events.NewTaskEvent(events.TypeTaskCreated, canonical))
	return canonical, true, nil
}

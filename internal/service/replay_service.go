package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/phrazzld/safe-notify/internal/clock"
	"github.com/phrazzld/safe-notify/internal/domain"
	"github.com/phrazzld/safe-notify/internal/events"
	"github.com/phrazzld/safe-notify/internal/platform/logger"
	"github.com/phrazzld/safe-notify/internal/store"
)

// ReplayService returns dead-lettered tasks to the delivery pipeline.
type ReplayService interface {
	// Replay moves a DLQ task back to PENDING with a fresh attempt budget.
	// Returns store.ErrTaskNotFound for an unknown task and
	// domain.ErrInvalidTransition when the task is not in DLQ.
	Replay(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)
}

type replayServiceImpl struct {
	store   store.TaskStore
	emitter events.EventEmitter
	clock   clock.Clock
	logger  *slog.Logger
}

// NewReplayService creates a ReplayService.
func NewReplayService(
	st store.TaskStore,
	emitter events.EventEmitter,
	clk clock.Clock,
	logger *slog.Logger,
) (ReplayService, error) {
	if st == nil {
		return nil, dependencyError("replay", "store")
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

	return &replayServiceImpl{
		store:   st,
		emitter: emitter,
		clock:   clk,
		logger:  logger.With("component", "replay_service"),
	}, nil
}

// Replay implements ReplayService.
func (s *replayServiceImpl) Replay(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With("task_id", taskID)

	current, err := s.store.Get(ctx, taskID)
	if err != nil {
		return nil, NewServiceError("replay", "replay", "failed to load task", err)
	}
	if current.Status != domain.StatusDLQ {
		log.Info("replay rejected", "status", current.Status)
		return nil, &domain.TransitionError{TaskID: taskID, From: current.Status, To: domain.StatusPending}
	}

	zero := 0
	now := s.clock.Now()
	replayed, err := s.store.Transition(ctx, taskID, domain.StatusDLQ, domain.StatusPending, domain.TaskUpdate{
		AttemptCount: &zero,
		LastError:    domain.Ptr(""),
		NextRetryAt:  &now,
		WorkerID:     domain.Ptr(""),
	})
	if err != nil {
		if store.IsConflictError(err) {
			// Another replay got there first.
			log.Info("replay lost race with concurrent replay")
			return nil, &domain.TransitionError{TaskID: taskID, From: domain.StatusDLQ, To: domain.StatusPending}
		}
		log.Error("failed to replay task", "error", err)
		return nil, NewServiceError("replay", "replay", "failed to move task out of DLQ", err)
	}

	log.Info("task replayed",
		"previous_attempts", current.AttemptCount,
		"previous_error", current.LastError)
	_ = s.emitter.EmitEvent(ctx, events.NewTaskEvent(events.TypeTaskReplayed, replayed))
	return replayed, nil
}

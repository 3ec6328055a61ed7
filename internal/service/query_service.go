package service

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/phrazzld/safe-notify/internal/domain"
	"github.com/phrazzld/safe-notify/internal/store"
)

// QueryService is the read path over task state. Every call returns fresh
// snapshots; it holds no cursor and never mutates tasks.
type QueryService interface {
	// ListNotifications returns tasks ordered by most recent change first.
	ListNotifications(ctx context.Context, filter store.ListFilter) ([]*domain.Task, error)

	// GetNotification returns one task.
	// Returns store.ErrTaskNotFound if the task does not exist.
	GetNotification(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)
}

type queryServiceImpl struct {
	store  store.TaskStore
	logger *slog.Logger
}

// NewQueryService creates a QueryService.
func NewQueryService(st store.TaskStore, logger *slog.Logger) (QueryService, error) {
	if st == nil {
		return nil, dependencyError("query", "store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &queryServiceImpl{
		store:  st,
		logger: logger.With("component", "query_service"),
	}, nil
}

func (s *queryServiceImpl) ListNotifications(ctx context.Context, filter store.ListFilter) ([]*domain.Task, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.NewValidationError("status", "must be one of PENDING, PROCESSING, FAILED, SENT, DLQ", domain.ErrInvalidStatus)
	}
	if filter.Limit < 0 {
		return nil, domain.NewValidationError("limit", "must not be negative", nil)
	}

	tasks, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, NewServiceError("query", "list", "failed to list tasks", err)
	}
	if filter.Status == domain.StatusPending {
		// In-flight tasks read as pending.
		inFlight, err := s.store.List(ctx, store.ListFilter{Status: domain.StatusProcessing, Limit: filter.Limit})
		if err != nil {
			return nil, NewServiceError("query", "list", "failed to list tasks", err)
		}
		tasks = mergeByRecency(tasks, inFlight, filter.Limit)
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	return tasks, nil
}

// mergeByRecency combines two listings in store order (updated_at desc,
// then ID desc) and applies limit when positive.
func mergeByRecency(a, b []*domain.Task, limit int) []*domain.Task {
	merged := make([]*domain.Task, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)
	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].UpdatedAt.Equal(merged[j].UpdatedAt) {
			return merged[i].UpdatedAt.After(merged[j].UpdatedAt)
		}
		return domain.CompareIDs(merged[i].ID, merged[j].ID) > 0
	})
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

func (s *queryServiceImpl) GetNotification(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return nil, NewServiceError("query", "get", "failed to get task", err)
	}
	return task, nil
}

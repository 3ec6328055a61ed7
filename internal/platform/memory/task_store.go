package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/safe-notify/internal/clock"
	"github.com/phrazzld/safe-notify/internal/domain"
	"github.com/phrazzld/safe-notify/internal/platform/logger"
	"github.com/phrazzld/safe-notify/internal/store"
)

// TaskStore keeps tasks in a map guarded by a single mutex. Every read and
// every check-then-write happens under the lock, so Create and Transition are
// atomic with respect to each other.
type TaskStore struct {
	mu    sync.RWMutex
	clock clock.Clock
	tasks map[uuid.UUID]*domain.Task
	keys  map[string]uuid.UUID // idempotency key -> task ID
}

var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore returns an empty store whose timestamps come from clk.
func NewTaskStore(clk clock.Clock) *TaskStore {
	if clk == nil {
		clk = clock.Real{}
	}
	return &TaskStore{
		clock: clk,
		tasks: make(map[uuid.UUID]*domain.Task),
		keys:  make(map[string]uuid.UUID),
	}
}

// Create implements store.TaskStore.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) (*domain.Task, bool, error) {
	if task == nil || task.ID == uuid.Nil || task.IdempotencyKey == "" {
		return nil, false, store.NewStoreError("task", "create", "task ID and idempotency key are required", store.ErrInvalidEntity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.keys[task.IdempotencyKey]; ok {
		logger.FromContext(ctx).Debug("idempotency key already admitted",
			"idempotency_key", task.IdempotencyKey,
			"task_id", id)
		return s.tasks[id].Clone(), false, nil
	}
	if _, ok := s.tasks[task.ID]; ok {
		return nil, false, store.NewStoreError("task", "create", "task ID already exists", store.ErrDuplicate)
	}

	stored := task.Clone()
	stored.Status = domain.StatusPending
	stored.AttemptCount = 0
	s.tasks[stored.ID] = stored
	s.keys[stored.IdempotencyKey] = stored.ID
	return stored.Clone(), true, nil
}

// Get implements store.TaskStore.
func (s *TaskStore) Get(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return task.Clone(), nil
}

// List implements store.TaskStore.
func (s *TaskStore) List(_ context.Context, filter store.ListFilter) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		out = append(out, task.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return domain.CompareIDs(out[i].ID, out[j].ID) > 0
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Transition implements store.TaskStore.
func (s *TaskStore) Transition(
	ctx context.Context,
	id uuid.UUID,
	from, to domain.Status,
	update domain.TaskUpdate,
) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}

	now := s.clock.Now()
	if err := store.CheckTransition(task, from, to, now); err != nil {
		return nil, err
	}
	task.Apply(to, update, now)

	logger.FromContext(ctx).Debug("task transitioned",
		"task_id", id,
		"from", from,
		"to", to,
		"attempt_count", task.AttemptCount)
	return task.Clone(), nil
}

// ListDue implements store.TaskStore.
func (s *TaskStore) ListDue(_ context.Context, now time.Time, limit int) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Task
	for _, task := range s.tasks {
		if task.Eligible(now) {
			out = append(out, task.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextRetryAt.Equal(out[j].NextRetryAt) {
			return out[i].NextRetryAt.Before(out[j].NextRetryAt)
		}
		return domain.CompareIDs(out[i].ID, out[j].ID) < 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListStuck implements store.TaskStore.
func (s *TaskStore) ListStuck(_ context.Context, olderThan time.Time) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Task
	for _, task := range s.tasks {
		if task.Status != domain.StatusProcessing || task.ProcessingStartedAt == nil {
			continue
		}
		if task.ProcessingStartedAt.Before(olderThan) {
			out = append(out, task.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProcessingStartedAt.Before(*out[j].ProcessingStartedAt)
	})
	return out, nil
}

package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/phrazzld/safe-notify/internal/domain"
	"github.com/phrazzld/safe-notify/internal/events"
	"github.com/phrazzld/safe-notify/internal/store"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockTaskStore is a mock implementation of store.TaskStore
type MockTaskStore struct {
	mock.Mock
}

func (m *MockTaskStore) Create(ctx context.Context, task *domain.Task) (*domain.Task, bool, error) {
	args := m.Called(ctx, task)
	t, _ := args.Get(0).(*domain.Task)
	return t, args.Bool(1), args.Error(2)
}

func (m *MockTaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	args := m.Called(ctx, id)
	t, _ := args.Get(0).(*domain.Task)
	return t, args.Error(1)
}

func (m *MockTaskStore) List(ctx context.Context, filter store.ListFilter) ([]*domain.Task, error) {
	args := m.Called(ctx, filter)
	tasks, _ := args.Get(0).([]*domain.Task)
	return tasks, args.Error(1)
}

func (m *MockTaskStore) Transition(
	ctx context.Context,
	id uuid.UUID,
	from, to domain.Status,
	update domain.TaskUpdate,
) (*domain.Task, error) {
	args := m.Called(ctx, id, from, to, update)
	t, _ := args.Get(0).(*domain.Task)
	return t, args.Error(1)
}

func (m *MockTaskStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Task, error) {
	args := m.Called(ctx, now, limit)
	tasks, _ := args.Get(0).([]*domain.Task)
	return tasks, args.Error(1)
}

func (m *MockTaskStore) ListStuck(ctx context.Context, olderThan time.Time) ([]*domain.Task, error) {
	args := m.Called(ctx, olderThan)
	tasks, _ := args.Get(0).([]*domain.Task)
	return tasks, args.Error(1)
}

// recordingEmitter keeps every emitted event.
type recordingEmitter struct {
	mu     sync.Mutex
	events []*events.TaskEvent
}

func (e *recordingEmitter) EmitEvent(_ context.Context, event *events.TaskEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *recordingEmitter) types() []events.Type {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]events.Type, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

func scenarioA() domain.NewTaskParams {
	return domain.NewTaskParams{
		EventType:        domain.EventTicketEscalated,
		EntityID:         "TICKET-AB3F",
		Priority:         domain.PriorityHigh,
		Recipient:        "a@b.com",
		ChaosFailPercent: 0,
	}
}

package task

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/safe-notify/internal/clock"
	"github.com/phrazzld/safe-notify/internal/domain"
	"github.com/phrazzld/safe-notify/internal/events"
	"github.com/phrazzld/safe-notify/internal/platform/memory"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testID returns a fixed task ID distinguished by n.
func testID(n int) uuid.UUID {
	return uuid.MustParse(fmt.Sprintf("0195f1e2-0000-7000-8000-%012d", n))
}

// recordingSender records messages and can fail or stall on demand.
type recordingSender struct {
	mu    sync.Mutex
	sent  []Message
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (s *recordingSender) Send(ctx context.Context, msg Message) error {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *recordingSender) messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
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

func (e *recordingEmitter) times() []time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]time.Time, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.OccurredAt)
	}
	return out
}

type fixture struct {
	clk       *clock.Fake
	store     *memory.TaskStore
	sender    *recordingSender
	emitter   *recordingEmitter
	deliverer *Deliverer
}

func newFixture(t *testing.T, cfg DelivererConfig) *fixture {
	t.Helper()

	f := &fixture{
		clk:     clock.NewFake(testStart),
		sender:  &recordingSender{},
		emitter: &recordingEmitter{},
	}
	f.store = memory.NewTaskStore(f.clk)

	channels := NewChannelRegistry()
	channels.Register(domain.ChannelEmail, f.sender)

	f.deliverer = NewDeliverer(f.store, channels, NewOutcomeDecider(42), f.emitter, f.clk, cfg, setupTestLogger())
	return f
}

func (f *fixture) createTask(t *testing.T, entity string, chaos int) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(domain.NewTaskParams{
		EventType:        domain.EventTicketEscalated,
		EntityID:         entity,
		Recipient:        "ops@example.com",
		Priority:         domain.PriorityHigh,
		ChaosFailPercent: chaos,
	}, 3, f.clk.Now())
	require.NoError(t, err)

	created, ok, err := f.store.Create(context.Background(), task)
	require.NoError(t, err)
	require.True(t, ok)
	return created
}

func (f *fixture) get(t *testing.T, id uuid.UUID) *domain.Task {
	t.Helper()
	task, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return task
}

// Package storetest holds the behavioural contract every store.TaskStore
// implementation must satisfy. Backends call RunTaskStoreTests from their own
// tests with a factory producing an empty store bound to the given clock.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/safe-notify/internal/clock"
	"github.com/phrazzld/safe-notify/internal/domain"
	"github.com/phrazzld/safe-notify/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty TaskStore whose notion of "now" is clk.
type Factory func(t *testing.T, clk clock.Clock) store.TaskStore

// Start is the fixed time every contract test begins at.
var Start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// NewTask builds a valid pending task for entity at clk's current time.
func NewTask(t *testing.T, clk clock.Clock, entity string) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(domain.NewTaskParams{
		EventType: domain.EventTicketEscalated,
		EntityID:  entity,
		Recipient: "ops@example.com",
		Priority:  domain.PriorityHigh,
	}, 3, clk.Now())
	require.NoError(t, err)
	return task
}

// RunTaskStoreTests runs the full contract against stores built by factory.
func RunTaskStoreTests(t *testing.T, factory Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, factory) })
	t.Run("CreateDuplicateReturnsCanonical", func(t *testing.T) { testCreateDuplicate(t, factory) })
	t.Run("ConcurrentCreateSameKey", func(t *testing.T) { testConcurrentCreate(t, factory) })
	t.Run("GetNotFound", func(t *testing.T) { testGetNotFound(t, factory) })
	t.Run("TransitionCompareAndSwap", func(t *testing.T) { testTransitionCAS(t, factory) })
	t.Run("TransitionRespectsEligibility", func(t *testing.T) { testTransitionEligibility(t, factory) })
	t.Run("ConcurrentClaim", func(t *testing.T) { testConcurrentClaim(t, factory) })
	t.Run("ListOrderingAndFilter", func(t *testing.T) { testList(t, factory) })
	t.Run("ListDue", func(t *testing.T) { testListDue(t, factory) })
	t.Run("ListStuck", func(t *testing.T) { testListStuck(t, factory) })
	t.Run("SnapshotsAreIndependent", func(t *testing.T) { testSnapshots(t, factory) })
}

func testCreateAndGet(t *testing.T, factory Factory) {
	ctx := context.Background()
	clk := clock.NewFake(Start)
	s := factory(t, clk)

	task := NewTask(t, clk, "TICKET-1")
	got, created, err := s.Create(ctx, task)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, 0, got.AttemptCount)

	fetched, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.IdempotencyKey, fetched.IdempotencyKey)
	assert.Equal(t, task.EntityID, fetched.EntityID)
	assert.Equal(t, task.Recipient, fetched.Recipient)
	assert.Equal(t, task.MaxAttempts, fetched.MaxAttempts)
	assert.True(t, task.CreatedAt.Equal(fetched.CreatedAt))
	assert.True(t, task.NextRetryAt.Equal(fetched.NextRetryAt))
}

func testCreateDuplicate(t *testing.T, factory Factory) {
	ctx := context.Background()
	clk := clock.NewFake(Start)
	s := factory(t, clk)

	first := NewTask(t, clk, "TICKET-1")
	_, created, err := s.Create(ctx, first)
	require.NoError(t, err)
	require.True(t, created)

	second := NewTask(t, clk, "TICKET-1")
	require.NotEqual(t, first.ID, second.ID)
	got, created, err := s.Create(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, got.ID)

	_, err = s.Get(ctx, second.ID)
	assert.True(t, errors.Is(err, store.ErrTaskNotFound))

	all, err := s.List(ctx, store.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testConcurrentCreate(t *testing.T, factory Factory) {
	ctx := context.Background()
	clk := clock.NewFake(Start)
	s := factory(t, clk)

	const callers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = make(map[uuid.UUID]int)
		created int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task := NewTask(t, clk, "TICKET-RACE")
			got, ok, err := s.Create(ctx, task)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[got.ID]++
			if ok {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created, "exactly one caller must create the task")
	assert.Len(t, ids, 1, "every caller must receive the same canonical task")
}

func testGetNotFound(t *testing.T, factory Factory) {
	s := factory(t, clock.NewFake(Start))
	missing := uuid.MustParse("00000000-0000-7000-8000-000000000000")
	_, err := s.Get(context.Background(), missing)
	assert.True(t, errors.Is(err, store.ErrTaskNotFound), "got %v", err)

	_, err = s.Transition(context.Background(), missing,
		domain.StatusDLQ, domain.StatusPending, domain.TaskUpdate{})
	assert.True(t, errors.Is(err, store.ErrTaskNotFound), "got %v", err)
}

func testTransitionCAS(t *testing.T, factory Factory) {
	ctx := context.Background()
	clk := clock.NewFake(Start)
	s := factory(t, clk)

	task := NewTask(t, clk, "TICKET-1")
	_, _, err := s.Create(ctx, task)
	require.NoError(t, err)

	clk.Advance(time.Second)
	claimed, err := s.Transition(ctx, task.ID, domain.StatusPending, domain.StatusProcessing,
		domain.TaskUpdate{WorkerID: domain.Ptr("worker-1")})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, claimed.Status)
	assert.Equal(t, "worker-1", claimed.WorkerID)
	require.NotNil(t, claimed.ProcessingStartedAt)
	assert.True(t, clk.Now().Equal(*claimed.ProcessingStartedAt))
	assert.True(t, clk.Now().Equal(claimed.UpdatedAt))

	// A second claim against the stale status loses.
	_, err = s.Transition(ctx, task.ID, domain.StatusPending, domain.StatusProcessing, domain.TaskUpdate{})
	assert.True(t, errors.Is(err, store.ErrConflict), "got %v", err)

	// Edges outside the state machine are rejected regardless of state.
	_, err = s.Transition(ctx, task.ID, domain.StatusProcessing, domain.StatusProcessing, domain.TaskUpdate{})
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition), "got %v", err)

	retryAt := clk.Now().Add(2 * time.Second)
	failed, err := s.Transition(ctx, task.ID, domain.StatusProcessing, domain.StatusFailed, domain.TaskUpdate{
		AttemptCount: domain.Ptr(1),
		LastError:    domain.Ptr("smtp down"),
		NextRetryAt:  &retryAt,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, failed.AttemptCount)
	assert.Equal(t, "smtp down", failed.LastError)
	assert.Empty(t, failed.WorkerID)
	assert.Nil(t, failed.ProcessingStartedAt)
	assert.True(t, retryAt.Equal(failed.NextRetryAt))

	fetched, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, fetched.Status)
	assert.Equal(t, 1, fetched.AttemptCount)
}

func testTransitionEligibility(t *testing.T, factory Factory) {
	ctx := context.Background()
	clk := clock.NewFake(Start)
	s := factory(t, clk)

	task := NewTask(t, clk, "TICKET-1")
	_, _, err := s.Create(ctx, task)
	require.NoError(t, err)
	_, err = s.Transition(ctx, task.ID, domain.StatusPending, domain.StatusProcessing, domain.TaskUpdate{})
	require.NoError(t, err)

	retryAt := clk.Now().Add(2 * time.Second)
	_, err = s.Transition(ctx, task.ID, domain.StatusProcessing, domain.StatusFailed, domain.TaskUpdate{
		AttemptCount: domain.Ptr(1),
		NextRetryAt:  &retryAt,
	})
	require.NoError(t, err)

	clk.Advance(1999 * time.Millisecond)
	_, err = s.Transition(ctx, task.ID, domain.StatusFailed, domain.StatusProcessing, domain.TaskUpdate{})
	assert.True(t, errors.Is(err, store.ErrConflict), "claim before eligibility must conflict, got %v", err)

	clk.Advance(time.Millisecond)
	_, err = s.Transition(ctx, task.ID, domain.StatusFailed, domain.StatusProcessing, domain.TaskUpdate{})
	assert.NoError(t, err)
}

func testConcurrentClaim(t *testing.T, factory Factory) {
	ctx := context.Background()
	clk := clock.NewFake(Start)
	s := factory(t, clk)

	task := NewTask(t, clk, "TICKET-1")
	_, _, err := s.Create(ctx, task)
	require.NoError(t, err)

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Transition(ctx, task.ID, domain.StatusPending, domain.StatusProcessing,
				domain.TaskUpdate{WorkerID: domain.Ptr(fmt.Sprintf("worker-%d", i))})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, store.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, workers-1, conflicts)
}

func testList(t *testing.T, factory Factory) {
	ctx := context.Background()
	clk := clock.NewFake(Start)
	s := factory(t, clk)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		task := NewTask(t, clk, fmt.Sprintf("TICKET-%d", i))
		_, _, err := s.Create(ctx, task)
		require.NoError(t, err)
		ids = append(ids, task.ID)
		clk.Advance(time.Second)
	}

	// Touch the oldest task so it becomes the most recently updated.
	_, err := s.Transition(ctx, ids[0], domain.StatusPending, domain.StatusProcessing, domain.TaskUpdate{})
	require.NoError(t, err)

	all, err := s.List(ctx, store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []uuid.UUID{ids[0], ids[2], ids[1]}, taskIDs(all))

	pending, err := s.List(ctx, store.ListFilter{Status: domain.StatusPending})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{ids[2], ids[1]}, taskIDs(pending))

	limited, err := s.List(ctx, store.ListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{ids[0]}, taskIDs(limited))
}

func testListDue(t *testing.T, factory Factory) {
	ctx := context.Background()
	clk := clock.NewFake(Start)
	s := factory(t, clk)

	early := NewTask(t, clk, "TICKET-EARLY")
	_, _, err := s.Create(ctx, early)
	require.NoError(t, err)

	clk.Advance(time.Second)
	late := NewTask(t, clk, "TICKET-LATE")
	_, _, err = s.Create(ctx, late)
	require.NoError(t, err)

	backoff := NewTask(t, clk, "TICKET-BACKOFF")
	_, _, err = s.Create(ctx, backoff)
	require.NoError(t, err)
	_, err = s.Transition(ctx, backoff.ID, domain.StatusPending, domain.StatusProcessing, domain.TaskUpdate{})
	require.NoError(t, err)
	retryAt := clk.Now().Add(5 * time.Second)
	_, err = s.Transition(ctx, backoff.ID, domain.StatusProcessing, domain.StatusFailed, domain.TaskUpdate{
		AttemptCount: domain.Ptr(1),
		NextRetryAt:  &retryAt,
	})
	require.NoError(t, err)

	due, err := s.ListDue(ctx, clk.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{early.ID, late.ID}, taskIDs(due))

	due, err = s.ListDue(ctx, clk.Now(), 1)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{early.ID}, taskIDs(due))

	due, err = s.ListDue(ctx, retryAt, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{early.ID, late.ID, backoff.ID}, taskIDs(due))
}

func testListStuck(t *testing.T, factory Factory) {
	ctx := context.Background()
	clk := clock.NewFake(Start)
	s := factory(t, clk)

	stuck := NewTask(t, clk, "TICKET-STUCK")
	_, _, err := s.Create(ctx, stuck)
	require.NoError(t, err)
	_, err = s.Transition(ctx, stuck.ID, domain.StatusPending, domain.StatusProcessing, domain.TaskUpdate{})
	require.NoError(t, err)

	clk.Advance(10 * time.Minute)
	fresh := NewTask(t, clk, "TICKET-FRESH")
	_, _, err = s.Create(ctx, fresh)
	require.NoError(t, err)
	_, err = s.Transition(ctx, fresh.ID, domain.StatusPending, domain.StatusProcessing, domain.TaskUpdate{})
	require.NoError(t, err)

	found, err := s.ListStuck(ctx, clk.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{stuck.ID}, taskIDs(found))
}

func testSnapshots(t *testing.T, factory Factory) {
	ctx := context.Background()
	clk := clock.NewFake(Start)
	s := factory(t, clk)

	task := NewTask(t, clk, "TICKET-1")
	got, _, err := s.Create(ctx, task)
	require.NoError(t, err)

	got.Status = domain.StatusSent
	task.Status = domain.StatusSent

	fetched, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, fetched.Status)
}

func taskIDs(tasks []*domain.Task) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	return ids
}

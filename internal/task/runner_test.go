package task

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/safe-notify/internal/clock"
	"github.com/phrazzld/safe-notify/internal/domain"
	"github.com/phrazzld/safe-notify/internal/events"
	"github.com/phrazzld/safe-notify/internal/platform/memory"
)

func TestTaskRunner_RunOnceDeliversDueTasks(t *testing.T) {
	f := newFixture(t, DefaultDelivererConfig())
	runner := NewTaskRunner(f.store, f.deliverer, DefaultTaskRunnerConfig(), setupTestLogger())

	task := f.createTask(t, "TICKET-1", 0)

	results, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]Result{task.ID: ResultSent}, results)

	got := f.get(t, task.ID)
	assert.Equal(t, domain.StatusSent, got.Status)
	assert.Equal(t, 1, got.AttemptCount)

	// Nothing left to do.
	results, err = runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestTaskRunner_RetryScheduleFollowsBackoff(t *testing.T) {
	f := newFixture(t, DefaultDelivererConfig())
	runner := NewTaskRunner(f.store, f.deliverer, DefaultTaskRunnerConfig(), setupTestLogger())
	ctx := context.Background()
	t0 := f.clk.Now()

	task := f.createTask(t, "TICKET-1", 100)

	steps := []struct {
		at       time.Duration
		expected Result
		attempts int
		status   domain.Status
	}{
		{at: 0, expected: ResultRetryScheduled, attempts: 1, status: domain.StatusFailed},
		{at: 1999 * time.Millisecond, attempts: 1, status: domain.StatusFailed},
		{at: 2 * time.Second, expected: ResultRetryScheduled, attempts: 2, status: domain.StatusFailed},
		{at: 7 * time.Second, expected: ResultDeadLettered, attempts: 3, status: domain.StatusDLQ},
		{at: time.Hour, attempts: 3, status: domain.StatusDLQ},
	}

	for _, step := range steps {
		f.clk.Set(t0.Add(step.at))
		results, err := runner.RunOnce(ctx)
		require.NoError(t, err)

		if step.expected == ResultSkipped {
			assert.Empty(t, results, "at +%s", step.at)
		} else {
			assert.Equal(t, step.expected, results[task.ID], "at +%s", step.at)
		}

		got := f.get(t, task.ID)
		assert.Equal(t, step.attempts, got.AttemptCount, "at +%s", step.at)
		assert.Equal(t, step.status, got.Status, "at +%s", step.at)
	}

	assert.Equal(t, []time.Time{t0, t0.Add(2 * time.Second), t0.Add(7 * time.Second)}, f.emitter.times())
	assert.Equal(t, "CHAOS injected failure", f.get(t, task.ID).LastError)
}

func TestTaskRunner_RecoverStuck(t *testing.T) {
	f := newFixture(t, DefaultDelivererConfig())
	cfg := DefaultTaskRunnerConfig()
	cfg.StuckTaskAge = time.Minute
	runner := NewTaskRunner(f.store, f.deliverer, cfg, setupTestLogger())
	ctx := context.Background()

	task := f.createTask(t, "TICKET-1", 0)
	_, err := f.store.Transition(ctx, task.ID, domain.StatusPending, domain.StatusProcessing,
		domain.TaskUpdate{WorkerID: domain.Ptr("worker-crashed")})
	require.NoError(t, err)

	// Claim is still fresh.
	f.clk.Advance(30 * time.Second)
	n, err := runner.RecoverStuck(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clk.Advance(31 * time.Second)
	n, err = runner.RecoverStuck(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := f.get(t, task.ID)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, 0, got.AttemptCount)
	assert.Empty(t, got.WorkerID)
	assert.Nil(t, got.ProcessingStartedAt)
	assert.Equal(t, stuckResetMessage, got.LastError)
	assert.Equal(t, []events.Type{events.TypeTaskRecovered}, f.emitter.types())

	// The recovered task is delivered on the next pass.
	results, err := runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, ResultSent, results[task.ID])
}

func TestTaskRunner_DispatchQueuesEachTaskOnce(t *testing.T) {
	f := newFixture(t, DefaultDelivererConfig())
	cfg := DefaultTaskRunnerConfig()
	cfg.QueueSize = 2
	runner := NewTaskRunner(f.store, f.deliverer, cfg, setupTestLogger())
	ctx := context.Background()

	f.createTask(t, "TICKET-1", 0)
	f.createTask(t, "TICKET-2", 0)
	f.createTask(t, "TICKET-3", 0)

	n, err := runner.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Queue is full and the queued IDs are not duplicated.
	n, err = runner.Dispatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, runner.queue.Len())
}

func TestTaskRunner_EndToEnd(t *testing.T) {
	// Wall-clock time so the dispatcher's polling sees retries come due.
	st := memory.NewTaskStore(clock.Real{})
	sender := &recordingSender{}
	channels := NewChannelRegistry()
	channels.Register(domain.ChannelEmail, sender)

	deliverer := NewDeliverer(st, channels, NewOutcomeDecider(7), nil, clock.Real{}, DelivererConfig{
		DeliveryTimeout: time.Second,
		Retry: RetryPolicy{
			Delays:      []time.Duration{10 * time.Millisecond, 20 * time.Millisecond},
			MaxAttempts: 3,
		},
	}, setupTestLogger())

	cfg := DefaultTaskRunnerConfig()
	cfg.WorkerCount = 3
	cfg.PollInterval = 5 * time.Millisecond
	runner := NewTaskRunner(st, deliverer, cfg, setupTestLogger())

	create := func(entity string, chaos int) *domain.Task {
		task, err := domain.NewTask(domain.NewTaskParams{
			EventType:        domain.EventTicketEscalated,
			EntityID:         entity,
			Recipient:        "ops@example.com",
			Priority:         domain.PriorityHigh,
			ChaosFailPercent: chaos,
		}, 3, time.Now())
		require.NoError(t, err)
		created, _, err := st.Create(context.Background(), task)
		require.NoError(t, err)
		return created
	}
	ok := create("TICKET-OK", 0)
	doomed := create("TICKET-DOOMED", 100)

	require.NoError(t, runner.Start())
	defer runner.Stop()

	require.Eventually(t, func() bool {
		a, errA := st.Get(context.Background(), ok.ID)
		b, errB := st.Get(context.Background(), doomed.ID)
		return errA == nil && errB == nil &&
			a.Status == domain.StatusSent && b.Status == domain.StatusDLQ
	}, 2*time.Second, 10*time.Millisecond)

	got, err := st.Get(context.Background(), doomed.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.AttemptCount)
	assert.Equal(t, int32(1), sender.calls.Load())
}

func TestTaskRunner_StartStopIdempotent(t *testing.T) {
	f := newFixture(t, DefaultDelivererConfig())
	cfg := DefaultTaskRunnerConfig()
	cfg.PollInterval = 5 * time.Millisecond
	runner := NewTaskRunner(f.store, f.deliverer, cfg, setupTestLogger())

	require.NoError(t, runner.Start())
	require.NoError(t, runner.Start())
	runner.Stop()
	runner.Stop()
}

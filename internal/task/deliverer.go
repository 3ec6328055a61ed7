package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/safe-notify/internal/clock"
	"github.com/phrazzld/safe-notify/internal/domain"
	"github.com/phrazzld/safe-notify/internal/events"
	"github.com/phrazzld/safe-notify/internal/platform/logger"
	"github.com/phrazzld/safe-notify/internal/store"
)

// Result reports what a single Deliver call did.
type Result int

// Delivery results.
const (
	// ResultSkipped means the task was not due or another worker claimed it.
	ResultSkipped Result = iota
	ResultSent
	ResultRetryScheduled
	ResultDeadLettered
)

func (r Result) String() string {
	switch r {
	case ResultSent:
		return "sent"
	case ResultRetryScheduled:
		return "retry_scheduled"
	case ResultDeadLettered:
		return "dead_lettered"
	default:
		return "skipped"
	}
}

// DelivererConfig holds the delivery tunables.
type DelivererConfig struct {
	// DeliveryTimeout bounds one channel call. Zero means 10 seconds.
	DeliveryTimeout time.Duration

	Retry RetryPolicy
}

// DefaultDelivererConfig returns a DelivererConfig with the default retry policy.
func DefaultDelivererConfig() DelivererConfig {
	return DelivererConfig{
		DeliveryTimeout: 10 * time.Second,
		Retry:           DefaultRetryPolicy(),
	}
}

// Deliverer performs one delivery attempt per call: claim, decide, commit.
// It holds no lock across the channel call; the claim in the store is what
// keeps other workers away.
type Deliverer struct {
	store    store.TaskStore
	channels *ChannelRegistry
	decider  *OutcomeDecider
	emitter  events.EventEmitter
	clock    clock.Clock
	config   DelivererConfig
	logger   *slog.Logger
}

// NewDeliverer creates a Deliverer. A nil emitter discards events and a nil
// clock uses wall time.
func NewDeliverer(
	st store.TaskStore,
	channels *ChannelRegistry,
	decider *OutcomeDecider,
	emitter events.EventEmitter,
	clk clock.Clock,
	config DelivererConfig,
	logger *slog.Logger,
) *Deliverer {
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = 10 * time.Second
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if decider == nil {
		decider = NewRandomOutcomeDecider()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deliverer{
		store:    st,
		channels: channels,
		decider:  decider,
		emitter:  emitter,
		clock:    clk,
		config:   config,
		logger:   logger.With(slog.String("component", "deliverer")),
	}
}

// Deliver makes one attempt at taskID on behalf of workerID.
// Losing the claim race is not an error; it returns ResultSkipped.
func (d *Deliverer) Deliver(ctx context.Context, workerID string, taskID uuid.UUID) (Result, error) {
	log := logger.FromContextOrDefault(ctx, d.logger).With(
		"task_id", taskID,
		"worker_id", workerID,
	)

	current, err := d.store.Get(ctx, taskID)
	if err != nil {
		return ResultSkipped, fmt.Errorf("failed to load task: %w", err)
	}
	if !current.Eligible(d.clock.Now()) {
		log.Debug("task not due, skipping", "status", current.Status)
		return ResultSkipped, nil
	}

	claimed, err := d.store.Transition(ctx, taskID, current.Status, domain.StatusProcessing,
		domain.TaskUpdate{WorkerID: &workerID})
	if err != nil {
		if store.IsConflictError(err) {
			log.Debug("task claimed elsewhere, skipping")
			return ResultSkipped, nil
		}
		return ResultSkipped, fmt.Errorf("failed to claim task: %w", err)
	}

	log.Info("delivering task",
		"attempt", claimed.AttemptCount+1,
		"chaos_fail_percent", claimed.ChaosFailPercent)

	attemptErr := d.attempt(ctx, claimed)
	return d.commit(ctx, log, claimed, attemptErr)
}

// attempt runs the decider and the channel call and returns nil on success
// or a *DeliveryError.
func (d *Deliverer) attempt(ctx context.Context, t *domain.Task) error {
	outcome := d.decider.Decide(ctx, t.ChaosFailPercent, func(ctx context.Context) error {
		sender, err := d.channels.Lookup(t.Channel)
		if err != nil {
			return err
		}
		return d.send(ctx, sender, RenderMessage(t))
	})
	if !outcome.Failed() {
		return nil
	}

	derr := &DeliveryError{TaskID: t.ID, Err: outcome.Err}
	switch {
	case outcome.Kind == OutcomeForcedFailure:
		derr.Forced = true
	case errors.Is(outcome.Err, context.DeadlineExceeded):
		derr.Timeout = d.config.DeliveryTimeout
	}
	return derr
}

// send calls sender under DeliveryTimeout. A sender that ignores its context
// is abandoned when the deadline passes.
func (d *Deliverer) send(ctx context.Context, sender Sender, msg Message) error {
	sendCtx, cancel := context.WithTimeout(ctx, d.config.DeliveryTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- sender.Send(sendCtx, msg)
	}()

	select {
	case err := <-done:
		return err
	case <-sendCtx.Done():
		return sendCtx.Err()
	}
}

// commit records the attempt result with a status CAS from PROCESSING.
func (d *Deliverer) commit(ctx context.Context, log *slog.Logger, claimed *domain.Task, attemptErr error) (Result, error) {
	attempts := claimed.AttemptCount + 1

	if attemptErr == nil {
		sent, err := d.store.Transition(ctx, claimed.ID, domain.StatusProcessing, domain.StatusSent,
			domain.TaskUpdate{AttemptCount: &attempts, LastError: domain.Ptr("")})
		if err != nil {
			log.Error("failed to record successful delivery", "error", err)
			return ResultSkipped, fmt.Errorf("failed to mark task sent: %w", err)
		}
		log.Info("task sent", "attempt_count", sent.AttemptCount)
		d.emit(ctx, events.TypeTaskSent, sent)
		return ResultSent, nil
	}

	lastError := attemptErr.Error()
	decision := d.config.Retry.withMaxAttempts(claimed.MaxAttempts).Next(attempts)

	if decision.DeadLetter {
		dead, err := d.store.Transition(ctx, claimed.ID, domain.StatusProcessing, domain.StatusDLQ,
			domain.TaskUpdate{AttemptCount: &attempts, LastError: &lastError})
		if err != nil {
			log.Error("failed to dead-letter task", "error", err)
			return ResultSkipped, fmt.Errorf("failed to move task to DLQ: %w", err)
		}
		log.Warn("task moved to DLQ",
			"attempt_count", dead.AttemptCount,
			"last_error", lastError)
		d.emit(ctx, events.TypeTaskDeadLettered, dead)
		return ResultDeadLettered, nil
	}

	nextRetryAt := d.clock.Now().Add(decision.Delay)
	failed, err := d.store.Transition(ctx, claimed.ID, domain.StatusProcessing, domain.StatusFailed,
		domain.TaskUpdate{AttemptCount: &attempts, LastError: &lastError, NextRetryAt: &nextRetryAt})
	if err != nil {
		log.Error("failed to schedule retry", "error", err)
		return ResultSkipped, fmt.Errorf("failed to schedule retry: %w", err)
	}
	log.Info("delivery failed, retry scheduled",
		"attempt_count", failed.AttemptCount,
		"last_error", lastError,
		"next_retry_at", failed.NextRetryAt)
	d.emit(ctx, events.TypeTaskRetryScheduled, failed)
	return ResultRetryScheduled, nil
}

func (d *Deliverer) emit(ctx context.Context, t events.Type, task *domain.Task) {
	// Handlers log their own failures; the transition is already committed.
	_ = d.emitter.EmitEvent(ctx, events.NewTaskEvent(t, task))
}

package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/safe-notify/internal/domain"
	"github.com/phrazzld/safe-notify/internal/events"
	"github.com/phrazzld/safe-notify/internal/store"
)

// stuckResetMessage is recorded in last_error when a stale claim is released.
const stuckResetMessage = "reset after being stuck in processing state"

// TaskRunnerConfig holds configuration for the task runner
type TaskRunnerConfig struct {
	// WorkerCount determines how many concurrent workers deliver tasks
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory task queue
	QueueSize int

	// PollInterval is how often the dispatcher looks for due tasks
	PollInterval time.Duration

	// StuckTaskAge defines how long a task can be in processing state
	// before it's considered stuck and reset
	StuckTaskAge time.Duration

	// StuckTaskCheckInterval defines how often to check for stuck tasks
	StuckTaskCheckInterval time.Duration
}

// DefaultTaskRunnerConfig returns a TaskRunnerConfig with reasonable defaults
func DefaultTaskRunnerConfig() TaskRunnerConfig {
	return TaskRunnerConfig{
		WorkerCount:            4,
		QueueSize:              100,
		PollInterval:           250 * time.Millisecond,
		StuckTaskAge:           2 * time.Minute,
		StuckTaskCheckInterval: 30 * time.Second,
	}
}

// TaskRunner manages background delivery: a dispatcher feeding due task IDs
// to the worker pool and a monitor releasing stuck claims.
type TaskRunner struct {
	store     store.TaskStore
	deliverer *Deliverer
	queue     *TaskQueue
	pool      *WorkerPool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	config    TaskRunnerConfig
	logger    *slog.Logger
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewTaskRunner creates a new TaskRunner
func NewTaskRunner(st store.TaskStore, deliverer *Deliverer, config TaskRunnerConfig, logger *slog.Logger) *TaskRunner {
	defaults := DefaultTaskRunnerConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.StuckTaskAge <= 0 {
		config.StuckTaskAge = defaults.StuckTaskAge
	}
	if config.StuckTaskCheckInterval <= 0 {
		config.StuckTaskCheckInterval = defaults.StuckTaskCheckInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "task_runner"))

	ctx, cancel := context.WithCancel(context.Background())
	queue := NewTaskQueue(config.QueueSize, logger)

	r := &TaskRunner{
		store:     st,
		deliverer: deliverer,
		queue:     queue,
		ctx:       ctx,
		cancel:    cancel,
		config:    config,
		logger:    logger,
	}
	r.pool = NewWorkerPool(queue, r.handle, WorkerPoolConfig{WorkerCount: config.WorkerCount}, logger)
	return r
}

func (r *TaskRunner) handle(ctx context.Context, workerID string, taskID uuid.UUID) error {
	_, err := r.deliverer.Deliver(ctx, workerID, taskID)
	return err
}

// Start recovers stuck claims, then starts the workers, the dispatcher and
// the stuck-task monitor.
func (r *TaskRunner) Start() error {
	var err error
	r.startOnce.Do(func() {
		if _, rerr := r.RecoverStuck(r.ctx); rerr != nil {
			err = fmt.Errorf("failed to recover tasks: %w", rerr)
			return
		}

		r.pool.Start()

		r.wg.Add(2)
		go r.dispatcher()
		go r.stuckTaskMonitor()

		r.logger.Info("task runner started",
			"worker_count", r.pool.workerCount,
			"queue_size", r.config.QueueSize,
			"poll_interval", r.config.PollInterval)
	})
	return err
}

// Stop gracefully shuts down the task runner. Queued IDs that no worker has
// picked up are dropped; they are still due in the store and the next start
// dispatches them again.
func (r *TaskRunner) Stop() {
	r.stopOnce.Do(func() {
		r.cancel()
		r.wg.Wait()
		r.pool.Stop()
		r.queue.Close()
		r.logger.Info("task runner stopped")
	})
}

func (r *TaskRunner) dispatcher() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.Dispatch(r.ctx); err != nil && r.ctx.Err() == nil {
			r.logger.Error("failed to dispatch due tasks", "error", err)
		}

		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Dispatch queues every due task that fits in the queue and returns how many
// were newly queued.
func (r *TaskRunner) Dispatch(ctx context.Context) (int, error) {
	free := r.queue.Cap() - r.queue.Len()
	if free <= 0 {
		return 0, nil
	}

	due, err := r.store.ListDue(ctx, r.deliverer.clock.Now(), free)
	if err != nil {
		return 0, fmt.Errorf("failed to list due tasks: %w", err)
	}

	queued := 0
	for _, t := range due {
		err := r.queue.Enqueue(t.ID)
		switch {
		case err == nil:
			queued++
		case errors.Is(err, ErrAlreadyQueued):
		case errors.Is(err, ErrQueueFull), errors.Is(err, ErrQueueClosed):
			return queued, nil
		default:
			return queued, err
		}
	}
	if queued > 0 {
		r.logger.Debug("dispatched due tasks", "count", queued)
	}
	return queued, nil
}

// RunOnce delivers every currently due task synchronously on the calling
// goroutine and returns the per-task results. It does not need Start.
func (r *TaskRunner) RunOnce(ctx context.Context) (map[uuid.UUID]Result, error) {
	due, err := r.store.ListDue(ctx, r.deliverer.clock.Now(), 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list due tasks: %w", err)
	}

	results := make(map[uuid.UUID]Result, len(due))
	var errs []error
	for _, t := range due {
		res, err := r.deliverer.Deliver(ctx, "runner", t.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", t.ID, err))
		}
		results[t.ID] = res
	}
	return results, errors.Join(errs...)
}

// stuckTaskMonitor periodically checks for tasks that have been in "processing"
// state for too long and resets them
func (r *TaskRunner) stuckTaskMonitor() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.StuckTaskCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return

		case <-ticker.C:
			if _, err := r.RecoverStuck(r.ctx); err != nil && r.ctx.Err() == nil {
				r.logger.Error("failed to check for stuck tasks", "error", err)
			}
		}
	}
}

// RecoverStuck moves PROCESSING tasks whose claim is older than StuckTaskAge
// back to PENDING, leaving the attempt count unchanged. It returns how many
// were reset.
func (r *TaskRunner) RecoverStuck(ctx context.Context) (int, error) {
	cutoff := r.deliverer.clock.Now().Add(-r.config.StuckTaskAge)
	stuck, err := r.store.ListStuck(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stuck tasks: %w", err)
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	r.logger.Info("found stuck tasks", "count", len(stuck))

	reset := 0
	for _, t := range stuck {
		recovered, err := r.store.Transition(ctx, t.ID, domain.StatusProcessing, domain.StatusPending,
			domain.TaskUpdate{LastError: domain.Ptr(stuckResetMessage)})
		if err != nil {
			if store.IsConflictError(err) {
				// The worker finished after all.
				continue
			}
			r.logger.Error("failed to reset stuck task status",
				"task_id", t.ID,
				"worker_id", t.WorkerID,
				"error", err)
			continue
		}

		reset++
		r.logger.Warn("reset stuck task",
			"task_id", t.ID,
			"worker_id", t.WorkerID,
			"attempt_count", recovered.AttemptCount)
		r.deliverer.emit(ctx, events.TypeTaskRecovered, recovered)
	}
	return reset, nil
}

package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkerPool(t *testing.T) {
	logger := setupTestLogger()
	queue := NewTaskQueue(10, logger)
	noop := func(context.Context, string, uuid.UUID) error { return nil }

	pool := NewWorkerPool(queue, noop, WorkerPoolConfig{WorkerCount: 5}, logger)
	assert.Equal(t, 5, pool.workerCount)
	assert.Nil(t, pool.errorHandler)

	// Invalid worker counts fall back to one worker
	pool = NewWorkerPool(queue, noop, WorkerPoolConfig{WorkerCount: 0}, logger)
	assert.Equal(t, 1, pool.workerCount)

	pool = NewWorkerPool(queue, noop, WorkerPoolConfig{WorkerCount: -5}, logger)
	assert.Equal(t, 1, pool.workerCount)
}

func TestWorkerPool_ProcessesQueuedIDs(t *testing.T) {
	logger := setupTestLogger()
	queue := NewTaskQueue(10, logger)

	var (
		mu   sync.Mutex
		seen = map[uuid.UUID]string{}
	)
	handler := func(_ context.Context, workerID string, taskID uuid.UUID) error {
		mu.Lock()
		defer mu.Unlock()
		seen[taskID] = workerID
		return nil
	}

	pool := NewWorkerPool(queue, handler, WorkerPoolConfig{WorkerCount: 3}, logger)
	pool.Start()
	defer pool.Stop()

	for _, id := range []uuid.UUID{testID(1), testID(2), testID(3), testID(4)} {
		require.NoError(t, queue.Enqueue(id))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 4
	}, time.Second, 5*time.Millisecond)

	// Processed IDs are released and may be queued again.
	require.Eventually(t, func() bool {
		return queue.Enqueue(testID(1)) == nil
	}, time.Second, 5*time.Millisecond)
}

func TestWorkerPool_ErrorHandler(t *testing.T) {
	logger := setupTestLogger()
	queue := NewTaskQueue(10, logger)
	expectedErr := errors.New("test error")

	pool := NewWorkerPool(queue, func(context.Context, string, uuid.UUID) error {
		return expectedErr
	}, WorkerPoolConfig{WorkerCount: 1}, logger)

	errorHandled := make(chan error, 1)
	pool.SetErrorHandler(func(taskID uuid.UUID, err error) {
		assert.Equal(t, testID(1), taskID)
		errorHandled <- err
	})
	pool.Start()
	defer pool.Stop()

	require.NoError(t, queue.Enqueue(testID(1)))

	select {
	case err := <-errorHandled:
		assert.Equal(t, expectedErr, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Timed out waiting for error handler")
	}
}

func TestWorkerPool_RecoversFromPanic(t *testing.T) {
	logger := setupTestLogger()
	queue := NewTaskQueue(10, logger)

	boom := testID(1)
	pool := NewWorkerPool(queue, func(_ context.Context, _ string, taskID uuid.UUID) error {
		if taskID == boom {
			panic("test panic")
		}
		return errors.New("second task reached")
	}, WorkerPoolConfig{WorkerCount: 1}, logger)

	errs := make(chan error, 2)
	pool.SetErrorHandler(func(_ uuid.UUID, err error) { errs <- err })
	pool.Start()
	defer pool.Stop()

	require.NoError(t, queue.Enqueue(boom))
	require.NoError(t, queue.Enqueue(testID(2)))

	first := <-errs
	assert.Contains(t, first.Error(), "panic while processing task")
	second := <-errs
	assert.Contains(t, second.Error(), "second task reached", "worker must survive a panic")
}

func TestWorkerPool_StopWaitsForInFlight(t *testing.T) {
	logger := setupTestLogger()
	queue := NewTaskQueue(10, logger)

	started := make(chan struct{})
	finished := make(chan struct{})
	pool := NewWorkerPool(queue, func(ctx context.Context, _ string, _ uuid.UUID) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		assert.NoError(t, ctx.Err(), "in-flight work must not be cancelled by Stop")
		close(finished)
		return nil
	}, WorkerPoolConfig{WorkerCount: 1}, logger)
	pool.Start()

	require.NoError(t, queue.Enqueue(testID(1)))
	<-started
	pool.Stop()

	select {
	case <-finished:
	default:
		t.Fatal("Stop returned before the in-flight handler finished")
	}
}

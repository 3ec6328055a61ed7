package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/safe-notify/internal/clock"
	"github.com/phrazzld/safe-notify/internal/domain"
	"github.com/phrazzld/safe-notify/internal/platform/logger"
	"github.com/phrazzld/safe-notify/internal/store"
)

// maxTxRetries bounds how often an optimistic transaction is retried after
// a watched key changed.
const maxTxRetries = 16

// DefaultKeyPrefix namespaces every key the store writes.
const DefaultKeyPrefix = "safe-notify"

// TaskStore implements store.TaskStore on a go-redis client.
type TaskStore struct {
	client goredis.UniversalClient
	clock  clock.Clock
	keys   keys
	logger *slog.Logger
}

var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates a store using client. An empty prefix falls back to
// DefaultKeyPrefix.
func NewTaskStore(client goredis.UniversalClient, prefix string, clk clock.Clock, logger *slog.Logger) *TaskStore {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskStore{
		client: client,
		clock:  clk,
		keys:   keys{prefix: prefix},
		logger: logger.With(slog.String("component", "task_store")),
	}
}

type keys struct {
	prefix string
}

func (k keys) task(id string) string { return k.prefix + ":task:" + id }
func (k keys) idempotency(key string) string { return k.prefix + ":idem:" + key }
func (k keys) updated() string { return k.prefix + ":tasks:updated" }
func (k keys) due() string { return k.prefix + ":tasks:due" }
func (k keys) processing() string { return k.prefix + ":tasks:processing" }

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func encodeTask(task *domain.Task) ([]byte, error) {
	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task %s: %w", task.ID, err)
	}
	return data, nil
}

func decodeTask(data string) (*domain.Task, error) {
	var task domain.Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	return &task, nil
}

// stage queues the writes that persist task and keep every index in step
// with its status.
// Index members are the canonical UUID text, so equal scores order the same
// way as the uuid column in Postgres.
func (s *TaskStore) stage(ctx context.Context, pipe goredis.Pipeliner, task *domain.Task, data []byte) {
	id := task.ID.String()
	pipe.Set(ctx, s.keys.task(id), data, 0)
	pipe.ZAdd(ctx, s.keys.updated(), goredis.Z{Score: score(task.UpdatedAt), Member: id})

	if task.Status.Dispatchable() {
		pipe.ZAdd(ctx, s.keys.due(), goredis.Z{Score: score(task.NextRetryAt), Member: id})
	} else {
		pipe.ZRem(ctx, s.keys.due(), id)
	}

	if task.Status == domain.StatusProcessing && task.ProcessingStartedAt != nil {
		pipe.ZAdd(ctx, s.keys.processing(), goredis.Z{Score: score(*task.ProcessingStartedAt), Member: id})
	} else {
		pipe.ZRem(ctx, s.keys.processing(), id)
	}
}

// watch runs fn in a WATCH transaction on watched, retrying while another
// client modifies a watched key first.
func (s *TaskStore) watch(ctx context.Context, fn func(tx *goredis.Tx) error, watched ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, watched...)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
		logger.FromContextOrDefault(ctx, s.logger).Debug("optimistic transaction retry",
			"keys", watched,
			"attempt", i+1)
	}
	return store.NewStoreError("task", "transaction", "too many concurrent writers", store.ErrConflict)
}

// Create implements store.TaskStore.Create.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) (*domain.Task, bool, error) {
	if task == nil || task.ID == uuid.Nil || task.IdempotencyKey == "" {
		return nil, false, store.NewStoreError("task", "create",
			"task ID and idempotency key are required", store.ErrInvalidEntity)
	}

	stored := task.Clone()
	stored.Status = domain.StatusPending
	stored.AttemptCount = 0
	data, err := encodeTask(stored)
	if err != nil {
		return nil, false, err
	}

	idemKey := s.keys.idempotency(stored.IdempotencyKey)
	var (
		result  *domain.Task
		created bool
	)
	err = s.watch(ctx, func(tx *goredis.Tx) error {
		existingID, err := tx.Get(ctx, idemKey).Result()
		switch {
		case err == nil:
			existing, err := s.get(ctx, tx, existingID)
			if err != nil {
				return err
			}
			result, created = existing, false
			return nil
		case !errors.Is(err, goredis.Nil):
			return MapError(err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, idemKey, stored.ID.String(), 0)
			s.stage(ctx, pipe, stored, data)
			return nil
		})
		if err != nil {
			return err
		}
		result, created = stored.Clone(), true
		return nil
	}, idemKey)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to create task",
			"task_id", task.ID,
			"error", err)
		return nil, false, fmt.Errorf("failed to create task: %w", MapError(err))
	}

	if !created {
		logger.FromContextOrDefault(ctx, s.logger).Debug("idempotency key already admitted",
			"idempotency_key", task.IdempotencyKey,
			"task_id", result.ID)
	}
	return result, created, nil
}

// Get implements store.TaskStore.Get.
func (s *TaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return s.get(ctx, s.client, id.String())
}

func (s *TaskStore) get(ctx context.Context, c goredis.Cmdable, id string) (*domain.Task, error) {
	data, err := c.Get(ctx, s.keys.task(id)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", MapError(err))
	}
	return decodeTask(data)
}

// load fetches the tasks for ids in order, skipping IDs whose document has
// disappeared since the index was read.
func (s *TaskStore) load(ctx context.Context, ids []string) ([]*domain.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	taskKeys := make([]string, len(ids))
	for i, id := range ids {
		taskKeys[i] = s.keys.task(id)
	}

	values, err := s.client.MGet(ctx, taskKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", MapError(err))
	}

	tasks := make([]*domain.Task, 0, len(values))
	for _, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}
		task, err := decodeTask(data)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// List implements store.TaskStore.List.
func (s *TaskStore) List(ctx context.Context, filter store.ListFilter) ([]*domain.Task, error) {
	stop := int64(-1)
	if filter.Status == "" && filter.Limit > 0 {
		stop = int64(filter.Limit - 1)
	}

	ids, err := s.client.ZRevRange(ctx, s.keys.updated(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", MapError(err))
	}
	tasks, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.Task, 0, len(tasks))
	for _, task := range tasks {
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		out = append(out, task)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// ListDue implements store.TaskStore.ListDue.
func (s *TaskStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Task, error) {
	by := &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMicro(), 10),
	}
	if limit > 0 {
		by.Count = int64(limit)
	}

	ids, err := s.client.ZRangeByScore(ctx, s.keys.due(), by).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list due tasks: %w", MapError(err))
	}
	tasks, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := tasks[:0]
	for _, task := range tasks {
		if task.Eligible(now) {
			out = append(out, task)
		}
	}
	return out, nil
}

// ListStuck implements store.TaskStore.ListStuck.
func (s *TaskStore) ListStuck(ctx context.Context, olderThan time.Time) ([]*domain.Task, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.keys.processing(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(olderThan.UnixMicro(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck tasks: %w", MapError(err))
	}
	tasks, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := tasks[:0]
	for _, task := range tasks {
		if task.Status == domain.StatusProcessing {
			out = append(out, task)
		}
	}
	return out, nil
}

// Transition implements store.TaskStore.Transition.
func (s *TaskStore) Transition(
	ctx context.Context,
	id uuid.UUID,
	from, to domain.Status,
	update domain.TaskUpdate,
) (*domain.Task, error) {
	taskKey := s.keys.task(id.String())

	var result *domain.Task
	err := s.watch(ctx, func(tx *goredis.Tx) error {
		task, err := s.get(ctx, tx, id.String())
		if err != nil {
			return err
		}

		now := s.clock.Now()
		if err := store.CheckTransition(task, from, to, now); err != nil {
			return err
		}
		task.Apply(to, update, now)

		data, err := encodeTask(task)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			s.stage(ctx, pipe, task, data)
			return nil
		})
		if err != nil {
			return err
		}
		result = task
		return nil
	}, taskKey)
	if err != nil {
		if !store.IsConflictError(err) && !store.IsNotFoundError(err) && !errors.Is(err, domain.ErrInvalidTransition) {
			logger.FromContextOrDefault(ctx, s.logger).Error("task transition failed",
				"task_id", id,
				"from", from,
				"to", to,
				"error", err)
			return nil, fmt.Errorf("failed to transition task: %w", MapError(err))
		}
		return nil, err
	}

	logger.FromContextOrDefault(ctx, s.logger).Debug("task transitioned",
		"task_id", id,
		"from", from,
		"to", to,
		"attempt_count", result.AttemptCount)
	return result, nil
}

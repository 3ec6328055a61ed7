package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/safe-notify/internal/clock"
	"github.com/phrazzld/safe-notify/internal/domain"
	"github.com/phrazzld/safe-notify/internal/platform/logger"
	"github.com/phrazzld/safe-notify/internal/store"
)

const taskColumns = `id, idempotency_key, event_type, entity_id, channel, recipient_email,
	priority, chaos_fail_percent, status, attempt_count, max_attempts, last_error,
	next_retry_at, worker_id, processing_started_at, created_at, updated_at`

// PostgresTaskStore implements store.TaskStore using PostgreSQL.
// Idempotent creation relies on the unique idempotency_key constraint, and
// transitions lock the row with SELECT ... FOR UPDATE inside a transaction.
type PostgresTaskStore struct {
	db     *sql.DB
	clock  clock.Clock
	logger *slog.Logger
}

var _ store.TaskStore = (*PostgresTaskStore)(nil)

// NewPostgresTaskStore creates a task store over db. If logger is nil, the
// default logger is used.
func NewPostgresTaskStore(db *sql.DB, clk clock.Clock, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTaskStore{
		db:     db,
		clock:  clk,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t         domain.Task
		workerID  sql.NullString
		startedAt sql.NullTime
	)
	err := row.Scan(
		&t.ID,
		&t.IdempotencyKey,
		&t.EventType,
		&t.EntityID,
		&t.Channel,
		&t.Recipient,
		&t.Priority,
		&t.ChaosFailPercent,
		&t.Status,
		&t.AttemptCount,
		&t.MaxAttempts,
		&t.LastError,
		&t.NextRetryAt,
		&workerID,
		&startedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.WorkerID = workerID.String
	if startedAt.Valid {
		started := startedAt.Time.UTC()
		t.ProcessingStartedAt = &started
	}
	t.NextRetryAt = t.NextRetryAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Create implements store.TaskStore.Create.
// The insert uses ON CONFLICT DO NOTHING; when it inserts nothing the
// canonical task is read back by idempotency key.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) (*domain.Task, bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if task == nil || task.ID == uuid.Nil || task.IdempotencyKey == "" {
		return nil, false, store.NewStoreError("task", "create",
			"task ID and idempotency key are required", store.ErrInvalidEntity)
	}

	query := `
		INSERT INTO notification_tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $11, $12, NULL, NULL, $13, $14)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING ` + taskColumns

	row := s.db.QueryRowContext(ctx, query,
		task.ID,
		task.IdempotencyKey,
		task.EventType,
		task.EntityID,
		task.Channel,
		task.Recipient,
		task.Priority,
		task.ChaosFailPercent,
		domain.StatusPending,
		task.MaxAttempts,
		task.LastError,
		task.NextRetryAt.UTC(),
		task.CreatedAt.UTC(),
		task.UpdatedAt.UTC(),
	)
	created, err := scanTask(row)
	if err == nil {
		log.Debug("task created",
			"task_id", created.ID,
			"idempotency_key", created.IdempotencyKey)
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		log.Error("failed to insert task",
			"task_id", task.ID,
			"error", err)
		return nil, false, fmt.Errorf("failed to create task: %w", MapError(err))
	}

	existing, err := s.getBy(ctx, "idempotency_key", task.IdempotencyKey)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load task for idempotency key: %w", err)
	}
	log.Debug("idempotency key already admitted",
		"idempotency_key", task.IdempotencyKey,
		"task_id", existing.ID)
	return existing, false, nil
}

// Get implements store.TaskStore.Get.
func (s *PostgresTaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return s.getBy(ctx, "id", id)
}

func (s *PostgresTaskStore) getBy(ctx context.Context, column string, value any) (*domain.Task, error) {
	task, err := selectTask(ctx, s.db, column, value, false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to get task",
			"column", column,
			"error", err)
		return nil, fmt.Errorf("failed to get task: %w", MapError(err))
	}
	return task, nil
}

// selectTask reads one row through q, which is the pool or a transaction.
// lock adds FOR UPDATE.
func selectTask(ctx context.Context, q store.DBTX, column string, value any, lock bool) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM notification_tasks WHERE ` + column + ` = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	return scanTask(q.QueryRowContext(ctx, query, value))
}

// List implements store.TaskStore.List.
func (s *PostgresTaskStore) List(ctx context.Context, filter store.ListFilter) ([]*domain.Task, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + taskColumns + ` FROM notification_tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY updated_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return s.query(ctx, "list", query, args...)
}

// ListDue implements store.TaskStore.ListDue.
func (s *PostgresTaskStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM notification_tasks
		WHERE status IN ('PENDING', 'FAILED') AND next_retry_at <= $1
		ORDER BY next_retry_at ASC, id ASC`
	args := []interface{}{now.UTC()}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return s.query(ctx, "list_due", query, args...)
}

// ListStuck implements store.TaskStore.ListStuck.
func (s *PostgresTaskStore) ListStuck(ctx context.Context, olderThan time.Time) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM notification_tasks
		WHERE status = 'PROCESSING' AND processing_started_at < $1
		ORDER BY processing_started_at ASC`
	return s.query(ctx, "list_stuck", query, olderThan.UTC())
}

func (s *PostgresTaskStore) query(ctx context.Context, op, query string, args ...interface{}) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query tasks", "operation", op, "error", err)
		return nil, fmt.Errorf("failed to query tasks: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			log.Error("failed to scan task row", "operation", op, "error", err)
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		log.Error("error iterating task rows", "operation", op, "error", err)
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}

// Transition implements store.TaskStore.Transition.
func (s *PostgresTaskStore) Transition(
	ctx context.Context,
	id uuid.UUID,
	from, to domain.Status,
	update domain.TaskUpdate,
) (*domain.Task, error) {
	var result *domain.Task
	err := store.RunInTransaction(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		task, err := selectTask(ctx, tx, "id", id, true)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrTaskNotFound
			}
			return fmt.Errorf("failed to lock task: %w", MapError(err))
		}

		now := s.clock.Now()
		if err := store.CheckTransition(task, from, to, now); err != nil {
			return err
		}
		task.Apply(to, update, now)

		res, err := tx.ExecContext(ctx, `
			UPDATE notification_tasks
			SET status = $1, attempt_count = $2, last_error = $3, next_retry_at = $4,
				worker_id = $5, processing_started_at = $6, updated_at = $7
			WHERE id = $8 AND status = $9`,
			task.Status,
			task.AttemptCount,
			task.LastError,
			task.NextRetryAt,
			nullString(task.WorkerID),
			nullTime(task.ProcessingStartedAt),
			task.UpdatedAt,
			task.ID,
			from,
		)
		if err != nil {
			return fmt.Errorf("failed to update task: %w", MapError(err))
		}
		if err := CheckRowsAffected(res, "task"); err != nil {
			return store.NewStoreError("task", "transition", "row changed underneath the lock", store.ErrConflict)
		}

		result = task
		return nil
	})
	if err != nil {
		if !store.IsConflictError(err) && !store.IsNotFoundError(err) && !errors.Is(err, domain.ErrInvalidTransition) {
			logger.FromContextOrDefault(ctx, s.logger).Error("task transition failed",
				"task_id", id,
				"from", from,
				"to", to,
				"error", err)
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

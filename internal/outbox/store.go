package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quartershq/quarters/internal/database"
)

// Store provides persistence for outbox tasks. Worker-side methods run
// against the pool it was constructed with; Enqueue takes an explicit querier
// so producers can enqueue inside their own transactions.
type Store struct {
	db database.Querier
}

// NewStore creates a Store bound to the given pool for worker operations.
func NewStore(db database.Querier) *Store {
	return &Store{db: db}
}

const taskColumns = `id, kind, payload, idempotency_key, status, attempts, run_at,
	coalesce(last_error, ''), created_at, updated_at`

// Enqueue inserts a pending task. The payload is JSON-encoded. When a task
// with the same idempotency key already exists the call is a no-op, which
// makes producers safe to retry.
func (s *Store) Enqueue(ctx context.Context, q database.Querier, kind string, payload any, idempotencyKey string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode task payload: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO outbox_tasks (kind, payload, idempotency_key, status, run_at)
		VALUES ($1, $2, $3, 'pending', now())
		ON CONFLICT (idempotency_key) DO NOTHING
	`, kind, body, idempotencyKey)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// Claim atomically marks up to limit due tasks as running and returns them.
// SKIP LOCKED lets multiple workers poll the same table without blocking each
// other. Tasks stuck in running longer than ten minutes are reclaimed, which
// covers a worker that died mid-task.
func (s *Store) Claim(ctx context.Context, limit int) ([]Task, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE outbox_tasks SET status = 'running', attempts = attempts + 1, updated_at = now()
		WHERE id IN (
			SELECT id FROM outbox_tasks
			WHERE (status = 'pending' AND run_at <= now())
			   OR (status = 'running' AND updated_at < now() - interval '10 minutes')
			ORDER BY run_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.Kind, &t.Payload, &t.IdempotencyKey, &t.Status,
			&t.Attempts, &t.RunAt, &t.LastError, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// MarkDone records a successful run.
func (s *Store) MarkDone(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE outbox_tasks SET status = 'done', last_error = NULL, updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to mark task done: %w", err)
	}
	return nil
}

// Retry reschedules a failed task for a later attempt.
func (s *Store) Retry(ctx context.Context, id int64, runAt time.Time, lastError string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE outbox_tasks SET status = 'pending', run_at = $2, last_error = $3, updated_at = now()
		WHERE id = $1
	`, id, runAt, lastError)
	if err != nil {
		return fmt.Errorf("failed to reschedule task: %w", err)
	}
	return nil
}

// MarkDead parks a task that exhausted its attempts. Dead tasks stay in the
// table for inspection and manual requeue.
func (s *Store) MarkDead(ctx context.Context, id int64, lastError string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE outbox_tasks SET status = 'dead', last_error = $2, updated_at = now()
		WHERE id = $1
	`, id, lastError)
	if err != nil {
		return fmt.Errorf("failed to mark task dead: %w", err)
	}
	return nil
}

// PendingCount returns the number of tasks waiting to run, for metrics.
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM outbox_tasks WHERE status = 'pending'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending tasks: %w", err)
	}
	return n, nil
}

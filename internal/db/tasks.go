package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// CreateTask enqueues a background task in status pending.
func (c *Client) CreateTask(ctx context.Context, name string, payload map[string]any, maxAttempts int) (*models.Task, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	results, err := surrealdb.Query[[]models.Task](ctx, c.db, `
		CREATE type::record("task", $id) SET
			name = $name,
			payload = $payload,
			status = $status,
			attempts = 0,
			max_attempts = $max_attempts
		RETURN AFTER
	`, map[string]any{
		"id":           uuid.NewString(),
		"name":         name,
		"payload":      payload,
		"status":       models.TaskStatusPending,
		"max_attempts": maxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("create task: no result returned")
	}
	return &(*results)[0].Result[0], nil
}

// GetTask retrieves a task by ID. Returns nil if not found.
func (c *Client) GetTask(ctx context.Context, id string) (*models.Task, error) {
	results, err := surrealdb.Query[[]models.Task](ctx, c.db, `
		SELECT * FROM type::record("task", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// ClaimNextTask atomically claims the oldest pending task whose name is in
// names, marking it running under a lease. Returns nil when nothing is
// pending. Races between workers resolve through the status guard plus the
// transaction conflict, which the caller sees as an empty claim.
func (c *Client) ClaimNextTask(ctx context.Context, names []string, leaseFor time.Duration) (*models.Task, error) {
	if len(names) == 0 {
		return nil, nil
	}

	sql := `
		LET $next = (SELECT VALUE id FROM task
			WHERE status = $pending AND name IN $names
			ORDER BY created ASC
			LIMIT 1);
		UPDATE $next SET
			status = $running,
			attempts += 1,
			lease_until = $lease_until,
			updated = time::now()
		WHERE status = $pending
		RETURN AFTER;
	`

	results, err := surrealdb.Query[[]models.Task](ctx, c.db, sql, map[string]any{
		"names":       names,
		"pending":     models.TaskStatusPending,
		"running":     models.TaskStatusRunning,
		"lease_until": time.Now().UTC().Add(leaseFor),
	})
	if err != nil {
		if errors.Is(wrapQueryError(err), ErrTransactionConflict) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim next task: %w", err)
	}

	// Second statement carries the UPDATE output.
	if results == nil || len(*results) < 2 || len((*results)[1].Result) == 0 {
		return nil, nil
	}
	return &(*results)[1].Result[0], nil
}

// CompleteTask marks a task done and releases its lease.
func (c *Client) CompleteTask(ctx context.Context, id string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("task", $id) SET
			status = $status,
			lease_until = NONE,
			error = NONE,
			updated = time::now()
	`, map[string]any{"id": id, "status": models.TaskStatusCompleted})
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}

// FailTask records a handler failure. Non-final failures go back to pending
// for another attempt; final ones stay failed with the message retained.
func (c *Client) FailTask(ctx context.Context, id, errMsg string, final bool) error {
	status := models.TaskStatusPending
	if final {
		status = models.TaskStatusFailed
	}

	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("task", $id) SET
			status = $status,
			error = $error,
			lease_until = NONE,
			updated = time::now()
	`, map[string]any{"id": id, "status": status, "error": errMsg})
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	return nil
}

// RetryTask returns a failed task to pending with a fresh attempt budget.
// Returns ErrNotFound when the task does not exist or is not failed.
func (c *Client) RetryTask(ctx context.Context, id string) error {
	results, err := surrealdb.Query[[]models.Task](ctx, c.db, `
		UPDATE type::record("task", $id) SET
			status = $pending,
			attempts = 0,
			error = NONE,
			lease_until = NONE,
			updated = time::now()
		WHERE status = $failed
		RETURN AFTER
	`, map[string]any{
		"id":      id,
		"pending": models.TaskStatusPending,
		"failed":  models.TaskStatusFailed,
	})
	if err != nil {
		return fmt.Errorf("retry task: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return fmt.Errorf("retry task %s: %w", id, ErrNotFound)
	}
	return nil
}

// RequeueExpired returns running tasks with lapsed leases to pending so
// another worker picks them up. Returns the number of requeued tasks.
func (c *Client) RequeueExpired(ctx context.Context) (int, error) {
	results, err := surrealdb.Query[[]models.Task](ctx, c.db, `
		UPDATE task SET
			status = $pending,
			lease_until = NONE,
			updated = time::now()
		WHERE status = $running AND lease_until != NONE AND lease_until < time::now()
		RETURN AFTER
	`, map[string]any{
		"pending": models.TaskStatusPending,
		"running": models.TaskStatusRunning,
	})
	if err != nil {
		return 0, fmt.Errorf("requeue expired tasks: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}

// ListTasks returns tasks, optionally filtered by status and name,
// most recent first.
func (c *Client) ListTasks(ctx context.Context, status, name string, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = 50
	}

	filterClause := ""
	vars := map[string]any{"limit": limit}
	if status != "" {
		filterClause += " AND status = $status"
		vars["status"] = status
	}
	if name != "" {
		filterClause += " AND name = $name"
		vars["name"] = name
	}

	sql := fmt.Sprintf(`
		SELECT * FROM task WHERE true %s ORDER BY created DESC LIMIT $limit
	`, filterClause)

	results, err := surrealdb.Query[[]models.Task](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.Task{}, nil
	}
	return (*results)[0].Result, nil
}

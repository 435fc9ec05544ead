// Package job runs the persisted background task queue: a Queue enqueues
// tasks, a Dispatcher claims pending ones under a lease and hands them to
// registered handlers. Delivery is at-least-once with no ordering guarantee
// across items.
package job

import (
	"context"
	"fmt"
	"time"

	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
)

// Store is the task persistence surface.
type Store interface {
	CreateTask(ctx context.Context, name string, payload map[string]any, maxAttempts int) (*models.Task, error)
	ClaimNextTask(ctx context.Context, names []string, leaseFor time.Duration) (*models.Task, error)
	CompleteTask(ctx context.Context, id string) error
	FailTask(ctx context.Context, id, errMsg string, final bool) error
	RequeueExpired(ctx context.Context) (int, error)
}

// Queue enqueues background tasks.
type Queue struct {
	store       Store
	maxAttempts int
}

func NewQueue(store Store, maxAttempts int) *Queue {
	return &Queue{store: store, maxAttempts: maxAttempts}
}

// Enqueue persists a task and returns its id. payload must encode to a
// JSON object.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any) (string, error) {
	encoded, err := models.EncodePayload(payload)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", name, err)
	}
	task, err := q.store.CreateTask(ctx, name, encoded, q.maxAttempts)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", name, err)
	}
	return models.MustRecordIDString(task.ID), nil
}

package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Task statuses.
const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// Task names dispatched through the queue.
const (
	TaskProcessItem       = "process_item"
	TaskFormEpisode       = "form_episode"
	TaskRollupDaily       = "rollup_daily"
	TaskRollupWeekly      = "rollup_weekly"
	TaskReconcileEpisodes = "reconcile_episodes"
	TaskDeleteItem        = "delete_item"
)

// Task is a persisted background queue entry with at-least-once delivery.
// A running task holds a lease; when the lease expires the dispatcher assumes
// the worker died and requeues the task.
type Task struct {
	ID          surrealmodels.RecordID `json:"id"`
	Name        string                 `json:"name"`
	Payload     map[string]any         `json:"payload"`
	Status      string                 `json:"status"`
	Attempts    int                    `json:"attempts"`
	MaxAttempts int                    `json:"max_attempts"`
	LeaseUntil  *time.Time             `json:"lease_until,omitempty"`
	Error       *string                `json:"error,omitempty"`
	Created     time.Time              `json:"created,omitempty"`
	Updated     time.Time              `json:"updated,omitempty"`
}

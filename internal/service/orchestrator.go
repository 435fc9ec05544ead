package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gozhiyuan/omnimemory-sub000/internal/blob"
	"github.com/gozhiyuan/omnimemory-sub000/internal/db"
	"github.com/gozhiyuan/omnimemory-sub000/internal/episode"
	"github.com/gozhiyuan/omnimemory-sub000/internal/job"
	"github.com/gozhiyuan/omnimemory-sub000/internal/metrics"
	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
	"github.com/gozhiyuan/omnimemory-sub000/internal/pipeline"
	"github.com/gozhiyuan/omnimemory-sub000/internal/rollup"
	"github.com/gozhiyuan/omnimemory-sub000/internal/vector"
)

// OrchestratorStore is the persistence surface orchestration needs beyond
// what the engines own.
type OrchestratorStore interface {
	GetItem(ctx context.Context, id string) (*models.Item, error)
	UpdateItemStatus(ctx context.Context, id, status string, errMsg *string) error
	DeleteItem(ctx context.Context, id string) (int, error)
	DeleteObservationsByItem(ctx context.Context, userID, itemID string) ([]string, error)
	DeleteArtifactsByItem(ctx context.Context, itemID string) ([]string, error)
	CountItemsByBlobKey(ctx context.Context, blobKey string) (int, error)
	ListActiveUsers(ctx context.Context, since time.Time) ([]string, error)
}

// ItemProcessor runs the enrichment pipeline for one item.
type ItemProcessor interface {
	Process(ctx context.Context, itemID string) (*pipeline.Execution, error)
}

// EpisodeFormer clusters observations into episodes and undoes membership
// on delete.
type EpisodeFormer interface {
	FormEpisode(ctx context.Context, itemID string) (*episode.FormationResult, error)
	Reconcile(ctx context.Context, userID string, from, to time.Time) ([]episode.Outcome, []episode.Day, error)
	DetachItem(ctx context.Context, userID, itemID string, tzHint int) ([]episode.Day, error)
}

// RollupRunner rebuilds daily and weekly summaries.
type RollupRunner interface {
	Daily(ctx context.Context, userID, date string, tzOffsetMinutes int, force bool) error
	Weekly(ctx context.Context, userID, weekStart string, tzOffsetMinutes int, force bool) error
}

// Registrar accepts task handlers. Satisfied by job.Dispatcher.
type Registrar interface {
	Register(name string, h job.Handler)
}

// OrchestratorDeps wires the orchestrator to its collaborators.
type OrchestratorDeps struct {
	Store     OrchestratorStore
	Blobs     blob.Store
	Pipeline  ItemProcessor
	Episodes  EpisodeFormer
	Rollups   RollupRunner
	Queue     Enqueuer
	Index     vector.Index
	Collector *metrics.Collector
	Log       *slog.Logger
}

// Orchestrator owns the task handlers: it runs each stage of the
// ingestion-to-memory chain and enqueues the next one. Every handler is
// idempotent so at-least-once delivery cannot corrupt state.
type Orchestrator struct {
	store     OrchestratorStore
	blobs     blob.Store
	pipeline  ItemProcessor
	episodes  EpisodeFormer
	rollups   RollupRunner
	queue     Enqueuer
	index     vector.Index
	collector *metrics.Collector
	log       *slog.Logger
}

func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		store:     deps.Store,
		blobs:     deps.Blobs,
		pipeline:  deps.Pipeline,
		episodes:  deps.Episodes,
		rollups:   deps.Rollups,
		queue:     deps.Queue,
		index:     deps.Index,
		collector: deps.Collector,
		log:       log,
	}
}

// RegisterHandlers binds every task name to its handler.
func (o *Orchestrator) RegisterHandlers(reg Registrar) {
	reg.Register(models.TaskProcessItem, o.handleProcessItem)
	reg.Register(models.TaskFormEpisode, o.handleFormEpisode)
	reg.Register(models.TaskRollupDaily, o.handleRollupDaily)
	reg.Register(models.TaskRollupWeekly, o.handleRollupWeekly)
	reg.Register(models.TaskReconcileEpisodes, o.handleReconcile)
	reg.Register(models.TaskDeleteItem, o.handleDeleteItem)
}

func (o *Orchestrator) handleProcessItem(ctx context.Context, task *models.Task) error {
	p, err := models.DecodePayload[models.ProcessItemPayload](task.Payload)
	if err != nil {
		return err
	}
	return o.ProcessItem(ctx, p.ItemID, p.Force)
}

func (o *Orchestrator) handleFormEpisode(ctx context.Context, task *models.Task) error {
	p, err := models.DecodePayload[models.FormEpisodePayload](task.Payload)
	if err != nil {
		return err
	}
	return o.FormEpisode(ctx, p.ItemID)
}

func (o *Orchestrator) handleRollupDaily(ctx context.Context, task *models.Task) error {
	p, err := models.DecodePayload[models.RollupPayload](task.Payload)
	if err != nil {
		return err
	}
	return o.RunDailyRollup(ctx, p.UserID, p.DateKey, p.TZOffsetMinutes, p.Force)
}

func (o *Orchestrator) handleRollupWeekly(ctx context.Context, task *models.Task) error {
	p, err := models.DecodePayload[models.RollupPayload](task.Payload)
	if err != nil {
		return err
	}
	return o.RunWeeklyRollup(ctx, p.UserID, p.DateKey, p.TZOffsetMinutes, p.Force)
}

func (o *Orchestrator) handleReconcile(ctx context.Context, task *models.Task) error {
	p, err := models.DecodePayload[models.ReconcilePayload](task.Payload)
	if err != nil {
		return err
	}
	return o.Reconcile(ctx, p.UserID, p.From, p.To)
}

func (o *Orchestrator) handleDeleteItem(ctx context.Context, task *models.Task) error {
	p, err := models.DecodePayload[models.ProcessItemPayload](task.Payload)
	if err != nil {
		return err
	}
	return o.DeleteItem(ctx, p.ItemID)
}

// ProcessItem runs the enrichment pipeline for one item and chains episode
// formation. Force resets a completed or failed item to pending first so the
// pipeline runs again.
func (o *Orchestrator) ProcessItem(ctx context.Context, itemID string, force bool) error {
	if force {
		item, err := o.store.GetItem(ctx, itemID)
		if err != nil {
			return fmt.Errorf("load item: %w", err)
		}
		if item == nil {
			return fmt.Errorf("item %s: %w", itemID, db.ErrNotFound)
		}
		if item.Status == models.ItemStatusCompleted || item.Status == models.ItemStatusFailed {
			if err := o.store.UpdateItemStatus(ctx, itemID, models.ItemStatusPending, nil); err != nil {
				return fmt.Errorf("reset item: %w", err)
			}
		}
	}

	start := time.Now()
	_, err := o.pipeline.Process(ctx, itemID)
	o.observe(metrics.OpPipeline, start)
	if err != nil {
		return err
	}

	if _, err := o.queue.Enqueue(ctx, models.TaskFormEpisode, models.FormEpisodePayload{ItemID: itemID}); err != nil {
		return fmt.Errorf("enqueue episode formation: %w", err)
	}
	return nil
}

// FormEpisode clusters one item's observations and rebuilds the daily
// summary of the day the episode landed on.
func (o *Orchestrator) FormEpisode(ctx context.Context, itemID string) error {
	start := time.Now()
	res, err := o.episodes.FormEpisode(ctx, itemID)
	o.observe(metrics.OpEpisodeForm, start)
	if err != nil {
		return err
	}
	if res.RollupDate == "" {
		return nil
	}
	return o.RunDailyRollup(ctx, res.UserID, res.RollupDate, res.TZOffsetMinutes, false)
}

// RunDailyRollup rebuilds one user-local day's summary.
func (o *Orchestrator) RunDailyRollup(ctx context.Context, userID, date string, tzOffsetMinutes int, force bool) error {
	start := time.Now()
	err := o.rollups.Daily(ctx, userID, date, tzOffsetMinutes, force)
	o.observe(metrics.OpRollup+":daily", start)
	if err != nil {
		return err
	}
	return nil
}

// RunWeeklyRollup rebuilds the week containing the given date. The date is
// normalized to its Monday so callers may pass any day of the week.
func (o *Orchestrator) RunWeeklyRollup(ctx context.Context, userID, date string, tzOffsetMinutes int, force bool) error {
	weekStart, err := rollup.WeekStart(date)
	if err != nil {
		return err
	}
	start := time.Now()
	err = o.rollups.Weekly(ctx, userID, weekStart, tzOffsetMinutes, force)
	o.observe(metrics.OpRollup+":weekly", start)
	if err != nil {
		return err
	}
	return nil
}

// Reconcile folds episodes that concurrent processing split apart and
// rebuilds the daily summaries the folds touched.
func (o *Orchestrator) Reconcile(ctx context.Context, userID string, from, to time.Time) error {
	start := time.Now()
	outcomes, days, err := o.episodes.Reconcile(ctx, userID, from, to)
	o.observe(metrics.OpReconcile, start)
	if err != nil {
		return err
	}
	for _, day := range days {
		if err := o.RunDailyRollup(ctx, userID, day.Date, day.TZOffsetMinutes, false); err != nil {
			return fmt.Errorf("rollup after reconcile: %w", err)
		}
	}
	if len(outcomes) > 0 {
		o.log.Info("reconcile folded episodes", "user_id", userID, "folds", len(outcomes), "days", len(days))
	}
	return nil
}

// TriggerReconcile enqueues one reconcile task per user active in the
// window.
func (o *Orchestrator) TriggerReconcile(ctx context.Context, from, to time.Time) (int, error) {
	users, err := o.store.ListActiveUsers(ctx, from)
	if err != nil {
		return 0, fmt.Errorf("list active users: %w", err)
	}
	for _, userID := range users {
		payload := models.ReconcilePayload{UserID: userID, From: from, To: to}
		if _, err := o.queue.Enqueue(ctx, models.TaskReconcileEpisodes, payload); err != nil {
			return 0, fmt.Errorf("enqueue reconcile for %s: %w", userID, err)
		}
	}
	return len(users), nil
}

// ScheduleWeeklyRollups enqueues one weekly rollup per user active in the
// past week. Summaries that already exist keep the timezone offset they
// were built under, so the zero offset here only applies to brand new weeks.
func (o *Orchestrator) ScheduleWeeklyRollups(ctx context.Context, now time.Time) (int, error) {
	users, err := o.store.ListActiveUsers(ctx, now.AddDate(0, 0, -7))
	if err != nil {
		return 0, fmt.Errorf("list active users: %w", err)
	}
	weekStart, err := rollup.WeekStart(now.UTC().Format("2006-01-02"))
	if err != nil {
		return 0, err
	}
	for _, userID := range users {
		payload := models.RollupPayload{UserID: userID, DateKey: weekStart}
		if _, err := o.queue.Enqueue(ctx, models.TaskRollupWeekly, payload); err != nil {
			return 0, fmt.Errorf("enqueue weekly rollup for %s: %w", userID, err)
		}
	}
	if len(users) > 0 {
		o.log.Info("weekly rollups scheduled", "users", len(users), "week_start", weekStart)
	}
	return len(users), nil
}

// DeleteItem removes one item and everything derived from it: observations,
// cached artifacts with their derived blobs, episode membership, and the raw
// blob once no other item references it. Touched daily and weekly summaries
// are rebuilt afterwards. Deleting an already absent item is a no-op.
func (o *Orchestrator) DeleteItem(ctx context.Context, itemID string) error {
	item, err := o.store.GetItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("load item: %w", err)
	}
	if item == nil {
		o.log.Info("item already deleted", "item_id", itemID)
		return nil
	}

	days, err := o.episodes.DetachItem(ctx, item.UserID, itemID, item.TZOffsetMinutes)
	if err != nil {
		return fmt.Errorf("detach from episodes: %w", err)
	}

	obsIDs, err := o.store.DeleteObservationsByItem(ctx, item.UserID, itemID)
	if err != nil {
		return fmt.Errorf("delete observations: %w", err)
	}
	for _, id := range obsIDs {
		if err := o.index.Delete(ctx, id); err != nil {
			return fmt.Errorf("unindex observation: %w", err)
		}
	}

	blobKeys, err := o.store.DeleteArtifactsByItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("delete artifacts: %w", err)
	}
	for _, key := range blobKeys {
		if err := o.blobs.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete derived blob: %w", err)
		}
	}

	if _, err := o.store.DeleteItem(ctx, itemID); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}

	// The raw blob is content addressed and may back exact duplicates owned
	// by any user; it goes only when the last referencing item is gone.
	if item.BlobKey != "" {
		refs, err := o.store.CountItemsByBlobKey(ctx, item.BlobKey)
		if err != nil {
			return fmt.Errorf("count blob references: %w", err)
		}
		if refs == 0 {
			if err := o.blobs.Delete(ctx, item.BlobKey); err != nil {
				return fmt.Errorf("delete raw blob: %w", err)
			}
		}
	}

	for _, day := range days {
		if err := o.RunDailyRollup(ctx, item.UserID, day.Date, day.TZOffsetMinutes, false); err != nil {
			return fmt.Errorf("rollup after delete: %w", err)
		}
		if err := o.RunWeeklyRollup(ctx, item.UserID, day.Date, day.TZOffsetMinutes, false); err != nil {
			return fmt.Errorf("weekly rollup after delete: %w", err)
		}
	}

	o.log.Info("item deleted",
		"item_id", itemID,
		"user_id", item.UserID,
		"observations", len(obsIDs),
		"artifacts", len(blobKeys),
		"days", len(days))
	return nil
}

func (o *Orchestrator) observe(op string, start time.Time) {
	if o.collector != nil {
		o.collector.RecordTiming(op, time.Since(start))
	}
}

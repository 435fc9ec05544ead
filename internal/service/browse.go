package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gozhiyuan/omnimemory-sub000/internal/db"
	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
	"github.com/gozhiyuan/omnimemory-sub000/internal/vector"
)

// BrowseStore is the read and admin surface the CLI works through.
type BrowseStore interface {
	GetItem(ctx context.Context, id string) (*models.Item, error)
	ListItems(ctx context.Context, userID, status string, limit int) ([]models.Item, error)
	GetObservationsByItem(ctx context.Context, userID, itemID string) ([]models.MemoryContext, error)
	ListArtifactsByItem(ctx context.Context, itemID string) ([]models.Artifact, error)
	GetContext(ctx context.Context, id string) (*models.MemoryContext, error)
	GetEpisodeRecords(ctx context.Context, userID, episodeID string) ([]models.MemoryContext, error)
	FindEpisodeRecordsInRange(ctx context.Context, userID, contextType string, from, to time.Time) ([]models.MemoryContext, error)
	EditContextText(ctx context.Context, id string, title, summary *string, keywords []string) (*models.MemoryContext, error)
	ListTasks(ctx context.Context, status, name string, limit int) ([]models.Task, error)
	RetryTask(ctx context.Context, id string) error
	GetStats(ctx context.Context) (*db.Stats, error)
}

// BrowseService exposes the stored records to interactive callers: listing
// and inspecting items and episodes, user edits, task admin, and stats.
// Destructive or expensive work is handed to the queue instead of run
// inline.
type BrowseService struct {
	store BrowseStore
	queue Enqueuer
	index vector.Index
	log   *slog.Logger
}

func NewBrowseService(store BrowseStore, queue Enqueuer, index vector.Index, log *slog.Logger) *BrowseService {
	if log == nil {
		log = slog.Default()
	}
	return &BrowseService{store: store, queue: queue, index: index, log: log}
}

// ItemDetail bundles an item with everything derived from it.
type ItemDetail struct {
	Item         *models.Item
	Observations []models.MemoryContext
	Artifacts    []models.Artifact
}

func (s *BrowseService) ListItems(ctx context.Context, userID, status string, limit int) ([]models.Item, error) {
	return s.store.ListItems(ctx, userID, status, limit)
}

// GetItemDetail loads one item with its observations and cached artifacts.
func (s *BrowseService) GetItemDetail(ctx context.Context, itemID string) (*ItemDetail, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("item %s: %w", itemID, db.ErrNotFound)
	}

	observations, err := s.store.GetObservationsByItem(ctx, item.UserID, itemID)
	if err != nil {
		return nil, err
	}
	artifacts, err := s.store.ListArtifactsByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return &ItemDetail{Item: item, Observations: observations, Artifacts: artifacts}, nil
}

// RequestDelete queues removal of an item and everything derived from it.
// Returns the task id.
func (s *BrowseService) RequestDelete(ctx context.Context, itemID string) (string, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return "", err
	}
	if item == nil {
		return "", fmt.Errorf("item %s: %w", itemID, db.ErrNotFound)
	}
	return s.queue.Enqueue(ctx, models.TaskDeleteItem, models.ProcessItemPayload{ItemID: itemID})
}

// RequestReprocess queues a forced pipeline re-run for an item. Returns the
// task id.
func (s *BrowseService) RequestReprocess(ctx context.Context, itemID string) (string, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return "", err
	}
	if item == nil {
		return "", fmt.Errorf("item %s: %w", itemID, db.ErrNotFound)
	}
	return s.queue.Enqueue(ctx, models.TaskProcessItem, models.ProcessItemPayload{ItemID: itemID, Force: true})
}

// ListEpisodes returns the activity records of episodes starting inside the
// window, oldest first.
func (s *BrowseService) ListEpisodes(ctx context.Context, userID string, from, to time.Time) ([]models.MemoryContext, error) {
	return s.store.FindEpisodeRecordsInRange(ctx, userID, models.ContextActivity, from, to)
}

// GetEpisodeDetail returns every per-type record bundled under one episode.
func (s *BrowseService) GetEpisodeDetail(ctx context.Context, userID, episodeID string) ([]models.MemoryContext, error) {
	records, err := s.store.GetEpisodeRecords(ctx, userID, episodeID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("episode %s: %w", episodeID, db.ErrNotFound)
	}
	return records, nil
}

// RecordEdit carries the fields of a user edit. Nil fields stay unchanged.
type RecordEdit struct {
	Title    *string
	Summary  *string
	Keywords []string
}

// EditRecord applies a user edit to a context record, locks the text
// against automatic rewriting, and reindexes the record.
func (s *BrowseService) EditRecord(ctx context.Context, id string, edit RecordEdit) (*models.MemoryContext, error) {
	updated, err := s.store.EditContextText(ctx, id, edit.Title, edit.Summary, edit.Keywords)
	if err != nil {
		return nil, err
	}
	if err := s.index.Upsert(ctx, id, *updated); err != nil {
		return nil, fmt.Errorf("reindex edited record: %w", err)
	}
	s.log.Info("record edited", "context_id", id, "type", updated.ContextType)
	return updated, nil
}

func (s *BrowseService) ListTasks(ctx context.Context, status, name string, limit int) ([]models.Task, error) {
	return s.store.ListTasks(ctx, status, name, limit)
}

// RetryTask gives one failed task a fresh attempt budget.
func (s *BrowseService) RetryTask(ctx context.Context, id string) error {
	if err := s.store.RetryTask(ctx, id); err != nil {
		return err
	}
	s.log.Info("task requeued", "task_id", id)
	return nil
}

func (s *BrowseService) Stats(ctx context.Context) (*db.Stats, error) {
	return s.store.GetStats(ctx)
}

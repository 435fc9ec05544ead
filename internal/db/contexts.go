package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// ContextMatch is a semantic search hit. It carries the fields candidate
// selection needs so callers rank without re-fetching every row.
type ContextMatch struct {
	ID          surrealmodels.RecordID `json:"id"`
	ContextType string                 `json:"context_type"`
	EpisodeID   *string                `json:"episode_id"`
	Title       string                 `json:"title"`
	StartTime   time.Time              `json:"start_time"`
	EndTime     time.Time              `json:"end_time"`
	Score       float64                `json:"score"`
}

// ContextSearchParams filters a semantic search over memory contexts.
type ContextSearchParams struct {
	UserID       string
	Embedding    []float32
	Limit        int
	ContextType  string // empty matches all types
	EpisodesOnly bool
}

// UpsertContext creates or replaces a memory context at a known record ID.
// The embedding field is left untouched; it is written separately once the
// vector index re-embeds the text.
func (c *Client) UpsertContext(ctx context.Context, id string, mc models.MemoryContext) (*models.MemoryContext, error) {
	if mc.Keywords == nil {
		mc.Keywords = []string{}
	}
	if mc.Entities == nil {
		mc.Entities = []string{}
	}
	if mc.SourceItemIDs == nil {
		mc.SourceItemIDs = []string{}
	}

	// UPSERT with conditional created field (only set on insert)
	sql := `
		UPSERT type::record("mem_context", $id) SET
			user_id = $user_id,
			context_type = $context_type,
			is_episode = $is_episode,
			episode_id = $episode_id,
			title = $title,
			summary = $summary,
			keywords = $keywords,
			entities = $entities,
			location = $location,
			source_item_ids = $source_item_ids,
			start_time = $start_time,
			end_time = $end_time,
			edited_by_user = $edited_by_user,
			metadata = $metadata,
			created = IF created THEN created ELSE time::now() END,
			updated = time::now()
		RETURN AFTER
	`

	results, err := surrealdb.Query[[]models.MemoryContext](ctx, c.db, sql, map[string]any{
		"id":              id,
		"user_id":         mc.UserID,
		"context_type":    mc.ContextType,
		"is_episode":      mc.IsEpisode,
		"episode_id":      mc.EpisodeID,
		"title":           mc.Title,
		"summary":         mc.Summary,
		"keywords":        mc.Keywords,
		"entities":        mc.Entities,
		"location":        mc.Location,
		"source_item_ids": mc.SourceItemIDs,
		"start_time":      mc.StartTime,
		"end_time":        mc.EndTime,
		"edited_by_user":  mc.EditedByUser,
		"metadata":        mc.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert context: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("upsert context: no result returned")
	}
	return &(*results)[0].Result[0], nil
}

// GetContext retrieves a memory context by ID. Returns nil if not found.
func (c *Client) GetContext(ctx context.Context, id string) (*models.MemoryContext, error) {
	results, err := surrealdb.Query[[]models.MemoryContext](ctx, c.db, `
		SELECT * FROM type::record("mem_context", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get context: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// DeleteContext removes a memory context. Returns the number of deleted
// records (0 if not found - idempotent).
func (c *Client) DeleteContext(ctx context.Context, id string) (int, error) {
	results, err := surrealdb.Query[[]models.MemoryContext](ctx, c.db, `
		DELETE type::record("mem_context", $id) RETURN BEFORE
	`, map[string]any{"id": id})
	if err != nil {
		return 0, fmt.Errorf("delete context: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}

// EditContextText applies a user edit to a record's text and locks it
// against automatic rewriting. Nil fields keep their current value.
// Returns ErrNotFound when the record does not exist.
func (c *Client) EditContextText(ctx context.Context, id string, title, summary *string, keywords []string) (*models.MemoryContext, error) {
	sets := []string{"edited_by_user = true", "updated = time::now()"}
	vars := map[string]any{"id": id}
	if title != nil {
		sets = append(sets, "title = $title")
		vars["title"] = *title
	}
	if summary != nil {
		sets = append(sets, "summary = $summary")
		vars["summary"] = *summary
	}
	if keywords != nil {
		sets = append(sets, "keywords = $keywords")
		vars["keywords"] = keywords
	}

	sql := fmt.Sprintf(`
		UPDATE type::record("mem_context", $id) SET %s RETURN AFTER
	`, strings.Join(sets, ", "))

	results, err := surrealdb.Query[[]models.MemoryContext](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("edit context: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("edit context %s: %w", id, ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}

// GetObservationsByItem returns the per-item observations derived from one
// item, oldest first. Episode records and rollup summaries are excluded.
func (c *Client) GetObservationsByItem(ctx context.Context, userID, itemID string) ([]models.MemoryContext, error) {
	results, err := surrealdb.Query[[]models.MemoryContext](ctx, c.db, `
		SELECT * FROM mem_context
		WHERE user_id = $user_id
			AND is_episode = false
			AND context_type != $daily
			AND context_type != $weekly
			AND source_item_ids CONTAINS $item_id
		ORDER BY created ASC
	`, map[string]any{
		"user_id": userID,
		"item_id": itemID,
		"daily":   models.ContextDailySummary,
		"weekly":  models.ContextWeeklySummary,
	})
	if err != nil {
		return nil, fmt.Errorf("get observations by item: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.MemoryContext{}, nil
	}
	return (*results)[0].Result, nil
}

// GetObservationsByItems returns observations of one context type across a
// set of items, ordered by start time. Feeds episode summary generation.
func (c *Client) GetObservationsByItems(ctx context.Context, userID, contextType string, itemIDs []string) ([]models.MemoryContext, error) {
	if len(itemIDs) == 0 {
		return []models.MemoryContext{}, nil
	}

	results, err := surrealdb.Query[[]models.MemoryContext](ctx, c.db, `
		SELECT * FROM mem_context
		WHERE user_id = $user_id
			AND is_episode = false
			AND context_type = $context_type
			AND source_item_ids CONTAINSANY $item_ids
		ORDER BY start_time ASC, created ASC
	`, map[string]any{
		"user_id":      userID,
		"context_type": contextType,
		"item_ids":     itemIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("get observations by items: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.MemoryContext{}, nil
	}
	return (*results)[0].Result, nil
}

// DeleteObservationsByItem removes an item's observations and returns the
// deleted record IDs so vector entries can be cleaned up alongside.
func (c *Client) DeleteObservationsByItem(ctx context.Context, userID, itemID string) ([]string, error) {
	results, err := surrealdb.Query[[]models.MemoryContext](ctx, c.db, `
		DELETE mem_context
		WHERE user_id = $user_id
			AND is_episode = false
			AND context_type != $daily
			AND context_type != $weekly
			AND source_item_ids CONTAINS $item_id
		RETURN BEFORE
	`, map[string]any{
		"user_id": userID,
		"item_id": itemID,
		"daily":   models.ContextDailySummary,
		"weekly":  models.ContextWeeklySummary,
	})
	if err != nil {
		return nil, fmt.Errorf("delete observations by item: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []string{}, nil
	}
	deleted := (*results)[0].Result
	ids := make([]string, 0, len(deleted))
	for _, mc := range deleted {
		ids = append(ids, models.MustRecordIDString(mc.ID))
	}
	return ids, nil
}

// GetEpisodeRecords returns every typed record of one episode.
func (c *Client) GetEpisodeRecords(ctx context.Context, userID, episodeID string) ([]models.MemoryContext, error) {
	results, err := surrealdb.Query[[]models.MemoryContext](ctx, c.db, `
		SELECT * FROM mem_context
		WHERE user_id = $user_id
			AND is_episode = true
			AND episode_id = $episode_id
		ORDER BY context_type ASC
	`, map[string]any{"user_id": userID, "episode_id": episodeID})
	if err != nil {
		return nil, fmt.Errorf("get episode records: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.MemoryContext{}, nil
	}
	return (*results)[0].Result, nil
}

// GetEpisodeRecord returns a single typed record of an episode, or nil.
func (c *Client) GetEpisodeRecord(ctx context.Context, userID, episodeID, contextType string) (*models.MemoryContext, error) {
	results, err := surrealdb.Query[[]models.MemoryContext](ctx, c.db, `
		SELECT * FROM mem_context
		WHERE user_id = $user_id
			AND is_episode = true
			AND episode_id = $episode_id
			AND context_type = $context_type
		LIMIT 1
	`, map[string]any{"user_id": userID, "episode_id": episodeID, "context_type": contextType})
	if err != nil {
		return nil, fmt.Errorf("get episode record: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// FindEpisodeRecordsInRange returns episode records of one type whose start
// time falls in [from, to), ordered by start time. Drives rollups and the
// reconcile sweep.
func (c *Client) FindEpisodeRecordsInRange(ctx context.Context, userID, contextType string, from, to time.Time) ([]models.MemoryContext, error) {
	results, err := surrealdb.Query[[]models.MemoryContext](ctx, c.db, `
		SELECT * FROM mem_context
		WHERE user_id = $user_id
			AND is_episode = true
			AND context_type = $context_type
			AND start_time >= $from
			AND start_time < $to
		ORDER BY start_time ASC, created ASC
	`, map[string]any{
		"user_id":      userID,
		"context_type": contextType,
		"from":         from,
		"to":           to,
	})
	if err != nil {
		return nil, fmt.Errorf("find episode records in range: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.MemoryContext{}, nil
	}
	return (*results)[0].Result, nil
}

// FindDeviceEpisodes returns activity episode records that overlap
// [from, to] and have seen the given device, ordered by start time.
func (c *Client) FindDeviceEpisodes(ctx context.Context, userID, deviceID string, from, to time.Time) ([]models.MemoryContext, error) {
	results, err := surrealdb.Query[[]models.MemoryContext](ctx, c.db, `
		SELECT * FROM mem_context
		WHERE user_id = $user_id
			AND is_episode = true
			AND context_type = $context_type
			AND end_time >= $from
			AND start_time <= $to
			AND metadata.device_ids CONTAINS $device_id
		ORDER BY start_time ASC, created ASC
	`, map[string]any{
		"user_id":      userID,
		"context_type": models.ContextActivity,
		"from":         from,
		"to":           to,
		"device_id":    deviceID,
	})
	if err != nil {
		return nil, fmt.Errorf("find device episodes: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.MemoryContext{}, nil
	}
	return (*results)[0].Result, nil
}

// FindContextsBySourceItem returns every context referencing an item,
// episode records and rollup summaries included. Drives item deletion.
func (c *Client) FindContextsBySourceItem(ctx context.Context, userID, itemID string) ([]models.MemoryContext, error) {
	results, err := surrealdb.Query[[]models.MemoryContext](ctx, c.db, `
		SELECT * FROM mem_context
		WHERE user_id = $user_id AND source_item_ids CONTAINS $item_id
	`, map[string]any{"user_id": userID, "item_id": itemID})
	if err != nil {
		return nil, fmt.Errorf("find contexts by source item: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.MemoryContext{}, nil
	}
	return (*results)[0].Result, nil
}

// SetContextEmbedding writes the vector for a context row.
func (c *Client) SetContextEmbedding(ctx context.Context, id string, embedding []float32) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("mem_context", $id) SET
			embedding = $embedding,
			updated = time::now()
	`, map[string]any{"id": id, "embedding": embedding})
	if err != nil {
		return fmt.Errorf("set context embedding: %w", err)
	}
	return nil
}

// ClearContextEmbedding drops a context row's vector so it no longer
// participates in semantic search.
func (c *Client) ClearContextEmbedding(ctx context.Context, id string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("mem_context", $id) SET
			embedding = NONE,
			updated = time::now()
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("clear context embedding: %w", err)
	}
	return nil
}

// SearchContexts runs HNSW KNN over context embeddings with cosine
// similarity scores. Rows without an embedding never match.
func (c *Client) SearchContexts(ctx context.Context, params ContextSearchParams) ([]ContextMatch, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}

	// Build dynamic filter clauses
	filterClause := ""
	vars := map[string]any{
		"user_id": params.UserID,
		"emb":     params.Embedding,
	}
	if params.ContextType != "" {
		filterClause += " AND context_type = $context_type"
		vars["context_type"] = params.ContextType
	}
	if params.EpisodesOnly {
		filterClause += " AND is_episode = true"
	}

	// KNN operator arguments must be literal, hence the Sprintf.
	// ef=40 for better recall.
	sql := fmt.Sprintf(`
		SELECT id, context_type, episode_id, title, start_time, end_time,
			vector::similarity::cosine(embedding, $emb) AS score
		FROM mem_context
		WHERE embedding <|%d,40|> $emb
			AND user_id = $user_id %s
		ORDER BY score DESC
	`, limit, filterClause)

	results, err := surrealdb.Query[[]ContextMatch](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("search contexts: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []ContextMatch{}, nil
	}
	return (*results)[0].Result, nil
}

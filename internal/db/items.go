package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// CreateItem persists a new item in status pending and returns it.
func (c *Client) CreateItem(ctx context.Context, input models.ItemInput) (*models.Item, error) {
	id := uuid.NewString()

	sql := `
		CREATE type::record("item", $id) SET
			user_id = $user_id,
			media_type = $media_type,
			source = $source,
			blob_key = $blob_key,
			mime_type = $mime_type,
			device_id = $device_id,
			device_captured_at = $device_captured_at,
			duration_secs = $duration_secs,
			window_end = $window_end,
			tz_offset_minutes = $tz_offset_minutes,
			status = $status
		RETURN AFTER
	`

	results, err := surrealdb.Query[[]models.Item](ctx, c.db, sql, map[string]any{
		"id":                 id,
		"user_id":            input.UserID,
		"media_type":         input.MediaType,
		"source":             input.Source,
		"blob_key":           input.BlobKey,
		"mime_type":          input.MimeType,
		"device_id":          input.DeviceID,
		"device_captured_at": input.DeviceCapturedAt,
		"duration_secs":      input.DurationSecs,
		"window_end":         input.WindowEnd,
		"tz_offset_minutes":  input.TZOffsetMinutes,
		"status":             models.ItemStatusPending,
	})
	if err != nil {
		return nil, fmt.Errorf("create item: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("create item: no result returned")
	}
	return &(*results)[0].Result[0], nil
}

// GetItem retrieves an item by ID. Returns nil if not found.
func (c *Client) GetItem(ctx context.Context, id string) (*models.Item, error) {
	results, err := surrealdb.Query[[]models.Item](ctx, c.db, `
		SELECT * FROM type::record("item", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// UpdateItemStatus transitions an item's lifecycle status. The error message
// is cleared on non-failed transitions so a successful retry leaves no stale
// operator noise.
func (c *Client) UpdateItemStatus(ctx context.Context, id, status string, errMsg *string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("item", $id) SET
			status = $status,
			error = $error,
			updated = time::now()
	`, map[string]any{"id": id, "status": status, "error": errMsg})
	if err != nil {
		return fmt.Errorf("update item status: %w", err)
	}
	return nil
}

// SetItemContentHash records the content hash computed for an item.
func (c *Client) SetItemContentHash(ctx context.Context, id, hash string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("item", $id) SET
			content_hash = $hash,
			updated = time::now()
	`, map[string]any{"id": id, "hash": hash})
	if err != nil {
		return fmt.Errorf("set item content hash: %w", err)
	}
	return nil
}

// SetItemPerceptualHash records the perceptual hash computed for a photo.
func (c *Client) SetItemPerceptualHash(ctx context.Context, id, hash string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("item", $id) SET
			perceptual_hash = $hash,
			updated = time::now()
	`, map[string]any{"id": id, "hash": hash})
	if err != nil {
		return fmt.Errorf("set item perceptual hash: %w", err)
	}
	return nil
}

// SetItemEventTime records the resolved event time with its provenance.
func (c *Client) SetItemEventTime(ctx context.Context, id string, t time.Time, source string, confidence float64) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("item", $id) SET
			event_time = $event_time,
			event_time_source = $source,
			event_time_confidence = $confidence,
			updated = time::now()
	`, map[string]any{"id": id, "event_time": t, "source": source, "confidence": confidence})
	if err != nil {
		return fmt.Errorf("set item event time: %w", err)
	}
	return nil
}

// MarkItemDuplicate points an item at its canonical twin.
func (c *Client) MarkItemDuplicate(ctx context.Context, id, canonicalID, kind string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("item", $id) SET
			duplicate_of = type::record("item", $canonical),
			duplicate_kind = $kind,
			updated = time::now()
	`, map[string]any{"id": id, "canonical": canonicalID, "kind": kind})
	if err != nil {
		return fmt.Errorf("mark item duplicate: %w", err)
	}
	return nil
}

// FindOldestItemByContentHash returns the earliest-created item of a user
// carrying the given content hash, or nil when the hash is unseen.
// The caller compares IDs to decide whether the queried item is itself the
// canonical copy.
func (c *Client) FindOldestItemByContentHash(ctx context.Context, userID, hash string) (*models.Item, error) {
	results, err := surrealdb.Query[[]models.Item](ctx, c.db, `
		SELECT * FROM item
		WHERE user_id = $user_id AND content_hash = $hash
		ORDER BY created ASC
		LIMIT 1
	`, map[string]any{"user_id": userID, "hash": hash})
	if err != nil {
		return nil, fmt.Errorf("find item by content hash: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// FindItemsInEventWindow returns a user's items whose resolved event time
// falls inside [from, to], excluding the given item, ordered by event time
// then creation time so "first match wins" scans are deterministic.
func (c *Client) FindItemsInEventWindow(ctx context.Context, userID string, from, to time.Time, excludeID string) ([]models.Item, error) {
	results, err := surrealdb.Query[[]models.Item](ctx, c.db, `
		SELECT * FROM item
		WHERE user_id = $user_id
			AND event_time != NONE
			AND event_time >= $from
			AND event_time <= $to
			AND id != type::record("item", $exclude)
		ORDER BY event_time ASC, created ASC
	`, map[string]any{"user_id": userID, "from": from, "to": to, "exclude": excludeID})
	if err != nil {
		return nil, fmt.Errorf("find items in event window: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.Item{}, nil
	}
	return (*results)[0].Result, nil
}

// ListItems returns a user's items, optionally filtered by status,
// most recent first.
func (c *Client) ListItems(ctx context.Context, userID, status string, limit int) ([]models.Item, error) {
	statusClause := ""
	vars := map[string]any{"user_id": userID, "limit": limit}
	if status != "" {
		statusClause = "AND status = $status"
		vars["status"] = status
	}

	sql := fmt.Sprintf(`
		SELECT * FROM item
		WHERE user_id = $user_id %s
		ORDER BY created DESC
		LIMIT $limit
	`, statusClause)

	results, err := surrealdb.Query[[]models.Item](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.Item{}, nil
	}
	return (*results)[0].Result, nil
}

// ListItemsByIDs loads items by their bare string IDs.
func (c *Client) ListItemsByIDs(ctx context.Context, ids []string) ([]models.Item, error) {
	if len(ids) == 0 {
		return []models.Item{}, nil
	}

	records := make([]models.Item, 0, len(ids))
	recordIDs := make([]any, len(ids))
	for i, id := range ids {
		recordIDs[i] = models.ItemRef(id)
	}

	results, err := surrealdb.Query[[]models.Item](ctx, c.db, `
		SELECT * FROM item WHERE id IN $ids
	`, map[string]any{"ids": recordIDs})
	if err != nil {
		return nil, fmt.Errorf("list items by ids: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return records, nil
	}
	return (*results)[0].Result, nil
}

// DeleteItem removes an item row. Returns the number of deleted records
// (0 if not found - idempotent).
func (c *Client) DeleteItem(ctx context.Context, id string) (int, error) {
	results, err := surrealdb.Query[[]models.Item](ctx, c.db, `
		DELETE type::record("item", $id) RETURN BEFORE
	`, map[string]any{"id": id})
	if err != nil {
		return 0, fmt.Errorf("delete item: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}

// CountItemsByBlobKey reports how many items reference a blob. Blobs are
// content addressed, so exact duplicates across items and users share one
// blob; it may only be garbage-collected when the count reaches zero.
func (c *Client) CountItemsByBlobKey(ctx context.Context, blobKey string) (int, error) {
	type totalRow struct {
		Count int `json:"count"`
	}

	results, err := surrealdb.Query[[]totalRow](ctx, c.db, `
		SELECT count() AS count FROM item WHERE blob_key = $key GROUP ALL
	`, map[string]any{"key": blobKey})
	if err != nil {
		return 0, fmt.Errorf("count items by blob key: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].Count, nil
}

// ListActiveUsers returns distinct user IDs with items created after the
// given time. Drives the scheduled weekly rollups.
func (c *Client) ListActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	type userRow struct {
		UserID string `json:"user_id"`
	}

	results, err := surrealdb.Query[[]userRow](ctx, c.db, `
		SELECT user_id FROM item WHERE created > $since GROUP BY user_id
	`, map[string]any{"since": since})
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []string{}, nil
	}
	rows := (*results)[0].Result
	users := make([]string, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.UserID)
	}
	return users, nil
}

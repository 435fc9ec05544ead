package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
	"github.com/surrealdb/surrealdb.go"
	"github.com/zeebo/blake3"
)

// ArtifactRecordID derives the deterministic record ID for an artifact key.
// Two writers racing on the same key target the same row, so the unique index
// and the CREATE collision both resolve to first writer wins.
func ArtifactRecordID(key models.ArtifactKey) string {
	h := blake3.New()
	for _, part := range []string{key.ItemID, key.Kind, key.Producer, key.ProducerVersion, key.Fingerprint} {
		fmt.Fprintf(h, "%d:%s", len(part), part)
	}
	return fmt.Sprintf("%x", h.Sum(nil)[:16])
}

// GetArtifact retrieves a memoized artifact by its full key. Returns nil
// when no producer has written that key yet.
func (c *Client) GetArtifact(ctx context.Context, key models.ArtifactKey) (*models.Artifact, error) {
	results, err := surrealdb.Query[[]models.Artifact](ctx, c.db, `
		SELECT * FROM type::record("artifact", $id)
	`, map[string]any{"id": ArtifactRecordID(key)})
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// CreateArtifact inserts an artifact under its key. When the key already
// exists the stored row wins and is returned with created=false; the new
// payload is discarded.
func (c *Client) CreateArtifact(ctx context.Context, key models.ArtifactKey, payload map[string]any, blobKey *string) (*models.Artifact, bool, error) {
	if payload == nil {
		payload = map[string]any{}
	}

	results, err := surrealdb.Query[[]models.Artifact](ctx, c.db, `
		CREATE type::record("artifact", $id) SET
			item_id = $item_id,
			kind = $kind,
			producer = $producer,
			producer_version = $producer_version,
			fingerprint = $fingerprint,
			payload = $payload,
			blob_key = $blob_key
		RETURN AFTER
	`, map[string]any{
		"id":               ArtifactRecordID(key),
		"item_id":          key.ItemID,
		"kind":             key.Kind,
		"producer":         key.Producer,
		"producer_version": key.ProducerVersion,
		"fingerprint":      key.Fingerprint,
		"payload":          payload,
		"blob_key":         blobKey,
	})
	if err != nil {
		wrapped := wrapQueryError(err)
		if errors.Is(wrapped, ErrAlreadyExists) {
			existing, getErr := c.GetArtifact(ctx, key)
			if getErr != nil {
				return nil, false, fmt.Errorf("get existing artifact: %w", getErr)
			}
			if existing == nil {
				return nil, false, fmt.Errorf("artifact vanished after create conflict: %s/%s", key.ItemID, key.Kind)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create artifact: %w", wrapped)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, false, fmt.Errorf("create artifact: no result returned")
	}
	return &(*results)[0].Result[0], true, nil
}

// ListArtifactsByItem returns all artifacts produced for an item.
func (c *Client) ListArtifactsByItem(ctx context.Context, itemID string) ([]models.Artifact, error) {
	results, err := surrealdb.Query[[]models.Artifact](ctx, c.db, `
		SELECT * FROM artifact WHERE item_id = $item_id ORDER BY created ASC
	`, map[string]any{"item_id": itemID})
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.Artifact{}, nil
	}
	return (*results)[0].Result, nil
}

// DeleteArtifactsByItem removes an item's artifacts and returns their blob
// keys so the caller can garbage-collect derived blobs.
func (c *Client) DeleteArtifactsByItem(ctx context.Context, itemID string) ([]string, error) {
	results, err := surrealdb.Query[[]models.Artifact](ctx, c.db, `
		DELETE artifact WHERE item_id = $item_id RETURN BEFORE
	`, map[string]any{"item_id": itemID})
	if err != nil {
		return nil, fmt.Errorf("delete artifacts: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []string{}, nil
	}
	deleted := (*results)[0].Result
	blobKeys := make([]string, 0, len(deleted))
	for _, a := range deleted {
		if a.BlobKey != nil && *a.BlobKey != "" {
			blobKeys = append(blobKeys, *a.BlobKey)
		}
	}
	return blobKeys, nil
}

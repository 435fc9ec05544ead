// Package artifact caches derived pipeline outputs keyed by the exact
// inputs that produced them. A cache hit means a retried or re-run step can
// skip recomputation; a lost write race means the first writer's row stands.
package artifact

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
)

// Store is the persistence surface the cache needs.
type Store interface {
	GetArtifact(ctx context.Context, key models.ArtifactKey) (*models.Artifact, error)
	CreateArtifact(ctx context.Context, key models.ArtifactKey, payload map[string]any, blobKey *string) (*models.Artifact, bool, error)
}

type Cache struct {
	store Store
	log   *slog.Logger
}

func NewCache(store Store, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{store: store, log: log}
}

// Get returns the cached artifact for key, or nil when nothing is stored.
func (c *Cache) Get(ctx context.Context, key models.ArtifactKey) (*models.Artifact, error) {
	return c.store.GetArtifact(ctx, key)
}

// Upsert stores payload under key. When a row already exists the stored row
// is returned unchanged and created is false; the caller must treat that row
// as authoritative over its own computation.
func (c *Cache) Upsert(ctx context.Context, key models.ArtifactKey, payload map[string]any, blobKey *string) (*models.Artifact, bool, error) {
	art, created, err := c.store.CreateArtifact(ctx, key, payload, blobKey)
	if err != nil {
		return nil, false, err
	}
	if !created {
		c.log.Debug("artifact write lost race, keeping stored row",
			"item_id", key.ItemID, "kind", key.Kind, "producer", key.Producer)
	}
	return art, created, nil
}

// Cached returns the artifact for key, running compute only on a miss.
// computed reports whether this call's computation produced the stored row;
// it is false on a hit and on a lost write race.
func (c *Cache) Cached(ctx context.Context, key models.ArtifactKey, compute func(context.Context) (map[string]any, *string, error)) (*models.Artifact, bool, error) {
	art, err := c.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("check artifact cache: %w", err)
	}
	if art != nil {
		c.log.Debug("artifact cache hit",
			"item_id", key.ItemID, "kind", key.Kind, "producer", key.Producer)
		return art, false, nil
	}

	payload, blobKey, err := compute(ctx)
	if err != nil {
		return nil, false, err
	}
	return c.Upsert(ctx, key, payload, blobKey)
}

package pipeline

import (
	"context"
	"fmt"

	"github.com/gozhiyuan/omnimemory-sub000/internal/artifact"
	"github.com/gozhiyuan/omnimemory-sub000/internal/blob"
	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
	"github.com/zeebo/blake3"
)

func itemID(exec *Execution) string {
	return models.MustRecordIDString(exec.Item.ID)
}

// fetchBlobStep loads the item's media bytes. Nothing downstream can run
// without them, so a missing or unreadable blob fails the item.
type fetchBlobStep struct {
	blobs blob.Store
}

func (s *fetchBlobStep) Name() string                { return "fetch-blob" }
func (s *fetchBlobStep) Critical() bool              { return true }
func (s *fetchBlobStep) Expensive() bool             { return false }
func (s *fetchBlobStep) AppliesTo(*models.Item) bool { return true }

func (s *fetchBlobStep) Run(ctx context.Context, exec *Execution) error {
	data, err := s.blobs.Fetch(ctx, exec.Item.BlobKey)
	if err != nil {
		return fmt.Errorf("fetch blob %s: %w", exec.Item.BlobKey, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("blob %s is empty", exec.Item.BlobKey)
	}
	exec.Blob = data
	return nil
}

// contentHashStep derives the exact-duplicate identity of the media bytes.
type contentHashStep struct {
	store Store
	cache *artifact.Cache
}

func (s *contentHashStep) Name() string                { return "content-hash" }
func (s *contentHashStep) Critical() bool              { return true }
func (s *contentHashStep) Expensive() bool             { return false }
func (s *contentHashStep) AppliesTo(*models.Item) bool { return true }

func (s *contentHashStep) Run(ctx context.Context, exec *Execution) error {
	key := models.ArtifactKey{
		ItemID:          itemID(exec),
		Kind:            models.ArtifactContentHash,
		Producer:        "blake3",
		ProducerVersion: "v1",
		Fingerprint:     artifact.Fingerprint(exec.Item.BlobKey),
	}

	art, _, err := s.cache.Cached(ctx, key, func(context.Context) (map[string]any, *string, error) {
		sum := blake3.Sum256(exec.Blob)
		payload, err := models.EncodePayload(models.ContentHashPayload{
			Hash: fmt.Sprintf("%x", sum),
			Size: int64(len(exec.Blob)),
		})
		return payload, nil, err
	})
	if err != nil {
		return err
	}

	decoded, err := models.DecodePayload[models.ContentHashPayload](art.Payload)
	if err != nil {
		return fmt.Errorf("decode content hash artifact: %w", err)
	}
	if decoded.Hash == "" {
		return fmt.Errorf("content hash artifact has no hash")
	}
	exec.ContentHash = decoded.Hash

	if exec.Item.ContentHash == nil || *exec.Item.ContentHash != decoded.Hash {
		if err := s.store.SetItemContentHash(ctx, itemID(exec), decoded.Hash); err != nil {
			return fmt.Errorf("store content hash: %w", err)
		}
	}
	exec.Item.ContentHash = &decoded.Hash
	return nil
}

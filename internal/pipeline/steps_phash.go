package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/corona10/goimagehash"
	"github.com/gozhiyuan/omnimemory-sub000/internal/artifact"
	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
)

// perceptualHashStep computes the 8x8 average hash used for near-duplicate
// detection. Photos only; a blob that does not decode degrades the step.
type perceptualHashStep struct {
	store Store
	cache *artifact.Cache
}

func (s *perceptualHashStep) Name() string    { return "perceptual-hash" }
func (s *perceptualHashStep) Critical() bool  { return false }
func (s *perceptualHashStep) Expensive() bool { return false }

func (s *perceptualHashStep) AppliesTo(item *models.Item) bool {
	return item.MediaType == models.MediaPhoto
}

func (s *perceptualHashStep) Run(ctx context.Context, exec *Execution) error {
	key := models.ArtifactKey{
		ItemID:          itemID(exec),
		Kind:            models.ArtifactPerceptualHash,
		Producer:        "goimagehash-average",
		ProducerVersion: "v1",
		Fingerprint:     artifact.Fingerprint(exec.Item.BlobKey),
	}

	art, _, err := s.cache.Cached(ctx, key, func(context.Context) (map[string]any, *string, error) {
		img, _, err := image.Decode(bytes.NewReader(exec.Blob))
		if err != nil {
			return nil, nil, fmt.Errorf("decode image: %w", err)
		}
		hash, err := goimagehash.AverageHash(img)
		if err != nil {
			return nil, nil, fmt.Errorf("average hash: %w", err)
		}
		payload, err := models.EncodePayload(models.PerceptualHashPayload{
			AHash: fmt.Sprintf("%016x", hash.GetHash()),
		})
		return payload, nil, err
	})
	if err != nil {
		return err
	}

	decoded, err := models.DecodePayload[models.PerceptualHashPayload](art.Payload)
	if err != nil {
		return fmt.Errorf("decode perceptual hash artifact: %w", err)
	}
	if decoded.AHash == "" {
		return fmt.Errorf("perceptual hash artifact has no hash")
	}

	if exec.Item.PerceptualHash == nil || *exec.Item.PerceptualHash != decoded.AHash {
		if err := s.store.SetItemPerceptualHash(ctx, itemID(exec), decoded.AHash); err != nil {
			return fmt.Errorf("store perceptual hash: %w", err)
		}
	}
	exec.Item.PerceptualHash = &decoded.AHash
	return nil
}

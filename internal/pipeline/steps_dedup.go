package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math/bits"
	"strconv"
	"time"

	"github.com/gozhiyuan/omnimemory-sub000/internal/artifact"
	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
)

// dedupStep decides whether the item repeats something already captured.
// Exact duplicates share a content hash; near duplicates are photos taken
// within the time window whose perceptual hashes differ by at most
// maxDistance bits. The first candidate inside the window wins, not the
// closest one, so the decision is stable under reordering of later items.
type dedupStep struct {
	store       Store
	cache       *artifact.Cache
	window      time.Duration
	maxDistance int
	log         *slog.Logger
}

func (s *dedupStep) Name() string                { return "dedup" }
func (s *dedupStep) Critical() bool              { return true }
func (s *dedupStep) Expensive() bool             { return false }
func (s *dedupStep) AppliesTo(*models.Item) bool { return true }

func (s *dedupStep) Run(ctx context.Context, exec *Execution) error {
	item := exec.Item
	key := models.ArtifactKey{
		ItemID:          itemID(exec),
		Kind:            models.ArtifactDedup,
		Producer:        "dedup-engine",
		ProducerVersion: "v1",
		// The decision is pinned to the inputs that drove it. Reprocessing
		// with the same hashes and event time replays the verdict instead
		// of re-scanning, so the first decision is sticky.
		Fingerprint: artifact.Fingerprint(
			exec.ContentHash,
			strPtr(item.PerceptualHash),
			fmtTimePtr(item.EventTime),
		),
	}

	art, _, err := s.cache.Cached(ctx, key, func(ctx context.Context) (map[string]any, *string, error) {
		verdict, err := s.decide(ctx, exec)
		if err != nil {
			return nil, nil, err
		}
		payload, err := models.EncodePayload(verdict)
		return payload, nil, err
	})
	if err != nil {
		return err
	}

	verdict, err := models.DecodePayload[models.DedupPayload](art.Payload)
	if err != nil {
		return fmt.Errorf("decode dedup artifact: %w", err)
	}
	if !verdict.Duplicate {
		return nil
	}

	if !item.IsDuplicate() {
		if err := s.store.MarkItemDuplicate(ctx, itemID(exec), verdict.CanonicalID, verdict.Kind); err != nil {
			return fmt.Errorf("mark duplicate: %w", err)
		}
	}
	canonical := models.ItemRef(verdict.CanonicalID)
	item.DuplicateOf = &canonical
	item.DuplicateKind = &verdict.Kind

	s.log.Info("duplicate detected",
		"item_id", itemID(exec),
		"kind", verdict.Kind,
		"canonical_id", verdict.CanonicalID)
	return nil
}

// decide scans for an exact twin first, then for a near twin. Items that
// match nothing return a negative verdict that is cached like any other.
func (s *dedupStep) decide(ctx context.Context, exec *Execution) (models.DedupPayload, error) {
	item := exec.Item

	oldest, err := s.store.FindOldestItemByContentHash(ctx, item.UserID, exec.ContentHash)
	if err != nil {
		return models.DedupPayload{}, fmt.Errorf("find by content hash: %w", err)
	}
	if oldest != nil && models.MustRecordIDString(oldest.ID) != itemID(exec) {
		return models.DedupPayload{
			Duplicate:   true,
			Kind:        models.DuplicateExact,
			CanonicalID: models.MustRecordIDString(oldest.ID),
		}, nil
	}

	if item.MediaType != models.MediaPhoto || item.PerceptualHash == nil || item.EventTime == nil {
		return models.DedupPayload{}, nil
	}

	from := item.EventTime.Add(-s.window)
	to := item.EventTime.Add(s.window)
	candidates, err := s.store.FindItemsInEventWindow(ctx, item.UserID, from, to, itemID(exec))
	if err != nil {
		return models.DedupPayload{}, fmt.Errorf("find near candidates: %w", err)
	}

	for _, cand := range candidates {
		if cand.PerceptualHash == nil {
			continue
		}
		dist, err := hammingDistance(*item.PerceptualHash, *cand.PerceptualHash)
		if err != nil {
			s.log.Warn("bad perceptual hash on candidate",
				"item_id", models.MustRecordIDString(cand.ID), "error", err)
			continue
		}
		if dist <= s.maxDistance {
			return models.DedupPayload{
				Duplicate:   true,
				Kind:        models.DuplicateNear,
				CanonicalID: models.MustRecordIDString(cand.ID),
				Distance:    &dist,
			}, nil
		}
	}
	return models.DedupPayload{}, nil
}

// hammingDistance counts differing bits between two 64-bit hashes encoded
// as 16 hex characters.
func hammingDistance(a, b string) (int, error) {
	x, err := strconv.ParseUint(a, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hash %q: %w", a, err)
	}
	y, err := strconv.ParseUint(b, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hash %q: %w", b, err)
	}
	return bits.OnesCount64(x ^ y), nil
}

func strPtr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

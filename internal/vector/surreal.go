package vector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gozhiyuan/omnimemory-sub000/internal/db"
	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
)

// SurrealIndex keeps vectors on the context rows themselves, inside the
// database's HNSW index. Rows without an embedding stay out of the index,
// so delete just clears the field.
type SurrealIndex struct {
	db       *db.Client
	embedder Embedder
	log      *slog.Logger
}

func NewSurrealIndex(client *db.Client, embedder Embedder, log *slog.Logger) *SurrealIndex {
	if log == nil {
		log = slog.Default()
	}
	return &SurrealIndex{db: client, embedder: embedder, log: log}
}

func (s *SurrealIndex) Upsert(ctx context.Context, recordID string, mc models.MemoryContext) error {
	text := mc.VectorText()
	if text == "" {
		s.log.Debug("record has no indexable text, removing", "record_id", recordID)
		return s.Delete(ctx, recordID)
	}

	emb, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed record %s: %w", recordID, err)
	}
	if err := s.db.SetContextEmbedding(ctx, recordID, emb); err != nil {
		return fmt.Errorf("store embedding for %s: %w", recordID, err)
	}
	return nil
}

func (s *SurrealIndex) Search(ctx context.Context, q Query) ([]Match, error) {
	emb, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.db.SearchContexts(ctx, db.ContextSearchParams{
		UserID:       q.UserID,
		Embedding:    emb,
		Limit:        q.Limit,
		ContextType:  q.ContextType,
		EpisodesOnly: q.EpisodesOnly,
	})
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(rows))
	for _, row := range rows {
		id, err := models.RecordIDString(row.ID)
		if err != nil {
			return nil, fmt.Errorf("search hit: %w", err)
		}
		var episodeID string
		if row.EpisodeID != nil {
			episodeID = *row.EpisodeID
		}
		matches = append(matches, Match{
			ID:          id,
			ContextType: row.ContextType,
			EpisodeID:   episodeID,
			Title:       row.Title,
			StartTime:   row.StartTime,
			EndTime:     row.EndTime,
			Score:       row.Score,
		})
	}
	return matches, nil
}

func (s *SurrealIndex) Delete(ctx context.Context, recordID string) error {
	return s.db.ClearContextEmbedding(ctx, recordID)
}

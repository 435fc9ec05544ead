// Package vector indexes memory context records for semantic retrieval.
// Records are keyed by their context record id; the indexed text is derived
// from the record's title, summary, and keywords.
package vector

import (
	"context"
	"time"

	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Query selects candidates for a semantic search.
type Query struct {
	UserID       string
	Text         string
	Limit        int
	ContextType  string // restrict to one context type when non-empty
	EpisodesOnly bool   // restrict to episode-level records
}

// Match is one search hit, ordered by descending similarity.
type Match struct {
	ID          string
	ContextType string
	EpisodeID   string
	Title       string
	StartTime   time.Time
	EndTime     time.Time
	Score       float64
}

// Index maintains the searchable vectors for context records.
type Index interface {
	// Upsert reindexes one record from its current content. Records whose
	// derived text is empty are removed from the index instead.
	Upsert(ctx context.Context, recordID string, mc models.MemoryContext) error

	// Search returns the closest indexed records for the query text.
	Search(ctx context.Context, q Query) ([]Match, error)

	// Delete removes one record from the index. Removing an unindexed
	// record is a no-op.
	Delete(ctx context.Context, recordID string) error
}

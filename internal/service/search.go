package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/gozhiyuan/omnimemory-sub000/internal/config"
	"github.com/gozhiyuan/omnimemory-sub000/internal/metrics"
	"github.com/gozhiyuan/omnimemory-sub000/internal/vector"
)

// overfetchFactor is how many extra candidates a search pulls before recency
// re-ranking. Decay can promote hits past the raw-similarity cutoff, so the
// index must return more than the caller asked for.
const overfetchFactor = 3

// SearchService answers retrieval queries over the memory index.
type SearchService struct {
	index     vector.Index
	cfg       config.Config
	collector *metrics.Collector
	log       *slog.Logger

	// now is replaceable so tests can pin the decay reference point.
	now func() time.Time
}

func NewSearchService(index vector.Index, cfg config.Config, collector *metrics.Collector, log *slog.Logger) *SearchService {
	if log == nil {
		log = slog.Default()
	}
	return &SearchService{
		index:     index,
		cfg:       cfg,
		collector: collector,
		log:       log,
		now:       time.Now,
	}
}

// SearchOptions configures one retrieval query.
type SearchOptions struct {
	UserID       string
	ContextType  string // restrict to one context type when non-empty
	EpisodesOnly bool
	Limit        int
}

// Result is one ranked hit. Similarity is the raw vector score; Score is
// that similarity decayed by the record's age.
type Result struct {
	ID          string
	ContextType string
	EpisodeID   string
	Title       string
	StartTime   time.Time
	EndTime     time.Time
	Similarity  float64
	Score       float64
}

// Search embeds the query, pulls candidates from the vector index, and
// re-ranks them by similarity decayed with a configured half life so recent
// memories outrank equally similar old ones.
func (s *SearchService) Search(ctx context.Context, query string, opts SearchOptions) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("empty search query")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	userID := opts.UserID
	if userID == "" {
		userID = s.cfg.DefaultUser
	}

	start := time.Now()
	matches, err := s.index.Search(ctx, vector.Query{
		UserID:       userID,
		Text:         query,
		Limit:        limit * overfetchFactor,
		ContextType:  opts.ContextType,
		EpisodesOnly: opts.EpisodesOnly,
	})
	if s.collector != nil {
		s.collector.RecordTiming(metrics.OpVectorSearch, time.Since(start))
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		results = append(results, Result{
			ID:          m.ID,
			ContextType: m.ContextType,
			EpisodeID:   m.EpisodeID,
			Title:       m.Title,
			StartTime:   m.StartTime,
			EndTime:     m.EndTime,
			Similarity:  m.Score,
			Score:       s.decayed(m.Score, m.EndTime, now),
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}

	s.log.Debug("search ranked",
		"user_id", userID,
		"candidates", len(matches),
		"returned", len(results),
		"duration_ms", time.Since(start).Milliseconds())
	return results, nil
}

// decayed halves a score for every half life elapsed since the record's
// window closed. Records without an end time keep their raw score.
func (s *SearchService) decayed(score float64, end, now time.Time) float64 {
	if s.cfg.SearchHalfLifeDays <= 0 || end.IsZero() {
		return score
	}
	age := now.Sub(end)
	if age <= 0 {
		return score
	}
	halfLives := age.Hours() / 24 / s.cfg.SearchHalfLifeDays
	return score * math.Pow(0.5, halfLives)
}

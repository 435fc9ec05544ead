package vector

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
	"github.com/zeebo/blake3"
)

// Memory is an in-process Index. Tests inject EmbedFunc to control which
// records count as similar; the default hash embedding makes identical text
// identical and unrelated text nearly orthogonal.
type Memory struct {
	EmbedFunc func(text string) []float32

	mu      sync.RWMutex
	records map[string]memoryEntry
}

type memoryEntry struct {
	userID      string
	contextType string
	episodeID   string
	isEpisode   bool
	title       string
	start, end  time.Time
	vec         []float32
}

func NewMemory() *Memory {
	return &Memory{
		EmbedFunc: hashEmbed,
		records:   make(map[string]memoryEntry),
	}
}

func (m *Memory) Upsert(_ context.Context, recordID string, mc models.MemoryContext) error {
	text := mc.VectorText()
	if text == "" {
		return m.Delete(context.Background(), recordID)
	}

	var episodeID string
	if mc.EpisodeID != nil {
		episodeID = *mc.EpisodeID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[recordID] = memoryEntry{
		userID:      mc.UserID,
		contextType: mc.ContextType,
		episodeID:   episodeID,
		isEpisode:   mc.IsEpisode,
		title:       mc.Title,
		start:       mc.StartTime,
		end:         mc.EndTime,
		vec:         m.EmbedFunc(text),
	}
	return nil
}

func (m *Memory) Search(_ context.Context, q Query) ([]Match, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	queryVec := m.EmbedFunc(q.Text)

	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]Match, 0, len(m.records))
	for id, e := range m.records {
		if e.userID != q.UserID {
			continue
		}
		if q.ContextType != "" && e.contextType != q.ContextType {
			continue
		}
		if q.EpisodesOnly && !e.isEpisode {
			continue
		}
		matches = append(matches, Match{
			ID:          id,
			ContextType: e.contextType,
			EpisodeID:   e.episodeID,
			Title:       e.title,
			StartTime:   e.start,
			EndTime:     e.end,
			Score:       cosine(queryVec, e.vec),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (m *Memory) Delete(_ context.Context, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, recordID)
	return nil
}

// Len reports how many records are indexed.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// hashEmbed spreads the text's hash over 32 dimensions.
func hashEmbed(text string) []float32 {
	sum := blake3.Sum256([]byte(text))
	vec := make([]float32, 32)
	for i := range vec {
		vec[i] = float32(sum[i])/255.0 - 0.5
	}
	return vec
}

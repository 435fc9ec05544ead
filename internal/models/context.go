package models

import (
	"strings"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Context types. Observations and episodes share the first seven; the
// summary types only ever appear on rollup records.
const (
	ContextActivity      = "activity"
	ContextSocial        = "social"
	ContextLocation      = "location"
	ContextFood          = "food"
	ContextEmotion       = "emotion"
	ContextEntity        = "entity"
	ContextKnowledge     = "knowledge"
	ContextDailySummary  = "daily_summary"
	ContextWeeklySummary = "weekly_summary"
)

// Metadata keys carried on context records.
const (
	MetaDateKey         = "date_key"
	MetaWeekStart       = "week_start"
	MetaTZOffsetMinutes = "tz_offset_minutes"
	MetaOmittedCount    = "omitted_count"
	MetaDeviceIDs       = "device_ids"
)

// MemoryContext is the shared record shape for observations (single-item
// findings), episodes (merged multi-item records sharing an episode_id), and
// daily/weekly rollup summaries.
type MemoryContext struct {
	ID          surrealmodels.RecordID `json:"id"`
	UserID      string                 `json:"user_id"`
	ContextType string                 `json:"context_type"`
	IsEpisode   bool                   `json:"is_episode"`
	EpisodeID   *string                `json:"episode_id,omitempty"`

	Title    string   `json:"title"`
	Summary  string   `json:"summary,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Entities []string `json:"entities,omitempty"`
	Location *string  `json:"location,omitempty"`

	SourceItemIDs []string  `json:"source_item_ids"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`

	EditedByUser bool           `json:"edited_by_user"`
	Embedding    []float32      `json:"embedding,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`

	Created time.Time `json:"created,omitempty"`
	Updated time.Time `json:"updated,omitempty"`
}

// VectorText builds the text that gets embedded for this record:
// title + summary + keywords that add information beyond them.
func (c *MemoryContext) VectorText() string {
	parts := make([]string, 0, 2+len(c.Keywords))
	parts = append(parts, c.Title)
	if c.Summary != "" && c.Summary != c.Title {
		parts = append(parts, c.Summary)
	}
	base := strings.ToLower(strings.Join(parts, " "))
	for _, kw := range c.Keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(base, strings.ToLower(kw)) {
			continue
		}
		parts = append(parts, kw)
	}
	return strings.Join(parts, " ")
}

// HasSourceItem reports whether itemID already contributes to this record.
func (c *MemoryContext) HasSourceItem(itemID string) bool {
	for _, id := range c.SourceItemIDs {
		if id == itemID {
			return true
		}
	}
	return false
}

// MetaString reads a string value from the open metadata map.
func (c *MemoryContext) MetaString(key string) string {
	if c.Metadata == nil {
		return ""
	}
	if s, ok := c.Metadata[key].(string); ok {
		return s
	}
	return ""
}

// MetaInt reads an integer value from the open metadata map.
// CBOR and JSON decoding produce different numeric types, so all are accepted.
func (c *MemoryContext) MetaInt(key string) (int, bool) {
	if c.Metadata == nil {
		return 0, false
	}
	switch v := c.Metadata[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// MetaStrings reads a string-slice value from the open metadata map.
func (c *MemoryContext) MetaStrings(key string) []string {
	if c.Metadata == nil {
		return nil
	}
	switch v := c.Metadata[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

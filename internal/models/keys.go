package models

import (
	"fmt"

	"github.com/zeebo/blake3"
)

// recordKey hashes length-prefixed parts into a stable record id, so two
// writers deriving the same identity always target the same row.
func recordKey(parts ...string) string {
	h := blake3.New()
	for _, part := range parts {
		fmt.Fprintf(h, "%d:%s", len(part), part)
	}
	return fmt.Sprintf("%x", h.Sum(nil)[:16])
}

// ObservationKey identifies the single observation one context type owns
// for an item, so replays overwrite instead of duplicating.
func ObservationKey(userID, itemID, contextType string) string {
	return recordKey("observation", userID, itemID, contextType)
}

// EpisodeRecordKey identifies the single row one context type owns within
// an episode.
func EpisodeRecordKey(userID, episodeID, contextType string) string {
	return recordKey("episode", userID, episodeID, contextType)
}

// DailySummaryKey identifies the rollup row for one user-local day
// (date formatted 2006-01-02).
func DailySummaryKey(userID, date string) string {
	return recordKey("daily", userID, date)
}

// WeeklySummaryKey identifies the rollup row for the week starting at
// weekStart (a local date formatted 2006-01-02).
func WeeklySummaryKey(userID, weekStart string) string {
	return recordKey("weekly", userID, weekStart)
}

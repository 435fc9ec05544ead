package episode

import "github.com/gozhiyuan/omnimemory-sub000/internal/models"

// mergeRecords folds new observations into an episode's per-type record.
// Longest title and longest summary win, keywords and entities union in
// first-seen order, the first non-empty location sticks. A user-edited
// record keeps its text verbatim; only the source-item set grows. Time
// bounds are not touched here; the caller recomputes them from the
// contributing items.
func mergeRecords(existing *models.MemoryContext, obs []models.MemoryContext) models.MemoryContext {
	var merged models.MemoryContext
	if existing != nil {
		merged = *existing
	}

	for _, o := range obs {
		merged.SourceItemIDs = unionStrings(merged.SourceItemIDs, o.SourceItemIDs)
	}

	if existing != nil && existing.EditedByUser {
		return merged
	}

	for _, o := range obs {
		merged.Title = longest(merged.Title, o.Title)
		merged.Summary = longest(merged.Summary, o.Summary)
		merged.Keywords = unionStrings(merged.Keywords, o.Keywords)
		merged.Entities = unionStrings(merged.Entities, o.Entities)
		if merged.Location == nil && o.Location != nil && *o.Location != "" {
			loc := *o.Location
			merged.Location = &loc
		}
	}
	return merged
}

// longest returns b only when it is strictly longer, so earlier
// contributions win ties and merging stays deterministic.
func longest(a, b string) string {
	if len(b) > len(a) {
		return b
	}
	return a
}

// unionStrings appends the elements of b not already in a, preserving
// first-seen order.
func unionStrings(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, s := range b {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

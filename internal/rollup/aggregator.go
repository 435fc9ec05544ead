// Package rollup maintains the daily and weekly summary records derived
// from a user's episodes. Summaries are rebuilt whole from their window's
// episodes, so triggering a rebuild redundantly is safe.
package rollup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gozhiyuan/omnimemory-sub000/internal/config"
	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
	"github.com/gozhiyuan/omnimemory-sub000/internal/vector"
)

// Store is the persistence surface rollups read and write.
type Store interface {
	FindEpisodeRecordsInRange(ctx context.Context, userID, contextType string, from, to time.Time) ([]models.MemoryContext, error)
	GetContext(ctx context.Context, id string) (*models.MemoryContext, error)
	UpsertContext(ctx context.Context, id string, mc models.MemoryContext) (*models.MemoryContext, error)
	DeleteContext(ctx context.Context, id string) (int, error)
}

// Aggregator rebuilds summary records from the activity episodes of a local
// time window.
type Aggregator struct {
	store      Store
	index      vector.Index
	highlights int
	log        *slog.Logger
}

func NewAggregator(store Store, index vector.Index, cfg config.Config, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{store: store, index: index, highlights: cfg.HighlightsLimit, log: log}
}

// Daily rebuilds the summary of one user-local day. force rewrites the text
// even when a user edited it, clearing the edit lock.
func (a *Aggregator) Daily(ctx context.Context, userID, date string, tzOffsetMinutes int, force bool) error {
	id := models.DailySummaryKey(userID, date)
	existing, tz, err := a.loadExisting(ctx, id, tzOffsetMinutes)
	if err != nil {
		return err
	}
	from, err := localMidnight(date, tz)
	if err != nil {
		return err
	}
	return a.rebuild(ctx, rebuildSpec{
		userID:      userID,
		id:          id,
		contextType: models.ContextDailySummary,
		window:      date,
		from:        from,
		to:          from.AddDate(0, 0, 1),
		metadata: map[string]any{
			models.MetaDateKey:         date,
			models.MetaTZOffsetMinutes: tz,
		},
		existing: existing,
		force:    force,
	})
}

// Weekly rebuilds the summary of the 7-day window starting at weekStart,
// a Monday in the user's local time.
func (a *Aggregator) Weekly(ctx context.Context, userID, weekStart string, tzOffsetMinutes int, force bool) error {
	id := models.WeeklySummaryKey(userID, weekStart)
	existing, tz, err := a.loadExisting(ctx, id, tzOffsetMinutes)
	if err != nil {
		return err
	}
	from, err := localMidnight(weekStart, tz)
	if err != nil {
		return err
	}
	return a.rebuild(ctx, rebuildSpec{
		userID:      userID,
		id:          id,
		contextType: models.ContextWeeklySummary,
		window:      "week of " + weekStart,
		from:        from,
		to:          from.AddDate(0, 0, 7),
		metadata: map[string]any{
			models.MetaWeekStart:       weekStart,
			models.MetaTZOffsetMinutes: tz,
		},
		existing: existing,
		force:    force,
	})
}

// loadExisting fetches the stored summary and resolves the offset to build
// with. A summary keeps the offset it was created under, so later offset
// changes don't move the window out from under its date key.
func (a *Aggregator) loadExisting(ctx context.Context, id string, fallback int) (*models.MemoryContext, int, error) {
	existing, err := a.store.GetContext(ctx, id)
	if err != nil {
		return nil, 0, fmt.Errorf("load summary: %w", err)
	}
	if existing != nil {
		if stored, ok := existing.MetaInt(models.MetaTZOffsetMinutes); ok {
			return existing, stored, nil
		}
	}
	return existing, fallback, nil
}

type rebuildSpec struct {
	userID      string
	id          string
	contextType string
	window      string
	from, to    time.Time
	metadata    map[string]any
	existing    *models.MemoryContext
	force       bool
}

func (a *Aggregator) rebuild(ctx context.Context, spec rebuildSpec) error {
	episodes, err := a.store.FindEpisodeRecordsInRange(ctx, spec.userID, models.ContextActivity, spec.from, spec.to)
	if err != nil {
		return fmt.Errorf("find episodes: %w", err)
	}
	existing := spec.existing

	// summaries must not outlive their source episodes
	if len(episodes) == 0 {
		if existing == nil {
			return nil
		}
		if _, err := a.store.DeleteContext(ctx, spec.id); err != nil {
			return fmt.Errorf("delete summary: %w", err)
		}
		if err := a.index.Delete(ctx, spec.id); err != nil {
			return fmt.Errorf("unindex summary: %w", err)
		}
		a.log.Info("summary removed, no episodes remain",
			"user_id", spec.userID, "type", spec.contextType, "window", spec.window)
		return nil
	}

	summary := buildSummary(episodes, a.highlights)
	summary.UserID = spec.userID
	summary.ContextType = spec.contextType
	summary.Metadata = spec.metadata

	if existing != nil && existing.EditedByUser && !spec.force {
		// user text stays; only membership, bounds, and metadata move
		summary.Title = existing.Title
		summary.Summary = existing.Summary
		summary.Keywords = existing.Keywords
		summary.EditedByUser = true
	}

	stored, err := a.store.UpsertContext(ctx, spec.id, summary)
	if err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}
	if err := a.index.Upsert(ctx, spec.id, *stored); err != nil {
		return fmt.Errorf("index summary: %w", err)
	}
	a.log.Info("summary rebuilt",
		"user_id", spec.userID,
		"type", spec.contextType,
		"window", spec.window,
		"episodes", len(episodes),
		"forced", spec.force)
	return nil
}

// buildSummary derives the deterministic baseline text from the episodes'
// titles, in start order.
func buildSummary(episodes []models.MemoryContext, highlightsLimit int) models.MemoryContext {
	titles := make([]string, 0, highlightsLimit)
	var keywords, sources []string
	var start, end time.Time
	for i := range episodes {
		ep := &episodes[i]
		if ep.Title != "" && len(titles) < highlightsLimit {
			titles = append(titles, ep.Title)
		}
		keywords = unionStrings(keywords, ep.Keywords)
		sources = unionStrings(sources, ep.SourceItemIDs)
		if i == 0 || ep.StartTime.Before(start) {
			start = ep.StartTime
		}
		if i == 0 || ep.EndTime.After(end) {
			end = ep.EndTime
		}
	}
	return models.MemoryContext{
		Title:         "Highlights: " + strings.Join(titles, "; "),
		Summary:       strings.Join(titles, "\n"),
		Keywords:      keywords,
		SourceItemIDs: sources,
		StartTime:     start,
		EndTime:       end,
	}
}

// localMidnight anchors a calendar date at midnight in a fixed UTC offset.
func localMidnight(date string, tzOffsetMinutes int) (time.Time, error) {
	zone := time.FixedZone("", tzOffsetMinutes*60)
	t, err := time.ParseInLocation(time.DateOnly, date, zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	return t, nil
}

// WeekStart returns the Monday beginning the week that contains date.
func WeekStart(date string) (string, error) {
	t, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", date, err)
	}
	back := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -back).Format(time.DateOnly), nil
}

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

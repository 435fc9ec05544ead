// Package episode clusters per-item observations into episodes: time-bounded
// merged records that represent one continuous activity. Formation runs once
// per processed item; a reconcile sweep later folds episodes that concurrent
// processing split.
package episode

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/gozhiyuan/omnimemory-sub000/internal/artifact"
	"github.com/gozhiyuan/omnimemory-sub000/internal/config"
	"github.com/gozhiyuan/omnimemory-sub000/internal/db"
	"github.com/gozhiyuan/omnimemory-sub000/internal/enrich"
	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
	"github.com/gozhiyuan/omnimemory-sub000/internal/vector"
)

// candidateLimit bounds how many episode candidates a semantic search
// returns per formation decision.
const candidateLimit = 8

// Outcome kinds.
const (
	OutcomeNoAction = "no_action"
	OutcomeMerged   = "merged"
	OutcomeCreated  = "created"
)

// Outcome is the tagged result of one formation or reconcile decision.
type Outcome struct {
	Kind string `json:"kind"`
	Into string `json:"into,omitempty"` // episode that received records
	From string `json:"from,omitempty"` // episode folded away (reconcile)
}

// Day identifies one user-local calendar day whose rollup needs recomputing.
type Day struct {
	Date            string
	TZOffsetMinutes int
}

// FormationResult reports where an item's observations landed and which day
// must be rolled up. RollupDate is empty when nothing changed.
type FormationResult struct {
	Outcome         Outcome
	UserID          string
	EpisodeID       string
	RollupDate      string
	TZOffsetMinutes int
}

// Store is the persistence surface formation and reconcile read and write.
type Store interface {
	GetItem(ctx context.Context, id string) (*models.Item, error)
	ListItemsByIDs(ctx context.Context, ids []string) ([]models.Item, error)
	GetObservationsByItem(ctx context.Context, userID, itemID string) ([]models.MemoryContext, error)
	GetObservationsByItems(ctx context.Context, userID, contextType string, itemIDs []string) ([]models.MemoryContext, error)
	GetEpisodeRecord(ctx context.Context, userID, episodeID, contextType string) (*models.MemoryContext, error)
	GetEpisodeRecords(ctx context.Context, userID, episodeID string) ([]models.MemoryContext, error)
	FindDeviceEpisodes(ctx context.Context, userID, deviceID string, from, to time.Time) ([]models.MemoryContext, error)
	FindEpisodeRecordsInRange(ctx context.Context, userID, contextType string, from, to time.Time) ([]models.MemoryContext, error)
	FindContextsBySourceItem(ctx context.Context, userID, itemID string) ([]models.MemoryContext, error)
	GetContext(ctx context.Context, id string) (*models.MemoryContext, error)
	UpsertContext(ctx context.Context, id string, mc models.MemoryContext) (*models.MemoryContext, error)
	DeleteContext(ctx context.Context, id string) (int, error)
}

// Deps wires the engine to its collaborators.
type Deps struct {
	Store      Store
	Index      vector.Index
	Cache      *artifact.Cache
	Summarizer enrich.Summarizer
	Config     config.Config
	Log        *slog.Logger
}

// Engine decides episode membership and merges observations into episode
// records.
type Engine struct {
	store        Store
	index        vector.Index
	cache        *artifact.Cache
	summarizer   enrich.Summarizer
	similarity   float64
	maxGap       time.Duration
	deviceWindow time.Duration
	maxObs       int
	headObs      int
	tailObs      int
	log          *slog.Logger
}

func NewEngine(deps Deps) *Engine {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:        deps.Store,
		index:        deps.Index,
		cache:        deps.Cache,
		summarizer:   deps.Summarizer,
		similarity:   deps.Config.EpisodeSimilarity,
		maxGap:       deps.Config.EpisodeMaxGap,
		deviceWindow: deps.Config.DeviceWindow,
		maxObs:       deps.Config.SummaryMaxObs,
		headObs:      deps.Config.SummaryHeadObs,
		tailObs:      deps.Config.SummaryTailObs,
		log:          log,
	}
}

// FormEpisode finds or creates the episode an item belongs to and merges
// the item's observations into the episode's per-type records. Safe to
// re-run: the source-item set and deterministic record ids keep replays
// idempotent.
func (e *Engine) FormEpisode(ctx context.Context, itemID string) (*FormationResult, error) {
	item, err := e.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("load item: %w", err)
	}
	if item == nil {
		return nil, fmt.Errorf("item %s: %w", itemID, db.ErrNotFound)
	}
	if item.IsDuplicate() {
		e.log.Debug("duplicate item forms no episode", "item_id", itemID)
		return &FormationResult{Outcome: Outcome{Kind: OutcomeNoAction}}, nil
	}

	observations, err := e.store.GetObservationsByItem(ctx, item.UserID, itemID)
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}
	var activity *models.MemoryContext
	for i := range observations {
		if observations[i].ContextType == models.ContextActivity {
			activity = &observations[i]
			break
		}
	}
	if activity == nil {
		e.log.Debug("item has no activity observation", "item_id", itemID)
		return &FormationResult{Outcome: Outcome{Kind: OutcomeNoAction}}, nil
	}

	episodeID, created, err := e.findEpisode(ctx, item, activity)
	if err != nil {
		return nil, err
	}

	byType := make(map[string][]models.MemoryContext)
	for _, obs := range observations {
		byType[obs.ContextType] = append(byType[obs.ContextType], obs)
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	var episodeStart time.Time
	for _, contextType := range types {
		existing, err := e.store.GetEpisodeRecord(ctx, item.UserID, episodeID, contextType)
		if err != nil {
			return nil, fmt.Errorf("load episode record: %w", err)
		}

		merged := mergeRecords(existing, byType[contextType])
		merged.UserID = item.UserID
		merged.ContextType = contextType
		merged.IsEpisode = true
		merged.EpisodeID = &episodeID
		if _, err := e.recomputeBounds(ctx, &merged); err != nil {
			return nil, err
		}
		if contextType == models.ContextActivity {
			addDeviceID(&merged, item.DeviceID)
			e.applySummary(ctx, item, episodeID, &merged)
			episodeStart = merged.StartTime
		}

		recordID := models.EpisodeRecordKey(item.UserID, episodeID, contextType)
		stored, err := e.store.UpsertContext(ctx, recordID, merged)
		if err != nil {
			return nil, fmt.Errorf("upsert episode record: %w", err)
		}
		if err := e.index.Upsert(ctx, recordID, *stored); err != nil {
			return nil, fmt.Errorf("index episode record: %w", err)
		}
	}

	date, offset, err := e.rollupDay(ctx, item.UserID, episodeStart, item.TZOffsetMinutes)
	if err != nil {
		return nil, err
	}

	outcome := Outcome{Kind: OutcomeMerged, Into: episodeID}
	if created {
		outcome.Kind = OutcomeCreated
	}
	e.log.Info("episode formed",
		"item_id", itemID,
		"episode_id", episodeID,
		"outcome", outcome.Kind,
		"types", len(types),
		"rollup_date", date)
	return &FormationResult{
		Outcome:         outcome,
		UserID:          item.UserID,
		EpisodeID:       episodeID,
		RollupDate:      date,
		TZOffsetMinutes: offset,
	}, nil
}

// findEpisode picks the episode for an item: the best semantically similar
// episode within the time gap, else an episode recently touched by the same
// device, else a fresh one.
func (e *Engine) findEpisode(ctx context.Context, item *models.Item, activity *models.MemoryContext) (string, bool, error) {
	eventTime, _ := item.EventBounds()

	matches, err := e.index.Search(ctx, vector.Query{
		UserID:       item.UserID,
		Text:         activity.VectorText(),
		Limit:        candidateLimit,
		ContextType:  models.ContextActivity,
		EpisodesOnly: true,
	})
	if err != nil {
		return "", false, fmt.Errorf("search episode candidates: %w", err)
	}
	var best *vector.Match
	for i := range matches {
		m := &matches[i]
		if m.EpisodeID == "" || m.Score < e.similarity {
			continue
		}
		if absDuration(eventTime.Sub(m.EndTime)) > e.maxGap {
			continue
		}
		if best == nil || m.Score > best.Score {
			best = m
		}
	}
	if best != nil {
		return best.EpisodeID, false, nil
	}

	if item.DeviceID != nil && *item.DeviceID != "" {
		from := eventTime.Add(-e.deviceWindow)
		to := eventTime.Add(e.deviceWindow)
		episodes, err := e.store.FindDeviceEpisodes(ctx, item.UserID, *item.DeviceID, from, to)
		if err != nil {
			return "", false, fmt.Errorf("find device episodes: %w", err)
		}
		var bestID string
		var bestGap time.Duration
		for _, ep := range episodes {
			if ep.EpisodeID == nil {
				continue
			}
			gap := windowGap(eventTime, ep.StartTime, ep.EndTime)
			if bestID == "" || gap < bestGap {
				bestID = *ep.EpisodeID
				bestGap = gap
			}
		}
		if bestID != "" {
			return bestID, false, nil
		}
	}

	return uuid.NewString(), true, nil
}

// recomputeBounds spans the record over its contributing items and returns
// them for callers that need more than the bounds.
func (e *Engine) recomputeBounds(ctx context.Context, mc *models.MemoryContext) ([]models.Item, error) {
	items, err := e.store.ListItemsByIDs(ctx, mc.SourceItemIDs)
	if err != nil {
		return nil, fmt.Errorf("load source items: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	var start, end time.Time
	for i, it := range items {
		s, en := it.EventBounds()
		if i == 0 || s.Before(start) {
			start = s
		}
		if i == 0 || en.After(end) {
			end = en
		}
	}
	mc.StartTime = start
	mc.EndTime = end
	return items, nil
}

// rollupDay resolves the calendar day an episode start belongs to. A day
// whose summary already exists keeps the timezone offset it was built with,
// so later offset changes don't move episodes across date keys.
func (e *Engine) rollupDay(ctx context.Context, userID string, start time.Time, hintOffset int) (string, int, error) {
	zone := time.FixedZone("", hintOffset*60)
	date := start.In(zone).Format(time.DateOnly)

	summary, err := e.store.GetContext(ctx, models.DailySummaryKey(userID, date))
	if err != nil {
		return "", 0, fmt.Errorf("load daily summary: %w", err)
	}
	if summary != nil {
		if locked, ok := summary.MetaInt(models.MetaTZOffsetMinutes); ok {
			return date, locked, nil
		}
	}
	return date, hintOffset, nil
}

// addDeviceID unions a device into the record's contributing device set.
func addDeviceID(mc *models.MemoryContext, deviceID *string) {
	if deviceID == nil || *deviceID == "" {
		return
	}
	mergeDeviceIDs(mc, []string{*deviceID})
}

func mergeDeviceIDs(mc *models.MemoryContext, ids []string) {
	if len(ids) == 0 {
		return
	}
	union := unionStrings(mc.MetaStrings(models.MetaDeviceIDs), ids)
	if mc.Metadata == nil {
		mc.Metadata = map[string]any{}
	}
	mc.Metadata[models.MetaDeviceIDs] = union
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// windowGap is the distance from t to the window [start, end]; zero when t
// falls inside it.
func windowGap(t, start, end time.Time) time.Duration {
	if t.Before(start) {
		return start.Sub(t)
	}
	if t.After(end) {
		return t.Sub(end)
	}
	return 0
}

package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/gozhiyuan/omnimemory-sub000/internal/enrich"
	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
	"github.com/gozhiyuan/omnimemory-sub000/internal/vector"
)

// persistStep writes the item's observations. Earlier observations for the
// item are superseded: deleted first, then the current set is written under
// deterministic ids, so a reprocessed item ends up with exactly the records
// this run produced. Duplicates own no observations; their canonical item
// already tells the story.
type persistStep struct {
	store Store
}

func (s *persistStep) Name() string                { return "persist-observations" }
func (s *persistStep) Critical() bool              { return true }
func (s *persistStep) Expensive() bool             { return false }
func (s *persistStep) AppliesTo(*models.Item) bool { return true }

func (s *persistStep) Run(ctx context.Context, exec *Execution) error {
	item := exec.Item

	var desired []Observation
	if !item.IsDuplicate() {
		desired = buildObservations(exec)
	}

	removed, err := s.store.DeleteObservationsByItem(ctx, item.UserID, itemID(exec))
	if err != nil {
		return fmt.Errorf("supersede observations: %w", err)
	}

	written := make(map[string]bool, len(desired))
	for _, obs := range desired {
		if _, err := s.store.UpsertContext(ctx, obs.ID, obs.Record); err != nil {
			return fmt.Errorf("persist %s observation: %w", obs.Record.ContextType, err)
		}
		written[obs.ID] = true
	}

	exec.Observations = desired
	for _, id := range removed {
		if !written[id] {
			exec.Stale = append(exec.Stale, id)
		}
	}
	return nil
}

// buildObservations maps enrichment output to typed observations. Photos
// draw on vision analysis, the caption, and OCR; video and audio draw on
// the generic context derived from their transcript. With no usable
// enrichment the item still gets a bare activity observation, so it shows
// up on the timeline.
func buildObservations(exec *Execution) []Observation {
	item := exec.Item
	id := itemID(exec)
	start, end := item.EventBounds()

	base := func(contextType, title string) models.MemoryContext {
		return models.MemoryContext{
			UserID:        item.UserID,
			ContextType:   contextType,
			IsEpisode:     false,
			Title:         title,
			SourceItemIDs: []string{id},
			StartTime:     start,
			EndTime:       end,
		}
	}

	var out []Observation
	add := func(mc models.MemoryContext) {
		out = append(out, Observation{
			ID:     models.ObservationKey(item.UserID, id, mc.ContextType),
			Record: mc,
		})
	}

	switch item.MediaType {
	case models.MediaPhoto:
		vision := parsedOf(exec.Vision)
		caption := textOf(exec.Caption)

		activityTitle := enrich.StringValue(vision, "activity")
		if activityTitle == "" {
			activityTitle = firstLine(caption, 80)
		}
		if activityTitle == "" {
			activityTitle = "Photo"
		}
		activity := base(models.ContextActivity, activityTitle)
		activity.Summary = caption
		activity.Entities = enrich.StringList(vision, "entities")
		if loc := enrich.StringValue(vision, "location"); loc != "" {
			activity.Location = &loc
		}
		add(activity)

		if people := enrich.StringList(vision, "people"); len(people) > 0 {
			social := base(models.ContextSocial, strings.Join(people, ", "))
			social.Entities = people
			add(social)
		}
		if loc := enrich.StringValue(vision, "location"); loc != "" {
			location := base(models.ContextLocation, loc)
			location.Location = &loc
			add(location)
		}
		if food := enrich.StringList(vision, "food"); len(food) > 0 {
			obs := base(models.ContextFood, strings.Join(food, ", "))
			obs.Keywords = food
			add(obs)
		}
		if emotion := enrich.StringValue(vision, "emotion"); emotion != "" {
			add(base(models.ContextEmotion, emotion))
		}
		if entities := enrich.StringList(vision, "entities"); len(entities) > 0 {
			obs := base(models.ContextEntity, strings.Join(entities, ", "))
			obs.Entities = entities
			add(obs)
		}
		if ocr := textOf(exec.OCR); ocr != "" {
			obs := base(models.ContextKnowledge, firstLine(ocr, 80))
			obs.Summary = ocr
			add(obs)
		}

	default:
		generic := parsedOf(exec.Generic)

		activityTitle := enrich.StringValue(generic, "activity")
		if activityTitle == "" {
			activityTitle = firstLine(transcriptText(exec), 80)
		}
		if activityTitle == "" {
			if item.MediaType == models.MediaAudio {
				activityTitle = "Audio recording"
			} else {
				activityTitle = "Video recording"
			}
		}
		activity := base(models.ContextActivity, activityTitle)
		activity.Summary = enrich.StringValue(generic, "summary")
		activity.Keywords = enrich.StringList(generic, "keywords")
		activity.Entities = enrich.StringList(generic, "entities")
		add(activity)

		if entities := enrich.StringList(generic, "entities"); len(entities) > 0 {
			obs := base(models.ContextEntity, strings.Join(entities, ", "))
			obs.Entities = entities
			add(obs)
		}
	}

	return out
}

func parsedOf(res *enrich.Result) map[string]any {
	if res == nil || res.Status != enrich.StatusOK {
		return nil
	}
	return res.Parsed
}

func textOf(res *enrich.Result) string {
	if res == nil || res.Status != enrich.StatusOK {
		return ""
	}
	return res.RawText
}

// firstLine truncates text to its first line, capped at max runes.
func firstLine(s string, max int) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = strings.TrimSpace(s[:idx])
	}
	runes := []rune(s)
	if len(runes) > max {
		return strings.TrimSpace(string(runes[:max]))
	}
	return s
}

// embedStep reindexes the item's observations and drops index entries for
// observations this run superseded without replacing.
type embedStep struct {
	index vector.Index
}

func (s *embedStep) Name() string                { return "embed" }
func (s *embedStep) Critical() bool              { return true }
func (s *embedStep) Expensive() bool             { return false }
func (s *embedStep) AppliesTo(*models.Item) bool { return true }

func (s *embedStep) Run(ctx context.Context, exec *Execution) error {
	for _, id := range exec.Stale {
		if err := s.index.Delete(ctx, id); err != nil {
			return fmt.Errorf("drop stale vector %s: %w", id, err)
		}
	}
	for _, obs := range exec.Observations {
		if err := s.index.Upsert(ctx, obs.ID, obs.Record); err != nil {
			return fmt.Errorf("index %s observation: %w", obs.Record.ContextType, err)
		}
	}
	return nil
}

package episode

import (
	"context"
	"sort"

	"github.com/gozhiyuan/omnimemory-sub000/internal/artifact"
	"github.com/gozhiyuan/omnimemory-sub000/internal/enrich"
	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
)

// applySummary replaces the activity record's merged text with a model
// summary of the whole episode. Summarization never blocks formation:
// failures and disabled providers keep the merged text.
func (e *Engine) applySummary(ctx context.Context, item *models.Item, episodeID string, record *models.MemoryContext) {
	if e.summarizer == nil || e.cache == nil || record.EditedByUser {
		return
	}

	observations, err := e.store.GetObservationsByItems(ctx, item.UserID, models.ContextActivity, record.SourceItemIDs)
	if err != nil {
		e.log.Warn("load observations for episode summary", "episode_id", episodeID, "error", err)
		return
	}
	if len(observations) == 0 {
		return
	}
	texts, omitted := capTexts(observations, e.maxObs, e.headObs, e.tailObs)

	key := models.ArtifactKey{
		ItemID:          models.MustRecordIDString(item.ID),
		Kind:            models.ArtifactEpisodeSummary,
		Producer:        e.summarizer.Name(),
		ProducerVersion: e.summarizer.Version(),
		Fingerprint:     summaryFingerprint(episodeID, record.SourceItemIDs),
	}
	art, _, err := e.cache.Cached(ctx, key, func(ctx context.Context) (map[string]any, *string, error) {
		s, err := e.summarizer.Summarize(ctx, texts, omitted)
		if err != nil {
			return nil, nil, err
		}
		payload, err := models.EncodePayload(models.EpisodeSummaryPayload{
			Status:       s.Status,
			Title:        s.Title,
			Summary:      s.Summary,
			Keywords:     s.Keywords,
			OmittedCount: omitted,
			Error:        s.Err,
		})
		return payload, nil, err
	})
	if err != nil {
		e.log.Warn("summarize episode", "episode_id", episodeID, "error", err)
		return
	}
	decoded, err := models.DecodePayload[models.EpisodeSummaryPayload](art.Payload)
	if err != nil {
		e.log.Warn("decode episode summary artifact", "episode_id", episodeID, "error", err)
		return
	}
	if decoded.Status != enrich.StatusOK {
		e.log.Debug("episode summary unavailable",
			"episode_id", episodeID, "status", decoded.Status)
		return
	}

	if decoded.Title != "" {
		record.Title = decoded.Title
	}
	if decoded.Summary != "" {
		record.Summary = decoded.Summary
	}
	if len(decoded.Keywords) > 0 {
		record.Keywords = decoded.Keywords
	}
	if decoded.OmittedCount > 0 {
		if record.Metadata == nil {
			record.Metadata = map[string]any{}
		}
		record.Metadata[models.MetaOmittedCount] = decoded.OmittedCount
	}
}

// summaryFingerprint pins a summary to the episode's member set: a new
// member forces a fresh summary, a replay reuses the stored one.
func summaryFingerprint(episodeID string, sourceIDs []string) string {
	sorted := append([]string(nil), sourceIDs...)
	sort.Strings(sorted)
	return artifact.Fingerprint(append([]string{episodeID}, sorted...)...)
}

// capTexts bounds the summarization prompt. Episodes over the cap keep the
// first head and last tail observations; the count cut in between is
// reported to the summarizer and recorded on the episode.
func capTexts(observations []models.MemoryContext, maxN, head, tail int) ([]string, int) {
	if maxN <= 0 || len(observations) <= maxN {
		texts := make([]string, 0, len(observations))
		for i := range observations {
			texts = append(texts, observations[i].VectorText())
		}
		return texts, 0
	}
	if head+tail > maxN {
		head = maxN / 2
		tail = maxN - head
	}
	texts := make([]string, 0, head+tail)
	for i := 0; i < head; i++ {
		texts = append(texts, observations[i].VectorText())
	}
	for i := len(observations) - tail; i < len(observations); i++ {
		texts = append(texts, observations[i].VectorText())
	}
	return texts, len(observations) - head - tail
}

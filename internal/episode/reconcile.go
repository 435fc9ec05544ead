package episode

import (
	"context"
	"fmt"
	"time"

	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
	"github.com/gozhiyuan/omnimemory-sub000/internal/vector"
)

// Reconcile sweeps a user's episodes starting in [from, to) and folds pairs
// that concurrent formation split: activity records that clear the
// similarity threshold with windows inside the merge gap. The younger
// episode folds into the older. Returns the merge outcomes plus the local
// days whose rollups must recompute.
func (e *Engine) Reconcile(ctx context.Context, userID string, from, to time.Time) ([]Outcome, []Day, error) {
	records, err := e.store.FindEpisodeRecordsInRange(ctx, userID, models.ContextActivity, from, to)
	if err != nil {
		return nil, nil, fmt.Errorf("list episodes: %w", err)
	}

	folded := make(map[string]string) // episode id -> episode it folded into
	var outcomes []Outcome
	var days []Day

	for i := range records {
		if records[i].EpisodeID == nil {
			continue
		}
		episodeID := *records[i].EpisodeID
		if _, gone := folded[episodeID]; gone {
			continue
		}

		// refetch: an earlier fold this sweep may have rewritten the record
		current, err := e.store.GetEpisodeRecord(ctx, userID, episodeID, models.ContextActivity)
		if err != nil {
			return outcomes, days, fmt.Errorf("load episode record: %w", err)
		}
		if current == nil {
			continue
		}

		matches, err := e.index.Search(ctx, vector.Query{
			UserID:       userID,
			Text:         current.VectorText(),
			Limit:        candidateLimit,
			ContextType:  models.ContextActivity,
			EpisodesOnly: true,
		})
		if err != nil {
			return outcomes, days, fmt.Errorf("search similar episodes: %w", err)
		}
		var match *vector.Match
		for j := range matches {
			m := &matches[j]
			if m.EpisodeID == "" || m.EpisodeID == episodeID {
				continue
			}
			if _, gone := folded[m.EpisodeID]; gone {
				continue
			}
			if m.Score < e.similarity {
				continue
			}
			if intervalGap(current.StartTime, current.EndTime, m.StartTime, m.EndTime) > e.maxGap {
				continue
			}
			match = m
			break
		}
		if match == nil {
			continue
		}

		into, foldID := episodeID, match.EpisodeID
		if current.StartTime.After(match.StartTime) {
			into, foldID = match.EpisodeID, episodeID
		}
		affected, hint, err := e.foldEpisode(ctx, userID, foldID, into)
		if err != nil {
			return outcomes, days, fmt.Errorf("fold episode %s into %s: %w", foldID, into, err)
		}
		folded[foldID] = into
		outcomes = append(outcomes, Outcome{Kind: OutcomeMerged, Into: into, From: foldID})
		for _, start := range affected {
			date, offset, err := e.rollupDay(ctx, userID, start, hint)
			if err != nil {
				return outcomes, days, err
			}
			days = appendDay(days, Day{Date: date, TZOffsetMinutes: offset})
		}
		e.log.Info("episodes reconciled", "user_id", userID, "into", into, "from", foldID)
	}

	if len(outcomes) == 0 {
		outcomes = append(outcomes, Outcome{Kind: OutcomeNoAction})
	}
	return outcomes, days, nil
}

// foldEpisode merges every per-type record of episode foldID into episode
// intoID, then removes the folded rows. Returns the activity start times
// whose days need recomputing and a timezone hint taken from the merged
// items.
func (e *Engine) foldEpisode(ctx context.Context, userID, foldID, intoID string) ([]time.Time, int, error) {
	foldRecords, err := e.store.GetEpisodeRecords(ctx, userID, foldID)
	if err != nil {
		return nil, 0, fmt.Errorf("load folding episode: %w", err)
	}

	var affected []time.Time
	hint := 0
	haveHint := false
	for i := range foldRecords {
		fr := foldRecords[i]
		existing, err := e.store.GetEpisodeRecord(ctx, userID, intoID, fr.ContextType)
		if err != nil {
			return nil, 0, fmt.Errorf("load receiving record: %w", err)
		}

		merged := mergeRecords(existing, []models.MemoryContext{fr})
		// a user-edited record keeps its text through the fold
		if fr.EditedByUser && !merged.EditedByUser {
			merged.Title = fr.Title
			merged.Summary = fr.Summary
			merged.Keywords = fr.Keywords
			merged.Entities = fr.Entities
			merged.Location = fr.Location
			merged.EditedByUser = true
		}
		merged.UserID = userID
		merged.ContextType = fr.ContextType
		merged.IsEpisode = true
		merged.EpisodeID = &intoID
		if fr.ContextType == models.ContextActivity {
			mergeDeviceIDs(&merged, fr.MetaStrings(models.MetaDeviceIDs))
			affected = append(affected, fr.StartTime)
			if existing != nil {
				affected = append(affected, existing.StartTime)
			}
		}

		items, err := e.recomputeBounds(ctx, &merged)
		if err != nil {
			return nil, 0, err
		}
		if fr.ContextType == models.ContextActivity {
			affected = append(affected, merged.StartTime)
			if !haveHint && len(items) > 0 {
				hint = items[0].TZOffsetMinutes
				haveHint = true
			}
		}

		recordID := models.EpisodeRecordKey(userID, intoID, fr.ContextType)
		stored, err := e.store.UpsertContext(ctx, recordID, merged)
		if err != nil {
			return nil, 0, fmt.Errorf("upsert merged record: %w", err)
		}
		if err := e.index.Upsert(ctx, recordID, *stored); err != nil {
			return nil, 0, fmt.Errorf("index merged record: %w", err)
		}

		oldID := models.MustRecordIDString(fr.ID)
		if _, err := e.store.DeleteContext(ctx, oldID); err != nil {
			return nil, 0, fmt.Errorf("delete folded record: %w", err)
		}
		if err := e.index.Delete(ctx, oldID); err != nil {
			return nil, 0, fmt.Errorf("unindex folded record: %w", err)
		}
	}
	return affected, hint, nil
}

// intervalGap is the distance between two time windows; zero when they
// overlap or touch.
func intervalGap(aStart, aEnd, bStart, bEnd time.Time) time.Duration {
	if aEnd.Before(bStart) {
		return bStart.Sub(aEnd)
	}
	if bEnd.Before(aStart) {
		return aStart.Sub(bEnd)
	}
	return 0
}

func appendDay(days []Day, d Day) []Day {
	for _, have := range days {
		if have.Date == d.Date {
			return days
		}
	}
	return append(days, d)
}

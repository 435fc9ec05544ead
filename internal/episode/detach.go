package episode

import (
	"context"
	"fmt"

	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
)

// DetachItem removes an item from every episode record that references it.
// Records left with no sources are deleted; the rest get their bounds
// recomputed from the remaining members. Returns the user-local days whose
// rollups need recomputing.
func (e *Engine) DetachItem(ctx context.Context, userID, itemID string, tzHint int) ([]Day, error) {
	records, err := e.store.FindContextsBySourceItem(ctx, userID, itemID)
	if err != nil {
		return nil, fmt.Errorf("find contexts for item: %w", err)
	}

	var days []Day
	detached := 0
	for _, mc := range records {
		if !mc.IsEpisode {
			continue
		}
		recordID := models.MustRecordIDString(mc.ID)

		if mc.ContextType == models.ContextActivity {
			date, offset, err := e.rollupDay(ctx, userID, mc.StartTime, tzHint)
			if err != nil {
				return nil, err
			}
			days = appendDay(days, Day{Date: date, TZOffsetMinutes: offset})
		}

		remaining := removeString(mc.SourceItemIDs, itemID)
		if len(remaining) == 0 {
			if _, err := e.store.DeleteContext(ctx, recordID); err != nil {
				return nil, fmt.Errorf("delete emptied episode record: %w", err)
			}
			if err := e.index.Delete(ctx, recordID); err != nil {
				return nil, fmt.Errorf("unindex emptied episode record: %w", err)
			}
			detached++
			continue
		}

		mc.SourceItemIDs = remaining
		items, err := e.recomputeBounds(ctx, &mc)
		if err != nil {
			return nil, err
		}
		if _, err := e.store.UpsertContext(ctx, recordID, mc); err != nil {
			return nil, fmt.Errorf("update episode record: %w", err)
		}
		if err := e.index.Upsert(ctx, recordID, mc); err != nil {
			return nil, fmt.Errorf("reindex episode record: %w", err)
		}
		detached++

		// the record may have shifted to another calendar day
		if mc.ContextType == models.ContextActivity {
			hint := tzHint
			if len(items) > 0 {
				hint = items[0].TZOffsetMinutes
			}
			date, offset, err := e.rollupDay(ctx, userID, mc.StartTime, hint)
			if err != nil {
				return nil, err
			}
			days = appendDay(days, Day{Date: date, TZOffsetMinutes: offset})
		}
	}

	if detached > 0 {
		e.log.Info("item detached from episodes",
			"user_id", userID, "item_id", itemID, "records", detached)
	}
	return days, nil
}

func removeString(in []string, drop string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != drop {
			out = append(out, s)
		}
	}
	return out
}

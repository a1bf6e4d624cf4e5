package engine

import (
	"context"
	"fmt"
	"time"

	"tipsync/internal/model"
	"tipsync/internal/remote"
)

// Daily reset: once per calendar day, same-day consumption entries are
// pruned (history is preserved), category flags un-collapse, and an
// expired treatment timer is cleared. Runs eagerly at engine
// initialization and on demand; a second invocation the same day is a
// no-op past the date check.

// startOfDay returns midnight of t's calendar day in t's location.
func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

// sameDay reports whether a and b fall on the same calendar day,
// evaluated in b's location.
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.In(b.Location()).Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// CheckAndResetIfNeeded runs the daily reset when the last reset was
// before today. Idempotent within a day.
func (e *Engine) CheckAndResetIfNeeded(ctx context.Context) error {
	now := e.now()
	e.mu.Lock()
	last := e.lastResetDate
	e.mu.Unlock()
	if last != nil && sameDay(*last, now) {
		return nil
	}
	return e.ResetDaily(ctx)
}

// ResetDaily performs the reset unconditionally: entries dated within
// the current calendar day are dropped for every (cycle, item) pair,
// emptied item and cycle logs become absent, every category
// un-collapses, and the treatment timer is cleared unless it is still
// counting toward a future end.
func (e *Engine) ResetDaily(ctx context.Context) error {
	now := e.now()
	today := startOfDay(now)

	var firstErr error
	if err := e.SetLastResetDate(ctx, today); err != nil {
		firstErr = err
		e.logger.Printf("WARNING: %v", err)
	}

	type cycleWrite struct {
		cycleID string
		payload map[string]any // nil clears the node
	}

	e.mu.Lock()
	writes := make([]cycleWrite, 0, len(e.consumption))
	newLog := make(model.ConsumptionLog, len(e.consumption))
	for cycleID, itemLogs := range e.consumption {
		updated := make(map[string][]model.LogEntry, len(itemLogs))
		for itemID, entries := range itemLogs {
			kept := make([]model.LogEntry, 0, len(entries))
			for _, entry := range entries {
				if !sameDay(entry.Timestamp, now) {
					kept = append(kept, entry)
				}
			}
			if len(kept) > 0 {
				updated[itemID] = kept
			}
		}
		if len(updated) > 0 {
			newLog[cycleID] = updated
			writes = append(writes, cycleWrite{cycleID, model.EncodeItemLog(updated)})
		} else {
			writes = append(writes, cycleWrite{cycleID, nil})
		}
	}
	e.consumption = newLog

	timerCleared := false
	if e.timerEnd != nil && !e.timerEnd.After(now) {
		e.timerEnd = nil
		timerCleared = true
	}

	store, room := e.store, e.room
	e.persistSnapshot()
	e.notifier.publish(SliceLog, SliceTimer)
	e.mu.Unlock()

	if store != nil {
		for _, w := range writes {
			path := remote.RoomPath(room, subLog, w.cycleID)
			var err error
			if w.payload == nil {
				err = store.Delete(ctx, path)
			} else {
				err = store.Write(ctx, path, w.payload)
			}
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("failed to write reset log for cycle %s: %w", w.cycleID, err)
				}
				e.logger.Printf("WARNING: failed to write reset log for cycle %s: %v", w.cycleID, err)
			}
		}
		if timerCleared {
			if err := store.Delete(ctx, remote.RoomPath(room, subTimerEnd)); err != nil {
				e.logger.Printf("WARNING: failed to clear treatment timer: %v", err)
			}
		}
	}

	// Un-collapse every category (replicated when bound).
	for _, category := range model.Categories {
		if err := e.SetCategoryCollapsed(ctx, category, false); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			e.logger.Printf("WARNING: %v", err)
		}
	}

	e.logger.Printf("Daily reset complete for %s", today.Format("2006-01-02"))
	return firstErr
}

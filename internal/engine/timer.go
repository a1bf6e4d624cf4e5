package engine

import (
	"context"
	"fmt"
	"time"

	"tipsync/internal/cache"
	"tipsync/internal/model"
	"tipsync/internal/remote"
)

// Treatment timer coordination: two replicated scalars (end instant and
// duration) shared by every device in the room. Conflicts resolve by
// "furthest-future end wins"; duration adoption suppresses the echo of
// this device's own last write.

// handleTimerEnd applies a remote treatmentTimerEnd snapshot.
//
// The incoming end is adopted only when strictly later than the local
// one (two devices both starting the timer race to the furthest future)
// or when no local end exists. A remote absence clears the local end
// only when that end is already in the past, confirming expiry; a stale
// past end must not linger.
func (e *Engine) handleTimerEnd(ev remote.Event) {
	if ev.Err != nil {
		e.logger.Printf("WARNING: treatmentTimerEnd subscription: %v", ev.Err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if ev.Exists {
		raw, ok := ev.Value.(string)
		if !ok {
			return
		}
		end, err := model.ParseTime(raw)
		if err != nil {
			return
		}
		if e.timerEnd == nil || end.After(*e.timerEnd) {
			e.timerEnd = &end
			e.notifier.publish(SliceTimer)
		}
		return
	}

	if e.timerEnd != nil && !e.timerEnd.After(e.now()) {
		e.timerEnd = nil
		e.notifier.publish(SliceTimer)
	}
}

// handleTimerDuration applies a remote treatmentTimerDuration snapshot.
// The value is adopted only when it differs from the last duration this
// device set (self-echo suppression); absence resets to the default.
func (e *Engine) handleTimerDuration(ev remote.Event) {
	if ev.Err != nil {
		e.logger.Printf("WARNING: treatmentTimerDuration subscription: %v", ev.Err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if ev.Exists {
		seconds, ok := ev.Value.(float64)
		if !ok || seconds <= 0 {
			return
		}
		d := time.Duration(seconds * float64(time.Second))
		if e.lastSetDuration != nil && d == *e.lastSetDuration {
			return
		}
		if d != e.timerDuration {
			e.timerDuration = d
			e.setPref(cache.PrefTimerDuration, d.String())
			e.notifier.publish(SliceTimer)
		}
		return
	}

	if e.timerDuration != DefaultTimerDuration {
		e.timerDuration = DefaultTimerDuration
		e.setPref(cache.PrefTimerDuration, DefaultTimerDuration.String())
		e.notifier.publish(SliceTimer)
	}
}

// SetTreatmentTimerEnd replicates a new timer end; nil clears it.
func (e *Engine) SetTreatmentTimerEnd(ctx context.Context, end *time.Time) error {
	e.mu.Lock()
	if end != nil {
		normalized := end.UTC().Truncate(time.Second)
		end = &normalized
	}
	e.timerEnd = end
	store, room := e.store, e.room
	e.notifier.publish(SliceTimer)
	e.mu.Unlock()

	if store == nil {
		return nil
	}
	path := remote.RoomPath(room, subTimerEnd)
	if end != nil {
		if err := store.Write(ctx, path, model.FormatTime(*end)); err != nil {
			return fmt.Errorf("failed to write treatment timer end: %w", err)
		}
		return nil
	}
	if err := store.Delete(ctx, path); err != nil {
		return fmt.Errorf("failed to clear treatment timer end: %w", err)
	}
	return nil
}

// SetTreatmentTimerDuration replicates a new timer duration and records
// it as this device's last set value so the echo is suppressed.
func (e *Engine) SetTreatmentTimerDuration(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrPreconditionFailed)
	}
	e.mu.Lock()
	e.timerDuration = d
	last := d
	e.lastSetDuration = &last
	e.setPref(cache.PrefTimerDuration, d.String())
	store, room := e.store, e.room
	e.notifier.publish(SliceTimer)
	e.mu.Unlock()

	if store == nil {
		return nil
	}
	if err := store.Write(ctx, remote.RoomPath(room, subTimerDur), d.Seconds()); err != nil {
		return fmt.Errorf("failed to write treatment timer duration: %w", err)
	}
	return nil
}

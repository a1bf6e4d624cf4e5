package engine

import (
	"time"

	"tipsync/internal/model"
)

// Read accessors. Every accessor returns a copy; published state never
// aliases engine internals.

// Cycles returns the cycle collection ordered by start date.
func (e *Engine) Cycles() []model.Cycle {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Cycle, len(e.cycles))
	copy(out, e.cycles)
	return out
}

// CurrentCycleID returns the id of the current (last) cycle, or "".
func (e *Engine) CurrentCycleID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.cycles) == 0 {
		return ""
	}
	return e.cycles[len(e.cycles)-1].ID
}

// Items returns a cycle's ordered item list.
func (e *Engine) Items(cycleID string) []model.Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	items := e.items[cycleID]
	out := make([]model.Item, len(items))
	copy(out, items)
	return out
}

// ConsumptionEntries returns the entries for one (cycle, item) pair.
func (e *Engine) ConsumptionEntries(cycleID, itemID string) []model.LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	entries := e.consumption[cycleID][itemID]
	out := make([]model.LogEntry, len(entries))
	copy(out, entries)
	return out
}

// ConsumptionLog returns a deep copy of the whole log.
func (e *Engine) ConsumptionLog() model.ConsumptionLog {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(model.ConsumptionLog, len(e.consumption))
	for cycleID, itemLogs := range e.consumption {
		cycleOut := make(map[string][]model.LogEntry, len(itemLogs))
		for itemID, entries := range itemLogs {
			entriesOut := make([]model.LogEntry, len(entries))
			copy(entriesOut, entries)
			cycleOut[itemID] = entriesOut
		}
		out[cycleID] = cycleOut
	}
	return out
}

// Units returns the unit list.
func (e *Engine) Units() []model.Unit {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Unit, len(e.units))
	copy(out, e.units)
	return out
}

// Users returns the known users.
func (e *Engine) Users() []model.User {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.User, len(e.users))
	copy(out, e.users)
	return out
}

// CurrentUser resolves the device-selected current user, or nil.
func (e *Engine) CurrentUser() *model.User {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentUserLocked()
}

// CategoryCollapsed returns a category's collapsed flag.
func (e *Engine) CategoryCollapsed(category model.Category) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.collapsed[string(category)]
}

// TreatmentTimerEnd returns the replicated timer end, or nil.
func (e *Engine) TreatmentTimerEnd() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timerEnd == nil {
		return nil
	}
	end := *e.timerEnd
	return &end
}

// TreatmentTimerDuration returns the replicated timer duration.
func (e *Engine) TreatmentTimerDuration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timerDuration
}

// LastResetDate returns the last daily-reset boundary, or nil.
func (e *Engine) LastResetDate() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastResetDate == nil {
		return nil
	}
	t := *e.lastResetDate
	return &t
}

// SyncError returns the observable sync-error ("" when healthy). It is
// set by subscription failures and malformed or absent snapshots with no
// usable cached fallback, and clears on the next successful merge.
func (e *Engine) SyncError() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncErr
}

// RoomCode returns the bound room code ("" when detached).
func (e *Engine) RoomCode() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.room
}

package engine

import (
	"context"
	"fmt"
	"time"

	"tipsync/internal/cache"
	"tipsync/internal/model"
	"tipsync/internal/remote"
)

// Mutation operations. Every operation requires an established remote
// binding and is refused outright (failure returned, no partial effect)
// when a precondition fails. Completion of the remote write is the
// method's return: callers must not assume durability before it.

// cycleExistsLocked reports whether a cycle is known locally. Caller
// holds e.mu.
func (e *Engine) cycleExistsLocked(cycleID string) bool {
	for _, c := range e.cycles {
		if c.ID == cycleID {
			return true
		}
	}
	return false
}

// currentUserLocked resolves the device's current user. Caller holds e.mu.
func (e *Engine) currentUserLocked() *model.User {
	if e.currentUserID == "" {
		return nil
	}
	for i := range e.users {
		if e.users[i].ID == e.currentUserID {
			u := e.users[i]
			return &u
		}
	}
	return nil
}

// isAdminLocked reports whether the current user may mutate cycles and
// items. Caller holds e.mu.
func (e *Engine) isAdminLocked() bool {
	u := e.currentUserLocked()
	return u != nil && u.IsAdmin
}

// AddUnit writes a unit to the room's global unit list. Units have no
// ownership conflicts, so no merge handling is needed.
func (e *Engine) AddUnit(ctx context.Context, unit model.Unit) error {
	e.mu.Lock()
	store, room := e.store, e.room
	e.mu.Unlock()
	if store == nil {
		return ErrSyncUnavailable
	}
	if unit.ID == "" {
		unit.ID = model.NewID()
	}
	if err := store.Write(ctx, remote.RoomPath(room, subUnits, unit.ID), model.EncodeUnit(unit)); err != nil {
		return fmt.Errorf("failed to write unit: %w", err)
	}
	return nil
}

// AddUser writes a user node to the room.
func (e *Engine) AddUser(ctx context.Context, user model.User) error {
	e.mu.Lock()
	store, room := e.store, e.room
	e.mu.Unlock()
	if store == nil {
		return ErrSyncUnavailable
	}
	if user.ID == "" {
		user.ID = model.NewID()
	}
	if err := store.Write(ctx, remote.RoomPath(room, subUsers, user.ID), model.EncodeUser(user)); err != nil {
		return fmt.Errorf("failed to write user: %w", err)
	}
	return nil
}

// SetCurrentUser selects the device-local current user. The selection is
// persisted on the device, never synchronized.
func (e *Engine) SetCurrentUser(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentUserID = userID
	e.setPref(cache.PrefCurrentUserID, userID)
	e.notifier.publish(SliceUsers)
}

// AddItem writes an item into a cycle and optimistically upserts it into
// the local item list once the write succeeds. The snapshot merge rule
// (local-only items retained) makes this safe against races with the
// write's own echo.
func (e *Engine) AddItem(ctx context.Context, item model.Item, cycleID string) error {
	e.mu.Lock()
	store, room := e.store, e.room
	if store == nil {
		e.mu.Unlock()
		return ErrSyncUnavailable
	}
	if !e.cycleExistsLocked(cycleID) {
		e.mu.Unlock()
		return fmt.Errorf("%w: unknown cycle %s", ErrPreconditionFailed, cycleID)
	}
	if !e.isAdminLocked() {
		e.mu.Unlock()
		return fmt.Errorf("%w: adding items requires an admin user", ErrNotAuthorized)
	}
	if item.ID == "" {
		item.ID = model.NewID()
	}
	if item.Order == 0 {
		item.Order = len(e.items[cycleID])
	}
	e.mu.Unlock()

	path := remote.RoomPath(room, subCycles, cycleID, "items", item.ID)
	if err := store.Write(ctx, path, model.EncodeItem(item)); err != nil {
		return fmt.Errorf("failed to write item %s: %w", item.ID, err)
	}

	e.mu.Lock()
	items := e.items[cycleID]
	replaced := false
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = item
			replaced = true
			break
		}
	}
	if !replaced {
		items = append(items, item)
	}
	model.SortItems(items)
	e.items[cycleID] = items
	e.persistSnapshot()
	e.notifier.publish(SliceItems)
	e.mu.Unlock()
	return nil
}

// SaveItems bulk-replaces a cycle's entire item list, remotely and then
// locally. Used for reordering and editing.
func (e *Engine) SaveItems(ctx context.Context, items []model.Item, cycleID string) error {
	e.mu.Lock()
	store, room := e.store, e.room
	if store == nil {
		e.mu.Unlock()
		return ErrSyncUnavailable
	}
	if !e.cycleExistsLocked(cycleID) {
		e.mu.Unlock()
		return fmt.Errorf("%w: unknown cycle %s", ErrPreconditionFailed, cycleID)
	}
	e.mu.Unlock()

	path := remote.RoomPath(room, subCycles, cycleID, "items")
	if err := store.Write(ctx, path, model.EncodeItems(items)); err != nil {
		return fmt.Errorf("failed to save items for cycle %s: %w", cycleID, err)
	}

	sorted := make([]model.Item, len(items))
	copy(sorted, items)
	model.SortItems(sorted)

	e.mu.Lock()
	e.items[cycleID] = sorted
	e.persistSnapshot()
	e.notifier.publish(SliceItems)
	e.mu.Unlock()
	return nil
}

// RemoveItem deletes an item's remote node and removes it locally. The
// local removal is applied even when the remote delete fails (the next
// snapshot reconciles), but the failure is still reported to the caller.
func (e *Engine) RemoveItem(ctx context.Context, itemID, cycleID string) error {
	e.mu.Lock()
	store, room := e.store, e.room
	if store == nil {
		e.mu.Unlock()
		return ErrSyncUnavailable
	}
	if !e.cycleExistsLocked(cycleID) {
		e.mu.Unlock()
		return fmt.Errorf("%w: unknown cycle %s", ErrPreconditionFailed, cycleID)
	}
	if !e.isAdminLocked() {
		e.mu.Unlock()
		return fmt.Errorf("%w: removing items requires an admin user", ErrNotAuthorized)
	}
	e.mu.Unlock()

	deleteErr := store.Delete(ctx, remote.RoomPath(room, subCycles, cycleID, "items", itemID))

	e.mu.Lock()
	items := e.items[cycleID]
	kept := items[:0]
	for _, it := range items {
		if it.ID != itemID {
			kept = append(kept, it)
		}
	}
	e.items[cycleID] = kept
	e.persistSnapshot()
	e.notifier.publish(SliceItems)
	e.mu.Unlock()

	if deleteErr != nil {
		return fmt.Errorf("failed to delete item %s: %w", itemID, deleteErr)
	}
	return nil
}

// AddCycle creates a new cycle, optionally copying the previous cycle's
// items (fresh identities, same category/dose/order) as a starting point.
//
// The creation is multi-step: optimistic local append, one-shot read of
// the source items, metadata write, items write, and a backfill of the
// source cycle's remote items when they were never written (self-healing
// after a previous partial failure). The in-flight guard blocks cycles
// merges for the whole window and is cleared on every terminal path.
// A metadata write failure rolls back the optimistic append.
//
// If a cycle with the same id already exists the call degrades to an
// update of its metadata and items.
func (e *Engine) AddCycle(ctx context.Context, cycle model.Cycle, copyFromCycleID string) error {
	e.mu.Lock()
	store, room := e.store, e.room
	if store == nil {
		e.mu.Unlock()
		return ErrSyncUnavailable
	}
	if !e.isAdminLocked() {
		e.mu.Unlock()
		return fmt.Errorf("%w: creating cycles requires an admin user", ErrNotAuthorized)
	}
	if cycle.ID == "" {
		cycle.ID = model.NewID()
	}

	if e.cycleExistsLocked(cycle.ID) {
		existing := make([]model.Item, len(e.items[cycle.ID]))
		copy(existing, e.items[cycle.ID])
		e.mu.Unlock()
		e.logger.Printf("Cycle %s already exists, updating instead", cycle.ID)
		return e.saveCycle(ctx, store, room, cycle, existing, copyFromCycleID, false)
	}

	if e.cycleCreationInFlight {
		e.mu.Unlock()
		return fmt.Errorf("%w: another cycle creation is in flight", ErrPreconditionFailed)
	}
	e.cycleCreationInFlight = true
	defer func() {
		e.mu.Lock()
		e.cycleCreationInFlight = false
		e.mu.Unlock()
	}()

	// Optimistic local append; rolled back on metadata write failure.
	e.cycles = append(e.cycles, cycle)

	copyFrom := copyFromCycleID
	if copyFrom == "" && len(e.cycles) > 1 {
		copyFrom = e.cycles[len(e.cycles)-2].ID
	}
	e.mu.Unlock()

	var copied []model.Item
	if copyFrom != "" {
		copied = e.cloneSourceItems(ctx, store, room, copyFrom)
	}
	if copied == nil {
		copied = []model.Item{}
	}

	e.mu.Lock()
	e.items[cycle.ID] = copied
	e.mu.Unlock()

	return e.saveCycle(ctx, store, room, cycle, copied, copyFrom, true)
}

// cloneSourceItems fetches the copy source's items with a one-shot read,
// falling back to the locally cached list when the remote items were
// never written, and clones each with a fresh identity.
func (e *Engine) cloneSourceItems(ctx context.Context, store remote.Store, room, sourceID string) []model.Item {
	var source []model.Item
	v, exists, err := store.ReadOnce(ctx, remote.RoomPath(room, subCycles, sourceID, "items"))
	if err != nil {
		e.logger.Printf("WARNING: failed to read items of cycle %s for copy: %v", sourceID, err)
	} else if exists {
		if items, ok := model.DecodeItems(v, nil); ok {
			source = items
		}
	}
	if len(source) == 0 {
		e.mu.Lock()
		source = make([]model.Item, len(e.items[sourceID]))
		copy(source, e.items[sourceID])
		e.mu.Unlock()
	}

	copied := make([]model.Item, 0, len(source))
	for _, it := range source {
		copied = append(copied, it.CloneFresh())
	}
	return copied
}

// saveCycle writes a cycle's metadata and items, backfills the previous
// cycle's remote items when absent, and finalizes local state. When
// created is set, a metadata write failure rolls the optimistic append
// back.
func (e *Engine) saveCycle(ctx context.Context, store remote.Store, room string, cycle model.Cycle, items []model.Item, prevCycleID string, created bool) error {
	cyclePath := remote.RoomPath(room, subCycles, cycle.ID)

	meta := make(map[string]remote.Value)
	for key, value := range model.EncodeCycle(cycle) {
		meta[key] = value
	}
	if err := store.Update(ctx, cyclePath, meta); err != nil {
		if created {
			e.mu.Lock()
			kept := e.cycles[:0]
			for _, c := range e.cycles {
				if c.ID != cycle.ID {
					kept = append(kept, c)
				}
			}
			e.cycles = kept
			delete(e.items, cycle.ID)
			e.notifier.publish(SliceCycles, SliceItems)
			e.mu.Unlock()
		}
		return fmt.Errorf("failed to write cycle metadata %s: %w", cycle.ID, err)
	}

	if len(items) > 0 {
		children := make(map[string]remote.Value, len(items))
		for id, node := range model.EncodeItems(items) {
			children[id] = node
		}
		if err := store.Update(ctx, remote.Join(cyclePath, "items"), children); err != nil {
			e.logger.Printf("WARNING: failed to write items for cycle %s: %v", cycle.ID, err)
		}
	}

	if prevCycleID != "" {
		e.backfillSourceItems(ctx, store, room, prevCycleID)
	}

	e.mu.Lock()
	if len(e.items[cycle.ID]) == 0 {
		e.items[cycle.ID] = items
	}
	e.persistSnapshot()
	e.notifier.publish(SliceCycles, SliceItems)
	e.mu.Unlock()
	return nil
}

// backfillSourceItems heals a source cycle whose items exist locally but
// were never written remotely (a previous partial creation failure).
func (e *Engine) backfillSourceItems(ctx context.Context, store remote.Store, room, sourceID string) {
	e.mu.Lock()
	local := make([]model.Item, len(e.items[sourceID]))
	copy(local, e.items[sourceID])
	e.mu.Unlock()
	if len(local) == 0 {
		return
	}

	itemsPath := remote.RoomPath(room, subCycles, sourceID, "items")
	v, exists, err := store.ReadOnce(ctx, itemsPath)
	if err != nil {
		e.logger.Printf("WARNING: failed to check items of cycle %s for backfill: %v", sourceID, err)
		return
	}
	if exists {
		if m, ok := model.AsMap(v); ok && len(m) > 0 {
			return
		}
	}

	children := make(map[string]remote.Value, len(local))
	for id, node := range model.EncodeItems(local) {
		children[id] = node
	}
	if err := store.Update(ctx, itemsPath, children); err != nil {
		e.logger.Printf("WARNING: failed to backfill items for cycle %s: %v", sourceID, err)
		return
	}
	e.logger.Printf("Backfilled %d items for cycle %s", len(local), sourceID)
}

// LogConsumption records that the current user consumed an item. A zero
// timestamp means now. Idempotent: the entry is a set-add keyed by
// (timestamp, user), so duplicate taps and retries collapse.
func (e *Engine) LogConsumption(ctx context.Context, itemID, cycleID string, at time.Time) error {
	e.mu.Lock()
	store, room := e.store, e.room
	user := e.currentUserLocked()
	if store == nil {
		e.mu.Unlock()
		return ErrSyncUnavailable
	}
	if user == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: no current user", ErrNotAuthorized)
	}
	if !e.cycleExistsLocked(cycleID) {
		e.mu.Unlock()
		return fmt.Errorf("%w: unknown cycle %s", ErrPreconditionFailed, cycleID)
	}
	e.mu.Unlock()

	if at.IsZero() {
		at = e.now()
	}
	entry := model.NewLogEntry(at, user.ID)

	path := remote.RoomPath(room, subLog, cycleID, itemID)
	v, exists, err := store.ReadOnce(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to read consumption log: %w", err)
	}
	var entries []model.LogEntry
	if exists {
		entries, _ = model.DecodeLogEntries(v)
	}
	for _, existing := range entries {
		if existing.Same(entry) {
			return nil
		}
	}
	entries = append(entries, entry)

	if err := store.Write(ctx, path, model.EncodeLogEntries(entries)); err != nil {
		return fmt.Errorf("failed to write consumption log: %w", err)
	}
	return nil
}

// RemoveConsumption removes the current user's entry with the exact
// timestamp, writing back the remainder or clearing the node when it
// becomes empty.
func (e *Engine) RemoveConsumption(ctx context.Context, itemID, cycleID string, at time.Time) error {
	e.mu.Lock()
	store, room := e.store, e.room
	user := e.currentUserLocked()
	e.mu.Unlock()
	if store == nil {
		return ErrSyncUnavailable
	}
	if user == nil {
		return fmt.Errorf("%w: no current user", ErrNotAuthorized)
	}

	target := model.NewLogEntry(at, user.ID)
	path := remote.RoomPath(room, subLog, cycleID, itemID)

	v, exists, err := store.ReadOnce(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to read consumption log: %w", err)
	}
	if !exists {
		return nil
	}
	entries, _ := model.DecodeLogEntries(v)
	kept := entries[:0]
	for _, existing := range entries {
		if !existing.Same(target) {
			kept = append(kept, existing)
		}
	}

	if len(kept) == 0 {
		if err := store.Delete(ctx, path); err != nil {
			return fmt.Errorf("failed to clear consumption log: %w", err)
		}
		return nil
	}
	if err := store.Write(ctx, path, model.EncodeLogEntries(kept)); err != nil {
		return fmt.Errorf("failed to write consumption log: %w", err)
	}
	return nil
}

// SetConsumptionLog bulk-replaces one item's entries, clearing the node
// when the list is empty (empty nodes are represented as absent).
func (e *Engine) SetConsumptionLog(ctx context.Context, itemID, cycleID string, entries []model.LogEntry) error {
	e.mu.Lock()
	store, room := e.store, e.room
	e.mu.Unlock()
	if store == nil {
		return ErrSyncUnavailable
	}

	path := remote.RoomPath(room, subLog, cycleID, itemID)
	if len(entries) == 0 {
		if err := store.Delete(ctx, path); err != nil {
			return fmt.Errorf("failed to clear consumption log: %w", err)
		}
		return nil
	}
	if err := store.Write(ctx, path, model.EncodeLogEntries(entries)); err != nil {
		return fmt.Errorf("failed to write consumption log: %w", err)
	}
	return nil
}

// SetCategoryCollapsed mirrors a category's collapsed flag locally and
// replicates it when a room is bound (last-write-wins).
func (e *Engine) SetCategoryCollapsed(ctx context.Context, category model.Category, collapsed bool) error {
	e.mu.Lock()
	e.collapsed[string(category)] = collapsed
	store, room := e.store, e.room
	e.notifier.publish(SliceSettings)
	e.mu.Unlock()

	if store == nil {
		return nil
	}
	if err := store.Write(ctx, remote.RoomPath(room, subCollapsed, string(category)), collapsed); err != nil {
		return fmt.Errorf("failed to write collapsed flag: %w", err)
	}
	return nil
}

// SetLastResetDate records the last daily-reset boundary locally (device
// pref) and replicates it when a room is bound.
func (e *Engine) SetLastResetDate(ctx context.Context, t time.Time) error {
	t = t.UTC().Truncate(time.Second)
	e.mu.Lock()
	e.lastResetDate = &t
	e.setPref(cache.PrefLastResetDate, model.FormatTime(t))
	store, room := e.store, e.room
	e.mu.Unlock()

	if store == nil {
		return nil
	}
	if err := store.Write(ctx, remote.RoomPath(room, subLastReset), model.FormatTime(t)); err != nil {
		return fmt.Errorf("failed to write last reset date: %w", err)
	}
	return nil
}

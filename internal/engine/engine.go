// Package engine implements the reconciliation engine: the authoritative
// in-memory view of cycles, items, users, and consumption logs for one
// device, kept consistent with a shared room store while staying usable
// offline.
//
// The engine subscribes to the room's subtrees, merges incoming snapshots
// with local state without losing unsynced local writes, persists every
// good merge to the local cache, and exposes mutation operations that
// write through to the remote store. All state is owned by a single
// mutex; subscription goroutines and mutators serialize through it and
// nothing escapes without copying.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"tipsync/internal/cache"
	"tipsync/internal/model"
	"tipsync/internal/remote"
)

// DefaultTimerDuration is the treatment timer default shared across
// devices; a room with no stored duration falls back to it everywhere.
const DefaultTimerDuration = 15 * time.Minute

// Subtree names under rooms/{code}/.
const (
	subCycles    = "cycles"
	subUnits     = "units"
	subUsers     = "users"
	subLog       = "consumptionLog"
	subCollapsed = "categoryCollapsed"
	subTimerEnd  = "treatmentTimerEnd"
	subTimerDur  = "treatmentTimerDuration"
	subLastReset = "lastResetDate"
)

// Engine owns the authoritative local state for one device.
type Engine struct {
	mu     sync.Mutex
	cache  *cache.Cache // nil means no persistence
	logger *log.Logger
	now    func() time.Time

	store remote.Store
	room  string

	bindCancel context.CancelFunc
	bindWG     sync.WaitGroup

	cycles        []model.Cycle
	items         model.ItemsByCycle
	consumption   model.ConsumptionLog
	units         []model.Unit
	users         []model.User
	currentUserID string
	collapsed     map[string]bool
	lastResetDate *time.Time

	timerEnd        *time.Time
	timerDuration   time.Duration
	lastSetDuration *time.Duration

	syncErr string

	// cycleCreationInFlight blocks all cycles-subtree merges while a
	// multi-step cycle creation is writing, so a half-written remote
	// state cannot clobber the optimistic local append. Deliberately
	// coarse: creation is rare and user-initiated.
	cycleCreationInFlight bool

	notifier *Notifier
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an engine, loads the cached snapshot, seeds default units,
// and eagerly runs the daily reset check. cache may be nil (no
// persistence, used by tests and ephemeral CLI invocations).
func New(c *cache.Cache, opts ...Option) (*Engine, error) {
	e := &Engine{
		cache:         c,
		logger:        log.New(os.Stderr, "[engine] ", log.LstdFlags),
		now:           time.Now,
		items:         make(model.ItemsByCycle),
		consumption:   make(model.ConsumptionLog),
		units:         model.DefaultUnits(),
		collapsed:     make(map[string]bool),
		timerDuration: DefaultTimerDuration,
		notifier:      newNotifier(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if c != nil {
		if err := e.loadCached(); err != nil {
			return nil, err
		}
	}

	if err := e.CheckAndResetIfNeeded(context.Background()); err != nil {
		e.logger.Printf("WARNING: daily reset at startup: %v", err)
	}
	return e, nil
}

// loadCached restores the three snapshot blobs and device prefs.
func (e *Engine) loadCached() error {
	cycles, err := e.cache.LoadCycles()
	if err != nil {
		return fmt.Errorf("failed to load cached cycles: %w", err)
	}
	if cycles != nil {
		e.cycles = cycles
	}

	items, err := e.cache.LoadItems()
	if err != nil {
		return fmt.Errorf("failed to load cached items: %w", err)
	}
	if items != nil {
		e.items = items
	}

	logData, err := e.cache.LoadLog()
	if err != nil {
		return fmt.Errorf("failed to load cached consumption log: %w", err)
	}
	if logData != nil {
		e.consumption = logData
	}

	if userID, ok, err := e.cache.Pref(cache.PrefCurrentUserID); err != nil {
		return err
	} else if ok {
		e.currentUserID = userID
	}

	if lastReset, ok, err := e.cache.Pref(cache.PrefLastResetDate); err != nil {
		return err
	} else if ok {
		if t, perr := model.ParseTime(lastReset); perr == nil {
			e.lastResetDate = &t
		}
	}

	if durStr, ok, err := e.cache.Pref(cache.PrefTimerDuration); err != nil {
		return err
	} else if ok {
		if d, perr := time.ParseDuration(durStr); perr == nil && d > 0 {
			e.timerDuration = d
		}
	}
	return nil
}

// persistSnapshot writes the three blobs to the local cache. Cache
// failures are logged, never fatal; the in-memory state stays
// authoritative. Caller holds e.mu.
func (e *Engine) persistSnapshot() {
	if e.cache == nil {
		return
	}
	if err := e.cache.SaveCycles(e.cycles); err != nil {
		e.logger.Printf("WARNING: %v", err)
	}
	if err := e.cache.SaveItems(e.items); err != nil {
		e.logger.Printf("WARNING: %v", err)
	}
	if err := e.cache.SaveLog(e.consumption); err != nil {
		e.logger.Printf("WARNING: %v", err)
	}
}

func (e *Engine) setPref(key, value string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.SetPref(key, value); err != nil {
		e.logger.Printf("WARNING: %v", err)
	}
}

// Bind attaches the engine to a room on the given store, tearing down
// any previous binding, and subscribes to every replicated subtree.
// Subscriptions live until Unbind, a later Bind, or ctx cancellation.
func (e *Engine) Bind(ctx context.Context, store remote.Store, roomCode string) error {
	if roomCode == "" {
		return fmt.Errorf("%w: empty room code", ErrSyncUnavailable)
	}
	e.Unbind()

	bindCtx, cancel := context.WithCancel(ctx)

	subs := []struct {
		path    string
		handler func(remote.Event)
	}{
		{subCycles, e.handleCycles},
		{subUnits, e.handleUnits},
		{subUsers, e.handleUsers},
		{subLog, e.handleLog},
		{subCollapsed, e.handleCollapsed},
		{subTimerEnd, e.handleTimerEnd},
		{subTimerDur, e.handleTimerDuration},
	}

	channels := make([]<-chan remote.Event, 0, len(subs))
	for _, sub := range subs {
		ch, err := store.Subscribe(bindCtx, remote.RoomPath(roomCode, sub.path))
		if err != nil {
			cancel()
			return fmt.Errorf("failed to subscribe to %s: %w", sub.path, err)
		}
		channels = append(channels, ch)
	}

	e.mu.Lock()
	e.store = store
	e.room = roomCode
	e.bindCancel = cancel
	e.setPref(cache.PrefRoomCode, roomCode)
	e.mu.Unlock()

	for i, sub := range subs {
		ch := channels[i]
		handler := sub.handler
		e.bindWG.Add(1)
		go func() {
			defer e.bindWG.Done()
			for ev := range ch {
				handler(ev)
			}
		}()
	}

	e.logger.Printf("Bound to room %s", roomCode)
	return nil
}

// Unbind detaches from the remote store: subscriptions stop and the
// engine continues cache-only. Idempotent.
func (e *Engine) Unbind() {
	e.mu.Lock()
	cancel := e.bindCancel
	e.bindCancel = nil
	e.store = nil
	e.room = ""
	if e.cache != nil {
		if err := e.cache.DeletePref(cache.PrefRoomCode); err != nil {
			e.logger.Printf("WARNING: %v", err)
		}
	}
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		e.bindWG.Wait()
	}
}

// Subscribe returns a channel notified whenever any of the given state
// slices changes, and a cancel func. See Notifier.
func (e *Engine) Subscribe(slices ...Slice) (<-chan Slice, func()) {
	return e.notifier.Subscribe(slices...)
}

// setSyncError updates the observable sync-error field. Caller holds e.mu.
func (e *Engine) setSyncError(msg string) {
	if e.syncErr == msg {
		return
	}
	e.syncErr = msg
	e.notifier.publish(SliceSync)
}

// handleCycles merges a cycles+items subtree snapshot.
//
// Merge rule per cycle: remote wins field-wise for items present on both
// sides, local-only items are retained (the window between an optimistic
// write and its echo), remote-only items are appended, and the result is
// re-sorted by (order, insertion). Cycle existence is authoritative on
// the remote: locally-known cycles absent from a well-formed snapshot
// are dropped, along with their (now orphaned) items.
func (e *Engine) handleCycles(ev remote.Event) {
	if ev.Err != nil {
		e.mu.Lock()
		e.setSyncError(fmt.Sprintf("failed to sync cycles: %v", ev.Err))
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cycleCreationInFlight {
		e.logger.Println("Ignoring cycles snapshot: cycle creation in flight")
		return
	}

	raw, isMap := model.AsMap(ev.Value)
	if !ev.Exists || (isMap && len(raw) == 0) {
		// Transient empty read: clear cycles (remote is authoritative for
		// cycle existence) but do not destroy local item state.
		e.cycles = nil
		if len(e.items) == 0 {
			e.setSyncError("no cycles found in room or data is malformed")
		} else {
			e.setSyncError("")
		}
		e.notifier.publish(SliceCycles, SliceItems)
		return
	}

	nodes, report, ok := model.DecodeCycles(ev.Value)
	if !ok || (report.Decoded == 0 && report.Skipped > 0) {
		// Wholly malformed snapshot: preserve prior good state.
		e.setSyncError("malformed cycles snapshot from room store")
		return
	}
	if report.Skipped > 0 {
		e.logger.Printf("WARNING: skipped %d malformed cycle/item nodes", report.Skipped)
	}

	newItems := make(model.ItemsByCycle, len(nodes))
	cycles := make([]model.Cycle, 0, len(nodes))
	for _, node := range nodes {
		cycles = append(cycles, node.Cycle)
		local := e.items[node.Cycle.ID]
		switch {
		case node.HasItems && len(node.Items) > 0:
			if local != nil {
				newItems[node.Cycle.ID] = mergeItems(local, node.Items)
			} else {
				newItems[node.Cycle.ID] = node.Items
			}
		case local != nil:
			newItems[node.Cycle.ID] = local
		default:
			newItems[node.Cycle.ID] = []model.Item{}
		}
	}
	model.SortCycles(cycles)

	e.cycles = cycles
	e.items = newItems
	e.persistSnapshot()
	e.setSyncError("")
	e.notifier.publish(SliceCycles, SliceItems)
}

// mergeItems applies the remote-wins-per-item, local-only-retained rule.
func mergeItems(local, incoming []model.Item) []model.Item {
	byID := make(map[string]model.Item, len(incoming))
	for _, it := range incoming {
		byID[it.ID] = it
	}
	merged := make([]model.Item, 0, len(local)+len(incoming))
	seen := make(map[string]bool, len(local))
	for _, it := range local {
		if updated, ok := byID[it.ID]; ok {
			merged = append(merged, updated)
		} else {
			merged = append(merged, it)
		}
		seen[it.ID] = true
	}
	for _, it := range incoming {
		if !seen[it.ID] {
			merged = append(merged, it)
		}
	}
	model.SortItems(merged)
	return merged
}

// handleUnits full-replaces the unit list, falling back to the hardcoded
// defaults whenever the parsed set is empty or the subtree is absent.
func (e *Engine) handleUnits(ev remote.Event) {
	if ev.Err != nil {
		e.logger.Printf("WARNING: units subscription: %v", ev.Err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !ev.Exists {
		e.units = model.DefaultUnits()
		e.notifier.publish(SliceUnits)
		return
	}
	units, ok := model.DecodeUnits(ev.Value)
	if !ok {
		e.logger.Println("WARNING: malformed units snapshot, keeping current units")
		return
	}
	if len(units) == 0 {
		units = model.DefaultUnits()
	}
	e.units = units
	e.notifier.publish(SliceUnits)
}

// handleUsers full-replaces the user list and re-resolves the current
// user by the device-persisted identity.
func (e *Engine) handleUsers(ev remote.Event) {
	if ev.Err != nil {
		e.logger.Printf("WARNING: users subscription: %v", ev.Err)
		return
	}
	if !ev.Exists {
		return
	}
	users, ok := model.DecodeUsers(ev.Value)
	if !ok {
		e.logger.Println("WARNING: malformed users snapshot, keeping current users")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.users = users
	e.notifier.publish(SliceUsers)
}

// handleLog full-replaces the consumption log. No local/remote merge is
// needed: every log mutation is written through before being reflected
// locally.
func (e *Engine) handleLog(ev remote.Event) {
	if ev.Err != nil {
		e.logger.Printf("WARNING: consumption log subscription: %v", ev.Err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !ev.Exists {
		if len(e.consumption) == 0 {
			return
		}
		e.consumption = make(model.ConsumptionLog)
		e.persistSnapshot()
		e.notifier.publish(SliceLog)
		return
	}

	logData, ok := model.DecodeConsumptionLog(ev.Value)
	if !ok {
		e.logger.Println("WARNING: malformed consumption log snapshot, keeping current log")
		return
	}
	e.consumption = logData
	e.persistSnapshot()
	e.notifier.publish(SliceLog)
}

// handleCollapsed adopts the remote category-collapsed flags
// (last-remote-write-wins, not business-critical).
func (e *Engine) handleCollapsed(ev remote.Event) {
	if ev.Err != nil {
		e.logger.Printf("WARNING: categoryCollapsed subscription: %v", ev.Err)
		return
	}
	if !ev.Exists {
		return
	}
	collapsed, ok := model.DecodeCollapsed(ev.Value)
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.collapsed = collapsed
	e.notifier.publish(SliceSettings)
}

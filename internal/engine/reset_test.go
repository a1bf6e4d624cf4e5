package engine

import (
	"context"
	"testing"
	"time"

	"tipsync/internal/model"
)

func TestResetDailyPrunesSameDayEntries(t *testing.T) {
	now := time.Date(2026, 8, 30, 9, 30, 0, 0, time.UTC)
	e := newTestEngine(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	store := bindTestEngine(t, e)

	yesterday := model.NewLogEntry(now.Add(-24*time.Hour), "u1")
	thisMorning := model.NewLogEntry(now.Add(-2*time.Hour), "u1")
	lastWeek := model.NewLogEntry(now.Add(-7*24*time.Hour), "u2")

	e.mu.Lock()
	e.consumption = model.ConsumptionLog{
		"c1": {
			"i1": {lastWeek, yesterday, thisMorning},
			"i2": {thisMorning},
		},
	}
	e.collapsed = map[string]bool{"Medicine": true}
	e.mu.Unlock()

	if err := e.ResetDaily(ctx); err != nil {
		t.Fatalf("ResetDaily failed: %v", err)
	}

	// Today's entries are gone, history stays.
	entries := e.ConsumptionEntries("c1", "i1")
	if len(entries) != 2 {
		t.Fatalf("i1 has %d entries, want 2 (history only)", len(entries))
	}
	for _, entry := range entries {
		if entry.Timestamp.After(now.Add(-12 * time.Hour)) {
			t.Errorf("Same-day entry survived: %v", entry.Timestamp)
		}
	}
	// i2 only had a same-day entry: it disappears entirely, not as empty.
	if entries := e.ConsumptionEntries("c1", "i2"); len(entries) != 0 {
		t.Errorf("i2 entries = %+v, want none", entries)
	}
	if log := e.ConsumptionLog(); len(log["c1"]) != 1 {
		t.Errorf("Cycle log = %+v, want only i1", log["c1"])
	}

	// Every category un-collapses.
	if e.CategoryCollapsed(model.CategoryMedicine) {
		t.Error("Category still collapsed after reset")
	}

	// The remote log was rewritten with the pruned entries.
	v, exists, _ := store.ReadOnce(ctx, "rooms/test/consumptionLog/c1")
	if !exists {
		t.Fatal("Remote cycle log missing after reset")
	}
	m, _ := model.AsMap(v)
	if _, ok := m["i2"]; ok {
		t.Error("Remote i2 log survived reset, want absent")
	}

	// The reset boundary was recorded.
	if last := e.LastResetDate(); last == nil || !last.Equal(time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("LastResetDate = %v, want start of today", last)
	}
}

func TestResetDailyClearsWholeCycleWhenEmptied(t *testing.T) {
	now := time.Date(2026, 8, 30, 9, 30, 0, 0, time.UTC)
	e := newTestEngine(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	store := bindTestEngine(t, e)

	today := model.NewLogEntry(now.Add(-time.Hour), "u1")
	e.mu.Lock()
	e.consumption = model.ConsumptionLog{"c1": {"i1": {today}}}
	e.mu.Unlock()

	if err := e.ResetDaily(ctx); err != nil {
		t.Fatalf("ResetDaily failed: %v", err)
	}

	if log := e.ConsumptionLog(); len(log) != 0 {
		t.Errorf("Log = %+v, want empty", log)
	}
	if _, exists, _ := store.ReadOnce(ctx, "rooms/test/consumptionLog/c1"); exists {
		t.Error("Emptied cycle log node survived remotely, want absent")
	}
}

func TestResetDailyTimerHandling(t *testing.T) {
	now := time.Date(2026, 8, 30, 9, 30, 0, 0, time.UTC)
	e := newTestEngine(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	bindTestEngine(t, e)

	// A running timer survives the reset.
	future := now.Add(10 * time.Minute)
	e.mu.Lock()
	e.timerEnd = &future
	e.mu.Unlock()
	if err := e.ResetDaily(ctx); err != nil {
		t.Fatalf("ResetDaily failed: %v", err)
	}
	if end := e.TreatmentTimerEnd(); end == nil {
		t.Fatal("Running timer cleared by reset")
	}

	// An expired one is cleared.
	past := now.Add(-time.Hour)
	e.mu.Lock()
	e.timerEnd = &past
	e.mu.Unlock()
	if err := e.ResetDaily(ctx); err != nil {
		t.Fatalf("ResetDaily failed: %v", err)
	}
	if end := e.TreatmentTimerEnd(); end != nil {
		t.Errorf("Expired timer survived reset: %v", end)
	}
}

func TestCheckAndResetIfNeededIdempotentWithinDay(t *testing.T) {
	now := time.Date(2026, 8, 30, 9, 30, 0, 0, time.UTC)
	e := newTestEngine(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if err := e.ResetDaily(ctx); err != nil {
		t.Fatalf("ResetDaily failed: %v", err)
	}

	// Seed an entry from earlier today; a second same-day check must not
	// prune it.
	entry := model.NewLogEntry(now.Add(-time.Hour), "u1")
	e.mu.Lock()
	e.consumption = model.ConsumptionLog{"c1": {"i1": {entry}}}
	e.mu.Unlock()

	if err := e.CheckAndResetIfNeeded(ctx); err != nil {
		t.Fatalf("CheckAndResetIfNeeded failed: %v", err)
	}
	if entries := e.ConsumptionEntries("c1", "i1"); len(entries) != 1 {
		t.Errorf("Same-day re-check pruned entries: %+v", entries)
	}
}

func TestCheckAndResetRunsAcrossDayBoundary(t *testing.T) {
	now := time.Date(2026, 8, 30, 9, 30, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	e := newTestEngine(t, WithClock(clock))
	ctx := context.Background()

	if err := e.ResetDaily(ctx); err != nil {
		t.Fatalf("ResetDaily failed: %v", err)
	}

	entry := model.NewLogEntry(now, "u1")
	e.mu.Lock()
	e.consumption = model.ConsumptionLog{"c1": {"i1": {entry}}}
	e.mu.Unlock()

	// Next morning: the entry logged "yesterday" relative to the new day
	// is history and survives; it is no longer same-day.
	now = now.Add(24 * time.Hour)
	if err := e.CheckAndResetIfNeeded(ctx); err != nil {
		t.Fatalf("CheckAndResetIfNeeded failed: %v", err)
	}
	if entries := e.ConsumptionEntries("c1", "i1"); len(entries) != 1 {
		t.Errorf("Historical entry pruned at day boundary: %+v", entries)
	}
	if last := e.LastResetDate(); last == nil || !last.Equal(time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("LastResetDate = %v, want start of new day", last)
	}
}

func TestSameDay(t *testing.T) {
	utc := time.Date(2026, 8, 30, 23, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		a, b time.Time
		want bool
	}{
		{"same instant", utc, utc, true},
		{"same day different hour", utc, utc.Add(-20 * time.Hour), true},
		{"next day", utc, utc.Add(time.Hour), false},
		{"cross-zone same local day", utc.Add(time.Hour).UTC(), time.Date(2026, 8, 31, 1, 30, 0, 0, time.FixedZone("E1", 3600)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sameDay(tt.a, tt.b); got != tt.want {
				t.Errorf("sameDay(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

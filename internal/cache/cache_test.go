package cache

import (
	"path/filepath"
	"testing"
	"time"

	"tipsync/internal/model"
)

// openTestCache opens a cache in a temp directory.
func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Failed to open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCyclesRoundtrip(t *testing.T) {
	c := openTestCache(t)

	if cycles, err := c.LoadCycles(); err != nil || cycles != nil {
		t.Fatalf("LoadCycles on fresh cache: %v, %v; want nil, nil", cycles, err)
	}

	want := []model.Cycle{
		{
			ID:                "c1",
			Number:            1,
			PatientName:       "Sam",
			StartDate:         time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
			FoodChallengeDate: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		},
	}
	if err := c.SaveCycles(want); err != nil {
		t.Fatalf("Failed to save cycles: %v", err)
	}

	got, err := c.LoadCycles()
	if err != nil {
		t.Fatalf("Failed to load cycles: %v", err)
	}
	if len(got) != 1 || got[0].ID != "c1" || !got[0].StartDate.Equal(want[0].StartDate) {
		t.Errorf("Loaded cycles = %+v, want %+v", got, want)
	}
}

func TestItemsRoundtrip(t *testing.T) {
	c := openTestCache(t)

	dose := 2.5
	unit := "mg"
	want := model.ItemsByCycle{
		"c1": {
			{
				ID: "i1", Name: "Peanut", Category: model.CategoryTreatment,
				Dose: &dose, Unit: &unit,
				WeeklyDoses: map[int]float64{3: 1.25},
				Order:       2,
			},
		},
	}
	if err := c.SaveItems(want); err != nil {
		t.Fatalf("Failed to save items: %v", err)
	}

	got, err := c.LoadItems()
	if err != nil {
		t.Fatalf("Failed to load items: %v", err)
	}
	items := got["c1"]
	if len(items) != 1 {
		t.Fatalf("Loaded %d items, want 1", len(items))
	}
	it := items[0]
	if it.Dose == nil || *it.Dose != dose || it.Unit == nil || *it.Unit != unit {
		t.Errorf("Optional fields lost: %+v", it)
	}
	if it.WeeklyDoses[3] != 1.25 {
		t.Errorf("WeeklyDoses lost: %+v", it.WeeklyDoses)
	}
}

func TestLogRoundtripAndOverwrite(t *testing.T) {
	c := openTestCache(t)

	first := model.ConsumptionLog{
		"c1": {"i1": {model.NewLogEntry(time.Now(), "u1")}},
	}
	if err := c.SaveLog(first); err != nil {
		t.Fatalf("Failed to save log: %v", err)
	}

	// Saving again replaces, never appends.
	second := model.ConsumptionLog{
		"c2": {"i2": {model.NewLogEntry(time.Now(), "u2")}},
	}
	if err := c.SaveLog(second); err != nil {
		t.Fatalf("Failed to save log: %v", err)
	}

	got, err := c.LoadLog()
	if err != nil {
		t.Fatalf("Failed to load log: %v", err)
	}
	if _, ok := got["c1"]; ok {
		t.Error("Old snapshot survived overwrite")
	}
	if len(got["c2"]["i2"]) != 1 {
		t.Errorf("Loaded log = %+v, want c2/i2 with 1 entry", got)
	}
}

func TestPrefs(t *testing.T) {
	c := openTestCache(t)

	if _, ok, err := c.Pref(PrefRoomCode); err != nil || ok {
		t.Fatalf("Pref on fresh cache: ok=%v err=%v, want unset", ok, err)
	}

	if err := c.SetPref(PrefRoomCode, "abc123"); err != nil {
		t.Fatalf("Failed to set pref: %v", err)
	}
	if err := c.SetPref(PrefRoomCode, "xyz789"); err != nil {
		t.Fatalf("Failed to overwrite pref: %v", err)
	}

	value, ok, err := c.Pref(PrefRoomCode)
	if err != nil || !ok {
		t.Fatalf("Failed to read pref: ok=%v err=%v", ok, err)
	}
	if value != "xyz789" {
		t.Errorf("Pref = %q, want xyz789", value)
	}

	if err := c.DeletePref(PrefRoomCode); err != nil {
		t.Fatalf("Failed to delete pref: %v", err)
	}
	if _, ok, _ := c.Pref(PrefRoomCode); ok {
		t.Error("Pref survived delete")
	}
	// Deleting again is fine.
	if err := c.DeletePref(PrefRoomCode); err != nil {
		t.Errorf("Second delete failed: %v", err)
	}
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	c, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to open cache: %v", err)
	}
	if err := c.SetPref(PrefCurrentUserID, "u1"); err != nil {
		t.Fatalf("Failed to set pref: %v", err)
	}
	if err := c.SaveCycles([]model.Cycle{{ID: "c1", PatientName: "Sam"}}); err != nil {
		t.Fatalf("Failed to save cycles: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Failed to close cache: %v", err)
	}

	c2, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to reopen cache: %v", err)
	}
	defer c2.Close()

	if value, ok, _ := c2.Pref(PrefCurrentUserID); !ok || value != "u1" {
		t.Errorf("Pref after reopen = %q ok=%v, want u1", value, ok)
	}
	cycles, err := c2.LoadCycles()
	if err != nil || len(cycles) != 1 {
		t.Errorf("Cycles after reopen = %+v err=%v, want 1 cycle", cycles, err)
	}
}

package model

import (
	"testing"
	"time"
)

func TestSortItemsStable(t *testing.T) {
	items := []Item{
		{ID: "a", Order: 1},
		{ID: "b", Order: 0},
		{ID: "c", Order: 1},
		{ID: "d", Order: 0},
	}
	SortItems(items)

	got := []string{items[0].ID, items[1].ID, items[2].ID, items[3].ID}
	want := []string{"b", "d", "a", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Sort order = %v, want %v", got, want)
		}
	}
}

func TestCloneFresh(t *testing.T) {
	dose := 1.5
	orig := Item{
		ID: "i1", Name: "Peanut", Category: CategoryTreatment,
		Dose:        &dose,
		WeeklyDoses: map[int]float64{1: 0.5},
		Order:       3,
	}

	clone := orig.CloneFresh()
	if clone.ID == orig.ID || clone.ID == "" {
		t.Errorf("Clone kept identity: %q", clone.ID)
	}
	if clone.Name != orig.Name || clone.Category != orig.Category || clone.Order != orig.Order {
		t.Errorf("Clone changed fields: %+v", clone)
	}

	// The weekly dose map must not be shared.
	clone.WeeklyDoses[1] = 99
	if orig.WeeklyDoses[1] != 0.5 {
		t.Error("Clone shares WeeklyDoses map with original")
	}
}

func TestLogEntrySame(t *testing.T) {
	base := time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		a, b LogEntry
		want bool
	}{
		{"identical", NewLogEntry(base, "u1"), NewLogEntry(base, "u1"), true},
		{"sub-second difference collapses", NewLogEntry(base, "u1"), NewLogEntry(base.Add(300*time.Millisecond), "u1"), true},
		{"different zone same instant", NewLogEntry(base, "u1"), NewLogEntry(base.In(time.FixedZone("X", 7200)), "u1"), true},
		{"different user", NewLogEntry(base, "u1"), NewLogEntry(base, "u2"), false},
		{"different second", NewLogEntry(base, "u1"), NewLogEntry(base.Add(time.Second), "u1"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Same(tt.b); got != tt.want {
				t.Errorf("Same() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefaultUnits(t *testing.T) {
	units := DefaultUnits()
	if len(units) != 2 {
		t.Fatalf("Got %d default units, want 2", len(units))
	}
	if units[0].Name != "mg" || units[1].Name != "g" {
		t.Errorf("Default units = [%s %s], want [mg g]", units[0].Name, units[1].Name)
	}
	if units[0].ID == "" || units[1].ID == "" || units[0].ID == units[1].ID {
		t.Error("Default units missing distinct ids")
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if len(id) != 32 {
			t.Fatalf("ID %q has length %d, want 32", id, len(id))
		}
		if seen[id] {
			t.Fatalf("Duplicate id %q", id)
		}
		seen[id] = true
	}
}

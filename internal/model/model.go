// Package model defines the treatment-plan data model shared by the
// reconciliation engine, the local cache, and the room store wire format.
//
// All entities carry opaque string IDs and serialize losslessly through
// both the JSON cache blobs and the untyped map wire format used by the
// remote store (see codec.go).
package model

import (
	"crypto/rand"
	"encoding/hex"
	"sort"
	"time"
)

// Category classifies an item and drives display grouping and dosing rules.
// The set is closed: unknown categories on the wire are malformed.
type Category string

const (
	CategoryMedicine    Category = "Medicine"
	CategoryMaintenance Category = "Maintenance"
	CategoryTreatment   Category = "Treatment"
	CategoryRecommended Category = "Recommended"
)

// Categories lists every valid category in display order.
var Categories = []Category{
	CategoryMedicine,
	CategoryMaintenance,
	CategoryTreatment,
	CategoryRecommended,
}

// ParseCategory returns the Category for s, or false if s is not one of
// the closed set.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// NewID mints an opaque unique identifier (32 hex characters).
func NewID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// Cycle is a bounded treatment period. Immutable once created except via
// full replace; the collection is ordered by start date ascending and the
// last element is the current cycle.
type Cycle struct {
	ID                string    `json:"id"`
	Number            int       `json:"number"`
	PatientName       string    `json:"patientName"`
	StartDate         time.Time `json:"startDate"`
	FoodChallengeDate time.Time `json:"foodChallengeDate"`
}

// Item is a dosed entry owned by exactly one cycle.
//
// Dose and Unit are optional (fixed-dose items); WeeklyDoses maps a cycle
// week number to a dose override and is used only by Treatment items with
// variable dosing. Order defines stable display order within a category;
// zero means "append".
type Item struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Category    Category        `json:"category"`
	Dose        *float64        `json:"dose,omitempty"`
	Unit        *string         `json:"unit,omitempty"`
	WeeklyDoses map[int]float64 `json:"weeklyDoses,omitempty"`
	Order       int             `json:"order"`
}

// CloneFresh returns a copy of the item with a newly minted identity.
// Used when a new cycle copies its starting items from the previous one.
func (it Item) CloneFresh() Item {
	clone := it
	clone.ID = NewID()
	if it.WeeklyDoses != nil {
		clone.WeeklyDoses = make(map[int]float64, len(it.WeeklyDoses))
		for week, dose := range it.WeeklyDoses {
			clone.WeeklyDoses[week] = dose
		}
	}
	return clone
}

// LogEntry records that a user marked an item consumed at an instant.
// Timestamps are normalized to second precision in UTC so that equality
// matches the wire representation exactly.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"userId"`
}

// NewLogEntry builds a normalized entry.
func NewLogEntry(at time.Time, userID string) LogEntry {
	return LogEntry{Timestamp: at.UTC().Truncate(time.Second), UserID: userID}
}

// Same reports whether two entries identify the same (timestamp, user)
// pair at wire precision.
func (e LogEntry) Same(other LogEntry) bool {
	return e.UserID == other.UserID && e.Timestamp.Equal(other.Timestamp.UTC().Truncate(time.Second))
}

// Unit is a dose unit from the global (room-wide) list.
type Unit struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DefaultUnits returns the seed units used whenever the remote set is empty.
func DefaultUnits() []Unit {
	return []Unit{
		{ID: NewID(), Name: "mg"},
		{ID: NewID(), Name: "g"},
	}
}

// User is a room member. Only admin users may mutate cycles and items.
type User struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsAdmin bool   `json:"isAdmin"`
}

// ItemsByCycle holds each cycle's ordered item list.
type ItemsByCycle map[string][]Item

// ConsumptionLog is keyed cycle → item → entries ordered by time.
// Empty item or cycle maps are represented as absent, never as empty
// collections.
type ConsumptionLog map[string]map[string][]LogEntry

// SortItems sorts items by (order, insertion): the sort is stable, so
// equal orders keep their relative insertion order.
func SortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Order < items[j].Order
	})
}

// SortCycles sorts cycles by start date ascending.
func SortCycles(cycles []Cycle) {
	sort.SliceStable(cycles, func(i, j int) bool {
		return cycles[i].StartDate.Before(cycles[j].StartDate)
	})
}

// SortLogEntries orders entries by timestamp ascending.
func SortLogEntries(entries []LogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
}

package model

import (
	"fmt"
	"strconv"
	"time"
)

// WireTimeLayout is the fixed textual timestamp format used on the wire:
// date + time + UTC offset at second precision, so timestamps compare
// identically across devices.
const WireTimeLayout = time.RFC3339

// FormatTime renders t in the wire format (UTC, second precision).
func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(WireTimeLayout)
}

// ParseTime parses a wire timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(WireTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid wire timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// DecodeReport classifies the children of a decoded subtree. A node is
// either well-formed (counted in Decoded) or skipped as malformed; the
// distinction between a partially-recoverable and a wholly malformed
// snapshot is made by the caller from Decoded vs Skipped.
type DecodeReport struct {
	Decoded int
	Skipped int
}

func (r *DecodeReport) add(ok bool) {
	if ok {
		r.Decoded++
	} else {
		r.Skipped++
	}
}

// AsMap narrows an untyped wire value to a string-keyed map.
func AsMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asString(m map[string]any, key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

// asNumber accepts the numeric shapes a JSON decode can produce.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func asTime(m map[string]any, key string) (time.Time, bool) {
	s, ok := asString(m, key)
	if !ok {
		return time.Time{}, false
	}
	t, err := ParseTime(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// DecodeCycle parses one cycle node keyed by id. The nested "items" child
// is ignored here; see DecodeItems.
func DecodeCycle(id string, v any) (Cycle, bool) {
	m, ok := AsMap(v)
	if !ok || id == "" {
		return Cycle{}, false
	}
	number, okNum := asNumber(m["number"])
	patient, okName := asString(m, "patientName")
	start, okStart := asTime(m, "startDate")
	challenge, okChallenge := asTime(m, "foodChallengeDate")
	if !okNum || !okName || !okStart || !okChallenge {
		return Cycle{}, false
	}
	return Cycle{
		ID:                id,
		Number:            int(number),
		PatientName:       patient,
		StartDate:         start,
		FoodChallengeDate: challenge,
	}, true
}

// EncodeCycle renders the cycle's metadata fields (without items).
func EncodeCycle(c Cycle) map[string]any {
	return map[string]any{
		"number":            c.Number,
		"patientName":       c.PatientName,
		"startDate":         FormatTime(c.StartDate),
		"foodChallengeDate": FormatTime(c.FoodChallengeDate),
	}
}

// DecodeItem parses one item node keyed by id.
func DecodeItem(id string, v any) (Item, bool) {
	m, ok := AsMap(v)
	if !ok || id == "" {
		return Item{}, false
	}
	name, okName := asString(m, "name")
	catStr, okCat := asString(m, "category")
	if !okName || !okCat {
		return Item{}, false
	}
	category, okCat := ParseCategory(catStr)
	if !okCat {
		return Item{}, false
	}
	item := Item{ID: id, Name: name, Category: category}
	if dose, ok := asNumber(m["dose"]); ok {
		item.Dose = &dose
	}
	if unit, ok := asString(m, "unit"); ok {
		item.Unit = &unit
	}
	if weekly, ok := AsMap(m["weeklyDoses"]); ok {
		doses := make(map[int]float64, len(weekly))
		for weekStr, doseVal := range weekly {
			week, err := strconv.Atoi(weekStr)
			if err != nil {
				continue
			}
			if dose, ok := asNumber(doseVal); ok {
				doses[week] = dose
			}
		}
		if len(doses) > 0 {
			item.WeeklyDoses = doses
		}
	}
	if order, ok := asNumber(m["order"]); ok {
		item.Order = int(order)
	}
	return item, true
}

// EncodeItem renders an item node. Optional fields are present only when
// set, matching the absence semantics of the remote store.
func EncodeItem(it Item) map[string]any {
	m := map[string]any{
		"name":     it.Name,
		"category": string(it.Category),
		"order":    it.Order,
	}
	if it.Dose != nil {
		m["dose"] = *it.Dose
	}
	if it.Unit != nil {
		m["unit"] = *it.Unit
	}
	if len(it.WeeklyDoses) > 0 {
		weekly := make(map[string]any, len(it.WeeklyDoses))
		for week, dose := range it.WeeklyDoses {
			weekly[strconv.Itoa(week)] = dose
		}
		m["weeklyDoses"] = weekly
	}
	return m
}

// DecodeItems parses an items subtree (id → item node), skipping
// malformed children, sorted by (order, insertion).
func DecodeItems(v any, report *DecodeReport) ([]Item, bool) {
	m, ok := AsMap(v)
	if !ok {
		return nil, false
	}
	items := make([]Item, 0, len(m))
	for id, node := range m {
		item, ok := DecodeItem(id, node)
		if report != nil {
			report.add(ok)
		}
		if ok {
			items = append(items, item)
		}
	}
	SortItems(items)
	return items, true
}

// EncodeItems renders an item list as an id-keyed subtree.
func EncodeItems(items []Item) map[string]any {
	m := make(map[string]any, len(items))
	for _, it := range items {
		m[it.ID] = EncodeItem(it)
	}
	return m
}

// CycleNode is one decoded child of the cycles subtree.
type CycleNode struct {
	Cycle Cycle
	// Items is nil when the node carried no items child, as opposed to an
	// empty child.
	Items []Item
	// HasItems distinguishes an absent items child from an empty one.
	HasItems bool
}

// DecodeCycles parses the whole cycles subtree. Malformed children are
// skipped and counted in the report; a non-map top level returns ok=false
// (a wholly malformed snapshot).
func DecodeCycles(v any) ([]CycleNode, DecodeReport, bool) {
	var report DecodeReport
	m, ok := AsMap(v)
	if !ok {
		return nil, report, false
	}
	nodes := make([]CycleNode, 0, len(m))
	for id, node := range m {
		cycle, ok := DecodeCycle(id, node)
		report.add(ok)
		if !ok {
			continue
		}
		cn := CycleNode{Cycle: cycle}
		if cm, ok := AsMap(node); ok {
			if items, ok := DecodeItems(cm["items"], &report); ok {
				cn.Items = items
				cn.HasItems = true
			}
		}
		nodes = append(nodes, cn)
	}
	return nodes, report, true
}

// DecodeUnits parses the units subtree (id → unit node).
func DecodeUnits(v any) ([]Unit, bool) {
	m, ok := AsMap(v)
	if !ok {
		return nil, false
	}
	units := make([]Unit, 0, len(m))
	for id, node := range m {
		nm, ok := AsMap(node)
		if !ok {
			continue
		}
		name, ok := asString(nm, "name")
		if !ok {
			continue
		}
		units = append(units, Unit{ID: id, Name: name})
	}
	return units, true
}

// EncodeUnit renders a unit node.
func EncodeUnit(u Unit) map[string]any {
	return map[string]any{"name": u.Name}
}

// DecodeUsers parses the users subtree (id → user node).
func DecodeUsers(v any) ([]User, bool) {
	m, ok := AsMap(v)
	if !ok {
		return nil, false
	}
	users := make([]User, 0, len(m))
	for id, node := range m {
		nm, ok := AsMap(node)
		if !ok {
			continue
		}
		name, okName := asString(nm, "name")
		isAdmin, okAdmin := nm["isAdmin"].(bool)
		if !okName || !okAdmin {
			continue
		}
		users = append(users, User{ID: id, Name: name, IsAdmin: isAdmin})
	}
	return users, true
}

// EncodeUser renders a user node.
func EncodeUser(u User) map[string]any {
	return map[string]any{"name": u.Name, "isAdmin": u.IsAdmin}
}

// DecodeLogEntries parses one item's entry list, skipping malformed
// entries and normalizing timestamps.
func DecodeLogEntries(v any) ([]LogEntry, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	entries := make([]LogEntry, 0, len(list))
	for _, raw := range list {
		m, ok := AsMap(raw)
		if !ok {
			continue
		}
		ts, okTS := asTime(m, "timestamp")
		userID, okUser := asString(m, "userId")
		if !okTS || !okUser {
			continue
		}
		entries = append(entries, NewLogEntry(ts, userID))
	}
	SortLogEntries(entries)
	return entries, true
}

// EncodeLogEntries renders an entry list for one item.
func EncodeLogEntries(entries []LogEntry) []any {
	out := make([]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"timestamp": FormatTime(e.Timestamp),
			"userId":    e.UserID,
		})
	}
	return out
}

// DecodeConsumptionLog parses the whole consumptionLog subtree
// (cycle id → item id → entry list).
func DecodeConsumptionLog(v any) (ConsumptionLog, bool) {
	m, ok := AsMap(v)
	if !ok {
		return nil, false
	}
	log := make(ConsumptionLog, len(m))
	for cycleID, itemsNode := range m {
		im, ok := AsMap(itemsNode)
		if !ok {
			continue
		}
		cycleLog := make(map[string][]LogEntry, len(im))
		for itemID, entriesNode := range im {
			entries, ok := DecodeLogEntries(entriesNode)
			if !ok || len(entries) == 0 {
				continue
			}
			cycleLog[itemID] = entries
		}
		if len(cycleLog) > 0 {
			log[cycleID] = cycleLog
		}
	}
	return log, true
}

// EncodeItemLog renders one cycle's item → entries map, used by the daily
// reset bulk write.
func EncodeItemLog(itemLog map[string][]LogEntry) map[string]any {
	out := make(map[string]any, len(itemLog))
	for itemID, entries := range itemLog {
		out[itemID] = EncodeLogEntries(entries)
	}
	return out
}

// DecodeCollapsed parses the categoryCollapsed subtree.
func DecodeCollapsed(v any) (map[string]bool, bool) {
	m, ok := AsMap(v)
	if !ok {
		return nil, false
	}
	out := make(map[string]bool, len(m))
	for key, val := range m {
		b, ok := val.(bool)
		if !ok {
			continue
		}
		out[key] = b
	}
	return out, true
}

package remote

import (
	"context"
	"testing"
	"time"
)

// recvEvent waits for one event with a timeout so a broken store fails
// fast instead of hanging the test run.
func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
		return Event{}
	}
}

func TestMemoryStoreReadWrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, exists, err := s.ReadOnce(ctx, "rooms/abc/cycles"); err != nil || exists {
		t.Fatalf("ReadOnce on empty store: exists=%v err=%v, want absent", exists, err)
	}

	if err := s.Write(ctx, "rooms/abc/cycles/c1", map[string]any{"number": 1}); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	v, exists, err := s.ReadOnce(ctx, "rooms/abc/cycles/c1")
	if err != nil || !exists {
		t.Fatalf("ReadOnce after write: exists=%v err=%v", exists, err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["number"] != 1 {
		t.Errorf("Read wrong value: %#v", v)
	}
}

func TestMemoryStoreWriteNilDeletes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Write(ctx, "a/b/c", "x"); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if err := s.Write(ctx, "a/b/c", nil); err != nil {
		t.Fatalf("Failed to write nil: %v", err)
	}

	if _, exists, _ := s.ReadOnce(ctx, "a/b/c"); exists {
		t.Error("Node survived nil write, want absent")
	}
	// Emptied ancestors are pruned: absence, not empty maps.
	if _, exists, _ := s.ReadOnce(ctx, "a"); exists {
		t.Error("Empty ancestor survived, want pruned")
	}
}

func TestMemoryStoreSubscribeInitialSnapshot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewMemoryStore()

	if err := s.Write(ctx, "rooms/abc/units/u1", map[string]any{"name": "mg"}); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	ch, err := s.Subscribe(ctx, "rooms/abc/units")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	ev := recvEvent(t, ch)
	if !ev.Exists {
		t.Fatal("Initial snapshot absent, want existing subtree")
	}
	m, ok := ev.Value.(map[string]any)
	if !ok || len(m) != 1 {
		t.Errorf("Initial snapshot wrong: %#v", ev.Value)
	}
}

func TestMemoryStoreSubscribeSeesDescendantAndAncestorWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewMemoryStore()

	ch, err := s.Subscribe(ctx, "rooms/abc/cycles")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	ev := recvEvent(t, ch)
	if ev.Exists {
		t.Fatal("Initial snapshot exists on empty store")
	}

	// Write below the subscription path.
	if err := s.Write(ctx, "rooms/abc/cycles/c1/number", 1); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	ev = recvEvent(t, ch)
	if !ev.Exists {
		t.Fatal("No snapshot after descendant write")
	}

	// Delete an ancestor: the subscribed subtree disappears.
	if err := s.Delete(ctx, "rooms/abc"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	ev = recvEvent(t, ch)
	if ev.Exists {
		t.Error("Snapshot still exists after ancestor delete")
	}
}

func TestMemoryStoreUpdateMergesChildren(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Write(ctx, "rooms/abc/cycles/c1", map[string]any{
		"number": 1,
		"items":  map[string]any{"i1": map[string]any{"name": "A"}},
	}); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	// Update replaces only the named children, not siblings.
	if err := s.Update(ctx, "rooms/abc/cycles/c1", map[string]Value{
		"number":      2,
		"patientName": "Sam",
	}); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}

	v, _, _ := s.ReadOnce(ctx, "rooms/abc/cycles/c1")
	m := v.(map[string]any)
	if m["number"] != 2 || m["patientName"] != "Sam" {
		t.Errorf("Update lost fields: %#v", m)
	}
	if _, ok := m["items"]; !ok {
		t.Error("Update clobbered sibling items subtree")
	}
}

func TestMemoryStoreCoalescing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewMemoryStore()

	ch, err := s.Subscribe(ctx, "counter")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	// Do not read yet: burst of writes while the consumer is slow.
	for i := 1; i <= 50; i++ {
		if err := s.Write(ctx, "counter", i); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
	}

	// Drain. The final event must carry the latest value; intermediates
	// may be dropped.
	deadline := time.After(2 * time.Second)
	var last Event
	for {
		select {
		case ev := <-ch:
			last = ev
			if ev.Exists && ev.Value == 50 {
				return
			}
		case <-deadline:
			t.Fatalf("Never saw final value, last event: %#v", last)
		}
	}
}

func TestMemoryStoreSnapshotsDoNotAlias(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Write(ctx, "node", map[string]any{"k": "v"}); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	v, _, _ := s.ReadOnce(ctx, "node")
	v.(map[string]any)["k"] = "mutated"

	v2, _, _ := s.ReadOnce(ctx, "node")
	if v2.(map[string]any)["k"] != "v" {
		t.Error("ReadOnce result aliases store internals")
	}
}

func TestMemoryStoreSubscribeCancelClosesChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewMemoryStore()

	ch, err := s.Subscribe(ctx, "x")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	recvEvent(t, ch) // initial snapshot
	cancel()

	select {
	case _, open := <-ch:
		if open {
			// A final event may still be in flight; the next receive must
			// observe the close.
			if _, open := <-ch; open {
				t.Error("Channel still open after cancel")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Channel not closed after cancel")
	}
}

func TestRoomPath(t *testing.T) {
	if got := RoomPath("abc", "cycles", "c1"); got != "rooms/abc/cycles/c1" {
		t.Errorf("RoomPath = %q, want rooms/abc/cycles/c1", got)
	}
	if got := Join("a", "b"); got != "a/b" {
		t.Errorf("Join = %q, want a/b", got)
	}
}

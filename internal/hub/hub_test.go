package hub

import (
	"context"
	"testing"
	"time"

	"tipsync/internal/logging"
	"tipsync/internal/remote"
)

// startTestHub runs a hub on an ephemeral port.
func startTestHub(t *testing.T) *Server {
	t.Helper()
	srv := New(":0", nil, logging.Discard())
	if err := srv.Start(); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func dialTestHub(t *testing.T, srv *Server) *remote.WSStore {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := remote.Dial(ctx, srv.URL(), logging.Discard())
	if err != nil {
		t.Fatalf("Failed to dial hub: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func recvEvent(t *testing.T, ch <-chan remote.Event) remote.Event {
	t.Helper()
	select {
	case ev := <-ch:
		if ev.Err != nil {
			t.Fatalf("Event carried error: %v", ev.Err)
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for event")
		return remote.Event{}
	}
}

func TestWriteReadRoundtrip(t *testing.T) {
	srv := startTestHub(t)
	store := dialTestHub(t, srv)
	ctx := context.Background()

	if err := store.Write(ctx, "rooms/abc/units/u1", map[string]any{"name": "mg"}); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	v, exists, err := store.ReadOnce(ctx, "rooms/abc/units/u1")
	if err != nil || !exists {
		t.Fatalf("ReadOnce: exists=%v err=%v", exists, err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["name"] != "mg" {
		t.Errorf("Read value = %#v, want unit node", v)
	}

	if err := store.Delete(ctx, "rooms/abc/units/u1"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, exists, _ := store.ReadOnce(ctx, "rooms/abc/units/u1"); exists {
		t.Error("Node survived delete")
	}
}

func TestUpdateMergesOverWire(t *testing.T) {
	srv := startTestHub(t)
	store := dialTestHub(t, srv)
	ctx := context.Background()

	if err := store.Write(ctx, "rooms/abc/cycles/c1", map[string]any{
		"number": 1,
		"items":  map[string]any{"i1": map[string]any{"name": "A"}},
	}); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	if err := store.Update(ctx, "rooms/abc/cycles/c1", map[string]remote.Value{
		"patientName": "Sam",
	}); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}

	v, _, err := store.ReadOnce(ctx, "rooms/abc/cycles/c1")
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	m := v.(map[string]any)
	if m["patientName"] != "Sam" {
		t.Errorf("Updated field missing: %#v", m)
	}
	if _, ok := m["items"]; !ok {
		t.Error("Update clobbered sibling subtree")
	}
}

func TestSubscriptionFansOutAcrossClients(t *testing.T) {
	srv := startTestHub(t)
	writer := dialTestHub(t, srv)
	watcher := dialTestHub(t, srv)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := watcher.Subscribe(ctx, "rooms/abc/cycles")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	ev := recvEvent(t, ch)
	if ev.Exists {
		t.Fatal("Initial snapshot exists on empty tree")
	}

	if err := writer.Write(context.Background(), "rooms/abc/cycles/c1", map[string]any{"number": 1}); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	// The other client sees the change without polling.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Err != nil {
				t.Fatalf("Event carried error: %v", ev.Err)
			}
			if ev.Exists {
				m, _ := ev.Value.(map[string]any)
				if _, ok := m["c1"]; ok {
					return
				}
			}
		case <-deadline:
			t.Fatal("Watcher never saw the other client's write")
		}
	}
}

func TestSubscriptionUnaffectedBySiblingWrites(t *testing.T) {
	srv := startTestHub(t)
	store := dialTestHub(t, srv)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := store.Subscribe(ctx, "rooms/abc/units")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	recvEvent(t, ch) // initial snapshot

	// A write to an unrelated room must not produce an event; a related
	// write after it must arrive as the next event.
	if err := store.Write(context.Background(), "rooms/other/units/u9", map[string]any{"name": "kg"}); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if err := store.Write(context.Background(), "rooms/abc/units/u1", map[string]any{"name": "mg"}); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	ev := recvEvent(t, ch)
	if !ev.Exists {
		t.Fatal("Expected subtree snapshot after related write")
	}
	m, _ := ev.Value.(map[string]any)
	if _, ok := m["u1"]; !ok {
		t.Errorf("Snapshot = %#v, want u1 under subscribed subtree", ev.Value)
	}
	if _, ok := m["u9"]; ok {
		t.Error("Snapshot leaked another room's node")
	}
}

func TestStoreSeededBeforeStart(t *testing.T) {
	srv := New(":0", nil, logging.Discard())
	ctx := context.Background()

	// Seed through the backing tree directly, then serve it.
	if err := srv.Store().Write(ctx, "rooms/abc/users/u1", map[string]any{"name": "Admin", "isAdmin": true}); err != nil {
		t.Fatalf("Failed to seed: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	defer srv.Stop()

	store := dialTestHub(t, srv)
	v, exists, err := store.ReadOnce(ctx, "rooms/abc/users/u1")
	if err != nil || !exists {
		t.Fatalf("Seeded node missing: exists=%v err=%v", exists, err)
	}
	if m, _ := v.(map[string]any); m["name"] != "Admin" {
		t.Errorf("Seeded node = %#v", v)
	}
}

func TestClientCloseSurfacesOnSubscriptions(t *testing.T) {
	srv := startTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	store, err := remote.Dial(dialCtx, srv.URL(), logging.Discard())
	if err != nil {
		t.Fatalf("Failed to dial hub: %v", err)
	}

	ch, err := store.Subscribe(ctx, "rooms/abc/cycles")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	recvEvent(t, ch) // initial snapshot

	store.Close()

	select {
	case ev, open := <-ch:
		if open && ev.Err == nil {
			t.Errorf("Expected error event or close after Close, got %#v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Subscription silent after Close")
	}

	if err := store.Write(context.Background(), "x", 1); err == nil {
		t.Error("Write succeeded on closed store")
	}
}

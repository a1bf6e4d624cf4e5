// Package remote abstracts the hierarchical, path-addressed room store.
//
// The store holds untyped nested maps addressed by slash-separated paths
// rooted at rooms/{roomCode}/... . Absence of a node is a distinct,
// observable state from an empty map. Implementations: MemoryStore (in
// process, also the backing tree of the hub server) and WSStore (a
// websocket client speaking the hub protocol).
package remote

import "context"

// Value is an untyped wire value: map[string]any, []any, string, float64,
// bool, or nil.
type Value = any

// Event is one notification from a subscription. Exists is false when the
// subscribed node is absent. Err is set on transport-level failures; the
// subscription may keep delivering afterwards if the transport recovers.
type Event struct {
	Value  Value
	Exists bool
	Err    error
}

// Store is the remote-store adapter consumed by the engine.
//
// Subscribe delivers a snapshot of the subtree at path immediately and
// then on every change at or under it, until ctx is cancelled. Snapshots
// coalesce under backpressure: intermediate states may be skipped but the
// latest state is always delivered.
//
// Write with a nil value removes the node, matching Delete.
type Store interface {
	Subscribe(ctx context.Context, path string) (<-chan Event, error)
	ReadOnce(ctx context.Context, path string) (Value, bool, error)
	Write(ctx context.Context, path string, value Value) error
	// Update merge-writes the given children under path without replacing
	// siblings (the point-write used for cycle metadata).
	Update(ctx context.Context, path string, children map[string]Value) error
	Delete(ctx context.Context, path string) error
	Close() error
}

// Join builds a slash-separated path from segments.
func Join(parts ...string) string {
	path := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if path == "" {
			path = p
			continue
		}
		path += "/" + p
	}
	return path
}

// RoomPath builds a path under rooms/{code}.
func RoomPath(code string, parts ...string) string {
	return Join(append([]string{"rooms", code}, parts...)...)
}

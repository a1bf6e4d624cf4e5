package remote

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store backed by a nested map tree. It is
// the engine's offline stand-in, the test double, and the tree behind the
// hub server.
type MemoryStore struct {
	mu     sync.Mutex
	root   map[string]any
	subs   map[int]*eventQueue
	nextID int
	closed bool
}

// eventQueue coalesces deliveries through a one-slot mailbox so a slow
// consumer only ever misses intermediate snapshots, never the latest.
type eventQueue struct {
	path    string
	mailbox chan Event
	out     chan Event
	done    chan struct{}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		root: make(map[string]any),
		subs: make(map[int]*eventQueue),
	}
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// related reports whether a change at changed is visible to a subscriber
// at sub: either path is a prefix of the other.
func related(sub, changed string) bool {
	if sub == "" || changed == "" {
		return true
	}
	return sub == changed ||
		strings.HasPrefix(changed, sub+"/") ||
		strings.HasPrefix(sub, changed+"/")
}

// deepCopy clones a wire value so snapshots never alias store internals.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}

// get walks the tree. Caller holds mu.
func (s *MemoryStore) get(path string) (any, bool) {
	var cur any = s.root
	for _, seg := range splitPath(path) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// set writes value at path, creating intermediate maps. A nil value
// deletes the node and prunes empty ancestors. Caller holds mu.
func (s *MemoryStore) set(path string, value any) {
	segs := splitPath(path)
	if len(segs) == 0 {
		if m, ok := value.(map[string]any); ok {
			s.root = m
		} else {
			s.root = make(map[string]any)
		}
		return
	}
	if value == nil {
		s.remove(s.root, segs)
		return
	}
	cur := s.root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = deepCopy(value)
}

// remove deletes segs under m, pruning maps that become empty.
func (s *MemoryStore) remove(m map[string]any, segs []string) bool {
	if len(segs) == 1 {
		delete(m, segs[0])
		return len(m) == 0
	}
	child, ok := m[segs[0]].(map[string]any)
	if !ok {
		return false
	}
	if s.remove(child, segs[1:]) {
		delete(m, segs[0])
	}
	return len(m) == 0
}

// notify pushes fresh snapshots to every subscriber related to the
// changed path. Caller holds mu.
func (s *MemoryStore) notify(changed string) {
	for _, sub := range s.subs {
		if !related(sub.path, changed) {
			continue
		}
		v, ok := s.get(sub.path)
		sub.push(Event{Value: deepCopy(v), Exists: ok})
	}
}

// push replaces any pending event with the newer one.
func (sub *eventQueue) push(ev Event) {
	for {
		select {
		case sub.mailbox <- ev:
			return
		default:
			select {
			case <-sub.mailbox:
			default:
			}
		}
	}
}

func (sub *eventQueue) forward() {
	for {
		select {
		case <-sub.done:
			close(sub.out)
			return
		case ev := <-sub.mailbox:
			select {
			case sub.out <- ev:
			case <-sub.done:
				close(sub.out)
				return
			}
		}
	}
}

// Subscribe implements Store. The current snapshot is delivered first.
func (s *MemoryStore) Subscribe(ctx context.Context, path string) (<-chan Event, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, context.Canceled
	}
	sub := &eventQueue{
		path:    path,
		mailbox: make(chan Event, 1),
		out:     make(chan Event),
		done:    make(chan struct{}),
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = sub
	v, ok := s.get(path)
	sub.push(Event{Value: deepCopy(v), Exists: ok})
	s.mu.Unlock()

	go sub.forward()
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		close(sub.done)
	}()
	return sub.out, nil
}

// ReadOnce implements Store.
func (s *MemoryStore) ReadOnce(_ context.Context, path string) (Value, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.get(path)
	return deepCopy(v), ok, nil
}

// Write implements Store. A nil value removes the node.
func (s *MemoryStore) Write(_ context.Context, path string, value Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(path, value)
	s.notify(path)
	return nil
}

// Update implements Store: merge-writes children under path.
func (s *MemoryStore) Update(_ context.Context, path string, children map[string]Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range children {
		s.set(Join(path, key), value)
	}
	s.notify(path)
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(path, nil)
	s.notify(path)
	return nil
}

// Close implements Store. Existing subscriptions stop receiving events
// but remain open until their contexts are cancelled.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

package engine

import "sync"

// Slice identifies one logical slice of published engine state.
// Consumers subscribe to the slices they render and re-read state through
// the engine's accessors on notification.
type Slice int

const (
	SliceCycles Slice = iota
	SliceItems
	SliceLog
	SliceUnits
	SliceUsers
	SliceTimer
	SliceSettings
	SliceSync
)

// String returns the slice name for logs.
func (s Slice) String() string {
	switch s {
	case SliceCycles:
		return "cycles"
	case SliceItems:
		return "items"
	case SliceLog:
		return "log"
	case SliceUnits:
		return "units"
	case SliceUsers:
		return "users"
	case SliceTimer:
		return "timer"
	case SliceSettings:
		return "settings"
	case SliceSync:
		return "sync"
	default:
		return "unknown"
	}
}

// Notifier fans slice-change notifications out to subscribers. Sends
// never block: a subscriber with a full channel misses intermediate
// notifications but re-reads current state on the next one, so nothing
// is lost.
type Notifier struct {
	mu     sync.Mutex
	subs   map[int]*sliceSub
	nextID int
}

type sliceSub struct {
	mask map[Slice]bool // nil means all slices
	ch   chan Slice
}

func newNotifier() *Notifier {
	return &Notifier{subs: make(map[int]*sliceSub)}
}

// Subscribe registers interest in the given slices (none means all) and
// returns the notification channel plus a cancel func. The channel is
// closed on cancel.
func (n *Notifier) Subscribe(slices ...Slice) (<-chan Slice, func()) {
	var mask map[Slice]bool
	if len(slices) > 0 {
		mask = make(map[Slice]bool, len(slices))
		for _, s := range slices {
			mask[s] = true
		}
	}
	sub := &sliceSub{mask: mask, ch: make(chan Slice, 16)}

	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = sub
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		if _, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(sub.ch)
		}
		n.mu.Unlock()
	}
	return sub.ch, cancel
}

func (n *Notifier) publish(slices ...Slice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, sub := range n.subs {
		for _, s := range slices {
			if sub.mask != nil && !sub.mask[s] {
				continue
			}
			select {
			case sub.ch <- s:
			default:
			}
		}
	}
}

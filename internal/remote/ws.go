package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ErrStoreClosed is returned for operations on a closed or disconnected
// store.
var ErrStoreClosed = errors.New("remote store closed")

// writeTimeout bounds outbound frames so a stalled connection cannot
// wedge a caller holding no context deadline of its own.
const writeTimeout = 10 * time.Second

// WSStore is a Store backed by a websocket connection to a hub server.
//
// Each request carries a sequence id; the read loop routes "result"
// frames to the waiting caller and "snapshot" frames to the matching
// subscription queue. Transport failure is surfaced as an Event with Err
// on every open subscription and as ErrStoreClosed on later calls.
type WSStore struct {
	conn   *websocket.Conn
	logger *log.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan Frame
	subs    map[int64]*eventQueue
	err     error
	closed  chan struct{}
}

// Dial connects to a hub at url (ws:// or wss://, path /ws).
// If logger is nil, a default logger writing to stderr is used.
func Dial(ctx context.Context, url string, logger *log.Logger) (*WSStore, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial hub %s: %w", url, err)
	}
	conn.SetReadLimit(1 << 22)
	s := &WSStore{
		conn:    conn,
		logger:  logger,
		pending: make(map[int64]chan Frame),
		subs:    make(map[int64]*eventQueue),
		closed:  make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *WSStore) readLoop() {
	for {
		_, data, err := s.conn.Read(context.Background())
		if err != nil {
			s.fail(fmt.Errorf("hub connection lost: %w", err))
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Printf("WARNING: dropping malformed frame: %v", err)
			continue
		}
		s.dispatch(f)
	}
}

func (s *WSStore) dispatch(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch f.Op {
	case OpSnapshot:
		if sub, ok := s.subs[f.ID]; ok {
			sub.push(Event{Value: f.Value, Exists: f.Exists})
		}
	case OpResult:
		if ch, ok := s.pending[f.ID]; ok {
			delete(s.pending, f.ID)
			ch <- f
		}
	default:
		s.logger.Printf("WARNING: unknown frame op %q", f.Op)
	}
}

// fail marks the store broken and wakes every waiter and subscriber.
func (s *WSStore) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	s.err = err
	close(s.closed)
	for id, ch := range s.pending {
		delete(s.pending, id)
		ch <- Frame{Op: OpResult, ID: id, Error: err.Error()}
	}
	for _, sub := range s.subs {
		sub.push(Event{Err: err})
	}
}

func (s *WSStore) send(ctx context.Context, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send %s frame: %w", f.Op, err)
	}
	return nil
}

// request sends a frame and waits for its result.
func (s *WSStore) request(ctx context.Context, f Frame) (Frame, error) {
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return Frame{}, fmt.Errorf("%w: %v", ErrStoreClosed, err)
	}
	s.nextID++
	f.ID = s.nextID
	ch := make(chan Frame, 1)
	s.pending[f.ID] = ch
	s.mu.Unlock()

	if err := s.send(ctx, f); err != nil {
		s.mu.Lock()
		delete(s.pending, f.ID)
		s.mu.Unlock()
		return Frame{}, err
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return resp, fmt.Errorf("hub refused %s %s: %s", f.Op, f.Path, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, f.ID)
		s.mu.Unlock()
		return Frame{}, ctx.Err()
	}
}

// Subscribe implements Store.
func (s *WSStore) Subscribe(ctx context.Context, path string) (<-chan Event, error) {
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrStoreClosed, err)
	}
	s.nextID++
	id := s.nextID
	sub := &eventQueue{
		path:    path,
		mailbox: make(chan Event, 1),
		out:     make(chan Event),
		done:    make(chan struct{}),
	}
	s.subs[id] = sub
	s.mu.Unlock()

	if err := s.send(ctx, Frame{Op: OpSubscribe, ID: id, Path: path}); err != nil {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		return nil, err
	}

	go sub.forward()
	go func() {
		select {
		case <-ctx.Done():
		case <-s.closed:
		}
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		// Best effort; the hub also drops subscriptions on disconnect.
		_ = s.send(context.Background(), Frame{Op: OpUnsubscribe, ID: id})
		close(sub.done)
	}()
	return sub.out, nil
}

// ReadOnce implements Store.
func (s *WSStore) ReadOnce(ctx context.Context, path string) (Value, bool, error) {
	resp, err := s.request(ctx, Frame{Op: OpRead, Path: path})
	if err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Exists, nil
}

// Write implements Store.
func (s *WSStore) Write(ctx context.Context, path string, value Value) error {
	_, err := s.request(ctx, Frame{Op: OpWrite, Path: path, Value: value})
	return err
}

// Update implements Store.
func (s *WSStore) Update(ctx context.Context, path string, children map[string]Value) error {
	_, err := s.request(ctx, Frame{Op: OpUpdate, Path: path, Children: children})
	return err
}

// Delete implements Store.
func (s *WSStore) Delete(ctx context.Context, path string) error {
	_, err := s.request(ctx, Frame{Op: OpDelete, Path: path})
	return err
}

// Close implements Store.
func (s *WSStore) Close() error {
	err := s.conn.Close(websocket.StatusNormalClosure, "client closing")
	s.fail(errors.New("closed by client"))
	if err != nil && !errors.As(err, new(websocket.CloseError)) {
		return err
	}
	return nil
}

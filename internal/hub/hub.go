// Package hub provides the room hub: a server hosting the hierarchical
// room store over websocket for every device sharing a room.
//
// The hub owns a remote.MemoryStore tree and speaks the frame protocol in
// package remote: clients subscribe to subtrees, issue point reads and
// writes, and receive a snapshot frame for every change at or under a
// subscribed path. Slow clients are disconnected rather than allowed to
// block the tree.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"tipsync/internal/remote"
)

// sendTimeout bounds a single frame write to one client.
const sendTimeout = 5 * time.Second

// Server manages websocket clients and the shared room tree.
type Server struct {
	addr     string
	store    *remote.MemoryStore
	logger   *log.Logger
	listener net.Listener
	server   *http.Server

	clientsMu sync.Mutex
	clients   map[*client]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[int64]context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a hub server listening on addr (use ":0" for an ephemeral
// port). If store is nil a fresh empty tree is used; if logger is nil a
// default logger writing to stderr is used.
func New(addr string, store *remote.MemoryStore, logger *log.Logger) *Server {
	if store == nil {
		store = remote.NewMemoryStore()
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[hub] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    addr,
		store:   store,
		logger:  logger,
		clients: make(map[*client]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Store returns the hub's backing tree. Useful for seeding test fixtures
// and for colocated processes that skip the websocket hop.
func (s *Server) Store() *remote.MemoryStore {
	return s.store
}

// Start binds the listener and begins serving. Non-blocking; use URL()
// for the client endpoint and Stop() to shut down.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.server = &http.Server{Handler: mux}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Serve error: %v", err)
		}
	}()

	s.logger.Printf("Hub listening on %s", listener.Addr())
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// URL returns the websocket endpoint for clients.
func (s *Server) URL() string {
	return fmt.Sprintf("ws://%s/ws", s.Addr())
}

// Stop disconnects all clients and shuts the server down.
func (s *Server) Stop() error {
	s.logger.Println("Stopping hub")
	s.cancel()

	s.clientsMu.Lock()
	for c := range s.clients {
		c.cancel()
		_ = c.conn.Close(websocket.StatusGoingAway, "hub shutting down")
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Printf("Shutdown error: %v", err)
	}
	s.wg.Wait()
	s.logger.Println("Hub stopped")
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Devices connect from app-local origins, not browsers.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Printf("Accept error: %v", err)
		return
	}
	conn.SetReadLimit(1 << 22)

	ctx, cancel := context.WithCancel(s.ctx)
	c := &client{
		conn:   conn,
		subs:   make(map[int64]context.CancelFunc),
		ctx:    ctx,
		cancel: cancel,
	}

	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Printf("Client connected from %s (%d total)", r.RemoteAddr, count)

	defer func() {
		c.cancel()
		s.clientsMu.Lock()
		delete(s.clients, c)
		count := len(s.clients)
		s.clientsMu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (%d remaining)", count)
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var f remote.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Printf("WARNING: malformed frame from %s: %v", r.RemoteAddr, err)
			continue
		}
		s.handleFrame(c, f)
	}
}

func (s *Server) handleFrame(c *client, f remote.Frame) {
	switch f.Op {
	case remote.OpSubscribe:
		s.subscribe(c, f)

	case remote.OpUnsubscribe:
		c.mu.Lock()
		if cancel, ok := c.subs[f.ID]; ok {
			delete(c.subs, f.ID)
			cancel()
		}
		c.mu.Unlock()

	case remote.OpRead:
		value, exists, err := s.store.ReadOnce(c.ctx, f.Path)
		resp := remote.Frame{Op: remote.OpResult, ID: f.ID, Value: value, Exists: exists}
		if err != nil {
			resp.Error = err.Error()
		}
		s.sendFrame(c, resp)

	case remote.OpWrite:
		err := s.store.Write(c.ctx, f.Path, f.Value)
		s.sendFrame(c, resultFrame(f.ID, err))

	case remote.OpUpdate:
		err := s.store.Update(c.ctx, f.Path, f.Children)
		s.sendFrame(c, resultFrame(f.ID, err))

	case remote.OpDelete:
		err := s.store.Delete(c.ctx, f.Path)
		s.sendFrame(c, resultFrame(f.ID, err))

	default:
		s.sendFrame(c, remote.Frame{Op: remote.OpResult, ID: f.ID, Error: fmt.Sprintf("unknown op %q", f.Op)})
	}
}

func resultFrame(id int64, err error) remote.Frame {
	f := remote.Frame{Op: remote.OpResult, ID: id}
	if err != nil {
		f.Error = err.Error()
	}
	return f
}

// subscribe attaches the client to a subtree and forwards snapshots until
// the subscription or the client goes away.
func (s *Server) subscribe(c *client, f remote.Frame) {
	subCtx, cancel := context.WithCancel(c.ctx)

	events, err := s.store.Subscribe(subCtx, f.Path)
	if err != nil {
		cancel()
		s.sendFrame(c, resultFrame(f.ID, err))
		return
	}

	c.mu.Lock()
	if _, dup := c.subs[f.ID]; dup {
		c.mu.Unlock()
		cancel()
		s.sendFrame(c, resultFrame(f.ID, fmt.Errorf("subscription id %d already in use", f.ID)))
		return
	}
	c.subs[f.ID] = cancel
	c.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		for ev := range events {
			frame := remote.Frame{Op: remote.OpSnapshot, ID: f.ID, Value: ev.Value, Exists: ev.Exists}
			if !s.sendFrame(c, frame) {
				return
			}
		}
	}()
}

// sendFrame writes one frame to the client, disconnecting it on failure
// or timeout. Returns false when the client is gone.
func (s *Server) sendFrame(c *client, f remote.Frame) bool {
	data, err := json.Marshal(f)
	if err != nil {
		s.logger.Printf("WARNING: failed to encode %s frame: %v", f.Op, err)
		return true
	}

	ctx, cancel := context.WithTimeout(c.ctx, sendTimeout)
	defer cancel()

	c.writeMu.Lock()
	err = c.conn.Write(ctx, websocket.MessageText, data)
	c.writeMu.Unlock()

	if err != nil {
		// Slow or dead client; drop it rather than hold up the tree.
		c.cancel()
		return false
	}
	return true
}

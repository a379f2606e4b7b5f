// Package dashboard serves a local HTTP view of the ledger.
//
// The JSON API edits the ledger (create, edit, swipe, undo, sync) and a
// WebSocket endpoint streams every ledger event to open browser tabs, so a
// tab stays current while the daemon syncs in the background.
package dashboard

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
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeLedger carries a full LedgerView; sent on connect
	MessageTypeLedger MessageType = "ledger"

	// MessageTypeTransaction indicates a transaction was created, edited,
	// removed, restored or tombstoned
	MessageTypeTransaction MessageType = "transaction"

	// MessageTypeMerge indicates an inbound delta was applied
	MessageTypeMerge MessageType = "merge"

	// MessageTypeSyncComplete indicates a sync round trip completed
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeSyncFailed indicates a sync round trip failed
	MessageTypeSyncFailed MessageType = "sync_failed"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

const (
	eventQueue   = 100
	viewerQueue  = 32
	frameTimeout = 5 * time.Second
)

// viewer is one open browser tab. Frames queue in out and a per-viewer
// goroutine writes them, so one stalled tab cannot hold up the rest.
type viewer struct {
	conn *websocket.Conn
	out  chan []byte

	// Set by drop before out is closed
	code   websocket.StatusCode
	reason string
}

// Server streams ledger events to viewers and serves the API
type Server struct {
	addr     string
	listener net.Listener
	http     *http.Server

	mu      sync.Mutex
	viewers map[*viewer]struct{}
	stopped bool

	// Ledger events waiting to be fanned out
	broadcast chan Message
	snapshot  func() (Message, error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration
type Config struct {
	// Port to listen on (default: 8080, 0 picks a free port)
	Port int

	// Host to bind (default: 127.0.0.1)
	Host string

	// Logger for server activity (default: stderr with "[dashboard] " prefix)
	Logger *log.Logger
}

// DefaultConfig binds loopback on 8080.
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Host:   "127.0.0.1",
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer fills unset Config fields with the defaults.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Host == "" {
		config.Host = "127.0.0.1"
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      net.JoinHostPort(config.Host, fmt.Sprint(config.Port)),
		viewers:   make(map[*viewer]struct{}),
		broadcast: make(chan Message, eventQueue),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Handler returns the routes of the server: the API, /ws, /health and an
// index page. New viewers are greeted with api's ledger view.
func (s *Server) Handler(api *API) http.Handler {
	mux := http.NewServeMux()
	api.register(mux)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	s.snapshot = api.ledgerMessage
	return mux
}

// Start listens on the configured address and serves api until Stop.
func (s *Server) Start(api *API) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:           s.Handler(api),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go s.fanOut()
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on http://%s", ln.Addr())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Dashboard serve error: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every viewer and waits for the server's goroutines.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.stopped = true
	for v := range s.viewers {
		s.dropLocked(v, websocket.StatusGoingAway, "dashboard stopped")
	}
	s.mu.Unlock()
	s.cancel()

	var err error
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
		defer cancel()
		if serr := s.http.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("dashboard shutdown: %w", serr)
		}
	}
	s.wg.Wait()

	s.logger.Println("Dashboard stopped")
	return err
}

// Broadcast queues msg for every viewer. It never blocks; a full queue
// drops msg.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Printf("Event queue full, dropping %s event", msg.Type)
	}
}

func (s *Server) fanOut() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.broadcast:
			frame, err := encodeFrame(msg)
			if err != nil {
				s.logger.Printf("Failed to encode %s event: %v", msg.Type, err)
				continue
			}
			s.mu.Lock()
			for v := range s.viewers {
				select {
				case v.out <- frame:
				default:
					s.dropLocked(v, websocket.StatusPolicyViolation, "too slow")
				}
			}
			s.mu.Unlock()
		}
	}
}

func encodeFrame(msg Message) ([]byte, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return json.Marshal(msg)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	v := &viewer{conn: conn, out: make(chan []byte, viewerQueue)}
	if !s.join(v) {
		_ = conn.Close(websocket.StatusGoingAway, "dashboard stopped")
		return
	}
	go s.write(v)
	go s.read(v)
}

// join registers v with the ledger view as its first frame. Holding mu
// while taking the view keeps events from slipping in ahead of it.
func (s *Server) join(v *viewer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}

	if s.snapshot != nil {
		msg, err := s.snapshot()
		if err == nil {
			var frame []byte
			frame, err = encodeFrame(msg)
			if err == nil {
				v.out <- frame
			}
		}
		if err != nil {
			s.logger.Printf("Viewer joins without a ledger view: %v", err)
		}
	}

	s.viewers[v] = struct{}{}
	s.wg.Add(2)
	s.logger.Printf("Viewer connected (%d watching)", len(s.viewers))
	return true
}

// write sends v's frames until drop closes its queue, then closes the
// connection with the status drop chose.
func (s *Server) write(v *viewer) {
	defer s.wg.Done()
	broken := false
	for frame := range v.out {
		if broken {
			continue
		}
		ctx, cancel := context.WithTimeout(s.ctx, frameTimeout)
		err := v.conn.Write(ctx, websocket.MessageText, frame)
		cancel()
		if err != nil {
			broken = true
			s.drop(v, websocket.StatusInternalError, "write failed")
		}
	}
	_ = v.conn.Close(v.code, v.reason)
}

// read only watches for the tab going away; viewers send nothing we use.
func (s *Server) read(v *viewer) {
	defer s.wg.Done()
	for {
		if _, _, err := v.conn.Read(s.ctx); err != nil {
			s.drop(v, websocket.StatusNormalClosure, "")
			return
		}
	}
}

func (s *Server) drop(v *viewer, code websocket.StatusCode, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(v, code, reason)
}

func (s *Server) dropLocked(v *viewer, code websocket.StatusCode, reason string) {
	if _, ok := s.viewers[v]; !ok {
		return
	}
	delete(s.viewers, v)
	v.code, v.reason = code, reason
	close(v.out)
	if reason != "" {
		s.logger.Printf("Viewer dropped: %s (%d watching)", reason, len(s.viewers))
	} else {
		s.logger.Printf("Viewer left (%d watching)", len(s.viewers))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"viewers": s.Viewers(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>budgetsync</title></head>
<body>
  <h1>budgetsync</h1>
  <ul>
    <li>Ledger: <a href="/api/ledger">/api/ledger</a></li>
    <li>Live events: <code>ws://%s/ws</code></li>
    <li>Health: <a href="/health">/health</a></li>
  </ul>
</body>
</html>`, r.Host)
}

// Addr is the bound address once started, the configured one before.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Viewers counts the connected tabs.
func (s *Server) Viewers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}

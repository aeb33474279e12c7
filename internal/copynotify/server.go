// Package copynotify broadcasts copy/move dispatch-core progress events to
// connected WebSocket clients, one JSON message per copyengine.Notification,
// so a dashboard can follow a long-running operation live.
package copynotify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/copycore/vcscopy/internal/copyengine"
)

// Message is one broadcast event, the wire form of a copyengine.Notification
// plus the timestamp and operation ID it was raised under.
type Message struct {
	OpID      string                  `json:"op_id"`
	Path      string                  `json:"path"`
	Action    string                  `json:"action"`
	Arm       string                  `json:"arm"`
	Timestamp time.Time               `json:"timestamp"`
}

func actionString(a copyengine.NotifyAction) string {
	switch a {
	case copyengine.NotifyAdd:
		return "add"
	case copyengine.NotifyDelete:
		return "delete"
	case copyengine.NotifyCommitPostfix:
		return "commit"
	default:
		return "unknown"
	}
}

// Config holds server configuration.
type Config struct {
	Port   int
	Logger *log.Logger
}

func DefaultConfig() *Config {
	return &Config{Port: 7973, Logger: log.Default()}
}

// Server manages WebSocket connections and broadcasts copy/move progress.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("copynotify: listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{Handler: mux, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("copynotify server listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("copynotify server error: %v", err)
		}
	}()
	return nil
}

func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("copynotify: shutdown: %w", err)
	}
	s.wg.Wait()
	return nil
}

// NotifyFunc returns a copyengine.Ctx.Notify-compatible callback that
// broadcasts every notification tagged with opID, the wiring point
// cmd/vcscopy uses to stream progress to any connected dashboard.
func (s *Server) NotifyFunc(opID string) func(copyengine.Notification) {
	return func(n copyengine.Notification) {
		s.Broadcast(Message{
			OpID:      opID,
			Path:      n.Path,
			Action:    actionString(n.Action),
			Arm:       n.Arm,
			Timestamp: time.Now(),
		})
	}
}

func (s *Server) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Println("copynotify: broadcast channel full, dropping message")
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("copynotify: marshal: %v", err)
				continue
			}
			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.logger.Printf("copynotify: upgrade failed: %v", err)
		return
	}
	s.clientsMu.Lock()
	s.clients[conn] = true
	s.clientsMu.Unlock()
	go s.readLoop(conn)
}

func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if _, ok := s.clients[conn]; ok {
		delete(s.clients, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	n := len(s.clients)
	s.clientsMu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "clients": n})
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

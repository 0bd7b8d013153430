// Package status exposes the host telemetry surface over HTTP: a JSON
// snapshot endpoint, an operator command endpoint, and a WebSocket stream
// that pushes the snapshot periodically.
package status

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"flashforge-host/pkg/command"
	"flashforge-host/pkg/log"
)

// Producer returns one module's status snapshot. It must be safe to call
// from any goroutine.
type Producer func() interface{}

// Server serves the telemetry surface.
type Server struct {
	addr     string
	registry *command.Registry
	logger   *log.Logger

	mu        sync.RWMutex
	producers map[string]Producer

	httpServer *http.Server
	listener   net.Listener

	wsUpgrader websocket.Upgrader
	clientMu   sync.RWMutex
	clients    map[int64]*wsClient
	nextWSID   int64

	pushInterval time.Duration
	running      atomic.Bool
	done         chan struct{}
}

// New creates a Server. Commands submitted to the command endpoint run on
// reg; a nil reg disables the endpoint.
func New(addr string, reg *command.Registry) *Server {
	return &Server{
		addr:      addr,
		registry:  reg,
		logger:    log.GetLogger("status"),
		producers: make(map[string]Producer),
		clients:   make(map[int64]*wsClient),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pushInterval: time.Second,
		done:         make(chan struct{}),
	}
}

// RegisterProducer adds a named status producer to the snapshot.
func (s *Server) RegisterProducer(name string, fn Producer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.producers[name] = fn
}

// Snapshot collects all producers' current status.
func (s *Server) Snapshot() map[string]interface{} {
	s.mu.RLock()
	producers := make(map[string]Producer, len(s.producers))
	for name, fn := range s.producers {
		producers[name] = fn
	}
	s.mu.RUnlock()

	out := make(map[string]interface{}, len(producers))
	for name, fn := range producers {
		out[name] = fn()
	}
	return out
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	if s.running.Swap(true) {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/command", s.handleCommand)
	mux.HandleFunc("/websocket", s.handleWebSocket)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return err
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: mux}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("serve: %v", err)
		}
	}()

	s.logger.Info("listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down and disconnects all stream clients.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	close(s.done)

	s.clientMu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.clients = make(map[int64]*wsClient)
	s.clientMu.Unlock()

	return s.httpServer.Close()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]interface{}{
		"eventtime": time.Now().UnixMilli(),
		"status":    s.Snapshot(),
	})
}

type commandRequest struct {
	Command string `json:"command"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.registry == nil {
		http.Error(w, "command dispatch disabled", http.StatusServiceUnavailable)
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	var responses []string
	err := s.registry.Run(req.Command, func(msg string) {
		responses = append(responses, msg)
	})
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":     err.Error(),
			"responses": responses,
		})
		return
	}
	writeJSON(w, map[string]interface{}{"responses": responses})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

type wsClient struct {
	id       int64
	conn     *websocket.Conn
	send     chan interface{}
	done     chan struct{}
	doneOnce sync.Once
}

func (c *wsClient) close() {
	c.doneOnce.Do(func() {
		close(c.done)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade: %v", err)
		return
	}

	client := &wsClient{
		id:   atomic.AddInt64(&s.nextWSID, 1),
		conn: conn,
		send: make(chan interface{}, 16),
		done: make(chan struct{}),
	}

	s.clientMu.Lock()
	s.clients[client.id] = client
	s.clientMu.Unlock()
	s.logger.Info("stream client %d connected", client.id)

	go s.writePump(client)
	go s.pushLoop(client)

	// Drain incoming frames until the peer disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.removeClient(client)
}

func (s *Server) removeClient(client *wsClient) {
	s.clientMu.Lock()
	if _, ok := s.clients[client.id]; ok {
		delete(s.clients, client.id)
		client.close()
	}
	s.clientMu.Unlock()
	s.logger.Info("stream client %d disconnected", client.id)
}

func (s *Server) writePump(client *wsClient) {
	defer client.conn.Close()
	for {
		select {
		case msg := <-client.send:
			if err := client.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-client.done:
			return
		}
	}
}

func (s *Server) pushLoop(client *wsClient) {
	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()

	push := func() {
		msg := map[string]interface{}{
			"eventtime": time.Now().UnixMilli(),
			"status":    s.Snapshot(),
		}
		select {
		case client.send <- msg:
		default:
			// Slow consumer; drop the update.
		}
	}

	push()
	for {
		select {
		case <-ticker.C:
			push()
		case <-client.done:
			return
		case <-s.done:
			return
		}
	}
}

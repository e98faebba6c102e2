package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gateway-fm/cellbench/pkg/types"
)

const defaultStatusInterval = time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow requests without Origin header (same-origin or direct)
		}

		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if originURL.Host == r.Host {
			return true
		}
		return originURL.Hostname() == "localhost" || originURL.Hostname() == "127.0.0.1"
	},
}

// Message types pushed to WebSocket clients.
const (
	MessageStatus     = "status"
	MessageEvaluation = "evaluation"
)

// Message is the envelope of every WebSocket push.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// WebSocketServer pushes benchmark status and monitor evaluations to
// connected clients.
type WebSocketServer struct {
	api      BenchAPI
	interval time.Duration
	logger   *slog.Logger

	// Connected clients
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	// Evaluations waiting to be pushed
	broadcast chan types.Evaluation

	done     chan struct{}
	stopOnce sync.Once
}

// NewWebSocketServer creates a new WebSocket server. A non-positive
// interval selects the default of one second.
func NewWebSocketServer(api BenchAPI, interval time.Duration, logger *slog.Logger) *WebSocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = defaultStatusInterval
	}
	return &WebSocketServer{
		api:       api,
		interval:  interval,
		logger:    logger,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan types.Evaluation, 64),
		done:      make(chan struct{}),
	}
}

// Handler returns the WebSocket HTTP handler.
func (ws *WebSocketServer) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			ws.logger.Error("WebSocket upgrade failed", slog.String("error", err.Error()))
			return
		}

		ws.clientsMu.Lock()
		ws.clients[conn] = true
		total := len(ws.clients)
		ws.clientsMu.Unlock()

		ws.logger.Debug("WebSocket client connected", slog.Int("total_clients", total))

		defer func() {
			ws.clientsMu.Lock()
			delete(ws.clients, conn)
			total := len(ws.clients)
			ws.clientsMu.Unlock()
			conn.Close()

			ws.logger.Debug("WebSocket client disconnected", slog.Int("total_clients", total))
		}()

		// Read messages (mainly for ping/pong)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					ws.logger.Debug("WebSocket read error", slog.String("error", err.Error()))
				}
				return
			}
		}
	}
}

// PublishEvaluation queues e for every connected client. It never blocks;
// when the queue is full the evaluation is dropped, the next status push
// still carries it as LastEvaluation.
func (ws *WebSocketServer) PublishEvaluation(e types.Evaluation) {
	select {
	case ws.broadcast <- e:
	default:
		ws.logger.Debug("WebSocket evaluation queue full, dropping evaluation")
	}
}

// Start begins the broadcasting goroutine.
func (ws *WebSocketServer) Start() {
	go ws.broadcastLoop()
}

// Stop stops the WebSocket server. It is safe to call more than once.
func (ws *WebSocketServer) Stop() {
	ws.stopOnce.Do(func() {
		close(ws.done)

		ws.clientsMu.Lock()
		for conn := range ws.clients {
			conn.Close()
		}
		ws.clients = make(map[*websocket.Conn]bool)
		ws.clientsMu.Unlock()
	})
}

// broadcastLoop is the only writer to client connections.
func (ws *WebSocketServer) broadcastLoop() {
	ticker := time.NewTicker(ws.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ws.done:
			return
		case e := <-ws.broadcast:
			ws.send(Message{Type: MessageEvaluation, Data: e})
		case <-ticker.C:
			status := ws.api.Status()
			if status.Phase != types.PhaseIdle || status.StartedAt != nil {
				ws.send(Message{Type: MessageStatus, Data: status})
			}
		}
	}
}

// send writes msg to all connected clients.
func (ws *WebSocketServer) send(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		ws.logger.Error("Failed to marshal WebSocket message", slog.String("error", err.Error()))
		return
	}

	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()

	for conn := range ws.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			// Cleaned up by the read loop
			ws.logger.Debug("Failed to write to WebSocket", slog.String("error", err.Error()))
		}
	}
}

// ClientCount returns the number of connected clients.
func (ws *WebSocketServer) ClientCount() int {
	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()
	return len(ws.clients)
}

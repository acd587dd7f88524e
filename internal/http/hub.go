package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"speech-tone-service/internal/models"
	"speech-tone-service/internal/observability/logging"
)

// watchWriteWait bounds a single write to a watcher. A watcher that does not
// drain its socket within it is dropped.
const watchWriteWait = 5 * time.Second

// Hub fans outputs out to WebSocket watchers.
type Hub struct {
	writeWait  time.Duration
	clients    map[*websocket.Conn]bool
	broadcast  chan models.Message
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex
}

// NewHub creates a hub. Run must be called for it to deliver messages.
func NewHub() *Hub {
	return &Hub{
		writeWait:  watchWriteWait,
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan models.Message, 100),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run delivers broadcasts until ctx is done, then closes every client.
// It must be called at most once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	logger := logging.WithComponent("hub")
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			n := len(h.clients)
			h.mu.Unlock()
			logger.Debug().Int("clients", n).Msg("Watcher connected")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			logger.Debug().Int("clients", n).Msg("Watcher disconnected")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
				if err := conn.WriteJSON(msg); err != nil {
					logger.Warn().Err(err).Msg("Watcher write failed")
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Clients returns the number of connected watchers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues msg for every watcher. When the queue is full the message
// is dropped; watchers are a best-effort view.
func (h *Hub) Publish(_ context.Context, msg models.Message) error {
	select {
	case h.broadcast <- msg:
	default:
		logger := logging.WithComponent("hub")
		logger.Warn().Str("utteranceId", msg.ID).Msg("Watcher queue full, dropping output")
	}
	return nil
}

// serveWatch upgrades the request and registers the connection. Anything
// the client sends is discarded; a read error unregisters it.
func (h *Hub) serveWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger := logging.WithComponent("hub")
		logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

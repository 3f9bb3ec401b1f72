package audit

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/victorgomez09/sentinel/internal/auth/models"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 64
)

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	remote string
}

// Hub streams security events to connected websocket subscribers. A
// subscriber that cannot keep up loses events rather than slowing the
// publisher.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

var _ Publisher = (*Hub)(nil)

// NewHub creates a hub. checkOrigin may be nil to accept same-origin
// requests only.
func NewHub(logger *zap.Logger, checkOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Publish sends ev to every subscriber.
func (h *Hub) Publish(ev models.SecurityEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to encode security event", zap.String("event_id", ev.ID), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Debug("Dropping event for slow subscriber",
				zap.String("remote", c.remote),
				zap.String("event_id", ev.ID))
		}
	}
}

// ServeHTTP upgrades the request and streams events until either side closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	defer conn.Close()

	c := &client{conn: conn, send: make(chan []byte, sendBuffer), remote: r.RemoteAddr}
	if !h.register(c) {
		return
	}
	defer h.unregister(c)

	h.logger.Info("Event subscriber connected", zap.String("remote", c.remote))
	defer h.logger.Info("Event subscriber disconnected", zap.String("remote", c.remote))

	errChan := make(chan error, 2)
	go h.writePump(c, errChan)
	go h.readPump(c, errChan)

	// Wait for error or completion
	<-errChan
}

func (h *Hub) writePump(c *client, errChan chan error) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				errChan <- nil
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				errChan <- err
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				errChan <- err
				return
			}
		}
	}
}

// readPump discards client frames; it only detects the close.
func (h *Hub) readPump(c *client, errChan chan error) {
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			errChan <- err
			return
		}
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

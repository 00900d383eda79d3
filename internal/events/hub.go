package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"property-acquisition/internal/observability"
)

// HubConfig configures the live feed.
type HubConfig struct {
	// SendBuffer is the per-client queue length. A client whose queue is
	// full is dropped.
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration
}

// DefaultHubConfig returns default live feed settings.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SendBuffer:   32,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
	}
}

// ErrHubClosed is returned after Close.
var ErrHubClosed = errors.New("hub closed")

type client struct {
	conn   *websocket.Conn
	remote string
	send   chan []byte
	once   sync.Once
}

func (c *client) stop() {
	c.once.Do(func() { close(c.send) })
}

// write sends one frame under a fresh write deadline.
func (c *client) write(messageType int, data []byte, timeout time.Duration) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// Hub broadcasts events to WebSocket clients.
type Hub struct {
	config   HubConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewHub creates a hub. A nil config uses DefaultHubConfig.
func NewHub(config *HubConfig, logger *slog.Logger) *Hub {
	cfg := DefaultHubConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		config: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger.With("component", "hub"),
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) Name() string { return "websocket" }

// ServeWS upgrades the request and streams events until the client
// disconnects or the hub closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, remote: r.RemoteAddr, send: make(chan []byte, h.config.SendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		if err := conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")); err != nil {
			h.logger.Debug("websocket close frame failed", "remote", r.RemoteAddr, "error", err)
		}
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.wg.Add(2)
	h.mu.Unlock()

	observability.SetStreamClients(n)
	h.logger.Debug("client connected", "remote", r.RemoteAddr, "clients", n)

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Publish queues e for every client. Clients with a full queue are
// dropped instead of blocking the publisher.
func (h *Hub) Publish(_ context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("dropping slow client", "remote", c.remote)
			h.removeLocked(c)
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and waits for their goroutines.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
	h.mu.Unlock()

	h.wg.Wait()
	return nil
}

// removeLocked unregisters c. Caller holds h.mu.
func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.stop()
	observability.SetStreamClients(len(h.clients))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

func (h *Hub) writeLoop(c *client) {
	defer h.wg.Done()
	defer c.conn.Close()

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				if err := c.write(websocket.CloseMessage, closeMsg, h.config.WriteTimeout); err != nil {
					h.logger.Debug("websocket close frame failed", "remote", c.remote, "error", err)
				}
				return
			}
			if err := c.write(websocket.TextMessage, msg, h.config.WriteTimeout); err != nil {
				h.logger.Debug("websocket write failed", "remote", c.remote, "error", err)
				h.remove(c)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil, h.config.WriteTimeout); err != nil {
				h.logger.Debug("websocket ping failed", "remote", c.remote, "error", err)
				h.remove(c)
				return
			}
		}
	}
}

// readLoop discards client messages and detects disconnects.
func (h *Hub) readLoop(c *client) {
	defer h.wg.Done()
	defer h.remove(c)

	c.conn.SetReadLimit(4096)
	if err := c.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

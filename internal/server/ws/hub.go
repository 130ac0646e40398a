// Package ws broadcasts reconciled marketplace events to WebSocket
// subscribers.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/castmarket/fidmarket/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds incoming control messages.
	maxMessageSize = 1024

	// sendBufferSize is the per-client outgoing buffer. A client that falls
	// this far behind is dropped.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// eventFrame is the JSON shape broadcast for every reconciled event.
type eventFrame struct {
	Type         string `json:"type"`
	Fid          uint64 `json:"fid"`
	TxHash       string `json:"tx_hash"`
	Counterparty string `json:"counterparty,omitempty"`
	AmountWei    string `json:"amount_wei,omitempty"`
	Deadline     uint64 `json:"deadline,omitempty"`
	At           string `json:"at"`
}

// client is one connected subscriber.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans reconciled events out to every connected WebSocket client. It
// implements domain.EventPublisher; a full client buffer drops that client
// rather than blocking the reconciler.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  *slog.Logger
}

var _ domain.EventPublisher = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger,
	}
}

// Publish serializes the event and queues it to every client. Slow clients
// are disconnected.
func (h *Hub) Publish(ctx context.Context, ev domain.MarketEvent) {
	frame := eventFrame{
		Type:         string(ev.Kind),
		Fid:          ev.Fid,
		TxHash:       ev.TxHash,
		Counterparty: ev.Counterparty(),
		Deadline:     ev.Deadline,
		At:           time.Now().UTC().Format(time.RFC3339),
	}
	if ev.Amount != nil {
		frame.AmountWei = ev.Amount.Text(10)
	}

	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.ErrorContext(ctx, "ws: marshal event frame",
			slog.String("error", err.Error()),
		)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Buffer full; the write pump will notice the closed channel.
			go h.drop(c)
		}
	}
}

// HandleWS upgrades the request and runs the client's pumps.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "ws: upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.InfoContext(r.Context(), "ws: client connected",
		slog.String("remote_addr", r.RemoteAddr),
		slog.Int("clients", count),
	)

	go c.writePump()
	go c.readPump()
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
}

// readPump discards incoming messages and keeps the pong deadline fresh.
// The feed is one-way; clients only listen.
func (c *client) readPump() {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump drains the send buffer and pings on an interval.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Package hub fans live device state and alerts out to websocket viewers.
//
// Every message is a JSON object {"type": "state"|"alert", "payload": ...}.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/CJhunterxv/smartwater/shared/alerting"
	"github.com/CJhunterxv/smartwater/shared/device"
)

// StatePayload is the websocket shape of a device.State; it matches the
// data object of the status endpoint.
type StatePayload struct {
	PumpState      bool    `json:"pumpState"`
	BuzzerState    bool    `json:"buzzerState"`
	WaterDetected  bool    `json:"waterDetected"`
	DistanceCM     float64 `json:"distanceCM"`
	ManualOverride bool    `json:"manualOverride"`
	LastUpdate     string  `json:"lastUpdate"`
}

func NewStatePayload(s device.State) StatePayload {
	return StatePayload{
		PumpState:      s.PumpOn,
		BuzzerState:    s.BuzzerOn,
		WaterDetected:  s.WaterDetected,
		DistanceCM:     s.DistanceCM,
		ManualOverride: s.ManualOverride,
		LastUpdate:     device.FormatTime(s.ObservedAt),
	}
}

type message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub maintains the set of active clients and broadcasts messages.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{} // closed when Run returns

	mu       sync.RWMutex // guards clients for Len
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New returns a Hub. Call Run before serving clients. logger may be nil.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Viewers are served from other origins; CORS is enforced by the
			// HTTP layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Run processes registrations and broadcasts until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("websocket client registered", "remote", c.conn.RemoteAddr().String())

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.logger.Info("websocket client unregistered", "remote", c.conn.RemoteAddr().String())
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer: drop it rather than stall every viewer.
					h.logger.Warn("websocket client send buffer full, removing", "remote", c.conn.RemoteAddr().String())
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and attaches the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	c := &Client{hub: h, conn: conn, send: make(chan []byte, 16)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// BroadcastState sends a state message to every client.
func (h *Hub) BroadcastState(ctx context.Context, s device.State) error {
	return h.send(ctx, "state", NewStatePayload(s))
}

// BroadcastAlert sends an alert message to every client.
func (h *Hub) BroadcastAlert(ctx context.Context, a alerting.Alert) error {
	return h.send(ctx, "alert", a)
}

// ObserveState lets the hub observe the poll cycle.
func (h *Hub) ObserveState(ctx context.Context, s device.State) error {
	return h.BroadcastState(ctx, s)
}

// PublishAlert lets the hub receive dispatched alerts.
func (h *Hub) PublishAlert(ctx context.Context, a alerting.Alert) error {
	return h.BroadcastAlert(ctx, a)
}

func (h *Hub) send(ctx context.Context, typ string, payload any) error {
	b, err := json.Marshal(message{Type: typ, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", typ, err)
	}
	select {
	case h.broadcast <- b:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

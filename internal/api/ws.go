package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"crashguard/internal/model"
)

// Hub pushes alerts and pattern matches to websocket subscribers. Slow or
// dead clients are dropped on the first failed write; subscribers are
// expected to reconnect and resync via /alerts.
type Hub struct {
	upgrader   websocket.Upgrader
	logger     *slog.Logger
	maxClients int

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	closed  bool
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:     logger,
		maxClients: 100,
		clients:    make(map[*websocket.Conn]bool),
	}
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	count := len(h.clients)
	closed := h.closed
	h.mu.Unlock()
	if closed || count >= h.maxClients {
		http.Error(w, "too many subscribers", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("websocket upgrade error", "err", err)
		}
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	// Reader goroutine exists only to notice disconnects; inbound
	// messages are ignored.
	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			_ = conn.Close()
		}()
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// HandleAlert implements the dispatcher handler signature; every dispatched
// alert is pushed to all subscribers.
func (h *Hub) HandleAlert(alert model.Alert) error {
	h.broadcast(map[string]any{
		"type": "alert",
		"data": alert,
	})
	return nil
}

// NotifyPattern pushes a pattern match envelope.
func (h *Hub) NotifyPattern(m model.PatternMatch) {
	h.broadcast(map[string]any{
		"type": "pattern",
		"data": m,
	})
}

func (h *Hub) broadcast(payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	var failed []*websocket.Conn
	for _, c := range conns {
		_ = c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			_ = c.Close()
			failed = append(failed, c)
		}
	}
	if len(failed) > 0 {
		h.mu.Lock()
		for _, c := range failed {
			delete(h.clients, c)
		}
		h.mu.Unlock()
	}
}

// Close disconnects all subscribers and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.clients = make(map[*websocket.Conn]bool)
	h.mu.Unlock()
	for _, c := range conns {
		_ = c.SetWriteDeadline(time.Now().Add(2 * time.Second))
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.Close()
	}
}

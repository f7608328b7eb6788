// Package notify pushes reminder notifications to connected frontends over
// WebSocket.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Event is one notification pushed to a subscriber.
type Event struct {
	Type       string `json:"type"`
	ReminderID int64  `json:"reminder_id,omitempty"`
	Content    string `json:"content"`
	At         string `json:"at"`
}

// Hub tracks active WebSocket subscriptions per user.
type Hub struct {
	mu   sync.RWMutex
	subs map[int64]map[*websocket.Conn]struct{}
}

// NewHub creates an empty notification hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int64]map[*websocket.Conn]struct{})}
}

// Register adds a subscription for a user.
func (h *Hub) Register(userID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[userID]; !ok {
		h.subs[userID] = make(map[*websocket.Conn]struct{})
	}
	h.subs[userID][conn] = struct{}{}
	slog.Info("Notification subscriber registered", "user_id", userID)
}

// Unregister removes a subscription for a user.
func (h *Hub) Unregister(userID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.subs[userID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.subs, userID)
		}
	}
}

// SubscriberCount returns the number of active connections for a user.
func (h *Hub) SubscriberCount(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// NotifyReminder broadcasts a fired reminder to every connection the user
// holds. Dead connections are dropped silently; delivery is best effort.
func (h *Hub) NotifyReminder(userID int64, reminderID int64, content string) {
	h.broadcast(userID, Event{
		Type:       "reminder",
		ReminderID: reminderID,
		Content:    content,
		At:         time.Now().Format(time.RFC3339),
	})
}

func (h *Hub) broadcast(userID int64, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("Failed to marshal notification", "error", err)
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.subs[userID]))
	for conn := range h.subs[userID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := conn.Write(ctx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			slog.Debug("Notification write failed, dropping subscriber", "user_id", userID, "error", err)
			h.Unregister(userID, conn)
		}
	}
	slog.Info("Notification broadcast", "user_id", userID, "type", ev.Type, "subscribers", len(conns))
}

package notify

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// UserResolver resolves a user name to its numeric ID. The SQLite repository
// satisfies it.
type UserResolver interface {
	GetUserIDByName(ctx context.Context, name string) (int64, error)
}

// Handler upgrades subscription requests to WebSocket connections.
type Handler struct {
	hub   *Hub
	users UserResolver
}

// NewHandler creates a WebSocket subscription handler.
func NewHandler(hub *Hub, users UserResolver) *Handler {
	return &Handler{hub: hub, users: users}
}

// ServeHTTP handles GET /ws/notifications?user_name=... The connection is
// held open until the client disconnects; reminders fired for the user are
// pushed as JSON events.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("user_name")
	if name == "" {
		http.Error(w, `{"error": "user_name is required"}`, http.StatusBadRequest)
		return
	}
	userID, err := h.users.GetUserIDByName(r.Context(), name)
	if err != nil {
		http.Error(w, `{"error": "failed to resolve user"}`, http.StatusInternalServerError)
		return
	}
	if userID == 0 {
		http.Error(w, `{"error": "user not found"}`, http.StatusNotFound)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept notification WebSocket", "error", err, "user", name)
		return
	}
	defer func() {
		_ = ws.Close(websocket.StatusNormalClosure, "subscription ended")
	}()

	h.hub.Register(userID, ws)
	defer h.hub.Unregister(userID, ws)
	slog.Info("Notification subscription opened", "user", name, "user_id", userID)

	// Drain inbound frames until the peer goes away. Subscribers only
	// receive; anything they send is ignored.
	ctx := r.Context()
	for {
		if _, _, err := ws.Read(ctx); err != nil {
			slog.Debug("Notification subscription closed", "user_id", userID, "error", err)
			return
		}
	}
}

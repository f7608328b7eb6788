// Package api provides HTTP handlers for the companion API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/elderlink/companion/internal/chat"
	"github.com/elderlink/companion/internal/notify"
)

// Handler provides common handler utilities.
type Handler struct {
	svc   *chat.Service
	hub   *notify.Hub
	users notify.UserResolver
	ws    http.Handler
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(svc *chat.Service, hub *notify.Hub, users notify.UserResolver, ws http.Handler) *Handler {
	return &Handler{
		svc:   svc,
		hub:   hub,
		users: users,
		ws:    ws,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// writeError maps pipeline errors to HTTP statuses: bad input is 400, an
// unknown user 404, a completion-endpoint failure 502, anything else 500.
func writeError(w http.ResponseWriter, err error) {
	var upstream *chat.UpstreamError
	switch {
	case errors.Is(err, chat.ErrUserNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chat.ErrUserExists):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrEmptyMessageList),
		errors.Is(err, chat.ErrEmptyUserName):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &upstream):
		Error(w, http.StatusBadGateway, err.Error())
	default:
		Error(w, http.StatusInternalServerError, err.Error())
	}
}

package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/elderlink/companion/internal/chat"
	"github.com/elderlink/companion/internal/domain"
)

// RegisterRoutes mounts every API endpoint on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Root)
	r.Get("/users", h.Users)
	r.Post("/users", h.CreateUser)
	r.Post("/chat", h.Chat)
	r.Post("/end", h.End)
	r.Get("/conversation/files/{userName}", h.ConversationFiles)
	r.Get("/reminders/{userName}", h.Reminders)
	r.Post("/reminder/notify", h.NotifyReminder)
	r.Get("/ws/notifications", h.ws.ServeHTTP)
}

// Root describes the service.
func (h *Handler) Root(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"service": "老年人情感陪护对话API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"/users": "GET - 获取用户列表",
			"/chat":  "POST - 发送消息",
			"/end":   "POST - 结束对话并保存",
		},
	})
}

// Users lists all registered user names.
func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.Users(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if users == nil {
		users = []string{}
	}
	JSON(w, http.StatusOK, map[string][]string{"users": users})
}

type createUserRequest struct {
	UserName        string `json:"user_name"`
	Age             int    `json:"age,omitempty"`
	Gender          string `json:"gender,omitempty"`
	Hobbies         string `json:"hobbies,omitempty"`
	LivingSituation string `json:"living_situation,omitempty"`
}

// CreateUser registers a user. The users table starts empty on a fresh
// deployment; every other endpoint 404s until the user is registered here.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	profile := &domain.Profile{
		Name:            req.UserName,
		Age:             req.Age,
		Gender:          req.Gender,
		Hobbies:         req.Hobbies,
		LivingSituation: req.LivingSituation,
	}
	id, err := h.svc.RegisterUser(r.Context(), req.UserName, profile)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"user_id": id,
	})
}

// Chat handles one conversation turn.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := h.svc.Chat(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// End finalizes a conversation.
func (h *Handler) End(w http.ResponseWriter, r *http.Request) {
	var req chat.EndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := h.svc.End(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

type fileEntry struct {
	FileID       string `json:"file_id"`
	ModifiedTime string `json:"modified_time"`
}

// ConversationFiles lists a user's transcript files, newest first.
func (h *Handler) ConversationFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.svc.ConversationFiles(r.Context(), pathParam(r, "userName"))
	if err != nil {
		writeError(w, err)
		return
	}
	entries := make([]fileEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, fileEntry{
			FileID:       f.ID,
			ModifiedTime: f.Modified.Format("2006-01-02 15:04:05"),
		})
	}
	JSON(w, http.StatusOK, map[string][]fileEntry{"files": entries})
}

// Reminders lists a user's reminders.
func (h *Handler) Reminders(w http.ResponseWriter, r *http.Request) {
	reminders, err := h.svc.Reminders(r.Context(), pathParam(r, "userName"))
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"reminders": reminders})
}

type reminderNotifyRequest struct {
	UserName   string `json:"user_name"`
	Content    string `json:"content"`
	ReminderID string `json:"reminder_id"`
}

// NotifyReminder pushes a fired reminder to the user's connected frontends.
// Kept for external dispatchers; the built-in dispatcher pushes directly.
func (h *Handler) NotifyReminder(w http.ResponseWriter, r *http.Request) {
	var req reminderNotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userID, err := h.users.GetUserIDByName(r.Context(), req.UserName)
	if err != nil {
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	if userID == 0 {
		Error(w, http.StatusNotFound, "user not found: "+req.UserName)
		return
	}

	reminderID, _ := strconv.ParseInt(req.ReminderID, 10, 64)
	h.hub.NotifyReminder(userID, reminderID, req.Content)
	JSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "提醒通知已发送",
	})
}

// pathParam returns a decoded URL path parameter; user names are routinely
// non-ASCII and arrive percent-encoded.
func pathParam(r *http.Request, key string) string {
	value := chi.URLParam(r, key)
	if decoded, err := url.PathUnescape(value); err == nil {
		return decoded
	}
	return value
}

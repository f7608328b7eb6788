package chat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/elderlink/companion/internal/domain"
	"github.com/elderlink/companion/internal/health"
	"github.com/elderlink/companion/internal/reminder"
	"github.com/elderlink/companion/internal/session"
	"github.com/elderlink/companion/internal/store"
	"github.com/elderlink/companion/internal/transcript"
)

const (
	// reminderAck is the fixed reply for turns that set a reminder.
	reminderAck = "我记住了，到时间提醒您。"
	// endMessage confirms a finalized session.
	endMessage = "对话已保存，数据已更新"

	endTimeLayout = "2006-01-02_15-04-05"
)

// Config wires the turn orchestrator's collaborators.
type Config struct {
	Repo        store.Repository
	Transcripts *transcript.Store
	Sessions    *session.Registry
	Classify    transcript.NeedsFunc
	Router      *Router
	Reminders   *reminder.Manager
	Health      *health.Logger
	Logger      *slog.Logger
}

// Service runs the per-turn pipeline and session finalization.
type Service struct {
	repo        store.Repository
	transcripts *transcript.Store
	sessions    *session.Registry
	classify    transcript.NeedsFunc
	router      *Router
	reminders   *reminder.Manager
	health      *health.Logger
	logger      *slog.Logger

	now func() time.Time
}

// NewService builds the orchestrator.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	classify := cfg.Classify
	if classify == nil {
		classify = func(string) []string { return nil }
	}
	return &Service{
		repo:        cfg.Repo,
		transcripts: cfg.Transcripts,
		sessions:    cfg.Sessions,
		classify:    classify,
		router:      cfg.Router,
		reminders:   cfg.Reminders,
		health:      cfg.Health,
		logger:      logger,
		now:         time.Now,
	}
}

// Chat processes one inbound turn:
//
//  1. validate and resolve the user,
//  2. attach or create the live transcript and durably append the user turn,
//  3. push detected emotional needs to the profile (best effort),
//  4. register a reminder when the turn sets one, answering with the fixed
//     acknowledgment,
//  5. otherwise route to retrieval or the model,
//  6. append the assistant turn and reply.
//
// The whole sequence runs inside the identity's critical section, so a
// double-submitted turn cannot race the registry or interleave appends.
func (s *Service) Chat(ctx context.Context, req *Request) (*Response, error) {
	started := s.now()

	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}

	userID, err := s.repo.GetUserIDByName(ctx, req.UserName)
	if err != nil {
		return nil, &PersistError{Op: "resolve user", Err: err}
	}
	if userID == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, req.UserName)
	}

	release := s.sessions.Acquire(req.UserName)
	defer release()

	userDir := s.transcripts.UserDir(req.UserName, userID)
	path, err := s.sessions.AttachOrCreate(s.transcripts, req.UserName, userDir, req.ConversationFileID, req.ConversationHistory)
	if err != nil {
		return nil, &PersistError{Op: "attach transcript", Err: err}
	}

	needs, err := s.transcripts.Append(path, domain.RoleUser, message)
	if err != nil {
		return nil, &PersistError{Op: "append user turn", Err: err}
	}
	fileID := filepath.Base(path)

	if len(needs) > 0 {
		if err := s.repo.UpdateEmotionalNeeds(ctx, userID, needs); err != nil {
			s.logger.Warn("Emotional-needs update failed", "user", req.UserName, "error", err)
		}
	}

	reply, source, err := s.answer(ctx, req, userID, message, needs, path)
	if err != nil {
		return nil, err
	}

	if _, err := s.transcripts.Append(path, domain.RoleAssistant, reply); err != nil {
		return nil, &PersistError{Op: "append assistant turn", Err: err}
	}

	if needs == nil {
		needs = []string{}
	}
	return &Response{
		Success:            true,
		Response:           reply,
		Source:             source,
		EmotionalNeeds:     needs,
		ResponseTime:       s.now().Sub(started).Seconds(),
		ConversationFileID: fileID,
	}, nil
}

// answer resolves the reply text for one turn. Reminder-setting turns are
// registered and acknowledged with the fixed text; everything else goes
// through the answer router.
func (s *Service) answer(ctx context.Context, req *Request, userID int64, message string, needs []string, path string) (string, string, error) {
	cleaned := reminder.StripImageMarker(message)
	if ext := reminder.Extract(cleaned, s.now()); ext != nil {
		if _, err := s.reminders.Register(ctx, userID, ext); err != nil {
			s.logger.Warn("Reminder registration failed", "user", req.UserName, "error", err)
		} else {
			s.logger.Info("Reminder registered", "user", req.UserName, "time", ext.Time, "content", ext.Content)
			return reminderAck, SourceLLM, nil
		}
	}

	ans, err := s.router.Route(ctx, RouteInput{
		UserName:     req.UserName,
		Message:      message,
		Needs:        needs,
		History:      s.historyFor(req, path, message),
		RAGEnabled:   req.ragEnabled(),
		RAGThreshold: req.ragThreshold(),
		Sampling:     req.sampling(),
		ImageBase64:  req.ImageBase64,
	})
	if err != nil {
		return "", "", err
	}
	return ans.Text, ans.Source, nil
}

// historyFor prefers the caller-held window; without one it reloads the live
// transcript, dropping the just-appended user turn so it is not fed to the
// model twice.
func (s *Service) historyFor(req *Request, path, message string) []domain.Turn {
	if len(req.ConversationHistory) > 0 {
		return req.ConversationHistory
	}
	turns, err := s.transcripts.ReadAll(path)
	if err != nil {
		s.logger.Warn("History reload failed", "user", req.UserName, "error", err)
		return nil
	}
	if n := len(turns); n > 0 && turns[n-1].Role == domain.RoleUser && turns[n-1].Content == message {
		turns = turns[:n-1]
	}
	return turns
}

// End finalizes a session from the caller-held message list:
//
//  1. recompute emotional needs over every user turn, push the deduplicated
//     set to the profile and the raw sequence to the needs log,
//  2. persist the transcript: a live server-side file is authoritative and is
//     not rewritten; without one the full list is synthesized to a new file,
//  3. hand the finalized path to the health pipeline (best effort),
//  4. evict the live binding.
//
// Steps 1–2 decide success; health extraction only warns.
func (s *Service) End(ctx context.Context, req *EndRequest) (*EndResponse, error) {
	if len(req.Messages) == 0 {
		return nil, ErrEmptyMessageList
	}

	userID, err := s.repo.GetUserIDByName(ctx, req.UserName)
	if err != nil {
		return nil, &PersistError{Op: "resolve user", Err: err}
	}
	if userID == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, req.UserName)
	}

	release := s.sessions.Acquire(req.UserName)
	defer release()

	endAt := s.now()
	endTime := endAt.Format(endTimeLayout)

	var raw []string
	for _, m := range req.Messages {
		if m.IsUser() {
			raw = append(raw, s.classify(m.Content)...)
		}
	}
	if unique := dedupe(raw); len(unique) > 0 {
		if err := s.repo.UpdateEmotionalNeeds(ctx, userID, unique); err != nil {
			return nil, &PersistError{Op: "update emotional needs", Err: err}
		}
		if err := s.repo.LogEmotionalNeeds(ctx, userID, raw, endTime); err != nil {
			return nil, &PersistError{Op: "log emotional needs", Err: err}
		}
	}

	userDir := s.transcripts.UserDir(req.UserName, userID)
	var finalPath string
	if h, ok := s.sessions.Current(req.UserName); ok {
		s.sessions.Evict(req.UserName)
		if _, err := os.Stat(h.Path); err == nil {
			finalPath = h.Path
			s.logger.Info("Finalizing live transcript", "user", req.UserName, "path", finalPath)
		}
	}
	if finalPath == "" {
		finalPath = s.transcripts.NewPath(userDir, endAt)
		if err := s.transcripts.WriteAnnotated(finalPath, req.Messages); err != nil {
			return nil, &PersistError{Op: "write transcript", Err: err}
		}
		s.logger.Warn("No live transcript, synthesized from message list", "user", req.UserName, "path", finalPath)
	}

	if err := s.health.Run(ctx, userID, finalPath); err != nil {
		s.logger.Warn("Health extraction failed", "user", req.UserName, "path", finalPath, "error", err)
	}

	s.sessions.Evict(req.UserName)

	return &EndResponse{
		Success:             true,
		Message:             endMessage,
		ConversationEndTime: endTime,
	}, nil
}

// ConversationFiles lists the user's transcript files, newest first.
func (s *Service) ConversationFiles(ctx context.Context, userName string) ([]transcript.FileInfo, error) {
	userID, err := s.repo.GetUserIDByName(ctx, userName)
	if err != nil {
		return nil, &PersistError{Op: "resolve user", Err: err}
	}
	if userID == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userName)
	}
	return s.transcripts.ListFiles(s.transcripts.UserDir(userName, userID))
}

// Reminders lists the user's reminders.
func (s *Service) Reminders(ctx context.Context, userName string) ([]*domain.Reminder, error) {
	userID, err := s.repo.GetUserIDByName(ctx, userName)
	if err != nil {
		return nil, &PersistError{Op: "resolve user", Err: err}
	}
	if userID == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userName)
	}
	return s.reminders.List(ctx, userID)
}

// Users lists all registered user names.
func (s *Service) Users(ctx context.Context) ([]string, error) {
	return s.repo.ListUserNames(ctx)
}

// RegisterUser creates a user with an optional initial profile and returns
// the assigned ID. Every other operation requires the user to exist first.
func (s *Service) RegisterUser(ctx context.Context, name string, profile *domain.Profile) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, ErrEmptyUserName
	}
	existing, err := s.repo.GetUserIDByName(ctx, name)
	if err != nil {
		return 0, &PersistError{Op: "resolve user", Err: err}
	}
	if existing != 0 {
		return 0, fmt.Errorf("%w: %s", ErrUserExists, name)
	}
	id, err := s.repo.CreateUser(ctx, name, profile)
	if err != nil {
		return 0, &PersistError{Op: "create user", Err: err}
	}
	s.logger.Info("User registered", "user", name, "user_id", id)
	return id, nil
}

func dedupe(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	var out []string
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

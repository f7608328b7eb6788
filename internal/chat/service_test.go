package chat

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/elderlink/companion/internal/domain"
	"github.com/elderlink/companion/internal/health"
	"github.com/elderlink/companion/internal/rag"
	"github.com/elderlink/companion/internal/reminder"
	"github.com/elderlink/companion/internal/session"
	"github.com/elderlink/companion/internal/transcript"
)

// fakeRepo is an in-memory Repository for orchestrator tests.
type fakeRepo struct {
	mu sync.Mutex

	users   map[string]int64
	profile *domain.Profile
	curated []domain.CuratedAnswer

	updatedNeeds [][]string
	loggedNeeds  []string
	loggedEnd    string
	healthNote   string
	healthLogs   []domain.HealthLogEntry
	reminders    []*domain.Reminder

	failUpdateNeeds bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: map[string]int64{"张三": 7}}
}

func (f *fakeRepo) GetUserIDByName(_ context.Context, name string) (int64, error) {
	return f.users[name], nil
}

func (f *fakeRepo) CreateUser(_ context.Context, name string, _ *domain.Profile) (int64, error) {
	id := int64(len(f.users) + 1)
	f.users[name] = id
	return id, nil
}

func (f *fakeRepo) ListUserNames(context.Context) ([]string, error) {
	names := make([]string, 0, len(f.users))
	for n := range f.users {
		names = append(names, n)
	}
	return names, nil
}

func (f *fakeRepo) GetProfileByName(context.Context, string) (*domain.Profile, error) {
	return f.profile, nil
}

func (f *fakeRepo) UpdateEmotionalNeeds(_ context.Context, _ int64, needs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdateNeeds {
		return errors.New("disk full")
	}
	f.updatedNeeds = append(f.updatedNeeds, append([]string(nil), needs...))
	return nil
}

func (f *fakeRepo) LogEmotionalNeeds(_ context.Context, _ int64, needs []string, endTime string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedNeeds = append(f.loggedNeeds, needs...)
	f.loggedEnd = endTime
	return nil
}

func (f *fakeRepo) UpdateHealth(_ context.Context, _ int64, health string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthNote = health
	return nil
}

func (f *fakeRepo) SaveHealthLogs(_ context.Context, _ int64, entries []domain.HealthLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthLogs = append(f.healthLogs, entries...)
	return nil
}

func (f *fakeRepo) AddReminder(_ context.Context, r *domain.Reminder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = int64(len(f.reminders) + 1)
	f.reminders = append(f.reminders, r)
	return nil
}

func (f *fakeRepo) ListReminders(_ context.Context, userID int64) ([]*domain.Reminder, error) {
	var out []*domain.Reminder
	for _, r := range f.reminders {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepo) PendingReminders(context.Context) ([]*domain.Reminder, error) {
	return f.reminders, nil
}

func (f *fakeRepo) MarkReminderFired(context.Context, int64, string) error { return nil }

func (f *fakeRepo) CuratedAnswers(context.Context) ([]domain.CuratedAnswer, error) {
	return f.curated, nil
}

func (f *fakeRepo) SeedCuratedAnswers(context.Context, []domain.CuratedAnswer) error { return nil }

func (f *fakeRepo) Ping(context.Context) error { return nil }

func (f *fakeRepo) Close() error { return nil }

// testClassify is a deterministic stand-in for the emotion extractor.
func testClassify(text string) []string {
	if strings.Contains(text, "睡不好") {
		return []string{"健康关注"}
	}
	if strings.Contains(text, "孤单") {
		return []string{"陪伴"}
	}
	return nil
}

func newTestService(t *testing.T, repo *fakeRepo, comp *fakeCompleter) *Service {
	t.Helper()
	ts := transcript.NewStore(t.TempDir(), testClassify)
	router := NewRouter(rag.NewService(repo), comp, repo, discardLogger())
	return NewService(Config{
		Repo:        repo,
		Transcripts: ts,
		Sessions:    session.NewRegistry(),
		Classify:    testClassify,
		Router:      router,
		Reminders:   reminder.NewManager(repo, nil),
		Health:      health.NewLogger(repo),
		Logger:      discardLogger(),
	})
}

func TestChatUnknownUser(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newFakeRepo(), &fakeCompleter{reply: "嗯"})
	_, err := svc.Chat(context.Background(), &Request{UserName: "李四", Message: "你好"})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("error = %v, want ErrUserNotFound", err)
	}
}

func TestChatEmptyMessage(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newFakeRepo(), &fakeCompleter{reply: "嗯"})
	_, err := svc.Chat(context.Background(), &Request{UserName: "张三", Message: "   "})
	if !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("error = %v, want ErrEmptyMessage", err)
	}
}

func TestChatModelTurn(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	comp := &fakeCompleter{reply: "是啊，出去走走"}
	svc := newTestService(t, repo, comp)

	resp, err := svc.Chat(context.Background(), &Request{UserName: "张三", Message: "今天太阳不错"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !resp.Success || resp.Source != SourceLLM || resp.Response != "是啊，出去走走" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.EmotionalNeeds == nil || len(resp.EmotionalNeeds) != 0 {
		t.Fatalf("emotional needs = %#v, want empty non-nil", resp.EmotionalNeeds)
	}
	if !strings.HasPrefix(resp.ConversationFileID, "conversation_") {
		t.Fatalf("file id = %q", resp.ConversationFileID)
	}

	h, ok := svc.sessions.Current("张三")
	if !ok {
		t.Fatal("no live session after turn")
	}
	data, err := os.ReadFile(h.Path)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	want := "user: 今天太阳不错（情感需求：）\nassistant: 是啊，出去走走\n"
	if string(data) != want {
		t.Fatalf("transcript = %q, want %q", data, want)
	}
}

func TestChatUpdatesEmotionalNeeds(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	comp := &fakeCompleter{reply: "我懂，早点歇着"}
	svc := newTestService(t, repo, comp)

	resp, err := svc.Chat(context.Background(), &Request{UserName: "张三", Message: "我睡不好"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.EmotionalNeeds) != 1 || resp.EmotionalNeeds[0] != "健康关注" {
		t.Fatalf("emotional needs = %v", resp.EmotionalNeeds)
	}
	if len(repo.updatedNeeds) != 1 || repo.updatedNeeds[0][0] != "健康关注" {
		t.Fatalf("profile updates = %v", repo.updatedNeeds)
	}
}

func TestChatNeedsUpdateFailureIsBestEffort(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	repo.failUpdateNeeds = true
	svc := newTestService(t, repo, &fakeCompleter{reply: "我懂"})

	resp, err := svc.Chat(context.Background(), &Request{UserName: "张三", Message: "我睡不好"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !resp.Success {
		t.Fatal("turn failed on a best-effort write")
	}
}

func TestChatReminderTurn(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	comp := &fakeCompleter{reply: "不该走到这里"}
	svc := newTestService(t, repo, comp)

	resp, err := svc.Chat(context.Background(), &Request{UserName: "张三", Message: "8点提醒我吃药"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Response != reminderAck {
		t.Fatalf("reply = %q, want fixed acknowledgment", resp.Response)
	}
	if comp.calls != 0 {
		t.Fatalf("completer called %d times on a reminder turn", comp.calls)
	}
	if len(repo.reminders) != 1 {
		t.Fatalf("reminders = %d, want 1", len(repo.reminders))
	}
	r := repo.reminders[0]
	if r.RemindTime != "08:00" || r.Content != "吃药" || r.UserID != 7 {
		t.Fatalf("reminder = %+v", r)
	}
}

func TestChatUpstreamFailureKeepsUserTurn(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	comp := &fakeCompleter{err: errors.New("timeout")}
	svc := newTestService(t, repo, comp)

	_, err := svc.Chat(context.Background(), &Request{UserName: "张三", Message: "你好呀"})
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("error = %v, want UpstreamError", err)
	}

	h, ok := svc.sessions.Current("张三")
	if !ok {
		t.Fatal("live session gone after upstream failure")
	}
	data, err := os.ReadFile(h.Path)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if want := "user: 你好呀（情感需求：）\n"; string(data) != want {
		t.Fatalf("transcript = %q, want only the user turn", data)
	}
}

func TestChatContinuesExplicitFile(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	svc := newTestService(t, repo, &fakeCompleter{reply: "嗯"})

	first, err := svc.Chat(context.Background(), &Request{UserName: "张三", Message: "我孤单"})
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	svc.sessions.Evict("张三")

	second, err := svc.Chat(context.Background(), &Request{
		UserName:           "张三",
		Message:            "还在吗",
		ConversationFileID: first.ConversationFileID,
	})
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if second.ConversationFileID != first.ConversationFileID {
		t.Fatalf("file id changed: %q -> %q", first.ConversationFileID, second.ConversationFileID)
	}

	h, _ := svc.sessions.Current("张三")
	turns, err := svc.transcripts.ReadAll(h.Path)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if len(turns) != 4 {
		t.Fatalf("turns = %d, want 4", len(turns))
	}
}

func TestEndEmptyMessageList(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newFakeRepo(), &fakeCompleter{})
	_, err := svc.End(context.Background(), &EndRequest{UserName: "张三"})
	if !errors.Is(err, ErrEmptyMessageList) {
		t.Fatalf("error = %v, want ErrEmptyMessageList", err)
	}
}

func TestEndLiveTranscriptIsAuthoritative(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	svc := newTestService(t, repo, &fakeCompleter{reply: "我懂，早点歇着"})

	if _, err := svc.Chat(context.Background(), &Request{UserName: "张三", Message: "我睡不好"}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	h, _ := svc.sessions.Current("张三")
	before, err := os.ReadFile(h.Path)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}

	resp, err := svc.End(context.Background(), &EndRequest{
		UserName: "张三",
		Messages: []domain.Turn{
			{Role: domain.RoleUser, Content: "我睡不好"},
			{Role: domain.RoleAssistant, Content: "我懂，早点歇着"},
		},
	})
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if !resp.Success || resp.Message != endMessage {
		t.Fatalf("unexpected response: %+v", resp)
	}

	after, err := os.ReadFile(h.Path)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if string(before) != string(after) {
		t.Fatalf("live transcript rewritten on finalize:\nbefore %q\nafter  %q", before, after)
	}

	if _, ok := svc.sessions.Current("张三"); ok {
		t.Fatal("live binding survived finalize")
	}
	if len(repo.updatedNeeds) < 2 {
		t.Fatalf("profile updates = %v, want live + finalize", repo.updatedNeeds)
	}
	if len(repo.loggedNeeds) != 1 || repo.loggedNeeds[0] != "健康关注" {
		t.Fatalf("logged needs = %v", repo.loggedNeeds)
	}
	if repo.loggedEnd != resp.ConversationEndTime {
		t.Fatalf("log stamped %q, response says %q", repo.loggedEnd, resp.ConversationEndTime)
	}
	if repo.healthNote != "睡不好" {
		t.Fatalf("health note = %q", repo.healthNote)
	}
}

func TestEndSynthesizesWithoutLiveSession(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	svc := newTestService(t, repo, &fakeCompleter{})

	resp, err := svc.End(context.Background(), &EndRequest{
		UserName: "张三",
		Messages: []domain.Turn{
			{Role: domain.RoleUser, Content: "我睡不好"},
			{Role: domain.RoleAssistant, Content: "我懂，早点歇着"},
		},
	})
	if err != nil {
		t.Fatalf("End: %v", err)
	}

	userDir := svc.transcripts.UserDir("张三", 7)
	path := filepath.Join(userDir, "conversation_"+resp.ConversationEndTime+".txt")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("synthesized transcript missing: %v", err)
	}
	want := "user: 我睡不好（情感需求：健康关注）\nassistant: 我懂，早点歇着\n"
	if string(data) != want {
		t.Fatalf("transcript = %q, want %q", data, want)
	}
	if repo.healthNote != "睡不好" {
		t.Fatalf("health note = %q", repo.healthNote)
	}
	if len(repo.healthLogs) != 1 || repo.healthLogs[0].Issue != "睡不好" {
		t.Fatalf("health logs = %+v", repo.healthLogs)
	}
}

func TestEndLogsRawNeedSequence(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	svc := newTestService(t, repo, &fakeCompleter{})

	_, err := svc.End(context.Background(), &EndRequest{
		UserName: "张三",
		Messages: []domain.Turn{
			{Role: domain.RoleUser, Content: "我睡不好"},
			{Role: domain.RoleAssistant, Content: "我懂"},
			{Role: domain.RoleUser, Content: "昨晚也睡不好"},
		},
	})
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if len(repo.loggedNeeds) != 2 {
		t.Fatalf("logged needs = %v, want raw duplicates kept", repo.loggedNeeds)
	}
	if len(repo.updatedNeeds) != 1 || len(repo.updatedNeeds[0]) != 1 {
		t.Fatalf("profile updates = %v, want deduplicated set", repo.updatedNeeds)
	}
}

func TestRegisterUser(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	svc := newTestService(t, repo, &fakeCompleter{reply: "在呢"})

	id, err := svc.RegisterUser(context.Background(), "李四", &domain.Profile{Name: "李四", Age: 80})
	if err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	if id == 0 {
		t.Fatal("RegisterUser returned zero id")
	}

	// The freshly registered user can chat immediately.
	resp, err := svc.Chat(context.Background(), &Request{UserName: "李四", Message: "你好"})
	if err != nil {
		t.Fatalf("Chat after registration: %v", err)
	}
	if !resp.Success {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestRegisterUserDuplicate(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newFakeRepo(), &fakeCompleter{})
	_, err := svc.RegisterUser(context.Background(), "张三", nil)
	if !errors.Is(err, ErrUserExists) {
		t.Fatalf("error = %v, want ErrUserExists", err)
	}
}

func TestRegisterUserEmptyName(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newFakeRepo(), &fakeCompleter{})
	_, err := svc.RegisterUser(context.Background(), "   ", nil)
	if !errors.Is(err, ErrEmptyUserName) {
		t.Fatalf("error = %v, want ErrEmptyUserName", err)
	}
}

func TestConversationFilesUnknownUser(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newFakeRepo(), &fakeCompleter{})
	_, err := svc.ConversationFiles(context.Background(), "李四")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("error = %v, want ErrUserNotFound", err)
	}
}

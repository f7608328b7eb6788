package reminder

import (
	"context"
	"log/slog"
	"time"

	"github.com/elderlink/companion/internal/domain"
)

// Store is the persistence surface the manager needs. The SQLite repository
// satisfies it.
type Store interface {
	AddReminder(ctx context.Context, r *domain.Reminder) error
	ListReminders(ctx context.Context, userID int64) ([]*domain.Reminder, error)
	PendingReminders(ctx context.Context) ([]*domain.Reminder, error)
	MarkReminderFired(ctx context.Context, id int64, day string) error
}

// Notifier delivers a fired reminder to the user's connected frontends.
type Notifier interface {
	NotifyReminder(userID int64, reminderID int64, content string)
}

// dispatchInterval is how often the manager sweeps for due reminders. It must
// stay under a minute so no wall-clock minute is skipped.
const dispatchInterval = 30 * time.Second

// Manager persists reminders and fires them when due.
type Manager struct {
	store    Store
	notifier Notifier
	now      func() time.Time
}

// NewManager creates a reminder manager.
func NewManager(store Store, notifier Notifier) *Manager {
	return &Manager{store: store, notifier: notifier, now: time.Now}
}

// Register persists a parsed reminder for a user.
func (m *Manager) Register(ctx context.Context, userID int64, ext *Extracted) (*domain.Reminder, error) {
	r := &domain.Reminder{
		UserID:     userID,
		RemindTime: ext.Time,
		Content:    ext.Content,
		RepeatType: ext.RepeatType,
		Weekdays:   ext.Weekdays,
		Date:       ext.Date,
	}
	if err := m.store.AddReminder(ctx, r); err != nil {
		return nil, err
	}
	slog.Info("Reminder registered",
		"user_id", userID,
		"remind_time", r.RemindTime,
		"repeat_type", r.RepeatType,
		"content", r.Content,
	)
	return r, nil
}

// List returns a user's reminders.
func (m *Manager) List(ctx context.Context, userID int64) ([]*domain.Reminder, error) {
	return m.store.ListReminders(ctx, userID)
}

// Start runs the background dispatcher until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(dispatchInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Reminder dispatcher started", "interval", dispatchInterval)
		for {
			select {
			case <-ticker.C:
				m.dispatchDue(ctx)
			case <-ctx.Done():
				slog.Info("Reminder dispatcher shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// dispatchDue fires every reminder due at the current minute.
func (m *Manager) dispatchDue(ctx context.Context) {
	now := m.now()
	pending, err := m.store.PendingReminders(ctx)
	if err != nil {
		slog.Error("Reminder dispatcher failed to load pending reminders", "error", err)
		return
	}

	day := now.Format("2006-01-02")
	for _, r := range pending {
		if !r.DueAt(now) {
			continue
		}
		slog.Info("Reminder due", "reminder_id", r.ID, "user_id", r.UserID, "content", r.Content)
		if m.notifier != nil {
			m.notifier.NotifyReminder(r.UserID, r.ID, r.Content)
		}
		if err := m.store.MarkReminderFired(ctx, r.ID, day); err != nil {
			slog.Warn("Failed to mark reminder fired", "reminder_id", r.ID, "error", err)
		}
	}
}

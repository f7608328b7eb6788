// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/elderlink/companion/internal/domain"
)

// Repository defines the interface for persisting user, profile, reminder and
// analytics data.
type Repository interface {
	// GetUserIDByName resolves a user name to its numeric ID. Returns
	// (0, nil) when the name is unknown.
	GetUserIDByName(ctx context.Context, name string) (int64, error)

	// CreateUser registers a user with an optional initial profile and
	// returns the assigned ID.
	CreateUser(ctx context.Context, name string, profile *domain.Profile) (int64, error)

	// ListUserNames returns all registered user names.
	ListUserNames(ctx context.Context) ([]string, error)

	// GetProfileByName retrieves the profile for a user name. Returns
	// (nil, nil) when the user has no profile row.
	GetProfileByName(ctx context.Context, name string) (*domain.Profile, error)

	// UpdateEmotionalNeeds replaces the user's emotional-need set on the
	// profile with the comma-joined labels.
	UpdateEmotionalNeeds(ctx context.Context, userID int64, needs []string) error

	// LogEmotionalNeeds appends one row per label to the needs history
	// log, stamped with the conversation end time. Duplicates are kept;
	// the log is an event trail, not a set.
	LogEmotionalNeeds(ctx context.Context, userID int64, needs []string, endTime string) error

	// UpdateHealth replaces the profile's dynamic health note.
	UpdateHealth(ctx context.Context, userID int64, health string) error

	// SaveHealthLogs appends health log rows for a finalized conversation.
	SaveHealthLogs(ctx context.Context, userID int64, entries []domain.HealthLogEntry) error

	// AddReminder persists a reminder and fills in its ID.
	AddReminder(ctx context.Context, r *domain.Reminder) error

	// ListReminders returns all reminders for a user, newest first.
	ListReminders(ctx context.Context, userID int64) ([]*domain.Reminder, error)

	// PendingReminders returns reminders that may still fire: repeating
	// ones plus undelivered one-shots.
	PendingReminders(ctx context.Context) ([]*domain.Reminder, error)

	// MarkReminderFired records a dispatch on the given day; one-shot
	// reminders are also marked delivered.
	MarkReminderFired(ctx context.Context, id int64, day string) error

	// CuratedAnswers returns the curated QA rows for retrieval scoring.
	CuratedAnswers(ctx context.Context) ([]domain.CuratedAnswer, error)

	// SeedCuratedAnswers inserts QA rows if the table is empty.
	SeedCuratedAnswers(ctx context.Context, rows []domain.CuratedAnswer) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

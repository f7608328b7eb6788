package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/elderlink/companion/internal/domain"
	"github.com/elderlink/companion/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	writerMu sync.Mutex // Serializes profile/reminder writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS profiles (
		user_id INTEGER PRIMARY KEY REFERENCES users(id),
		age INTEGER,
		gender TEXT,
		hobbies TEXT,
		living_situation TEXT,
		dynamic_health TEXT,
		emotional_needs TEXT,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS emotion_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		need TEXT NOT NULL,
		conversation_end_time TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_emotion_log_user ON emotion_log(user_id);

	CREATE TABLE IF NOT EXISTS health_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		issue TEXT NOT NULL,
		context TEXT,
		logged_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_health_log_user ON health_log(user_id);

	CREATE TABLE IF NOT EXISTS reminders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		remind_time TEXT NOT NULL,
		content TEXT NOT NULL,
		repeat_type TEXT NOT NULL DEFAULT 'none',
		weekdays TEXT,
		date TEXT,
		last_fired TEXT,
		delivered INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reminders_user ON reminders(user_id);

	CREATE TABLE IF NOT EXISTS curated_answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		keywords TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// execWithRetry runs a write statement with exponential backoff on SQLite
// concurrency errors.
func (s *SQLiteStore) execWithRetry(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var res sql.Result
	var err error
	for i := 0; i < maxRetries; i++ {
		res, err = s.db.ExecContext(ctx, query, args...)
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return res, err
		}
		if i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("SQLite write conflict, retrying", "attempt", i+1, "delay", delay)
			time.Sleep(delay)
		}
	}
	return res, err
}

// GetUserIDByName resolves a user name to its numeric ID.
func (s *SQLiteStore) GetUserIDByName(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query user id: %w", err)
	}
	return id, nil
}

// CreateUser registers a user with an optional initial profile.
func (s *SQLiteStore) CreateUser(ctx context.Context, name string, profile *domain.Profile) (int64, error) {
	now := time.Now().Unix()
	res, err := s.execWithRetry(ctx, `INSERT INTO users (name, created_at) VALUES (?, ?)`, name, now)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get user id: %w", err)
	}

	if profile != nil {
		_, err = s.execWithRetry(ctx, `
			INSERT INTO profiles (user_id, age, gender, hobbies, living_situation, dynamic_health, emotional_needs, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, profile.Age, profile.Gender, profile.Hobbies,
			profile.LivingSituation, profile.DynamicHealth, profile.EmotionalNeeds, now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert profile: %w", err)
		}
	}
	return id, nil
}

// ListUserNames returns all registered user names.
func (s *SQLiteStore) ListUserNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan user name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// GetProfileByName retrieves the profile for a user name.
func (s *SQLiteStore) GetProfileByName(ctx context.Context, name string) (*domain.Profile, error) {
	query := `
		SELECT u.id, u.name, p.age, p.gender, p.hobbies, p.living_situation, p.dynamic_health, p.emotional_needs
		FROM users u JOIN profiles p ON p.user_id = u.id
		WHERE u.name = ?`

	var p domain.Profile
	var age sql.NullInt64
	var gender, hobbies, living, health, needs sql.NullString
	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&p.UserID, &p.Name, &age, &gender, &hobbies, &living, &health, &needs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile row: %w", err)
	}

	p.Age = int(age.Int64)
	p.Gender = gender.String
	p.Hobbies = hobbies.String
	p.LivingSituation = living.String
	p.DynamicHealth = health.String
	p.EmotionalNeeds = needs.String
	return &p, nil
}

// UpdateEmotionalNeeds replaces the profile's emotional-need set.
func (s *SQLiteStore) UpdateEmotionalNeeds(ctx context.Context, userID int64, needs []string) error {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	joined := strings.Join(needs, ", ")
	now := time.Now().Unix()
	_, err := s.execWithRetry(ctx, `
		INSERT INTO profiles (user_id, emotional_needs, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			emotional_needs = excluded.emotional_needs,
			updated_at = excluded.updated_at`,
		userID, joined, now,
	)
	if err != nil {
		return fmt.Errorf("update emotional needs: %w", err)
	}
	return nil
}

// LogEmotionalNeeds appends need rows to the history log.
func (s *SQLiteStore) LogEmotionalNeeds(ctx context.Context, userID int64, needs []string, endTime string) error {
	if len(needs) == 0 {
		return nil
	}
	now := time.Now().Unix()
	for _, need := range needs {
		_, err := s.execWithRetry(ctx, `
			INSERT INTO emotion_log (user_id, need, conversation_end_time, created_at)
			VALUES (?, ?, ?, ?)`,
			userID, need, endTime, now,
		)
		if err != nil {
			return fmt.Errorf("insert emotion log: %w", err)
		}
	}
	return nil
}

// UpdateHealth replaces the profile's dynamic health note.
func (s *SQLiteStore) UpdateHealth(ctx context.Context, userID int64, health string) error {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	now := time.Now().Unix()
	_, err := s.execWithRetry(ctx, `
		INSERT INTO profiles (user_id, dynamic_health, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			dynamic_health = excluded.dynamic_health,
			updated_at = excluded.updated_at`,
		userID, health, now,
	)
	if err != nil {
		return fmt.Errorf("update health: %w", err)
	}
	return nil
}

// SaveHealthLogs appends health log rows.
func (s *SQLiteStore) SaveHealthLogs(ctx context.Context, userID int64, entries []domain.HealthLogEntry) error {
	now := time.Now().Unix()
	for _, e := range entries {
		_, err := s.execWithRetry(ctx, `
			INSERT INTO health_log (user_id, issue, context, logged_at) VALUES (?, ?, ?, ?)`,
			userID, e.Issue, e.Context, now,
		)
		if err != nil {
			return fmt.Errorf("insert health log: %w", err)
		}
	}
	return nil
}

// AddReminder persists a reminder and fills in its ID.
func (s *SQLiteStore) AddReminder(ctx context.Context, r *domain.Reminder) error {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	if r.RepeatType == "" {
		r.RepeatType = domain.RepeatNone
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	res, err := s.execWithRetry(ctx, `
		INSERT INTO reminders (user_id, remind_time, content, repeat_type, weekdays, date, delivered, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		r.UserID, r.RemindTime, r.Content, r.RepeatType,
		joinWeekdays(r.Weekdays), r.Date, r.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get reminder id: %w", err)
	}
	r.ID = id
	return nil
}

// ListReminders returns all reminders for a user, newest first.
func (s *SQLiteStore) ListReminders(ctx context.Context, userID int64) ([]*domain.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, remind_time, content, repeat_type, weekdays, date, last_fired, delivered, created_at
		FROM reminders WHERE user_id = ? ORDER BY id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

// PendingReminders returns reminders that may still fire.
func (s *SQLiteStore) PendingReminders(ctx context.Context) ([]*domain.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, remind_time, content, repeat_type, weekdays, date, last_fired, delivered, created_at
		FROM reminders WHERE repeat_type != 'none' OR delivered = 0`)
	if err != nil {
		return nil, fmt.Errorf("query pending reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

// MarkReminderFired records a dispatch on the given day.
func (s *SQLiteStore) MarkReminderFired(ctx context.Context, id int64, day string) error {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	_, err := s.execWithRetry(ctx, `
		UPDATE reminders SET
			last_fired = ?,
			delivered = CASE WHEN repeat_type = 'none' THEN 1 ELSE delivered END
		WHERE id = ?`, day, id)
	if err != nil {
		return fmt.Errorf("mark reminder fired: %w", err)
	}
	return nil
}

// CuratedAnswers returns the curated QA rows.
func (s *SQLiteStore) CuratedAnswers(ctx context.Context) ([]domain.CuratedAnswer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, question, answer, keywords FROM curated_answers`)
	if err != nil {
		return nil, fmt.Errorf("query curated answers: %w", err)
	}
	defer rows.Close()

	var answers []domain.CuratedAnswer
	for rows.Next() {
		var a domain.CuratedAnswer
		if err := rows.Scan(&a.ID, &a.Question, &a.Answer, &a.Keywords); err != nil {
			return nil, fmt.Errorf("scan curated answer: %w", err)
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// SeedCuratedAnswers inserts QA rows if the table is empty.
func (s *SQLiteStore) SeedCuratedAnswers(ctx context.Context, seed []domain.CuratedAnswer) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM curated_answers`).Scan(&count); err != nil {
		return fmt.Errorf("count curated answers: %w", err)
	}
	if count > 0 {
		return nil
	}
	for _, a := range seed {
		_, err := s.execWithRetry(ctx, `
			INSERT INTO curated_answers (question, answer, keywords) VALUES (?, ?, ?)`,
			a.Question, a.Answer, a.Keywords,
		)
		if err != nil {
			return fmt.Errorf("seed curated answer: %w", err)
		}
	}
	return nil
}

func joinWeekdays(days []int) string {
	if len(days) == 0 {
		return ""
	}
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

func splitWeekdays(s string) []int {
	if s == "" {
		return nil
	}
	var days []int
	for _, part := range strings.Split(s, ",") {
		if d, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			days = append(days, d)
		}
	}
	return days
}

func scanReminders(rows *sql.Rows) ([]*domain.Reminder, error) {
	var reminders []*domain.Reminder
	for rows.Next() {
		var r domain.Reminder
		var weekdays, date, lastFired sql.NullString
		var delivered int
		var createdAt int64
		err := rows.Scan(
			&r.ID, &r.UserID, &r.RemindTime, &r.Content, &r.RepeatType,
			&weekdays, &date, &lastFired, &delivered, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan reminder row: %w", err)
		}
		r.Weekdays = splitWeekdays(weekdays.String)
		r.Date = date.String
		r.LastFired = lastFired.String
		r.Delivered = delivered != 0
		r.CreatedAt = time.Unix(createdAt, 0)
		reminders = append(reminders, &r)
	}
	return reminders, rows.Err()
}

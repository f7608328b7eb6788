// Package health derives health signals from finalized transcripts.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/elderlink/companion/internal/domain"
	"github.com/elderlink/companion/internal/transcript"
)

// issueKeywords are the complaints worth carrying into the long-lived
// profile and the health log.
var issueKeywords = []string{
	"高血压", "血压", "血糖", "糖尿病", "心脏", "失眠", "睡不好", "睡不着",
	"头晕", "头疼", "头痛", "胃疼", "胃", "腿疼", "腰疼", "关节", "感冒",
	"发烧", "咳嗽",
}

// ExtractEntries scans the user turns of a transcript for health issues.
// Each entry keeps the line it was observed on as context.
func ExtractEntries(path string) ([]domain.HealthLogEntry, error) {
	store := transcript.NewStore("", nil)
	turns, err := store.ReadAll(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript for health extraction: %w", err)
	}

	seen := make(map[string]bool)
	var entries []domain.HealthLogEntry
	for _, turn := range turns {
		if !turn.IsUser() {
			continue
		}
		for _, kw := range issueKeywords {
			if strings.Contains(turn.Content, kw) && !seen[kw] {
				seen[kw] = true
				entries = append(entries, domain.HealthLogEntry{Issue: kw, Context: turn.Content})
			}
		}
	}
	return entries, nil
}

// Store is the persistence surface the logger needs.
type Store interface {
	UpdateHealth(ctx context.Context, userID int64, health string) error
	SaveHealthLogs(ctx context.Context, userID int64, entries []domain.HealthLogEntry) error
}

// Logger runs post-session health extraction over the transcript that was
// just finalized. The finalized path is threaded in explicitly; the logger
// never guesses which file on disk is "latest".
type Logger struct {
	store Store
}

// NewLogger creates a health logger.
func NewLogger(store Store) *Logger {
	return &Logger{store: store}
}

// Run extracts issues from the finalized transcript and records them. The
// whole pass is best effort: a failure is reported to the caller, which logs
// it as a warning and considers finalization successful regardless.
func (l *Logger) Run(ctx context.Context, userID int64, transcriptPath string) error {
	entries, err := ExtractEntries(transcriptPath)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		slog.Info("No health issues found in finalized transcript", "user_id", userID)
		return nil
	}

	issues := make([]string, len(entries))
	for i, e := range entries {
		issues[i] = e.Issue
	}
	if err := l.store.UpdateHealth(ctx, userID, strings.Join(issues, ", ")); err != nil {
		return fmt.Errorf("update health profile: %w", err)
	}
	if err := l.store.SaveHealthLogs(ctx, userID, entries); err != nil {
		return fmt.Errorf("save health logs: %w", err)
	}
	slog.Info("Health issues recorded", "user_id", userID, "count", len(entries))
	return nil
}

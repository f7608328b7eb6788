package transcript

import (
	"bufio"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/elderlink/companion/internal/domain"
)

// timeStampLayout stamps new transcript filenames with the session start.
const timeStampLayout = "2006-01-02_15-04-05"

// NeedsFunc classifies a user turn's text into emotional-need labels.
type NeedsFunc func(text string) []string

// FileInfo describes one transcript file for listing endpoints.
type FileInfo struct {
	ID       string    `json:"file_id"`
	Modified time.Time `json:"modified_time"`
}

// Store persists transcripts as flat text files under a base directory, one
// subdirectory per user.
type Store struct {
	baseDir  string
	classify NeedsFunc
}

// NewStore creates a transcript store rooted at baseDir. classify annotates
// appended user turns; a nil classify writes empty annotations.
func NewStore(baseDir string, classify NeedsFunc) *Store {
	if classify == nil {
		classify = func(string) []string { return nil }
	}
	return &Store{baseDir: baseDir, classify: classify}
}

// UserDir returns the per-user transcript directory, derived deterministically
// from the identity. ASCII name characters survive as a lowercase slug;
// anything else hashes to a stable hex prefix, so Chinese names still map to
// a fixed directory.
func (s *Store) UserDir(name string, userID int64) string {
	return filepath.Join(s.baseDir, userSlug(name)+"_"+strconv.FormatInt(userID, 10))
}

func userSlug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() > 0 {
		return b.String()
	}
	sum := sha1.Sum([]byte(name))
	return hex.EncodeToString(sum[:4])
}

// Resolve sanitizes a caller-supplied file identifier and joins it to the
// user directory. The identifier is reduced to a bare filename and the .txt
// extension is normalized, so a foreign or hostile identifier can never
// escape the user's own directory. Returns ok=false when no such file exists.
func (s *Store) Resolve(userDir, fileID string) (string, bool) {
	if fileID == "" {
		return "", false
	}
	safe := filepath.Base(fileID)
	if safe == "." || safe == string(filepath.Separator) {
		return "", false
	}
	if !strings.HasSuffix(safe, ".txt") {
		safe += ".txt"
	}
	path := filepath.Join(userDir, safe)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	return path, true
}

// NewPath returns a fresh transcript path stamped with the session start.
func (s *Store) NewPath(userDir string, start time.Time) string {
	return filepath.Join(userDir, "conversation_"+start.Format(timeStampLayout)+".txt")
}

// CreateNew creates a fresh transcript for a session starting at start and
// returns its path. The stamp has second granularity, so a session started in
// the same second as an existing file gets a numeric suffix instead of
// clobbering it.
func (s *Store) CreateNew(userDir string, start time.Time, seed []domain.Turn) (string, error) {
	for seq := 1; ; seq++ {
		path := s.NewPath(userDir, start)
		if seq > 1 {
			path = strings.TrimSuffix(path, ".txt") + "_" + strconv.Itoa(seq) + ".txt"
		}
		err := s.Create(path, seed)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", err
		}
	}
}

// Create writes a new transcript file, optionally seeded with caller-held
// history. Seed turns are written in the annotated shape (user turns carry
// the empty annotation) so file parsing stays uniform regardless of where
// the history originated. An existing file is never truncated; the error
// wraps os.ErrExist so callers can pick another path.
func (s *Store) Create(path string, seed []domain.Turn) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create transcript directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create transcript: %w", err)
	}
	defer f.Close()

	for _, turn := range seed {
		line := FormatLine(domain.Turn{Role: turn.Role, Content: turn.Content})
		if _, err := f.WriteString(line); err != nil {
			return fmt.Errorf("seed transcript: %w", err)
		}
	}
	return f.Sync()
}

// Append durably appends one turn. User turns are classified and written with
// the annotation suffix; the detected needs are returned so callers can reuse
// them without a second classifier pass. Assistant turns are written plain.
func (s *Store) Append(path, role, content string) ([]string, error) {
	turn := domain.Turn{Role: role, Content: content}
	if role == domain.RoleUser {
		turn.EmotionalNeeds = s.classify(content)
	}
	if err := s.appendLine(path, FormatLine(turn)); err != nil {
		return nil, err
	}
	return turn.EmotionalNeeds, nil
}

// WriteAnnotated synthesizes a complete transcript from a message list,
// re-deriving the annotation per user turn. Used when a session finalizes
// without a live server-side transcript.
func (s *Store) WriteAnnotated(path string, turns []domain.Turn) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create transcript directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create transcript: %w", err)
	}
	defer f.Close()

	for _, turn := range turns {
		out := domain.Turn{Role: turn.Role, Content: turn.Content}
		if out.Role == domain.RoleUser {
			out.EmotionalNeeds = s.classify(out.Content)
		}
		if _, err := f.WriteString(FormatLine(out)); err != nil {
			return fmt.Errorf("write transcript: %w", err)
		}
	}
	return f.Sync()
}

func (s *Store) appendLine(path, line string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create transcript directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return f.Sync()
}

// ReadAll loads every parseable turn from a transcript, in file order.
func (s *Store) ReadAll(path string) ([]domain.Turn, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var turns []domain.Turn
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if turn, ok := ParseLine(scanner.Text()); ok {
			turns = append(turns, turn)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return turns, nil
}

// ListFiles returns the user's transcript files ordered by modification time,
// newest first. A missing directory is an empty list, not an error.
func (s *Store) ListFiles(userDir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(userDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}

	var files []FileInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "conversation_") || !strings.HasSuffix(name, ".txt") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{ID: name, Modified: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Modified.After(files[j].Modified)
	})
	return files, nil
}

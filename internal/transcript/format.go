// Package transcript reads and writes per-user conversation files.
//
// The line grammar is a stable serialization contract shared with the
// downstream emotion and health analyzers:
//
//	assistant: <content>
//	user: <content>（情感需求：<labels joined by ", ">）
//
// The annotation suffix on user lines is always present, even when empty.
// Newlines and backslashes inside content are escaped (\n, \r, \\) so each
// turn is exactly one physical line.
package transcript

import (
	"strings"

	"github.com/elderlink/companion/internal/domain"
)

const (
	needsOpen  = "（情感需求："
	needsClose = "）"
	roleSep    = ": "
	labelSep   = ", "
)

// FormatLine renders one turn as a newline-terminated transcript line.
// Embedded newlines (the image-attachment marker flow produces them) are
// escaped so one turn always occupies exactly one physical line.
func FormatLine(t domain.Turn) string {
	content := escapeContent(t.Content)
	if t.Role == domain.RoleUser {
		return t.Role + roleSep + content + needsOpen + strings.Join(t.EmotionalNeeds, labelSep) + needsClose + "\n"
	}
	return t.Role + roleSep + content + "\n"
}

func escapeContent(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "\r", `\r`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

func unescapeContent(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
			i++
		case 'r':
			b.WriteByte('\r')
			i++
		case '\\':
			b.WriteByte('\\')
			i++
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// ParseLine parses one transcript line. Lines that do not match the grammar
// are reported as not ok and skipped by readers.
func ParseLine(line string) (domain.Turn, bool) {
	line = strings.TrimSuffix(line, "\n")
	role, rest, found := strings.Cut(line, roleSep)
	if !found || (role != domain.RoleUser && role != domain.RoleAssistant) {
		return domain.Turn{}, false
	}

	turn := domain.Turn{Role: role, Content: unescapeContent(rest)}
	if role != domain.RoleUser {
		return turn, true
	}

	// The annotation is the last （情感需求：...） group so user content
	// containing the marker itself still parses.
	if !strings.HasSuffix(rest, needsClose) {
		return domain.Turn{}, false
	}
	idx := strings.LastIndex(rest, needsOpen)
	if idx < 0 {
		return domain.Turn{}, false
	}
	turn.Content = unescapeContent(rest[:idx])
	labels := strings.TrimSuffix(rest[idx+len(needsOpen):], needsClose)
	if labels != "" {
		turn.EmotionalNeeds = strings.Split(labels, labelSep)
	}
	return turn, true
}

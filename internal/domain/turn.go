// Package domain contains core domain types for the companion backend.
package domain

// Roles of a conversation turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message exchanged in a conversation. Turns are immutable once
// written; a transcript is an append-only sequence of them.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// EmotionalNeeds carries the classifier labels inferred from a user
	// turn. Assistant turns never carry needs.
	EmotionalNeeds []string `json:"emotional_needs,omitempty"`
}

// IsUser reports whether the turn was spoken by the user.
func (t Turn) IsUser() bool {
	return t.Role == RoleUser
}

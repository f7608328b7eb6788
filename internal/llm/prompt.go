// Package llm talks to the OpenAI-compatible chat-completion endpoint.
package llm

import (
	"strings"

	"github.com/elderlink/companion/internal/domain"
)

// Block is one optional context section of the system message. Each block
// carries the predicate result under which it is injected, evaluated once
// per turn by the caller.
type Block struct {
	Text    string
	Include bool
}

// Prompt is the typed per-request conversation context: the fixed system
// instruction, the optional context blocks, the prior-turn window and the
// current user turn. It exists only for the duration of one completion call.
type Prompt struct {
	System   string
	Blocks   []Block
	History  []domain.Turn
	UserTurn string
}

// SystemText renders the system instruction plus every included block.
func (p Prompt) SystemText() string {
	parts := []string{p.System}
	for _, b := range p.Blocks {
		if b.Include && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Sampling carries the model sampling parameters for one request.
type Sampling struct {
	Temperature float64
	TopP        float64
	MaxTokens   int64
}

// DefaultSampling mirrors the frontend defaults.
func DefaultSampling() Sampling {
	return Sampling{Temperature: 0.5, TopP: 0.6, MaxTokens: 1024}
}

// Package chat orchestrates conversation turns: transcript persistence,
// answer routing and session finalization.
package chat

import (
	"github.com/elderlink/companion/internal/domain"
	"github.com/elderlink/companion/internal/llm"
)

// Request is one inbound chat turn. Optional knobs are pointers so absent
// fields fall back to the frontend defaults rather than zero values.
type Request struct {
	UserName             string        `json:"user_name"`
	Message              string        `json:"message"`
	ConversationHistory  []domain.Turn `json:"conversation_history,omitempty"`
	RAGEnabled           *bool         `json:"rag_enabled,omitempty"`
	RAGThreshold         *float64      `json:"rag_threshold,omitempty"`
	Temperature          *float64      `json:"temperature,omitempty"`
	TopP                 *float64      `json:"top_p,omitempty"`
	MaxTokens            *int64        `json:"max_tokens,omitempty"`
	ImageBase64          string        `json:"image_base64,omitempty"`
	// ContinueConversation and AutoLoadHistory are accepted for wire
	// compatibility with existing frontends but carry no behavior:
	// continuation is driven by ConversationFileID and the live session
	// binding, and history auto-load from "the latest file" is deliberately
	// not offered because it can attach the wrong transcript.
	ContinueConversation *bool  `json:"continue_conversation,omitempty"`
	AutoLoadHistory      *bool  `json:"auto_load_history,omitempty"`
	ConversationFileID   string `json:"conversation_file_id,omitempty"`
}

func (r *Request) ragEnabled() bool {
	if r.RAGEnabled == nil {
		return true
	}
	return *r.RAGEnabled
}

func (r *Request) ragThreshold() float64 {
	if r.RAGThreshold == nil {
		return 0.5
	}
	return *r.RAGThreshold
}

func (r *Request) sampling() llm.Sampling {
	s := llm.DefaultSampling()
	if r.Temperature != nil {
		s.Temperature = *r.Temperature
	}
	if r.TopP != nil {
		s.TopP = *r.TopP
	}
	if r.MaxTokens != nil {
		s.MaxTokens = *r.MaxTokens
	}
	return s
}

// Response is the reply for one chat turn.
type Response struct {
	Success            bool     `json:"success"`
	Response           string   `json:"response"`
	Source             string   `json:"source"`
	EmotionalNeeds     []string `json:"emotional_needs"`
	ResponseTime       float64  `json:"response_time"`
	ConversationFileID string   `json:"conversation_file_id,omitempty"`
}

// EndRequest finalizes a session from the caller-held message list.
type EndRequest struct {
	UserName              string        `json:"user_name"`
	Messages              []domain.Turn `json:"messages"`
	ConversationStartTime string        `json:"conversation_start_time,omitempty"`
}

// EndResponse reports a finalized session.
type EndResponse struct {
	Success             bool   `json:"success"`
	Message             string `json:"message"`
	ConversationEndTime string `json:"conversation_end_time"`
}

package llm

import (
	"context"
)

// Mode identifies the prompt shape a model expects.
type Mode string

const (
	// ModeCompletion expects a single flat delimited text prompt
	ModeCompletion Mode = "COMPLETION"
	// ModeChatCompletion expects a list of role-tagged messages
	ModeChatCompletion Mode = "CHAT_COMPLETION"
)

// IsValid checks if the mode is a known compatibility mode
func (m Mode) IsValid() bool {
	switch m {
	case ModeCompletion, ModeChatCompletion:
		return true
	default:
		return false
	}
}

// CompletionRequest describes one streaming completion call.
// Prompt is used in ModeCompletion, Messages in ModeChatCompletion.
type CompletionRequest struct {
	Mode        Mode
	Model       string
	Prompt      string
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// StreamChunk is one element of a streamed completion. The stream is
// forward-only and single-pass; a chunk carrying Err terminates it.
type StreamChunk struct {
	Content string
	Err     error
	Done    bool
}

// Provider represents a remote large language model service
type Provider interface {
	// StreamCompletion starts a streaming completion call. The provider
	// closes the returned channel after the final chunk.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)

	// Moderate submits text for content moderation
	Moderate(ctx context.Context, input string) (*ModerationResult, error)
}

// ModerationVerdict is the verdict for a single moderated input
type ModerationVerdict struct {
	Flagged        bool               `json:"flagged"`
	Categories     map[string]bool    `json:"categories"`
	CategoryScores map[string]float64 `json:"category_scores"`
}

// ModerationResult is the raw moderation outcome returned by the provider
type ModerationResult struct {
	ID      string              `json:"id"`
	Model   string              `json:"model"`
	Results []ModerationVerdict `json:"results"`
}

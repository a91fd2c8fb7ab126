// Package llm defines the completion backend used for short auxiliary
// text-completion calls such as intent classification.
//
// A Provider wraps a remote or local model API (OpenAI, Anthropic, a local
// Ollama instance, ...) behind a single non-streaming Complete call.
// Implementations must be safe for concurrent use and return promptly when
// the context is cancelled.
package llm

import "context"

// Roles accepted in [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the prompt.
type Message struct {
	Role    string
	Content string
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest is a single prompt. Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is sent ahead of Messages with the system role.
	SystemPrompt string

	Messages []Message

	// Temperature in [0, 2]. Zero leaves the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero leaves the provider default.
	MaxTokens int
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any completion backend.
type Provider interface {
	// Complete sends req and waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

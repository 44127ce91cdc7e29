package llm

import (
	"context"
	"errors"
)

// Finish reasons reported by chat completions.
const (
	FinishStop   = "stop"
	FinishLength = "length"
)

// ErrLengthExceeded is returned when a completion was cut off by the
// token budget. Callers retry with a raised budget or summarize.
var ErrLengthExceeded = errors.New("completion exceeded token budget")

// Message is one turn of a chat conversation.
type Message struct {
	Role    string // "system", "user", or "assistant"
	Content string
}

// ChatOptions tune one completion call.
type ChatOptions struct {
	// MaxTokens bounds the completion length (0 = provider default).
	MaxTokens int

	// Temperature; zero value means provider default.
	Temperature float64

	// JSONMode constrains output to a single JSON object.
	JSONMode bool
}

// Completion is the result of one chat call.
type Completion struct {
	Content      string
	FinishReason string
	TokensUsed   int
}

// Client is the chat-completion capability. The deployment names the
// model endpoint; separate deployments serve planning/generation and
// final-answer post-processing.
type Client interface {
	Chat(ctx context.Context, deployment string, messages []Message, opts ChatOptions) (*Completion, error)
}

// Embedder is the batch embedding capability.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Package llm is the coach's narrow view of a chat-completion and embedding
// provider.
package llm

import (
	"context"

	"github.com/freedive-ai/coach/pkg/models"
)

// Request is a single chat completion call.
type Request struct {
	Model       string
	Messages    []models.ChatMessage
	Temperature float64
	MaxTokens   int
	JSONMode    bool
}

// Response is the first choice of a completion plus usage.
type Response struct {
	Content string
	Model   string
	Usage   models.Usage
}

// ChatClient produces chat completions.
type ChatClient interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

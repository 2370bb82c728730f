// Package retrieval looks up freediving knowledge chunks for prompt grounding.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/freedive-ai/coach/pkg/llm"
)

// Chunk is one retrieved knowledge passage.
type Chunk struct {
	ID     string  `json:"id"`
	Text   string  `json:"text"`
	Source string  `json:"source,omitempty"`
	Score  float32 `json:"score"`
}

// Retriever returns knowledge chunks relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]Chunk, error)
}

// Index searches stored vectors.
type Index interface {
	Search(ctx context.Context, vector []float32, limit int, scoreThreshold float32) ([]Chunk, error)
}

// KnowledgeBase embeds a query and searches an Index with it.
type KnowledgeBase struct {
	embedder  llm.Embedder
	index     Index
	topK      int
	threshold float32
}

// NewKnowledgeBase creates a KnowledgeBase returning at most topK chunks.
func NewKnowledgeBase(embedder llm.Embedder, index Index, topK int, threshold float32) *KnowledgeBase {
	if topK <= 0 {
		topK = 5
	}
	return &KnowledgeBase{embedder: embedder, index: index, topK: topK, threshold: threshold}
}

// Retrieve implements Retriever.
func (k *KnowledgeBase) Retrieve(ctx context.Context, query string) ([]Chunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	vec, err := k.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	chunks, err := k.index.Search(ctx, vec, k.topK, k.threshold)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	return chunks, nil
}

package core

import (
	"context"
	"time"
)

// KnowledgeChunk is an indexed passage of source document text with its
// embedding vector and source metadata. Chunks are immutable once indexed;
// the ingestion collaborator writes them, the engine only reads.
type KnowledgeChunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Offset     int               `json:"offset"`
	Text       string            `json:"text"`
	Embedding  []float32         `json:"-"`
	IndexedAt  time.Time         `json:"indexed_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Score      float64           `json:"score,omitempty"`
}

// Retriever returns ranked relevant passages for a query, most relevant
// first. It never blocks indefinitely; when the index cannot be reached it
// fails with an error wrapping ErrRetrievalUnavailable and the caller must
// proceed without grounding.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]KnowledgeChunk, error)
}

package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/hupe1980/voicemesh/core"
	"github.com/hupe1980/voicemesh/logging"
)

// topK bounds. Requests outside the range are clamped, not rejected, so a
// misconfigured caller can never blow up prompt size.
const (
	minTopK = 1
	maxTopK = 10
)

// Embedder maps text into the embedding space shared with the ingestion
// collaborator.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options configure an Index.
type Options struct {
	Logger logging.Logger
}

// Index is an in-process vector index over knowledge chunks. Reads are
// lock-free with respect to each other; writes come only from the ingestion
// collaborator via Add. Chunks are immutable once indexed.
type Index struct {
	mu       sync.RWMutex
	chunks   []core.KnowledgeChunk
	embedder Embedder
	logger   logging.Logger
}

// NewIndex constructs an empty index using the given embedder for queries.
func NewIndex(embedder Embedder, optFns ...func(o *Options)) *Index {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Index{embedder: embedder, logger: opts.Logger}
}

// Add indexes chunks. It is the write side reserved for the ingestion
// collaborator; the engine itself only calls Retrieve.
func (i *Index) Add(chunks ...core.KnowledgeChunk) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.chunks = append(i.chunks, chunks...)
}

// Len returns the number of indexed chunks.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.chunks)
}

// Retrieve implements core.Retriever. Results are ordered most relevant
// first by cosine similarity; ties break by document recency, then by
// document identifier for determinism. When the embedder cannot be reached
// the error wraps core.ErrRetrievalUnavailable and the caller proceeds
// without grounding.
func (i *Index) Retrieve(ctx context.Context, query string, topK int) ([]core.KnowledgeChunk, error) {
	if topK < minTopK {
		topK = minTopK
	}
	if topK > maxTopK {
		topK = maxTopK
	}

	if i.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", core.ErrRetrievalUnavailable)
	}

	queryVec, err := i.embedder.Embed(ctx, query)
	if err != nil {
		i.logger.Warn("query embedding failed: %v", err)
		return nil, fmt.Errorf("%w: %v", core.ErrRetrievalUnavailable, err)
	}

	i.mu.RLock()
	scored := make([]core.KnowledgeChunk, 0, len(i.chunks))
	for _, chunk := range i.chunks {
		c := chunk
		c.Score = cosine(queryVec, c.Embedding)
		scored = append(scored, c)
	}
	i.mu.RUnlock()

	sort.SliceStable(scored, func(a, b int) bool {
		if scored[a].Score != scored[b].Score {
			return scored[a].Score > scored[b].Score
		}
		if !scored[a].IndexedAt.Equal(scored[b].IndexedAt) {
			return scored[a].IndexedAt.After(scored[b].IndexedAt)
		}
		return scored[a].DocumentID < scored[b].DocumentID
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// cosine returns the cosine similarity of two vectors, or 0 when either has
// zero norm or the dimensions differ.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for n := range a {
		dot += float64(a[n]) * float64(b[n])
		normA += float64(a[n]) * float64(a[n])
		normB += float64(b[n]) * float64(b[n])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/voicemesh/core"
	"github.com/hupe1980/voicemesh/model"
)

// ScriptedModel returns canned responses in order, regardless of input, and
// records every request it receives. Once the script runs out it keeps
// returning the final response. An empty script yields a plain continuation.
type ScriptedModel struct {
	mu       sync.Mutex
	script   []model.Response
	requests []model.Request
	err      error
	blockCh  chan struct{}
}

// NewScriptedModel creates a model that plays back the given responses.
func NewScriptedModel(script ...model.Response) *ScriptedModel {
	return &ScriptedModel{script: script}
}

// FailWith makes every subsequent Generate call return the given error.
func (m *ScriptedModel) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// BlockNext makes the next Generate call block until the returned function
// is invoked or the call context is cancelled. Used to test cancellation of
// in-flight turns.
func (m *ScriptedModel) BlockNext() (release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{})
	m.blockCh = ch
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Generate implements model.Model.
func (m *ScriptedModel) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	err := m.err
	block := m.blockCh
	m.blockCh = nil
	var resp model.Response
	switch {
	case len(m.script) == 0:
		resp = model.Response{Text: "Okay."}
	case len(m.script) == 1:
		resp = m.script[0]
	default:
		resp = m.script[0]
		m.script = m.script[1:]
	}
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return &resp, nil
}

// Info implements model.Model.
func (m *ScriptedModel) Info() model.Info {
	return model.Info{Name: "scripted", Provider: "testutil", SupportsMarkers: true}
}

// Requests returns a snapshot of every request Generate has seen.
func (m *ScriptedModel) Requests() []model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// FakeEmbedder maps known texts to fixed vectors so retrieval ranking is
// deterministic in tests. Unknown texts embed to the zero-adjacent fallback.
type FakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
}

// NewFakeEmbedder creates an embedder with the given text -> vector table.
func NewFakeEmbedder(vectors map[string][]float32) *FakeEmbedder {
	if vectors == nil {
		vectors = map[string][]float32{}
	}
	return &FakeEmbedder{vectors: vectors}
}

// Set registers or replaces the vector for a text.
func (e *FakeEmbedder) Set(text string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[text] = vec
}

// Embed implements knowledge.Embedder.
func (e *FakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if vec, ok := e.vectors[text]; ok {
		out := make([]float32, len(vec))
		copy(out, vec)
		return out, nil
	}
	return []float32{1, 0, 0}, nil
}

// Chunk builds a knowledge chunk with the given id, text and embedding.
func Chunk(id, text string, embedding []float32) core.KnowledgeChunk {
	return core.KnowledgeChunk{
		ID:         id,
		DocumentID: "doc-" + id,
		Text:       text,
		Embedding:  embedding,
	}
}

package embedding

import (
	"context"
	"math"
	"sync"

	"github.com/hyperjump/matome/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests. It returns a fixed-dimension
// vector derived from the text hash so that the same text always gets the same
// embedding, and counts how many texts were embedded so tests can assert that
// unchanged sections never reach the collaborator.
type MockEmbedder struct {
	dimensions int

	mu       sync.Mutex
	calls    int
	failing  bool
	scripted map[string][]float32
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 768
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Program fixes the embedding returned for an exact text, overriding the
// hash-derived default. The vector is normalized on use.
func (e *MockEmbedder) Program(text string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.scripted == nil {
		e.scripted = make(map[string][]float32)
	}
	e.scripted[text] = vec
}

// SetFailing makes every subsequent call return ErrUnavailable.
func (e *MockEmbedder) SetFailing(fail bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failing = fail
}

// CallCount returns how many texts have been embedded so far.
func (e *MockEmbedder) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Embed returns a deterministic embedding based on the text hash.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	if e.failing {
		e.mu.Unlock()
		return nil, ErrUnavailable
	}
	e.calls++
	scripted := e.scripted[text]
	e.mu.Unlock()

	if scripted != nil {
		emb := make([]float32, len(scripted))
		copy(emb, scripted)
		utils.NormalizeL2(emb)
		return emb, nil
	}

	h := hashString(text)
	emb := make([]float32, e.dimensions)
	for i := 0; i < e.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}

// hashString returns a non-negative deterministic hash of s.
func hashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}

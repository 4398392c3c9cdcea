// Package vector provides in-memory vector indexing and similarity search
// over section embeddings.
package vector

import "context"

// VectorIndex defines vector storage and similarity search.
type VectorIndex interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	Save(path string) error
	Load(path string) error
	Size() int
	Close() error
}

// VectorResult is a single vector search hit. ID is the stable section ID
// the vector was registered under.
type VectorResult struct {
	ID    string
	Score float64 // inner product; equals cosine similarity for normalized vectors
}

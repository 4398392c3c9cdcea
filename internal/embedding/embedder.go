// Package embedding provides section text embedding through an external
// collaborator, with caching and per-document vector indexing.
package embedding

import (
	"context"
	"errors"
)

// ErrUnavailable reports that the embedding collaborator could not produce a
// vector. Callers fall back to the deterministic matching tiers instead of
// failing the whole operation.
var ErrUnavailable = errors.New("embedding unavailable")

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

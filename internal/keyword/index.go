// Package keyword provides the Bleve-backed section title index used when
// the embedding service is unreachable, plus edit-distance title suggestions.
package keyword

import (
	"context"

	"github.com/hyperjump/matome/internal/models"
)

// MatchOptions optional parameters for a title match. Nil means use defaults.
type MatchOptions struct {
	// Fuzziness is the maximum edit distance per query term (1 or 2).
	// Default is 2. Bleve rejects values above 2 at search time.
	Fuzziness int
	// MinScore discards hits scoring below it. Scores are raw Bleve
	// tf-idf values, not normalized to [0,1].
	MinScore float64
}

// TitleMatch is the best-scoring section title for a label query.
type TitleMatch struct {
	Title string
	Score float64
}

// TitleIndex defines the section title lookup operations the matcher
// falls back on when semantic matching is unavailable.
type TitleIndex interface {
	// IndexSections replaces the indexed sections of a document.
	IndexSections(ctx context.Context, document string, sections []models.Section) error
	// Match returns the best title for label, or nil when nothing clears MinScore.
	Match(ctx context.Context, document, label string, opts *MatchOptions) (*TitleMatch, error)
	// RemoveDocument drops a document's index entirely.
	RemoveDocument(ctx context.Context, document string) error
	Close() error
}

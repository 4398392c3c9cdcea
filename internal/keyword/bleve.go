package keyword

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/matome/internal/models"
	"github.com/hyperjump/matome/pkg/utils"
)

const defaultFuzziness = 2

// sectionEntry is the shape stored in Bleve for one section.
type sectionEntry struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// BleveIndex implements TitleIndex with one Bleve index per document,
// stored under dir/<document>.bleve. Handles are opened lazily and kept
// until Close or RemoveDocument.
type BleveIndex struct {
	dir string

	mu   sync.Mutex
	open map[string]bleve.Index
}

// NewBleveIndex creates a title index rooted at dir.
func NewBleveIndex(dir string) (*BleveIndex, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create keyword index dir: %w", err)
	}
	return &BleveIndex{dir: dir, open: make(map[string]bleve.Index)}, nil
}

func (b *BleveIndex) indexPath(document string) string {
	return filepath.Join(b.dir, document+".bleve")
}

// docIndex opens or creates the per-document index. With create false a
// document that has never been indexed yields (nil, nil).
// If the field mapping changes in code, remove the index directory to force a rebuild.
func (b *BleveIndex) docIndex(document string, create bool) (bleve.Index, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if idx, ok := b.open[document]; ok {
		return idx, nil
	}

	path := b.indexPath(document)
	if _, err := os.Stat(path); err == nil {
		idx, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index for %q: %w", document, openErr)
		}
		b.open[document] = idx
		return idx, nil
	}
	if !create {
		return nil, nil
	}

	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so a query term
	// matches the exact word in a title; the English analyzer stems
	// "Validation" -> "valid" and misses near-exact lookups.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("title", textFieldMapping)
	docMapping.AddFieldMappingsAt("body", textFieldMapping)
	im.AddDocumentMapping("section", docMapping)
	im.DefaultType = "section"
	im.DefaultMapping = docMapping

	idx, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index for %q: %w", document, err)
	}
	b.open[document] = idx
	return idx, nil
}

// IndexSections replaces the indexed sections of a document. Entries whose
// normalized title is no longer present are deleted, everything else is
// re-indexed in place. The root section (level 0) is never indexed.
func (b *BleveIndex) IndexSections(ctx context.Context, document string, sections []models.Section) error {
	idx, err := b.docIndex(document, true)
	if err != nil {
		return err
	}

	keep := make(map[string]models.Section, len(sections))
	for _, s := range sections {
		if s.Level == 0 {
			continue
		}
		id := utils.NormalizeTitle(s.Title)
		if id == "" {
			continue
		}
		if _, dup := keep[id]; dup {
			continue
		}
		keep[id] = s
	}

	stale, err := b.allIDs(idx)
	if err != nil {
		return err
	}
	for _, id := range stale {
		if _, ok := keep[id]; ok {
			continue
		}
		if err := idx.Delete(id); err != nil {
			return fmt.Errorf("failed to delete stale entry %q: %w", id, err)
		}
	}

	for id, s := range keep {
		entry := sectionEntry{Title: s.Title, Body: s.Body}
		if err := idx.Index(id, entry); err != nil {
			return fmt.Errorf("failed to index section %q: %w", s.Title, err)
		}
	}
	return nil
}

// allIDs lists every entry ID currently in an index.
func (b *BleveIndex) allIDs(idx bleve.Index) ([]string, error) {
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = 10000
	results, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve list failed: %w", err)
	}
	ids := make([]string, len(results.Hits))
	for i, hit := range results.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// Match runs a fuzzy title query for label and returns the best hit at or
// above MinScore, or nil when the document has no index or nothing scores
// high enough. Title matches are boosted over body matches.
func (b *BleveIndex) Match(ctx context.Context, document, label string, opts *MatchOptions) (*TitleMatch, error) {
	fuzziness := defaultFuzziness
	minScore := 0.0
	if opts != nil {
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
		minScore = opts.MinScore
	}

	idx, err := b.docIndex(document, false)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return nil, nil
	}

	req := bleve.NewSearchRequest(b.buildLabelQuery(label, fuzziness))
	req.Size = 5
	req.Fields = []string{"title"}
	results, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	if len(results.Hits) == 0 {
		return nil, nil
	}

	hit := results.Hits[0]
	if hit.Score < minScore {
		return nil, nil
	}
	title := hit.ID
	if t, ok := hit.Fields["title"].(string); ok && t != "" {
		title = t
	}
	return &TitleMatch{Title: title, Score: hit.Score}, nil
}

// buildLabelQuery creates a disjunction of per-term FuzzyQueries on the
// title field (boosted) plus a MatchQuery on the body, so a label can land
// on a section whose title drifted or whose body carries the wording.
func (b *BleveIndex) buildLabelQuery(label string, fuzziness int) blevequery.Query {
	terms := tokenize(label)
	if len(terms) == 0 {
		mq := bleve.NewMatchQuery(label)
		mq.SetField("title")
		return mq
	}

	queries := make([]blevequery.Query, 0, len(terms)+1)
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField("title")
		fq.SetBoost(2.0)
		queries = append(queries, fq)
	}
	bodyQuery := bleve.NewMatchQuery(label)
	bodyQuery.SetField("body")
	queries = append(queries, bodyQuery)
	return bleve.NewDisjunctionQuery(queries...)
}

// RemoveDocument closes and deletes a document's index.
func (b *BleveIndex) RemoveDocument(ctx context.Context, document string) error {
	b.mu.Lock()
	if idx, ok := b.open[document]; ok {
		if err := idx.Close(); err != nil {
			b.mu.Unlock()
			return fmt.Errorf("failed to close Bleve index for %q: %w", document, err)
		}
		delete(b.open, document)
	}
	b.mu.Unlock()

	if err := os.RemoveAll(b.indexPath(document)); err != nil {
		return fmt.Errorf("failed to remove Bleve index for %q: %w", document, err)
	}
	return nil
}

// Close closes every open per-document index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for document, idx := range b.open {
		if err := idx.Close(); err != nil {
			return fmt.Errorf("failed to close Bleve index for %q: %w", document, err)
		}
		delete(b.open, document)
	}
	return nil
}

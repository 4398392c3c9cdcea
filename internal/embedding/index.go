package embedding

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/matome/internal/fingerprint"
	"github.com/hyperjump/matome/internal/models"
	"github.com/hyperjump/matome/internal/vector"
	"github.com/hyperjump/matome/pkg/utils"
)

// Score differences at or below tieEpsilon are treated as exact ties and
// resolved in favor of the earlier document-order section.
const tieEpsilon = 1e-9

// RecordStore persists embedding records across restarts.
type RecordStore interface {
	UpsertEmbedding(ctx context.Context, rec *models.EmbeddingRecord) error
	ListEmbeddings(ctx context.Context, document string) ([]*models.EmbeddingRecord, error)
	DeleteEmbeddings(ctx context.Context, document string, sectionIDs []string) error
}

// SyncStats reports what one document sync did.
type SyncStats struct {
	Embedded  int // texts sent to the collaborator
	CacheHits int // vectors reused from the LRU cache
	Skipped   int // sections whose fingerprint was still valid
	Removed   int // sections dropped from the index
}

// SectionMatch is a semantic match of query text against a section.
type SectionMatch struct {
	Title string
	Score float64
}

// Index maintains one vector index per document plus the embedding records
// needed to skip re-embedding unchanged sections. Only headed sections are
// indexed; the level-0 root span is never a match candidate.
type Index struct {
	embedder Embedder
	cache    *EmbeddingCache
	store    RecordStore
	dir      string
	logger   *zap.Logger

	mu   sync.Mutex
	docs map[string]*docIndex
}

type docIndex struct {
	vectors *vector.MemoryIndex
	records map[string]*models.EmbeddingRecord // keyed by section ID
}

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) IndexOption {
	return func(i *Index) {
		i.logger = logger
	}
}

// NewIndex creates a section embedding index backed by embedder, persisting
// vector files under dir and records in store.
func NewIndex(embedder Embedder, cache *EmbeddingCache, store RecordStore, dir string, opts ...IndexOption) *Index {
	idx := &Index{
		embedder: embedder,
		cache:    cache,
		store:    store,
		dir:      dir,
		logger:   zap.NewNop(),
		docs:     make(map[string]*docIndex),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

func (i *Index) vectorPath(document string) string {
	if i.dir == "" {
		return ""
	}
	return filepath.Join(i.dir, document+".vec")
}

// loadDoc returns the in-memory state for document, loading records and the
// vector file on first access. Records whose vector is missing from the file
// are dropped so the next sync re-embeds them.
func (i *Index) loadDoc(ctx context.Context, document string) (*docIndex, error) {
	if d, ok := i.docs[document]; ok {
		return d, nil
	}

	vectors, err := vector.NewMemoryIndex(i.embedder.Dimensions())
	if err != nil {
		return nil, err
	}
	if err := vectors.Load(i.vectorPath(document)); err != nil {
		i.logger.Warn("failed to load vector file, re-embedding from scratch",
			zap.String("document", document), zap.Error(err))
		vectors, _ = vector.NewMemoryIndex(i.embedder.Dimensions())
	}

	d := &docIndex{
		vectors: vectors,
		records: make(map[string]*models.EmbeddingRecord),
	}
	if i.store != nil {
		recs, err := i.store.ListEmbeddings(ctx, document)
		if err != nil {
			return nil, fmt.Errorf("list embedding records: %w", err)
		}
		present := make(map[string]bool)
		for _, id := range vectors.IDs() {
			present[id] = true
		}
		for _, rec := range recs {
			if present[rec.SectionID] {
				d.records[rec.SectionID] = rec
			}
		}
	}
	i.docs[document] = d
	return d, nil
}

// SyncDocument reconciles the index with the document's current sections.
// Sections whose body fingerprint is unchanged are skipped without any
// collaborator call; changed and new sections are embedded, removed sections
// are dropped. When the collaborator is unavailable the deterministic part
// of the reconciliation still happens and ErrUnavailable is returned.
func (i *Index) SyncDocument(ctx context.Context, document string, sections []models.Section) (SyncStats, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	var stats SyncStats
	d, err := i.loadDoc(ctx, document)
	if err != nil {
		return stats, err
	}

	type unit struct {
		id    string
		title string
		fp    string
		pos   int
		body  string
	}
	var units []unit
	seen := make(map[string]bool)
	pos := 0
	for _, s := range sections {
		if s.Level == 0 {
			continue
		}
		id := fingerprint.SectionID(document, s.Title)
		if seen[id] {
			i.logger.Debug("duplicate section title, keeping first",
				zap.String("document", document), zap.String("title", s.Title))
			continue
		}
		seen[id] = true
		units = append(units, unit{
			id:    id,
			title: s.Title,
			fp:    fingerprint.Body(s.Body),
			pos:   pos,
			body:  s.Body,
		})
		pos++
	}

	// Drop sections that no longer exist and sections whose content changed;
	// the latter are re-added below once their new vector exists.
	var stale []string
	for id := range d.records {
		if !seen[id] {
			stale = append(stale, id)
			stats.Removed++
		}
	}
	var pending []unit
	for _, u := range units {
		rec, ok := d.records[u.id]
		if ok && rec.Fingerprint == u.fp {
			if rec.Position != u.pos {
				rec.Position = u.pos
				if i.store != nil {
					if err := i.store.UpsertEmbedding(ctx, rec); err != nil {
						return stats, fmt.Errorf("update embedding record: %w", err)
					}
				}
			}
			stats.Skipped++
			continue
		}
		if ok {
			stale = append(stale, u.id)
		}
		pending = append(pending, u)
	}

	if len(stale) > 0 {
		if err := d.vectors.Remove(ctx, stale); err != nil {
			return stats, fmt.Errorf("remove stale vectors: %w", err)
		}
		for _, id := range stale {
			delete(d.records, id)
		}
		if i.store != nil {
			if err := i.store.DeleteEmbeddings(ctx, document, stale); err != nil {
				return stats, fmt.Errorf("delete embedding records: %w", err)
			}
		}
	}

	if len(pending) == 0 {
		return stats, i.save(document, d)
	}

	// Resolve pending vectors from the cache first, then embed the rest in
	// one batch. Identical bodies share a single collaborator call.
	vecs := make(map[string][]float32)
	var missing []string
	for _, u := range pending {
		if _, ok := vecs[u.fp]; ok {
			continue
		}
		if vec, ok := i.cacheGet(u.fp); ok {
			vecs[u.fp] = vec
			stats.CacheHits++
			continue
		}
		missing = append(missing, u.fp)
	}
	if len(missing) > 0 {
		texts := make([]string, len(missing))
		byFP := make(map[string]string)
		for _, u := range pending {
			byFP[u.fp] = u.body
		}
		for n, fp := range missing {
			texts[n] = byFP[fp]
		}
		embedded, err := i.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return stats, fmt.Errorf("embed %d sections of %q: %w", len(texts), document, err)
		}
		for n, fp := range missing {
			vec := embedded[n]
			utils.NormalizeL2(vec)
			vecs[fp] = vec
			i.cacheSet(fp, vec)
			stats.Embedded++
		}
	}

	now := time.Now()
	for _, u := range pending {
		if err := d.vectors.Add(ctx, []string{u.id}, [][]float32{vecs[u.fp]}); err != nil {
			return stats, fmt.Errorf("add vector: %w", err)
		}
		rec := &models.EmbeddingRecord{
			Document:    document,
			SectionID:   u.id,
			Title:       u.title,
			Fingerprint: u.fp,
			Position:    u.pos,
			UpdatedAt:   now,
		}
		d.records[u.id] = rec
		if i.store != nil {
			if err := i.store.UpsertEmbedding(ctx, rec); err != nil {
				return stats, fmt.Errorf("store embedding record: %w", err)
			}
		}
	}

	return stats, i.save(document, d)
}

// BestMatch embeds query and returns the section with the highest cosine
// similarity at or above threshold, or nil when no section qualifies. Score
// ties within tieEpsilon resolve to the earlier document-order section, so
// repeated calls with the same inputs always return the same section.
func (i *Index) BestMatch(ctx context.Context, document, query string, threshold float64) (*SectionMatch, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	d, err := i.loadDoc(ctx, document)
	if err != nil {
		return nil, err
	}
	if d.vectors.Size() == 0 {
		return nil, nil
	}

	qfp := fingerprint.Body(query)
	qvec, ok := i.cacheGet(qfp)
	if !ok {
		qvec, err = i.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		utils.NormalizeL2(qvec)
		i.cacheSet(qfp, qvec)
	}

	results, err := d.vectors.Search(ctx, qvec, d.vectors.Size())
	if err != nil {
		return nil, fmt.Errorf("search vectors: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	top := results[0].Score
	if top < threshold {
		return nil, nil
	}
	best := results[0]
	for _, r := range results[1:] {
		if top-r.Score > tieEpsilon {
			break
		}
		if i.position(d, r.ID) < i.position(d, best.ID) {
			best = r
		}
	}
	rec, ok := d.records[best.ID]
	if !ok {
		return nil, nil
	}
	return &SectionMatch{Title: rec.Title, Score: best.Score}, nil
}

// Positions returns the indexed titles of document, earliest first.
func (i *Index) Positions(ctx context.Context, document string) ([]string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	d, err := i.loadDoc(ctx, document)
	if err != nil {
		return nil, err
	}
	recs := make([]*models.EmbeddingRecord, 0, len(d.records))
	for _, rec := range d.records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(a, b int) bool { return recs[a].Position < recs[b].Position })
	titles := make([]string, len(recs))
	for n, rec := range recs {
		titles[n] = rec.Title
	}
	return titles, nil
}

// RemoveDocument drops all index state for document.
func (i *Index) RemoveDocument(ctx context.Context, document string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	d, err := i.loadDoc(ctx, document)
	if err != nil {
		return err
	}
	var ids []string
	for id := range d.records {
		ids = append(ids, id)
	}
	if i.store != nil && len(ids) > 0 {
		if err := i.store.DeleteEmbeddings(ctx, document, ids); err != nil {
			return fmt.Errorf("delete embedding records: %w", err)
		}
	}
	delete(i.docs, document)
	if path := i.vectorPath(document); path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove vector file: %w", err)
		}
	}
	return nil
}

// Close releases the embedder.
func (i *Index) Close() error {
	return i.embedder.Close()
}

func (i *Index) position(d *docIndex, id string) int {
	if rec, ok := d.records[id]; ok {
		return rec.Position
	}
	return int(^uint(0) >> 1)
}

func (i *Index) save(document string, d *docIndex) error {
	path := i.vectorPath(document)
	if path == "" {
		return nil
	}
	if err := d.vectors.Save(path); err != nil {
		return fmt.Errorf("save vector file: %w", err)
	}
	return nil
}

func (i *Index) cacheGet(key string) ([]float32, bool) {
	if i.cache == nil {
		return nil, false
	}
	return i.cache.Get(key)
}

func (i *Index) cacheSet(key string, vec []float32) {
	if i.cache != nil {
		i.cache.Set(key, vec)
	}
}

// Package engine wires the matcher, merge decision, task orchestrator, and
// version manager into the document-evolution surface the transport layer
// consumes. Each document's mutable state (pending fragments, in-flight
// section tasks) lives in one per-document context object; documents never
// share locks, so they are independent units of concurrency.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/matome/internal/blueprint"
	"github.com/hyperjump/matome/internal/embedding"
	"github.com/hyperjump/matome/internal/fragment"
	"github.com/hyperjump/matome/internal/keyword"
	"github.com/hyperjump/matome/internal/matcher"
	"github.com/hyperjump/matome/internal/merge"
	"github.com/hyperjump/matome/internal/models"
	"github.com/hyperjump/matome/internal/structure"
	"github.com/hyperjump/matome/internal/task"
	"github.com/hyperjump/matome/internal/version"
	"github.com/hyperjump/matome/pkg/utils"
)

// ErrNoPendingFragment reports that a section has no staged fragment to
// merge.
var ErrNoPendingFragment = errors.New("no pending fragment for section")

// staged is one fragment waiting for its merge to be started, together
// with how it was matched.
type staged struct {
	frag  models.Fragment
	match models.MatchResult
}

// docState is the per-document context object. All mutation of a
// document's pending queues goes through its lock.
type docState struct {
	mu      sync.Mutex
	pending map[string][]staged // normalized section title -> FIFO
	tasks   map[string]string   // normalized section title -> last submitted task ID
}

// Engine exposes the document evolution operations.
type Engine struct {
	versions     *version.Manager
	index        *embedding.Index
	titles       keyword.TitleIndex
	matcher      *matcher.Matcher
	orchestrator *task.Orchestrator
	blueprints   *blueprint.Registry
	logger       *zap.Logger

	mu   sync.Mutex
	docs map[string]*docState
}

// Options carries the engine's collaborators. Versions, Matcher,
// Orchestrator, and Blueprints are required; Index and Titles may be nil,
// which disables the corresponding match tiers and index maintenance.
type Options struct {
	Versions     *version.Manager
	Index        *embedding.Index
	Titles       keyword.TitleIndex
	Matcher      *matcher.Matcher
	Orchestrator *task.Orchestrator
	Blueprints   *blueprint.Registry
	Logger       *zap.Logger
}

// New creates an Engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		versions:     opts.Versions,
		index:        opts.Index,
		titles:       opts.Titles,
		matcher:      opts.Matcher,
		orchestrator: opts.Orchestrator,
		blueprints:   opts.Blueprints,
		logger:       logger,
		docs:         make(map[string]*docState),
	}
}

func (e *Engine) state(document string) *docState {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.docs[document]
	if !ok {
		d = &docState{
			pending: make(map[string][]staged),
			tasks:   make(map[string]string),
		}
		e.docs[document] = d
	}
	return d
}

// InitDocument creates a document from the default blueprint skeleton and
// commits it as version 1.
func (e *Engine) InitDocument(ctx context.Context, document, title string) (int, error) {
	body := blueprint.DefaultDocument(title)
	number, err := e.versions.Init(ctx, document, body)
	if err != nil {
		return 0, err
	}
	e.syncIndices(ctx, document, structure.Parse(body))
	return number, nil
}

// SubmitFragments extracts fragments from raw text, resolves each against
// the document's current structure, and stages them for merging. The
// returned match results are in staging order. Fragments whose body spans
// several sections are split into per-section chunks first; a chunk
// carrying its own heading overrides the block's asserted target.
func (e *Engine) SubmitFragments(ctx context.Context, document, raw string) ([]models.MatchResult, error) {
	doc, err := e.versions.Current(ctx, document)
	if err != nil {
		return nil, err
	}
	sections := structure.Parse(doc.Content)
	e.syncIndices(ctx, document, sections)

	var results []models.MatchResult
	d := e.state(document)
	for _, frag := range fragment.Extract(raw) {
		if err := frag.Validate(); err != nil {
			return nil, fmt.Errorf("invalid fragment for %q: %w", frag.TargetLabel, err)
		}
		for _, piece := range e.splitFragment(frag, sections) {
			match := e.matcher.Match(ctx, document, piece, sections)
			key := utils.NormalizeTitle(match.ResolvedTitle)

			d.mu.Lock()
			d.pending[key] = append(d.pending[key], staged{frag: piece, match: match})
			d.mu.Unlock()

			e.logger.Debug("fragment staged",
				zap.String("document", document),
				zap.String("section", match.ResolvedTitle),
				zap.String("method", match.Method),
				zap.Bool("is_new", match.IsNew))
			results = append(results, match)
		}
	}
	return results, nil
}

// splitFragment breaks a multi-section fragment into per-chunk fragments.
// The first chunk inherits the block's asserted target; later chunks with
// their own heading are addressed at that heading instead. A chunk whose
// own heading names a blueprint kind with no matching section re-targets
// to that heading even when the block asserted a target, so a new
// templated section is created rather than merged into the asserted one.
func (e *Engine) splitFragment(frag models.Fragment, sections []models.Section) []models.Fragment {
	chunks := structure.SplitChunks(frag.Body)
	if len(chunks) <= 1 {
		if len(chunks) == 1 && e.requestsNewSection(chunks[0].Title, sections) {
			frag.TargetLabel = chunks[0].Title
		}
		return []models.Fragment{frag}
	}
	out := make([]models.Fragment, 0, len(chunks))
	for i, c := range chunks {
		target := c.Title
		if i == 0 && frag.TargetLabel != "" && !e.requestsNewSection(c.Title, sections) {
			target = frag.TargetLabel
		}
		out = append(out, models.Fragment{
			TargetLabel: target,
			Summary:     frag.Summary,
			Body:        c.Body,
		})
	}
	return out
}

// requestsNewSection reports whether a chunk heading asks for a fresh
// blueprint section: the title belongs to a blueprint kind and no current
// section carries it.
func (e *Engine) requestsNewSection(title string, sections []models.Section) bool {
	if title == "" || e.blueprints == nil || e.blueprints.KindFor(title) == "" {
		return false
	}
	key := utils.NormalizeTitle(title)
	for _, s := range sections {
		if utils.NormalizeTitle(s.Title) == key {
			return false
		}
	}
	return true
}

// PendingSections lists the sections of a document with staged fragments,
// with queue depths.
func (e *Engine) PendingSections(document string) map[string]int {
	d := e.state(document)
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int, len(d.pending))
	for _, queue := range d.pending {
		if len(queue) == 0 {
			continue
		}
		out[queue[0].match.ResolvedTitle] = len(queue)
	}
	return out
}

// StartMerge pops the next staged fragment for a section, decides its
// merge plan, and submits it to the orchestrator. Deterministic plans come
// back as already-completed tasks; generative plans run in the background
// and are observed through PollTask.
func (e *Engine) StartMerge(ctx context.Context, document, sectionLabel string) (string, error) {
	doc, err := e.versions.Current(ctx, document)
	if err != nil {
		return "", err
	}

	key := utils.NormalizeTitle(sectionLabel)
	d := e.state(document)
	d.mu.Lock()
	queue := d.pending[key]
	if len(queue) == 0 {
		d.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrNoPendingFragment, sectionLabel)
	}
	next := queue[0]
	d.pending[key] = queue[1:]
	if len(d.pending[key]) == 0 {
		delete(d.pending, key)
	}
	d.mu.Unlock()

	plan := e.planMerge(doc.Content, next)
	id, err := e.orchestrator.Submit(ctx, document, plan)
	if err != nil {
		// Put the fragment back at the head so a retry sees it again.
		d.mu.Lock()
		d.pending[key] = append([]staged{next}, d.pending[key]...)
		d.mu.Unlock()
		return "", err
	}

	d.mu.Lock()
	d.tasks[key] = id
	d.mu.Unlock()

	e.logger.Info("merge started",
		zap.String("document", document),
		zap.String("section", plan.SectionTitle),
		zap.String("strategy", plan.Strategy),
		zap.String("task_id", id))
	return id, nil
}

// planMerge computes the merge plan for one staged fragment against the
// current snapshot. A fragment addressed at a new section merges into a
// fresh blueprint instance so the template-slot rules still apply.
func (e *Engine) planMerge(body string, st staged) models.MergePlan {
	sections := structure.Parse(body)
	title := st.match.ResolvedTitle

	var original string
	if i := structure.FindByTitle(sections, title); i >= 0 {
		original = structure.SubtreeBody(sections, i)
	} else {
		original = e.blueprints.NewSectionBody(st.match.Kind, title)
	}

	schema := e.blueprints.SchemaForTitle(title)
	plan := merge.Decide(original, st.frag.Body, schema)
	plan.SectionTitle = title
	plan.Summary = st.frag.Summary
	plan.IsNew = st.match.IsNew
	plan.Kind = st.match.Kind
	plan.Method = st.match.Method
	plan.Suggestion = st.match.Suggestion
	plan.Confidence = st.match.Confidence
	return plan
}

// PollTask returns a snapshot of a merge task.
func (e *Engine) PollTask(taskID string) (models.Task, error) {
	return e.orchestrator.Poll(taskID)
}

// ListTasks returns every retained task.
func (e *Engine) ListTasks() []models.Task {
	return e.orchestrator.List()
}

// CancelTask cooperatively cancels a merge task.
func (e *Engine) CancelTask(taskID string) error {
	return e.orchestrator.Cancel(taskID)
}

// CommitSection splices mergedBody in as the section's new subtree and
// commits the document. A section the document does not have yet is
// inserted under its blueprint parent when that parent exists, else
// appended at the end. The section's task, if any, is released.
func (e *Engine) CommitSection(ctx context.Context, document, sectionLabel, mergedBody string) (int, error) {
	doc, err := e.versions.Current(ctx, document)
	if err != nil {
		return 0, err
	}

	sections := structure.Parse(doc.Content)
	var body string
	if i := structure.FindByTitle(sections, sectionLabel); i >= 0 {
		body = structure.ReplaceSubtree(sections, i, structure.TerminateBlock(mergedBody))
	} else {
		body = e.insertSection(sections, sectionLabel, mergedBody)
	}

	number, err := e.versions.Commit(ctx, document, body, models.TriggerSectionMerge,
		fmt.Sprintf("Merged content into %q", sectionLabel), []string{sectionLabel})
	if err != nil {
		return 0, err
	}

	key := utils.NormalizeTitle(sectionLabel)
	d := e.state(document)
	d.mu.Lock()
	if id, ok := d.tasks[key]; ok {
		e.orchestrator.Release(id)
		delete(d.tasks, key)
	}
	d.mu.Unlock()

	e.syncIndices(ctx, document, structure.Parse(body))
	return number, nil
}

// insertSection places a new section's subtree into the document: at the
// end of its blueprint parent's subtree when the parent exists, otherwise
// appended after the last section.
func (e *Engine) insertSection(sections []models.Section, sectionLabel, body string) string {
	block := structure.TerminateBlock(body)
	if schema := e.blueprints.SchemaForTitle(sectionLabel); schema != nil && schema.ParentSection != "" {
		if i := structure.FindByTitle(sections, schema.ParentSection); i >= 0 {
			parent := structure.SubtreeBody(sections, i)
			return structure.ReplaceSubtree(sections, i, structure.AppendBody(parent, block))
		}
	}
	return structure.AppendBody(structure.Serialize(sections), block)
}

// ManualEdit commits an externally edited body. Unchanged content does not
// record a version.
func (e *Engine) ManualEdit(ctx context.Context, document, body string) (int, error) {
	number, err := e.versions.Commit(ctx, document, body, models.TriggerManualEdit,
		"Manual edit", nil)
	if err != nil {
		return 0, err
	}
	e.syncIndices(ctx, document, structure.Parse(body))
	return number, nil
}

// GetStructure returns the parsed sections of the current snapshot.
func (e *Engine) GetStructure(ctx context.Context, document string) ([]models.Section, error) {
	doc, err := e.versions.Current(ctx, document)
	if err != nil {
		return nil, err
	}
	return structure.Parse(doc.Content), nil
}

// GetVersionHistory returns the document's version metadata, oldest first.
func (e *Engine) GetVersionHistory(ctx context.Context, document string) ([]models.Version, error) {
	return e.versions.History(ctx, document)
}

// Rollback re-commits the snapshot at target as a new version and brings
// the indices back in line with it.
func (e *Engine) Rollback(ctx context.Context, document string, target int) (int, error) {
	number, err := e.versions.Rollback(ctx, document, target)
	if err != nil {
		return 0, err
	}
	doc, err := e.versions.Current(ctx, document)
	if err != nil {
		return 0, err
	}
	e.syncIndices(ctx, document, structure.Parse(doc.Content))
	return number, nil
}

// RenderDocument returns the current body, optionally annotated with
// version metadata.
func (e *Engine) RenderDocument(ctx context.Context, document string, annotated bool) (string, error) {
	return e.versions.Render(ctx, document, annotated)
}

// ListDocuments returns every registered document.
func (e *Engine) ListDocuments(ctx context.Context) ([]*models.Document, error) {
	return e.versions.List(ctx)
}

// syncIndices reconciles the embedding and keyword indices with sections.
// Index trouble never fails the calling operation: an unavailable
// embedding collaborator just leaves the semantic tier cold until the next
// sync, and the deterministic tiers keep working.
func (e *Engine) syncIndices(ctx context.Context, document string, sections []models.Section) {
	if e.index != nil {
		if stats, err := e.index.SyncDocument(ctx, document, sections); err != nil {
			e.logger.Warn("embedding index sync failed",
				zap.String("document", document), zap.Error(err))
		} else if stats.Embedded > 0 || stats.Removed > 0 {
			e.logger.Debug("embedding index synced",
				zap.String("document", document),
				zap.Int("embedded", stats.Embedded),
				zap.Int("cache_hits", stats.CacheHits),
				zap.Int("skipped", stats.Skipped),
				zap.Int("removed", stats.Removed))
		}
	}
	if e.titles != nil {
		if err := e.titles.IndexSections(ctx, document, sections); err != nil {
			e.logger.Warn("keyword index sync failed",
				zap.String("document", document), zap.Error(err))
		}
	}
}

// Close releases the orchestrator and indices.
func (e *Engine) Close() error {
	var firstErr error
	if e.orchestrator != nil {
		if err := e.orchestrator.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.index != nil {
		if err := e.index.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.titles != nil {
		if err := e.titles.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

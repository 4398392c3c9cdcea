// Package matcher resolves incoming fragments to sections of the current
// document. Tiers run in a fixed order: exact title, intent suffix,
// forced-new blueprint labels, semantic similarity, fuzzy keyword fallback,
// and finally novel. The deterministic tiers are free and always tried
// first; the embedding collaborator is consulted only when they all
// decline, and its unavailability degrades to the keyword tier instead of
// failing the match.
package matcher

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/matome/internal/blueprint"
	"github.com/hyperjump/matome/internal/embedding"
	"github.com/hyperjump/matome/internal/keyword"
	"github.com/hyperjump/matome/internal/models"
	"github.com/hyperjump/matome/internal/structure"
	"github.com/hyperjump/matome/pkg/utils"
)

// Options are the matching policy knobs. The acceptance threshold is
// deliberately configuration, not a constant.
type Options struct {
	AcceptThreshold float64
	FuzzyEnabled    bool
	Fuzziness       int
	MinKeywordScore float64
	MaxSuggestions  int
}

// Matcher resolves fragments against document structure.
type Matcher struct {
	semantic   *embedding.Index
	titles     keyword.TitleIndex
	blueprints *blueprint.Registry
	opts       Options
	logger     *zap.Logger
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) MatcherOption {
	return func(m *Matcher) {
		m.logger = logger
	}
}

// New creates a Matcher. semantic and titles may be nil, which disables
// their tiers; the deterministic tiers and the novel fallback always work.
func New(semantic *embedding.Index, titles keyword.TitleIndex, blueprints *blueprint.Registry, opts Options, mopts ...MatcherOption) *Matcher {
	m := &Matcher{
		semantic:   semantic,
		titles:     titles,
		blueprints: blueprints,
		opts:       opts,
		logger:     zap.NewNop(),
	}
	for _, opt := range mopts {
		opt(m)
	}
	return m
}

// Match resolves one fragment against sections. It never returns an error:
// a fragment that matches nothing is a novel section, and collaborator
// failures only close the semantic tier.
func (m *Matcher) Match(ctx context.Context, document string, frag models.Fragment, sections []models.Section) models.MatchResult {
	label := assertedLabel(frag)

	if result, ok := m.matchExact(label, sections); ok {
		return result
	}
	if result, ok := m.matchIntent(label, sections); ok {
		return result
	}
	if result, ok := m.matchForcedNew(label); ok {
		return result
	}
	if result, ok := m.matchSemantic(ctx, document, frag, label, sections); ok {
		return result
	}
	return m.novel(label, sections)
}

// assertedLabel returns the fragment's target label, falling back to the
// body's own first heading title and then its first line.
func assertedLabel(frag models.Fragment) string {
	if label := strings.TrimSpace(frag.TargetLabel); label != "" {
		return label
	}
	if _, title, ok := structure.HeadingInfo(utils.FirstLine(frag.Body)); ok && title != "" {
		return title
	}
	return strings.TrimSpace(utils.FirstLine(frag.Body))
}

// matchExact finds a section whose normalized title equals the label.
func (m *Matcher) matchExact(label string, sections []models.Section) (models.MatchResult, bool) {
	i := structure.FindByTitle(sections, label)
	if i < 0 {
		return models.MatchResult{}, false
	}
	return models.MatchResult{
		ResolvedTitle: sections[i].Title,
		OriginalBody:  structure.SubtreeBody(sections, i),
		Confidence:    1,
		Method:        models.MatchExact,
	}, true
}

// matchIntent handles labels and titles of the "Kind: Name" shape: a label
// "Feature: Auth" claims a section titled "Auth", and a label "Auth" claims
// a section titled "Feature: Auth". The earliest matching section wins.
func (m *Matcher) matchIntent(label string, sections []models.Section) (models.MatchResult, bool) {
	want := utils.NormalizeTitle(label)
	wantSuffix := utils.NormalizeTitle(labelSuffix(label))
	if want == "" {
		return models.MatchResult{}, false
	}
	for i, s := range sections {
		if s.Level == 0 {
			continue
		}
		title := utils.NormalizeTitle(s.Title)
		titleSuffix := utils.NormalizeTitle(labelSuffix(s.Title))
		if (wantSuffix != "" && wantSuffix == title) || (titleSuffix != "" && titleSuffix == want) {
			return models.MatchResult{
				ResolvedTitle: s.Title,
				OriginalBody:  structure.SubtreeBody(sections, i),
				Confidence:    1,
				Method:        models.MatchIntent,
			}, true
		}
	}
	return models.MatchResult{}, false
}

// labelSuffix returns the part after the first ": " separator, or "".
func labelSuffix(label string) string {
	if _, after, ok := strings.Cut(label, ": "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

// matchForcedNew recognizes labels that name a blueprint kind with no
// existing section: these explicitly request a fresh templated section and
// must not be absorbed into a semantically similar one.
func (m *Matcher) matchForcedNew(label string) (models.MatchResult, bool) {
	if m.blueprints == nil {
		return models.MatchResult{}, false
	}
	kind := m.blueprints.KindFor(label)
	if kind == "" {
		return models.MatchResult{}, false
	}
	return models.MatchResult{
		ResolvedTitle: label,
		Confidence:    1,
		IsNew:         true,
		Method:        models.MatchForcedNew,
		Kind:          kind,
	}, true
}

// matchSemantic consults the embedding index. An unavailable collaborator
// falls through to the keyword tier; a below-threshold best match falls
// through to novel.
func (m *Matcher) matchSemantic(ctx context.Context, document string, frag models.Fragment, label string, sections []models.Section) (models.MatchResult, bool) {
	if m.semantic == nil {
		return m.matchKeyword(ctx, document, label, sections)
	}

	query := frag.Body
	if query == "" {
		query = label
	}
	hit, err := m.semantic.BestMatch(ctx, document, query, m.opts.AcceptThreshold)
	if err != nil {
		if errors.Is(err, embedding.ErrUnavailable) {
			m.logger.Warn("semantic matching unavailable, degrading to keyword tier",
				zap.String("document", document), zap.Error(err))
			return m.matchKeyword(ctx, document, label, sections)
		}
		m.logger.Warn("semantic matching failed",
			zap.String("document", document), zap.Error(err))
		return models.MatchResult{}, false
	}
	if hit == nil {
		return models.MatchResult{}, false
	}
	i := structure.FindByTitle(sections, hit.Title)
	if i < 0 {
		// Index lag: the matched section is gone from the current snapshot.
		return models.MatchResult{}, false
	}
	return models.MatchResult{
		ResolvedTitle: sections[i].Title,
		OriginalBody:  structure.SubtreeBody(sections, i),
		Confidence:    hit.Score,
		Method:        models.MatchSemantic,
	}, true
}

// matchKeyword is the degraded tier: a fuzzy title query against the
// per-document keyword index.
func (m *Matcher) matchKeyword(ctx context.Context, document, label string, sections []models.Section) (models.MatchResult, bool) {
	if m.titles == nil || !m.opts.FuzzyEnabled || label == "" {
		return models.MatchResult{}, false
	}
	hit, err := m.titles.Match(ctx, document, label, &keyword.MatchOptions{
		Fuzziness: m.opts.Fuzziness,
		MinScore:  m.opts.MinKeywordScore,
	})
	if err != nil {
		m.logger.Warn("keyword matching failed",
			zap.String("document", document), zap.Error(err))
		return models.MatchResult{}, false
	}
	if hit == nil {
		return models.MatchResult{}, false
	}
	i := structure.FindByTitle(sections, hit.Title)
	if i < 0 {
		return models.MatchResult{}, false
	}
	return models.MatchResult{
		ResolvedTitle: sections[i].Title,
		OriginalBody:  structure.SubtreeBody(sections, i),
		Confidence:    hit.Score,
		Method:        models.MatchKeyword,
	}, true
}

// novel classifies the fragment as a new section, attaching the nearest
// existing title as a suggestion when one is reasonably close.
func (m *Matcher) novel(label string, sections []models.Section) models.MatchResult {
	result := models.MatchResult{
		ResolvedTitle: label,
		IsNew:         true,
		Method:        models.MatchNovel,
	}
	max := m.opts.MaxSuggestions
	if max <= 0 {
		max = 1
	}
	if near := keyword.NearestTitles(label, structure.Titles(sections), max); len(near) > 0 {
		result.Suggestion = near[0]
	}
	return result
}

// Package blueprint holds the section schemas that drive templated section
// creation. Built-in feature and milestone blueprints are always present;
// a directory of markdown files with YAML frontmatter can add or override
// kinds. The registry is immutable once constructed.
package blueprint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/matome/internal/models"
	"github.com/hyperjump/matome/internal/structure"
)

// Built-in blueprint kinds.
const (
	KindFeature   = "feature"
	KindMilestone = "milestone"
)

var featureSubsections = []string{
	"Context, Aim & Integration",
	"Constraints",
	"User Stories",
	"Technical Requirements",
	"API",
	"Data Layer",
	"Validation",
	"Dependencies",
	"Other Notes",
}

var milestoneSubsections = []string{
	"Content",
	"Validation",
}

// blueprintMeta is the YAML frontmatter of a blueprint file.
type blueprintMeta struct {
	Name           string `yaml:"name"`
	Type           string `yaml:"type"`
	Level          int    `yaml:"level"`
	AllowsSummary  bool   `yaml:"allows_summary"`
	TemplatePrefix string `yaml:"template_prefix"`
	ParentSection  string `yaml:"parent_section"`
}

// dynamicPrefix maps a title prefix from a loaded blueprint to its kind.
// Prefixes are checked longest first so the most specific blueprint wins.
type dynamicPrefix struct {
	prefix string
	kind   string
}

// Registry is an immutable lookup table of section schemas.
type Registry struct {
	logger  *zap.Logger
	schemas map[string]*models.SectionSchema
	dynamic []dynamicPrefix
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger for the registry.
func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry builds the registry from the built-in blueprints plus the
// markdown blueprint files under dir. An empty dir loads built-ins only.
// A missing directory is not an error; malformed files are skipped.
func NewRegistry(dir string, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		logger:  zap.NewNop(),
		schemas: make(map[string]*models.SectionSchema),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.schemas[KindFeature] = &models.SectionSchema{
		Title:            "Feature",
		Kind:             KindFeature,
		Level:            3,
		ParentSection:    "Features",
		TemplateBody:     slotTemplate(4, featureSubsections),
		SubsectionTitles: featureSubsections,
	}
	r.schemas[KindMilestone] = &models.SectionSchema{
		Title:            "Milestone",
		Kind:             KindMilestone,
		Level:            3,
		ParentSection:    "Roadmap",
		TemplateBody:     slotTemplate(4, milestoneSubsections),
		SubsectionTitles: milestoneSubsections,
	}

	if dir != "" {
		if err := r.loadDir(dir); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(r.dynamic, func(i, j int) bool {
		if len(r.dynamic[i].prefix) != len(r.dynamic[j].prefix) {
			return len(r.dynamic[i].prefix) > len(r.dynamic[j].prefix)
		}
		return r.dynamic[i].kind < r.dynamic[j].kind
	})
	return r, nil
}

// loadDir reads every .md file under dir as a frontmatter blueprint.
func (r *Registry) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Warn("Blueprints directory not found", zap.String("dir", dir))
			return nil
		}
		return fmt.Errorf("failed to read blueprints dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn("Failed to read blueprint file", zap.String("path", path), zap.Error(err))
			continue
		}

		parts := strings.SplitN(string(data), "---", 3)
		if len(parts) < 3 {
			r.logger.Warn("Blueprint file has no frontmatter", zap.String("path", path))
			continue
		}
		var meta blueprintMeta
		if err := yaml.Unmarshal([]byte(parts[1]), &meta); err != nil {
			r.logger.Warn("Failed to parse blueprint frontmatter", zap.String("path", path), zap.Error(err))
			continue
		}
		if meta.Name == "" || meta.Level < 1 {
			r.logger.Warn("Blueprint missing name or level", zap.String("path", path))
			continue
		}

		template := strings.TrimLeft(parts[2], "\n\t ")
		schema := &models.SectionSchema{
			Title:            meta.Name,
			Kind:             meta.Name,
			Level:            meta.Level,
			ParentSection:    meta.ParentSection,
			AllowsSummary:    meta.AllowsSummary,
			TemplateBody:     template,
			SubsectionTitles: subsectionTitles(template, meta.Level+1),
		}
		r.schemas[meta.Name] = schema

		if prefix := titlePrefix(meta.TemplatePrefix); prefix != "" {
			r.dynamic = append(r.dynamic, dynamicPrefix{prefix: prefix, kind: meta.Name})
		}
		r.logger.Debug("Loaded blueprint",
			zap.String("name", meta.Name),
			zap.Int("level", meta.Level),
			zap.String("path", path))
	}
	return nil
}

// titlePrefix strips the heading markers from a template prefix so it can
// be matched against section titles. "### Module: " becomes "module:".
func titlePrefix(templatePrefix string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimLeft(templatePrefix, "# ")))
}

// subsectionTitles collects the heading titles at level from a template body.
func subsectionTitles(template string, level int) []string {
	var titles []string
	for _, s := range structure.Parse(template) {
		if s.Level == level && s.Title != "" {
			titles = append(titles, s.Title)
		}
	}
	return titles
}

// slotTemplate renders empty subsection headings at the given level.
func slotTemplate(level int, titles []string) string {
	var b strings.Builder
	marker := strings.Repeat("#", level)
	for _, t := range titles {
		b.WriteString(marker)
		b.WriteString(" ")
		b.WriteString(t)
		b.WriteString("\n\n")
	}
	return b.String()
}

// Get returns a copy of the schema for kind.
func (r *Registry) Get(kind string) (*models.SectionSchema, bool) {
	schema, ok := r.schemas[kind]
	if !ok {
		return nil, false
	}
	out := *schema
	out.SubsectionTitles = append([]string(nil), schema.SubsectionTitles...)
	return &out, true
}

// KindFor returns the blueprint kind a section title belongs to, or "" for
// a plain section. Loaded blueprint prefixes are checked before the
// built-in feature and milestone title heuristics.
func (r *Registry) KindFor(title string) string {
	trimmed := strings.ToLower(strings.TrimSpace(title))
	if trimmed == "" {
		return ""
	}
	for _, d := range r.dynamic {
		if strings.HasPrefix(trimmed, d.prefix) {
			return d.kind
		}
	}
	if strings.HasPrefix(trimmed, KindFeature) {
		return KindFeature
	}
	if strings.HasPrefix(trimmed, KindMilestone) {
		return KindMilestone
	}
	return ""
}

// SchemaForTitle resolves a title to its schema, or nil for plain sections.
func (r *Registry) SchemaForTitle(title string) *models.SectionSchema {
	kind := r.KindFor(title)
	if kind == "" {
		return nil
	}
	schema, ok := r.Get(kind)
	if !ok {
		return nil
	}
	return schema
}

// Kinds lists every registered blueprint kind, sorted.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.schemas))
	for kind := range r.schemas {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// NewSectionBody renders a fresh section for kind titled label: the heading
// line at the blueprint's level followed by its empty subsection slots.
// Unknown kinds render a bare level-2 heading.
func (r *Registry) NewSectionBody(kind, label string) string {
	label = strings.TrimSpace(label)
	schema, ok := r.Get(kind)
	if !ok {
		return "## " + label + "\n\n"
	}
	var b strings.Builder
	b.WriteString(strings.Repeat("#", schema.Level))
	b.WriteString(" ")
	b.WriteString(label)
	b.WriteString("\n\n")
	b.WriteString(schema.TemplateBody)
	return structure.TerminateBlock(b.String())
}

// DefaultDocument renders the initial skeleton for a new document. An empty
// title falls back to "Document Title".
func DefaultDocument(title string) string {
	if strings.TrimSpace(title) == "" {
		title = "Document Title"
	}
	var b strings.Builder
	b.WriteString("# ")
	b.WriteString(title)
	b.WriteString("\n\n")
	b.WriteString("## Lexicon\n\n")
	b.WriteString("## Context, Aim & Integration\n\n")
	b.WriteString("### Context\n\n")
	b.WriteString("### Aim\n\n")
	b.WriteString("### Integration\n\n")
	b.WriteString("## Features\n\n")
	b.WriteString("### Feature 1\n\n")
	b.WriteString(slotTemplate(4, featureSubsections))
	b.WriteString("## Roadmap\n\n")
	b.WriteString("### Milestone 1\n\n")
	b.WriteString(slotTemplate(4, milestoneSubsections))
	return b.String()
}

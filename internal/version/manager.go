// Package version owns the append-only version log of each document: full
// snapshots, monotonic numbering, rollback-as-new-version, and rendering.
package version

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/matome/internal/models"
	"github.com/hyperjump/matome/internal/storage"
	"github.com/hyperjump/matome/internal/structure"
	"github.com/hyperjump/matome/pkg/utils"
)

// Manager persists document snapshots through a storage.Store and mirrors
// the current snapshot into the disk workspace. Every commit stores the
// full body, never a diff, so rollback is a single snapshot read.
type Manager struct {
	store     storage.Store
	workspace *storage.Workspace
	logger    *zap.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithWorkspace mirrors committed snapshots to the disk workspace.
func WithWorkspace(ws *storage.Workspace) ManagerOption {
	return func(m *Manager) { m.workspace = ws }
}

// NewManager creates a version manager over store.
func NewManager(store storage.Store, opts ...ManagerOption) *Manager {
	m := &Manager{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init registers a new document and commits body as version 1.
func (m *Manager) Init(ctx context.Context, document, body string) (int, error) {
	doc := &models.Document{Name: document, Content: "", CurrentVersion: 0}
	if err := m.store.CreateDocument(ctx, doc); err != nil {
		return 0, err
	}
	number, err := m.Commit(ctx, document, body, models.TriggerInit, "Initial document creation", nil)
	if err != nil {
		return 0, err
	}
	m.logger.Info("document created", zap.String("document", document))
	return number, nil
}

// Commit stores body as the document's next version. A manual edit whose
// body equals the current snapshot is not recorded; the current version
// number is returned unchanged. Explicit merge commits always record.
func (m *Manager) Commit(ctx context.Context, document, body, trigger, comment string, touched []string) (int, error) {
	doc, err := m.store.GetDocument(ctx, document)
	if err != nil {
		return 0, err
	}
	if trigger == models.TriggerManualEdit && doc.CurrentVersion > 0 && body == doc.Content {
		m.logger.Debug("skipping commit of unchanged content",
			zap.String("document", document))
		return doc.CurrentVersion, nil
	}

	version := &models.Version{
		Document: document,
		Number:   doc.CurrentVersion + 1,
		Content:  body,
		Trigger:  trigger,
		Comment:  comment,
		Sections: touched,
	}
	if err := m.store.AppendVersion(ctx, version); err != nil {
		return 0, err
	}
	if m.workspace != nil {
		if err := m.workspace.Write(document, body); err != nil {
			m.logger.Warn("failed to mirror snapshot to workspace",
				zap.String("document", document), zap.Error(err))
		}
	}
	m.logger.Info("version committed",
		zap.String("document", document),
		zap.Int("version", version.Number),
		zap.String("trigger", trigger),
		zap.Strings("sections", touched))
	return version.Number, nil
}

// Current returns the document registry row holding the newest snapshot.
func (m *Manager) Current(ctx context.Context, document string) (*models.Document, error) {
	return m.store.GetDocument(ctx, document)
}

// List returns every registered document.
func (m *Manager) List(ctx context.Context) ([]*models.Document, error) {
	return m.store.ListDocuments(ctx)
}

// Rollback re-commits the snapshot at target as a new version. The target
// and every version in between stay untouched; history only grows.
func (m *Manager) Rollback(ctx context.Context, document string, target int) (int, error) {
	version, err := m.store.GetVersion(ctx, document, target)
	if err != nil {
		return 0, err
	}
	comment := fmt.Sprintf("Rollback to version %d", target)
	number, err := m.Commit(ctx, document, version.Content, models.TriggerRollback, comment, version.Sections)
	if err != nil {
		return 0, err
	}
	m.logger.Info("document rolled back",
		zap.String("document", document),
		zap.Int("target", target),
		zap.Int("new_version", number))
	return number, nil
}

// History returns the document's version metadata in ascending order, with
// snapshot bodies stripped.
func (m *Manager) History(ctx context.Context, document string) ([]models.Version, error) {
	versions, err := m.store.ListVersions(ctx, document)
	if err != nil {
		return nil, err
	}
	out := make([]models.Version, len(versions))
	for i, v := range versions {
		out[i] = *v
		out[i].Content = ""
	}
	return out, nil
}

// Snapshot returns the full body stored at one version.
func (m *Manager) Snapshot(ctx context.Context, document string, number int) (string, error) {
	version, err := m.store.GetVersion(ctx, document, number)
	if err != nil {
		return "", err
	}
	return version.Content, nil
}

// Render returns the current document body. Plain mode is the snapshot
// verbatim. Annotated mode interleaves, under each section heading, the
// newest version that touched that section, and appends a version history
// table; it is a review view, never committed back.
func (m *Manager) Render(ctx context.Context, document string, annotated bool) (string, error) {
	doc, err := m.store.GetDocument(ctx, document)
	if err != nil {
		return "", err
	}
	if !annotated {
		return doc.Content, nil
	}
	versions, err := m.store.ListVersions(ctx, document)
	if err != nil {
		return "", err
	}
	return annotate(doc.Content, versions), nil
}

// annotate builds the annotated review rendering.
func annotate(body string, versions []*models.Version) string {
	// Newest version touching each normalized section title.
	touched := make(map[string]*models.Version)
	for _, v := range versions {
		for _, title := range v.Sections {
			touched[utils.NormalizeTitle(title)] = v
		}
	}

	var b strings.Builder
	for _, s := range structure.Parse(body) {
		if s.Level == 0 {
			b.WriteString(s.Body)
			continue
		}
		v, ok := touched[utils.NormalizeTitle(s.Title)]
		if !ok {
			b.WriteString(s.Body)
			continue
		}
		heading := utils.FirstLine(s.Body)
		rest := strings.TrimPrefix(s.Body, heading)
		rest = strings.TrimPrefix(rest, "\r")
		rest = strings.TrimPrefix(rest, "\n")
		b.WriteString(heading)
		b.WriteString("\n")
		if v.Comment != "" {
			fmt.Fprintf(&b, "> *v%d: %s*\n", v.Number, v.Comment)
		} else {
			fmt.Fprintf(&b, "> *v%d: %s*\n", v.Number, v.Trigger)
		}
		b.WriteString(rest)
	}

	b.WriteString("\n## Version History\n\n")
	b.WriteString("| Version | Date | Trigger | Sections | Comment |\n")
	b.WriteString("|---------|------|---------|----------|--------|\n")
	for i := len(versions) - 1; i >= 0; i-- {
		v := versions[i]
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n",
			v.Number,
			v.CreatedAt.Format("2006-01-02 15:04"),
			v.Trigger,
			strings.Join(v.Sections, ", "),
			v.Comment)
	}
	return b.String()
}

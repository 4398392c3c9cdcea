package version

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/matome/internal/models"
	"github.com/hyperjump/matome/internal/storage"
)

const testBody = "# Spec\n\n## Auth\n\nToken sessions.\n\n## Billing\n\n"

func newTestManager(t *testing.T, opts ...ManagerOption) (*Manager, storage.Store) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "matome.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewManager(store, opts...), store
}

func TestInitCommitsVersionOne(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	number, err := m.Init(ctx, "spec", testBody)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if number != 1 {
		t.Fatalf("number = %d, want 1", number)
	}

	doc, err := m.Current(ctx, "spec")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if doc.CurrentVersion != 1 || doc.Content != testBody {
		t.Errorf("document = %+v", doc)
	}

	history, err := m.History(ctx, "spec")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Trigger != models.TriggerInit {
		t.Errorf("history = %+v", history)
	}
}

func TestInitExistingDocument(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Init(ctx, "spec", testBody); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := m.Init(ctx, "spec", testBody); !errors.Is(err, storage.ErrDocumentExists) {
		t.Errorf("err = %v, want ErrDocumentExists", err)
	}
}

func TestCommitNumbersAreMonotonic(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Init(ctx, "spec", testBody); err != nil {
		t.Fatalf("Init: %v", err)
	}
	for want := 2; want <= 6; want++ {
		body := testBody + strings.Repeat("More.\n", want)
		number, err := m.Commit(ctx, "spec", body, models.TriggerSectionMerge, "merge", []string{"Auth"})
		if err != nil {
			t.Fatalf("Commit %d: %v", want, err)
		}
		if number != want {
			t.Fatalf("number = %d, want %d", number, want)
		}
	}

	history, err := m.History(ctx, "spec")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	for i, v := range history {
		if v.Number != i+1 {
			t.Errorf("history[%d].Number = %d", i, v.Number)
		}
		if v.Content != "" {
			t.Errorf("history[%d] carries a snapshot body", i)
		}
	}
}

func TestManualEditSameContentSkipped(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Init(ctx, "spec", testBody); err != nil {
		t.Fatalf("Init: %v", err)
	}
	number, err := m.Commit(ctx, "spec", testBody, models.TriggerManualEdit, "touch", nil)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if number != 1 {
		t.Errorf("number = %d, want unchanged 1", number)
	}
	if history, _ := m.History(ctx, "spec"); len(history) != 1 {
		t.Errorf("history grew to %d entries", len(history))
	}

	// An explicit merge commit of identical content still records.
	number, err = m.Commit(ctx, "spec", testBody, models.TriggerSectionMerge, "merge", []string{"Auth"})
	if err != nil {
		t.Fatalf("merge Commit: %v", err)
	}
	if number != 2 {
		t.Errorf("merge commit number = %d, want 2", number)
	}
}

func TestRollbackIsANewVersion(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Init(ctx, "spec", testBody); err != nil {
		t.Fatalf("Init: %v", err)
	}
	edited := testBody + "Appendix.\n"
	if _, err := m.Commit(ctx, "spec", edited, models.TriggerManualEdit, "edit", nil); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	number, err := m.Rollback(ctx, "spec", 1)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if number != 3 {
		t.Fatalf("rollback version = %d, want 3", number)
	}

	snapshot, err := m.Snapshot(ctx, "spec", 3)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snapshot != testBody {
		t.Errorf("rollback content differs from target:\n%s", snapshot)
	}

	// The intermediate version is untouched.
	if mid, _ := m.Snapshot(ctx, "spec", 2); mid != edited {
		t.Error("rollback rewrote history")
	}

	history, _ := m.History(ctx, "spec")
	if history[2].Trigger != models.TriggerRollback ||
		!strings.Contains(history[2].Comment, "version 1") {
		t.Errorf("rollback entry = %+v", history[2])
	}
}

func TestRollbackUnknownVersion(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Init(ctx, "spec", testBody); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := m.Rollback(ctx, "spec", 9); !errors.Is(err, storage.ErrVersionNotFound) {
		t.Errorf("err = %v, want ErrVersionNotFound", err)
	}
}

func TestCommitMirrorsWorkspace(t *testing.T) {
	dir := t.TempDir()
	ws, err := storage.NewWorkspace(dir)
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	m, _ := newTestManager(t, WithWorkspace(ws))
	ctx := context.Background()

	if _, err := m.Init(ctx, "spec", testBody); err != nil {
		t.Fatalf("Init: %v", err)
	}
	content, ok, err := ws.Read("spec")
	if err != nil || !ok {
		t.Fatalf("workspace read: ok=%v err=%v", ok, err)
	}
	if content != testBody {
		t.Errorf("mirrored content = %q", content)
	}
}

func TestRenderPlainAndAnnotated(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Init(ctx, "spec", testBody); err != nil {
		t.Fatalf("Init: %v", err)
	}
	merged := "# Spec\n\n## Auth\n\nOAuth sessions.\n\n## Billing\n\n"
	if _, err := m.Commit(ctx, "spec", merged, models.TriggerSectionMerge,
		`Merged content into "Auth"`, []string{"Auth"}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	plain, err := m.Render(ctx, "spec", false)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if plain != merged {
		t.Errorf("plain rendering differs from snapshot")
	}

	annotated, err := m.Render(ctx, "spec", true)
	if err != nil {
		t.Fatalf("Render annotated: %v", err)
	}
	if !strings.Contains(annotated, "## Auth\n> *v2: Merged content into \"Auth\"*\n") {
		t.Errorf("missing section annotation:\n%s", annotated)
	}
	if strings.Contains(annotated, "## Billing\n>") {
		t.Errorf("untouched section annotated:\n%s", annotated)
	}
	if !strings.Contains(annotated, "## Version History") ||
		!strings.Contains(annotated, "| Version | Date | Trigger | Sections | Comment |") {
		t.Errorf("missing history table:\n%s", annotated)
	}
	// Newest first in the table.
	if strings.Index(annotated, "| 2 |") > strings.Index(annotated, "| 1 |") {
		t.Errorf("history table not newest-first:\n%s", annotated)
	}
}

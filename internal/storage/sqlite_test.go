package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/matome/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "matome.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestDocumentLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := &models.Document{Name: "spec", Content: "", CurrentVersion: 0}
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if err := store.CreateDocument(ctx, doc); !errors.Is(err, ErrDocumentExists) {
		t.Errorf("duplicate create error = %v, want ErrDocumentExists", err)
	}

	got, err := store.GetDocument(ctx, "spec")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Name != "spec" || got.CurrentVersion != 0 {
		t.Errorf("unexpected document %+v", got)
	}

	if _, err := store.GetDocument(ctx, "absent"); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("missing get error = %v, want ErrDocumentNotFound", err)
	}

	if err := store.DeleteDocument(ctx, "spec"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if err := store.DeleteDocument(ctx, "spec"); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("second delete error = %v, want ErrDocumentNotFound", err)
	}
}

func TestAppendVersionAdvancesDocument(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateDocument(ctx, &models.Document{Name: "spec"}); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	v1 := &models.Version{
		Document: "spec",
		Number:   1,
		Content:  "# Spec\n",
		Trigger:  models.TriggerInit,
		Comment:  "Initial document creation",
	}
	if err := store.AppendVersion(ctx, v1); err != nil {
		t.Fatalf("AppendVersion v1: %v", err)
	}

	doc, err := store.GetDocument(ctx, "spec")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.CurrentVersion != 1 || doc.Content != "# Spec\n" {
		t.Errorf("document not advanced: %+v", doc)
	}

	// A gap in numbering is rejected and the document stays put.
	bad := &models.Version{Document: "spec", Number: 5, Content: "x", Trigger: models.TriggerManualEdit}
	if err := store.AppendVersion(ctx, bad); err == nil {
		t.Fatal("expected error for non-sequential version number")
	}
	doc, _ = store.GetDocument(ctx, "spec")
	if doc.CurrentVersion != 1 {
		t.Errorf("failed append mutated the document: %+v", doc)
	}
}

func TestVersionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateDocument(ctx, &models.Document{Name: "spec"}); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	in := &models.Version{
		Document: "spec",
		Number:   1,
		Content:  "# Spec\n\n## Auth\n\n",
		Trigger:  models.TriggerSectionMerge,
		Comment:  `Merged content into "Auth"`,
		Sections: []string{"Auth"},
	}
	if err := store.AppendVersion(ctx, in); err != nil {
		t.Fatalf("AppendVersion: %v", err)
	}

	out, err := store.GetVersion(ctx, "spec", 1)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if out.Content != in.Content || out.Trigger != in.Trigger || out.Comment != in.Comment {
		t.Errorf("round trip mismatch: %+v", out)
	}
	if len(out.Sections) != 1 || out.Sections[0] != "Auth" {
		t.Errorf("sections = %v, want [Auth]", out.Sections)
	}

	if _, err := store.GetVersion(ctx, "spec", 9); !errors.Is(err, ErrVersionNotFound) {
		t.Errorf("missing version error = %v, want ErrVersionNotFound", err)
	}
}

func TestListVersionsOrdered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateDocument(ctx, &models.Document{Name: "spec"}); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	for n := 1; n <= 3; n++ {
		v := &models.Version{Document: "spec", Number: n, Content: "v", Trigger: models.TriggerManualEdit}
		if err := store.AppendVersion(ctx, v); err != nil {
			t.Fatalf("AppendVersion %d: %v", n, err)
		}
	}
	versions, err := store.ListVersions(ctx, "spec")
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("len = %d, want 3", len(versions))
	}
	for i, v := range versions {
		if v.Number != i+1 {
			t.Errorf("versions[%d].Number = %d", i, v.Number)
		}
	}
}

func TestEmbeddingRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &models.EmbeddingRecord{
		Document:    "spec",
		SectionID:   "section:abc",
		Title:       "Auth",
		Fingerprint: "fp1",
		Position:    0,
		UpdatedAt:   time.Now(),
	}
	if err := store.UpsertEmbedding(ctx, rec); err != nil {
		t.Fatalf("UpsertEmbedding: %v", err)
	}

	// Same key, new fingerprint: replaces in place.
	rec.Fingerprint = "fp2"
	if err := store.UpsertEmbedding(ctx, rec); err != nil {
		t.Fatalf("UpsertEmbedding update: %v", err)
	}

	recs, err := store.ListEmbeddings(ctx, "spec")
	if err != nil {
		t.Fatalf("ListEmbeddings: %v", err)
	}
	if len(recs) != 1 || recs[0].Fingerprint != "fp2" {
		t.Fatalf("unexpected records %+v", recs)
	}

	if err := store.DeleteEmbeddings(ctx, "spec", []string{"section:abc"}); err != nil {
		t.Fatalf("DeleteEmbeddings: %v", err)
	}
	recs, _ = store.ListEmbeddings(ctx, "spec")
	if len(recs) != 0 {
		t.Errorf("records not deleted: %+v", recs)
	}
}

func TestCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateDocument(ctx, &models.Document{Name: "a"}); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if err := store.AppendVersion(ctx, &models.Version{Document: "a", Number: 1, Content: "x", Trigger: models.TriggerInit}); err != nil {
		t.Fatalf("AppendVersion: %v", err)
	}

	if n, _ := store.CountDocuments(ctx); n != 1 {
		t.Errorf("CountDocuments = %d, want 1", n)
	}
	if n, _ := store.CountVersions(ctx); n != 1 {
		t.Errorf("CountVersions = %d, want 1", n)
	}
}

// Package storage defines the persistence interface for documents, their
// version log, and embedding records.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/matome/internal/models"
)

// Sentinel errors returned by Store implementations.
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentExists   = errors.New("document already exists")
	ErrVersionNotFound  = errors.New("version not found")
)

// Store defines document, version, and embedding-record persistence. The
// version log is append-only: committed snapshots are never updated or
// removed while their document exists.
type Store interface {
	// Document registry
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, name string) (*models.Document, error)
	ListDocuments(ctx context.Context) ([]*models.Document, error)
	DeleteDocument(ctx context.Context, name string) error

	// Version log. AppendVersion writes the snapshot row and advances the
	// document's current content and version number in one transaction, so
	// a failed commit leaves the prior version intact.
	AppendVersion(ctx context.Context, version *models.Version) error
	GetVersion(ctx context.Context, document string, number int) (*models.Version, error)
	ListVersions(ctx context.Context, document string) ([]*models.Version, error)

	// Embedding records
	UpsertEmbedding(ctx context.Context, rec *models.EmbeddingRecord) error
	ListEmbeddings(ctx context.Context, document string) ([]*models.EmbeddingRecord, error)
	DeleteEmbeddings(ctx context.Context, document string, sectionIDs []string) error

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountVersions(ctx context.Context) (int64, error)

	Close() error
}

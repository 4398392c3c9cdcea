package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/matome/internal/models"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		name TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		current_version INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS versions (
		document TEXT NOT NULL,
		number INTEGER NOT NULL,
		content TEXT NOT NULL,
		trigger_kind TEXT NOT NULL,
		comment TEXT,
		sections TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (document, number)
	);

	CREATE INDEX IF NOT EXISTS idx_versions_document ON versions(document);

	CREATE TABLE IF NOT EXISTS embeddings (
		document TEXT NOT NULL,
		section_id TEXT NOT NULL,
		title TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		position INTEGER NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (document, section_id)
	);

	CREATE INDEX IF NOT EXISTS idx_embeddings_document ON embeddings(document);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateDocument inserts a document registry row.
func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (name, content, current_version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		doc.Name, doc.Content, doc.CurrentVersion, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDocumentExists, doc.Name)
	}
	return err
}

// GetDocument returns a document by name.
func (s *SQLiteStore) GetDocument(ctx context.Context, name string) (*models.Document, error) {
	var doc models.Document
	err := s.db.QueryRowContext(ctx,
		`SELECT name, content, current_version, created_at, updated_at
		 FROM documents WHERE name = ?`, name,
	).Scan(&doc.Name, &doc.Content, &doc.CurrentVersion, &doc.CreatedAt, &doc.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocuments returns every registered document, oldest first.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, content, current_version, created_at, updated_at
		 FROM documents ORDER BY created_at, name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var doc models.Document
		if err := rows.Scan(&doc.Name, &doc.Content, &doc.CurrentVersion, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document, its versions, and its embedding records.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, name)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM versions WHERE document = ?`, name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE document = ?`, name); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendVersion writes a snapshot row and advances the document row in one
// transaction. The version number must be exactly one past the document's
// current version; anything else means a racing writer, and the transaction
// is aborted with the document untouched.
func (s *SQLiteStore) AppendVersion(ctx context.Context, version *models.Version) error {
	sectionsJSON, err := json.Marshal(version.Sections)
	if err != nil {
		return fmt.Errorf("failed to marshal sections: %w", err)
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current int
	err = tx.QueryRowContext(ctx,
		`SELECT current_version FROM documents WHERE name = ?`, version.Document,
	).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, version.Document)
	}
	if err != nil {
		return err
	}
	if version.Number != current+1 {
		return fmt.Errorf("version %d does not follow current version %d of %q",
			version.Number, current, version.Document)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO versions (document, number, content, trigger_kind, comment, sections, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		version.Document, version.Number, version.Content, version.Trigger,
		version.Comment, string(sectionsJSON), version.CreatedAt,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET content = ?, current_version = ?, updated_at = ? WHERE name = ?`,
		version.Content, version.Number, version.CreatedAt, version.Document,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// GetVersion returns one snapshot of a document.
func (s *SQLiteStore) GetVersion(ctx context.Context, document string, number int) (*models.Version, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT document, number, content, trigger_kind, comment, sections, created_at
		 FROM versions WHERE document = ? AND number = ?`, document, number,
	)
	version, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s v%d", ErrVersionNotFound, document, number)
	}
	if err != nil {
		return nil, err
	}
	return version, nil
}

// ListVersions returns a document's versions in ascending order.
func (s *SQLiteStore) ListVersions(ctx context.Context, document string) ([]*models.Version, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document, number, content, trigger_kind, comment, sections, created_at
		 FROM versions WHERE document = ? ORDER BY number`, document,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*models.Version
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*models.Version, error) {
	var version models.Version
	var comment sql.NullString
	var sectionsJSON sql.NullString
	if err := row.Scan(&version.Document, &version.Number, &version.Content,
		&version.Trigger, &comment, &sectionsJSON, &version.CreatedAt); err != nil {
		return nil, err
	}
	version.Comment = comment.String
	if sectionsJSON.String != "" {
		if err := json.Unmarshal([]byte(sectionsJSON.String), &version.Sections); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sections: %w", err)
		}
	}
	return &version, nil
}

// UpsertEmbedding inserts or replaces one embedding record.
func (s *SQLiteStore) UpsertEmbedding(ctx context.Context, rec *models.EmbeddingRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embeddings (document, section_id, title, fingerprint, position, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(document, section_id) DO UPDATE SET
		   title = excluded.title,
		   fingerprint = excluded.fingerprint,
		   position = excluded.position,
		   updated_at = excluded.updated_at`,
		rec.Document, rec.SectionID, rec.Title, rec.Fingerprint, rec.Position, rec.UpdatedAt,
	)
	return err
}

// ListEmbeddings returns a document's embedding records in document order.
func (s *SQLiteStore) ListEmbeddings(ctx context.Context, document string) ([]*models.EmbeddingRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document, section_id, title, fingerprint, position, updated_at
		 FROM embeddings WHERE document = ? ORDER BY position`, document,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.EmbeddingRecord
	for rows.Next() {
		var rec models.EmbeddingRecord
		if err := rows.Scan(&rec.Document, &rec.SectionID, &rec.Title,
			&rec.Fingerprint, &rec.Position, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// DeleteEmbeddings removes the named embedding records of a document.
func (s *SQLiteStore) DeleteEmbeddings(ctx context.Context, document string, sectionIDs []string) error {
	if len(sectionIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`DELETE FROM embeddings WHERE document = ? AND section_id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range sectionIDs {
		if _, err := stmt.ExecContext(ctx, document, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStore) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// CountVersions returns the total number of stored snapshots.
func (s *SQLiteStore) CountVersions(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM versions`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a primary-key or unique
// constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

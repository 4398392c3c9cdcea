package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace materializes documents as plain markdown files so external
// editors and the directory watcher can see them. The SQLite store stays
// the source of truth; workspace files are rewritten on every commit and
// read back only when the watcher reports an out-of-band edit.
type Workspace struct {
	dir string
}

// NewWorkspace creates the workspace directory if needed.
func NewWorkspace(dir string) (*Workspace, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace dir: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

// Dir returns the workspace root.
func (w *Workspace) Dir() string {
	return w.dir
}

// Path returns the file path a document is materialized at.
func (w *Workspace) Path(document string) string {
	return filepath.Join(w.dir, document+".md")
}

// DocumentForPath resolves a workspace file path back to its document name,
// or "" when the path is not a workspace markdown file.
func (w *Workspace) DocumentForPath(path string) string {
	dir := filepath.Dir(path)
	if filepath.Clean(dir) != filepath.Clean(w.dir) {
		return ""
	}
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".md") {
		return ""
	}
	return strings.TrimSuffix(base, ".md")
}

// Write materializes a document snapshot. The write goes through a temp
// file and rename so the watcher never observes a half-written document.
func (w *Workspace) Write(document, content string) error {
	path := w.Path(document)
	tmp, err := os.CreateTemp(w.dir, "."+document+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace document file: %w", err)
	}
	return nil
}

// Read returns a document's workspace file content. A missing file is not
// an error; ok is false.
func (w *Workspace) Read(document string) (content string, ok bool, err error) {
	data, err := os.ReadFile(w.Path(document))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read document file: %w", err)
	}
	return string(data), true, nil
}

// Remove deletes a document's workspace file if present.
func (w *Workspace) Remove(document string) error {
	if err := os.Remove(w.Path(document)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove document file: %w", err)
	}
	return nil
}

// Package models defines core data structures for documents, sections, merge
// plans, tasks, and version history.
package models

import "time"

// Document represents a managed markdown document with version bookkeeping.
type Document struct {
	Name           string    `json:"name" db:"name"`
	Content        string    `json:"content" db:"content"`
	CurrentVersion int       `json:"current_version" db:"current_version"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Section is one contiguous span of a document owned by a single heading.
// Body holds the exact source text of the span, heading line included, so the
// concatenation of all section bodies in order reproduces the document byte
// for byte. Level is the length of the heading marker run; the synthetic root
// section that holds text before the first heading has Level 0 and an empty
// Title.
type Section struct {
	Title string `json:"title"`
	Level int    `json:"level"`
	Body  string `json:"body"`
}

package models

import "time"

// EmbeddingRecord tracks which content fingerprint a stored section vector
// was computed from. A record is valid exactly while its fingerprint equals
// the fingerprint of the section's current body; syncing skips the remote
// embedding call for every section whose record is still valid.
type EmbeddingRecord struct {
	Document    string    `json:"document" db:"document"`
	SectionID   string    `json:"section_id" db:"section_id"`
	Title       string    `json:"title" db:"title"`
	Fingerprint string    `json:"fingerprint" db:"fingerprint"`
	Position    int       `json:"position" db:"position"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

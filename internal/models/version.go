package models

import "time"

// Version triggers describe what caused a snapshot to be taken.
const (
	TriggerInit          = "init"
	TriggerManualEdit    = "manual_edit"
	TriggerSectionMerge  = "section_merge"
	TriggerMergeComplete = "merge_complete"
	TriggerRollback      = "rollback"
)

// Version is one immutable full snapshot of a document plus commit metadata.
// Numbers start at 1 and increase by one per commit; a rollback appends a new
// version rather than truncating history.
type Version struct {
	Document  string    `json:"document" db:"document"`
	Number    int       `json:"number" db:"number"`
	Content   string    `json:"content" db:"content"`
	Trigger   string    `json:"trigger" db:"trigger"`
	Comment   string    `json:"comment" db:"comment"`
	Sections  []string  `json:"sections,omitempty" db:"sections"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

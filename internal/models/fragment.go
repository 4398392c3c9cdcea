package models

import "fmt"

// Fragment is one unit of incoming change text addressed at a section.
// TargetLabel is the author's intent string and does not have to match an
// existing section title; resolution against the document is the matcher's
// job. Summary is a one-line description of the change carried alongside the
// body into generative merges.
type Fragment struct {
	TargetLabel string `json:"target_label"`
	Summary     string `json:"summary,omitempty"`
	Body        string `json:"body"`
}

// Validate ensures the fragment carries content to merge.
func (f *Fragment) Validate() error {
	if f.Body == "" {
		return fmt.Errorf("fragment body cannot be empty")
	}
	return nil
}

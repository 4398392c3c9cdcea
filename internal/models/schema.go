package models

// SectionSchema describes the structural contract of a section as exposed to
// generation collaborators: where the section sits in the document hierarchy
// and what shape its content is expected to take.
type SectionSchema struct {
	Title            string   `json:"title"`
	Kind             string   `json:"kind,omitempty"`
	Level            int      `json:"level"`
	ParentSection    string   `json:"parent_section,omitempty"`
	AllowsSummary    bool     `json:"allows_summary"`
	TemplateBody     string   `json:"template_body,omitempty"`
	SubsectionTitles []string `json:"subsection_titles,omitempty"`
}

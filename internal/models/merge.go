package models

// Merge strategies, in decision order. DirectReplace is tried first, then
// StructuralSplice; GenerativeMerge is the fallback when neither
// deterministic rule applies.
const (
	MergeDirectReplace    = "direct-replace"
	MergeStructuralSplice = "structural-splice"
	MergeGenerative       = "generative"
)

// MergePlan is the decided strategy for folding one fragment into a section.
// Merged is populated immediately for the deterministic strategies and left
// empty for GenerativeMerge, where the result arrives through a task.
type MergePlan struct {
	Strategy     string   `json:"strategy"`
	SectionTitle string   `json:"section_title"`
	Original     string   `json:"original"`
	Fragment     string   `json:"fragment"`
	Summary      string   `json:"summary,omitempty"`
	Merged       string   `json:"merged,omitempty"`
	Slots        []string `json:"slots,omitempty"`
	IsNew        bool     `json:"is_new"`
	Kind         string   `json:"kind,omitempty"`
	Method       string   `json:"method,omitempty"`
	Suggestion   string   `json:"suggestion,omitempty"`
	Confidence   float64  `json:"confidence,omitempty"`
}

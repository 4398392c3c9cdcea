package models

// Match methods, in the order the matcher tries them.
const (
	MatchExact     = "exact"      // normalized title equality
	MatchIntent    = "intent"     // target label suffix names an existing title
	MatchForcedNew = "forced-new" // label or chunk heading names a templated kind
	MatchSemantic  = "semantic"   // embedding similarity above the accept threshold
	MatchKeyword   = "keyword"    // fuzzy keyword fallback when embeddings are unavailable
	MatchNovel     = "novel"      // no existing section claims the fragment
)

// MatchResult records how a fragment chunk was resolved against the current
// document structure.
type MatchResult struct {
	ResolvedTitle string  `json:"resolved_title"`
	OriginalBody  string  `json:"original_body,omitempty"`
	Confidence    float64 `json:"confidence"`
	IsNew         bool    `json:"is_new"`
	Method        string  `json:"method"`
	// Kind names the blueprint a forced-new section is instantiated from.
	Kind string `json:"kind,omitempty"`
	// Suggestion carries a near-miss existing title when the chunk was
	// classified novel but a close candidate exists.
	Suggestion string `json:"suggestion,omitempty"`
}

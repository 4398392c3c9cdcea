// Package merge classifies how a fragment folds into a section and computes
// the merged span for the deterministic strategies. Decision precedence is
// fixed: DirectReplace, then StructuralSplice, then GenerativeMerge. The
// two deterministic strategies never call a collaborator.
package merge

import (
	"strings"

	"github.com/hyperjump/matome/internal/models"
	"github.com/hyperjump/matome/internal/structure"
	"github.com/hyperjump/matome/pkg/utils"
)

// Decide picks the merge strategy for folding fragment into a section whose
// current subtree is original. schema, when non-nil, restricts splice slots
// to the blueprint's known subsection names. Merged is populated for the
// deterministic strategies; a GenerativeMerge plan leaves it empty for the
// task runner.
func Decide(original, fragment string, schema *models.SectionSchema) models.MergePlan {
	plan := models.MergePlan{
		Strategy: models.MergeGenerative,
		Original: original,
		Fragment: fragment,
	}

	if scaffoldOnly(original) {
		plan.Strategy = models.MergeDirectReplace
		plan.Merged = directReplace(original, fragment)
		return plan
	}

	if merged, slots, ok := trySplice(original, fragment, schema); ok {
		plan.Strategy = models.MergeStructuralSplice
		plan.Merged = merged
		plan.Slots = slots
		return plan
	}

	return plan
}

// scaffoldOnly reports whether text holds no content beyond headings:
// every non-blank line is a heading line. Empty text qualifies.
func scaffoldOnly(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "#") {
			return false
		}
	}
	return true
}

// directReplace renders the fragment as the section's new span. When the
// original opened with a heading and the fragment does not bring its own,
// the original heading line is kept so the section survives the replace.
func directReplace(original, fragment string) string {
	merged := strings.TrimSpace(fragment)
	if heading, ok := headingLine(original); ok && !startsWithHeading(merged) {
		if merged == "" {
			return structure.TerminateBlock(heading)
		}
		merged = heading + "\n\n" + merged
	}
	return structure.TerminateBlock(merged)
}

// headingLine returns the first non-blank line of text when it is a heading.
func headingLine(text string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			return trimmed, true
		}
		return "", false
	}
	return "", false
}

func startsWithHeading(text string) bool {
	_, ok := headingLine(text)
	return ok
}

// SlotEmpty reports whether a subsection span holds nothing but its own
// heading line: every line after the heading is blank. Any other character
// disqualifies the slot from structural splicing.
func SlotEmpty(body string) bool {
	lines := strings.Split(body, "\n")
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) != "" {
			return false
		}
	}
	return true
}

// trySplice attempts the subsection-wise substitution: the original must be
// a multi-subsection template, and the fragment must decompose entirely
// into subsections named after slots that are currently empty. A known
// schema slot the original never rendered is still an empty slot.
// Untouched slots and the intro keep their exact bytes.
func trySplice(original, fragment string, schema *models.SectionSchema) (string, []string, bool) {
	origSections := structure.Parse(original)
	if len(origSections) == 0 || origSections[0].Level == 0 {
		return "", nil, false
	}
	parentLevel := origSections[0].Level
	intro, subs := structure.Subsections(original, parentLevel+1)
	if len(subs) < 2 {
		return "", nil, false
	}

	index := make(map[string]int, len(subs))
	for i, s := range subs {
		index[utils.NormalizeTitle(s.Title)] = i
	}

	fragSubs, ok := decomposeFragment(fragment, origSections[0].Title)
	if !ok || len(fragSubs) == 0 {
		return "", nil, false
	}

	var known map[string]bool
	if schema != nil && len(schema.SubsectionTitles) > 0 {
		known = make(map[string]bool, len(schema.SubsectionTitles))
		for _, t := range schema.SubsectionTitles {
			known[utils.NormalizeTitle(t)] = true
		}
	}

	replacements := make(map[int]string, len(fragSubs))
	appendedKeys := make(map[string]bool)
	var appended []string
	slots := make([]string, 0, len(fragSubs))
	for _, fs := range fragSubs {
		key := utils.NormalizeTitle(fs.Title)
		i, exists := index[key]
		if !exists {
			// A schema slot absent from the original counts as empty; the
			// rendered subsection goes after the last template slot.
			if known == nil || !known[key] || appendedKeys[key] {
				return "", nil, false
			}
			appendedKeys[key] = true
			appended = append(appended, renderSlot(fs, parentLevel+1))
			slots = append(slots, fs.Title)
			continue
		}
		if known != nil && !known[key] {
			return "", nil, false
		}
		if !SlotEmpty(subs[i].Body) {
			return "", nil, false
		}
		if _, dup := replacements[i]; dup {
			return "", nil, false
		}
		replacements[i] = spliceSlot(subs[i].Body, fs.Body)
		slots = append(slots, subs[i].Title)
	}

	var b strings.Builder
	b.WriteString(intro)
	for i, s := range subs {
		if r, ok := replacements[i]; ok {
			b.WriteString(r)
		} else {
			b.WriteString(s.Body)
		}
	}
	if len(appended) > 0 {
		body := structure.TerminateBlock(b.String())
		b.Reset()
		b.WriteString(body)
		for _, a := range appended {
			b.WriteString(a)
		}
	}
	return b.String(), slots, true
}

// decomposeFragment splits a fragment into subsection spans. The fragment
// may optionally repeat the parent section heading as its first line; any
// prose outside a subsection, or a heading shallower than the slot level,
// makes the fragment non-decomposable.
func decomposeFragment(fragment, parentTitle string) ([]structure.Subsection, bool) {
	trimmed := strings.TrimSpace(fragment)
	if trimmed == "" {
		return nil, false
	}
	fragSections := structure.Parse(trimmed)
	if len(fragSections) == 0 || fragSections[0].Level == 0 {
		return nil, false
	}

	first := fragSections[0]
	slotLevel := first.Level
	if utils.NormalizeTitle(first.Title) == utils.NormalizeTitle(parentTitle) {
		// Repeated parent heading: it must carry no prose of its own, and
		// slots sit one level deeper.
		if !SlotEmpty(first.Body) {
			return nil, false
		}
		slotLevel = first.Level + 1
		fragSections = fragSections[1:]
		if len(fragSections) == 0 {
			return nil, false
		}
	}

	for _, s := range fragSections {
		if s.Level < slotLevel {
			return nil, false
		}
	}

	_, subs := structure.Subsections(structure.Serialize(fragSections), slotLevel)
	return subs, true
}

// renderSlot renders a fragment subsection as a fresh slot at the template's
// slot level, replacing whatever level its own heading carried.
func renderSlot(sub structure.Subsection, level int) string {
	heading := strings.Repeat("#", level) + " " + sub.Title
	content := ""
	if i := strings.IndexByte(sub.Body, '\n'); i >= 0 {
		content = strings.TrimSpace(sub.Body[i+1:])
	}
	if content == "" {
		return structure.TerminateBlock(heading)
	}
	return structure.TerminateBlock(heading + "\n\n" + content)
}

// spliceSlot keeps the original slot heading line and substitutes the
// fragment's content beneath it.
func spliceSlot(originalSlot, fragmentSlot string) string {
	heading, _ := headingLine(originalSlot)
	content := ""
	if i := strings.IndexByte(fragmentSlot, '\n'); i >= 0 {
		content = strings.TrimSpace(fragmentSlot[i+1:])
	}
	if content == "" {
		return structure.TerminateBlock(heading)
	}
	return structure.TerminateBlock(heading + "\n\n" + content)
}

// PreserveHeading re-attaches the original section heading to a merged body
// that lost it. Generative collaborators sometimes return only the prose
// beneath the heading; committing that bare span would dissolve the section.
func PreserveHeading(original, merged string) string {
	merged = strings.TrimSpace(merged)
	if merged == "" {
		return directReplace(original, "")
	}
	if heading, ok := headingLine(original); ok && !startsWithHeading(merged) {
		merged = heading + "\n\n" + merged
	}
	return structure.TerminateBlock(merged)
}

package merge

import (
	"strings"
	"testing"

	"github.com/hyperjump/matome/internal/models"
)

func TestDecide_EmptyOriginalIsDirectReplace(t *testing.T) {
	// An empty original always direct-replaces, whatever the fragment looks like.
	fragments := []string{
		"Plain prose.",
		"#### A\n\nslot shaped\n\n#### B\n\nalso slot shaped",
		"## Heading\n\nwith body",
	}
	for _, fragment := range fragments {
		plan := Decide("", fragment, nil)
		if plan.Strategy != models.MergeDirectReplace {
			t.Errorf("Decide(empty, %q) strategy = %s, want direct-replace", fragment, plan.Strategy)
		}
		if plan.Merged == "" {
			t.Errorf("Decide(empty, %q) produced no merged body", fragment)
		}
	}
}

func TestDecide_ScaffoldOnlyOriginalIsDirectReplace(t *testing.T) {
	original := "## Auth\n\n"
	plan := Decide(original, "Use token-based sessions.", nil)

	if plan.Strategy != models.MergeDirectReplace {
		t.Fatalf("strategy = %s, want direct-replace", plan.Strategy)
	}
	if plan.Merged != "## Auth\n\nUse token-based sessions.\n\n" {
		t.Errorf("merged = %q", plan.Merged)
	}
}

func TestDecide_DirectReplaceKeepsFragmentHeading(t *testing.T) {
	original := "### Feature 1\n\n#### Constraints\n\n#### API\n\n"
	fragment := "### Feature: Auth\n\nToken flows.\n"

	plan := Decide(original, fragment, nil)
	if plan.Strategy != models.MergeDirectReplace {
		t.Fatalf("strategy = %s, want direct-replace", plan.Strategy)
	}
	if !strings.HasPrefix(plan.Merged, "### Feature: Auth\n") {
		t.Errorf("fragment heading should win: %q", plan.Merged)
	}
}

func TestDecide_SpliceFillsOnlyEmptySlots(t *testing.T) {
	original := "### Feature 1\n\n#### Constraints\n\n#### User Stories\n\nAs a user I log in.\n\n#### API\n\n"
	fragment := "#### Constraints\n\nSessions expire after 15 minutes.\n\n#### API\n\nPOST /login\n"

	plan := Decide(original, fragment, nil)
	if plan.Strategy != models.MergeStructuralSplice {
		t.Fatalf("strategy = %s, want structural-splice", plan.Strategy)
	}
	if len(plan.Slots) != 2 || plan.Slots[0] != "Constraints" || plan.Slots[1] != "API" {
		t.Errorf("slots = %v", plan.Slots)
	}
	if !strings.Contains(plan.Merged, "#### Constraints\n\nSessions expire after 15 minutes.\n\n") {
		t.Errorf("Constraints slot not filled:\n%s", plan.Merged)
	}
	if !strings.Contains(plan.Merged, "#### User Stories\n\nAs a user I log in.\n\n") {
		t.Errorf("untouched slot was rewritten:\n%s", plan.Merged)
	}
	if !strings.Contains(plan.Merged, "#### API\n\nPOST /login\n\n") {
		t.Errorf("API slot not filled:\n%s", plan.Merged)
	}
	if !strings.HasPrefix(plan.Merged, "### Feature 1\n\n") {
		t.Errorf("intro lost:\n%s", plan.Merged)
	}
}

func TestDecide_SpliceInsertsAbsentSchemaSlot(t *testing.T) {
	// A blueprint slot the original never rendered is still an empty slot:
	// the fragment subsection is inserted after the last template slot.
	schema := &models.SectionSchema{
		Kind:             "feature",
		Level:            3,
		SubsectionTitles: []string{"User Stories", "Constraints", "Validation"},
	}
	original := "### Feature: Auth\n\n#### User Stories\n\nAs a user I log in.\n\n#### Constraints\n\n"
	fragment := "#### Validation\n\nTokens expire after 15 minutes.\n"

	plan := Decide(original, fragment, schema)
	if plan.Strategy != models.MergeStructuralSplice {
		t.Fatalf("strategy = %s, want structural-splice", plan.Strategy)
	}
	if len(plan.Slots) != 1 || plan.Slots[0] != "Validation" {
		t.Errorf("slots = %v", plan.Slots)
	}
	if !strings.Contains(plan.Merged, "#### User Stories\n\nAs a user I log in.\n\n") {
		t.Errorf("filled slot was rewritten:\n%s", plan.Merged)
	}
	want := "#### Constraints\n\n#### Validation\n\nTokens expire after 15 minutes.\n\n"
	if !strings.HasSuffix(plan.Merged, want) {
		t.Errorf("Validation slot not inserted after the last template slot:\n%s", plan.Merged)
	}
}

func TestDecide_GenerativeWhenAbsentSlotNotInSchema(t *testing.T) {
	schema := &models.SectionSchema{
		Kind:             "milestone",
		Level:            3,
		SubsectionTitles: []string{"Content", "Validation"},
	}
	original := "### Milestone 1\n\n#### Content\n\nShip it.\n\n#### Validation\n\n"
	fragment := "#### Rollout\n\nnot a blueprint slot\n"

	plan := Decide(original, fragment, schema)
	if plan.Strategy != models.MergeGenerative {
		t.Errorf("strategy = %s, want generative for an unknown absent slot", plan.Strategy)
	}
}

func TestDecide_SpliceLeavesFilledSlotUntouchedBytes(t *testing.T) {
	// {A: empty, B: text} + fragment {A: new} must keep B byte-identical.
	untouched := "#### B\n\nsome text\n\n"
	original := "### T\n\n#### A\n\n" + untouched
	fragment := "#### A\n\nnew text\n"

	plan := Decide(original, fragment, nil)
	if plan.Strategy != models.MergeStructuralSplice {
		t.Fatalf("strategy = %s, want structural-splice", plan.Strategy)
	}
	if !strings.Contains(plan.Merged, untouched) {
		t.Errorf("B not byte-identical:\n%s", plan.Merged)
	}
	if !strings.Contains(plan.Merged, "#### A\n\nnew text\n\n") {
		t.Errorf("A not set:\n%s", plan.Merged)
	}
}

func TestDecide_SpliceAllowsRepeatedParentHeading(t *testing.T) {
	original := "### Milestone 1\n\n#### Content\n\n#### Validation\n\ndone when shipped\n\n"
	fragment := "### Milestone 1\n\n#### Content\n\nShip the search feature.\n"

	plan := Decide(original, fragment, nil)
	if plan.Strategy != models.MergeStructuralSplice {
		t.Fatalf("strategy = %s, want structural-splice", plan.Strategy)
	}
	if !strings.Contains(plan.Merged, "#### Content\n\nShip the search feature.\n\n") {
		t.Errorf("Content slot not filled:\n%s", plan.Merged)
	}
	if !strings.Contains(plan.Merged, "#### Validation\n\ndone when shipped\n\n") {
		t.Errorf("Validation slot rewritten:\n%s", plan.Merged)
	}
}

func TestDecide_GenerativeWhenTargetSlotFilled(t *testing.T) {
	original := "### T\n\n#### A\n\nexisting text\n\n#### B\n\n"
	fragment := "#### A\n\nnew text\n"

	plan := Decide(original, fragment, nil)
	if plan.Strategy != models.MergeGenerative {
		t.Errorf("strategy = %s, want generative", plan.Strategy)
	}
	if plan.Merged != "" {
		t.Errorf("generative plan should carry no merged body, got %q", plan.Merged)
	}
}

func TestDecide_GenerativeWhenFragmentHasStrayProse(t *testing.T) {
	original := "### T\n\nintro prose\n\n#### A\n\n#### B\n\n"
	fragment := "Some prose outside any slot.\n\n#### A\n\nnew text\n"

	plan := Decide(original, fragment, nil)
	if plan.Strategy != models.MergeGenerative {
		t.Errorf("strategy = %s, want generative", plan.Strategy)
	}
}

func TestDecide_GenerativeWhenSlotNameUnknown(t *testing.T) {
	original := "### T\n\ncontext prose\n\n#### A\n\n#### B\n\n"
	fragment := "#### C\n\ncontent for a slot that does not exist\n"

	plan := Decide(original, fragment, nil)
	if plan.Strategy != models.MergeGenerative {
		t.Errorf("strategy = %s, want generative", plan.Strategy)
	}
}

func TestDecide_SchemaRestrictsSpliceSlots(t *testing.T) {
	schema := &models.SectionSchema{
		Kind:             "milestone",
		Level:            3,
		SubsectionTitles: []string{"Content", "Validation"},
	}
	original := "### Milestone 2\n\nshipping notes\n\n#### Content\n\n#### Extras\n\n"
	fragment := "#### Extras\n\nnot a blueprint slot\n"

	plan := Decide(original, fragment, schema)
	if plan.Strategy != models.MergeGenerative {
		t.Errorf("strategy = %s, want generative for a non-blueprint slot", plan.Strategy)
	}

	fragment = "#### Content\n\na known slot\n"
	plan = Decide(original, fragment, schema)
	if plan.Strategy != models.MergeStructuralSplice {
		t.Errorf("strategy = %s, want structural-splice for a known slot", plan.Strategy)
	}
}

func TestDecide_GenerativeWhenBothProse(t *testing.T) {
	plan := Decide("## Auth\n\nOld session rules.\n", "New session rules.", nil)
	if plan.Strategy != models.MergeGenerative {
		t.Errorf("strategy = %s, want generative", plan.Strategy)
	}
}

func TestDecide_SingleSlotTemplateNeverSplices(t *testing.T) {
	original := "### T\n\nprose\n\n#### Only\n\n"
	fragment := "#### Only\n\ncontent\n"

	plan := Decide(original, fragment, nil)
	if plan.Strategy != models.MergeGenerative {
		t.Errorf("strategy = %s, want generative for single-subsection original", plan.Strategy)
	}
}

func TestSlotEmpty(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{name: "heading only", body: "#### A\n", want: true},
		{name: "heading and blanks", body: "#### A\n\n\n", want: true},
		{name: "no trailing newline", body: "#### A", want: true},
		{name: "whitespace lines", body: "#### A\n   \n\t\n", want: true},
		{name: "any character disqualifies", body: "#### A\n\nx\n", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SlotEmpty(tt.body); got != tt.want {
				t.Errorf("SlotEmpty(%q) = %v, want %v", tt.body, got, tt.want)
			}
		})
	}
}

func TestPreserveHeading(t *testing.T) {
	original := "## Auth\n\nOld rules.\n\n"

	t.Run("bare prose regains the heading", func(t *testing.T) {
		got := PreserveHeading(original, "Merged rules.")
		if got != "## Auth\n\nMerged rules.\n\n" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("merged body with heading kept as is", func(t *testing.T) {
		got := PreserveHeading(original, "## Auth\n\nMerged rules.")
		if got != "## Auth\n\nMerged rules.\n\n" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("empty merged collapses to the heading", func(t *testing.T) {
		got := PreserveHeading(original, "")
		if got != "## Auth\n\n" {
			t.Errorf("got %q", got)
		}
	})
}

func TestPreview(t *testing.T) {
	before := "## Auth\n\nOld rules.\n"
	after := "## Auth\n\nNew rules.\n"

	preview := Preview(before, after)
	if !strings.Contains(preview, "- Old rules.\n") {
		t.Errorf("preview missing removed line:\n%s", preview)
	}
	if !strings.Contains(preview, "+ New rules.\n") {
		t.Errorf("preview missing added line:\n%s", preview)
	}
	if !strings.Contains(preview, "  ## Auth\n") {
		t.Errorf("preview missing context line:\n%s", preview)
	}

	if Preview(before, before) != "" {
		t.Error("identical spans should produce an empty preview")
	}
}

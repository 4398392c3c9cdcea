package merge

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// MaxPreviewLines caps the rendered preview; beyond it the preview is
// elided rather than truncated mid-hunk.
const MaxPreviewLines = 5000

// Preview renders a line-mode diff between the original and merged spans,
// one prefixed line per row: "  " context, "- " removed, "+ " added. It is
// attached to completed tasks so callers can review a merge before
// committing it.
func Preview(before, after string) string {
	if before == after {
		return ""
	}
	if lineCount(before)+lineCount(after) > MaxPreviewLines {
		return "(preview elided: spans too large)"
	}

	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(beforeChars, afterChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var b strings.Builder
	for _, diff := range diffs {
		prefix := "  "
		switch diff.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		}
		chunkLines := strings.Split(diff.Text, "\n")
		if len(chunkLines) > 0 && chunkLines[len(chunkLines)-1] == "" {
			chunkLines = chunkLines[:len(chunkLines)-1]
		}
		for _, line := range chunkLines {
			b.WriteString(prefix)
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func lineCount(value string) int {
	if value == "" {
		return 0
	}
	return strings.Count(value, "\n") + 1
}

// Package structure parses markdown documents into flat heading-owned spans
// and reassembles them. Parsing is lenient: malformed or out-of-order heading
// levels never fail, they just shape the spans differently.
package structure

import (
	"strings"

	"github.com/hyperjump/matome/internal/models"
	"github.com/hyperjump/matome/pkg/utils"
)

// HeadingInfo reports whether line is a markdown heading and, if so, its
// level (length of the leading '#' run) and title text. Leading whitespace
// and a trailing '\r' are ignored; the '\n' terminator must already be
// stripped.
func HeadingInfo(line string) (level int, title string, ok bool) {
	stripped := strings.TrimSpace(line)
	if !strings.HasPrefix(stripped, "#") {
		return 0, "", false
	}
	for level < len(stripped) && stripped[level] == '#' {
		level++
	}
	return level, strings.TrimSpace(stripped[level:]), true
}

// Parse splits content into an ordered list of flat sections. Every heading
// line starts a new section whose span runs up to the next heading line, the
// heading line itself included. Text before the first heading lives in a
// synthetic level-0 root section with an empty title; the root is omitted
// when its span is empty, except for empty content, which parses to the root
// alone. Section bodies are exact substrings of content, so
// Serialize(Parse(content)) == content always holds.
func Parse(content string) []models.Section {
	sections := []models.Section{}
	cur := models.Section{Title: "", Level: 0}
	spanStart := 0

	flush := func(end int) {
		cur.Body = content[spanStart:end]
		if cur.Level > 0 || cur.Body != "" {
			sections = append(sections, cur)
		}
	}

	lineStart := 0
	for lineStart < len(content) {
		next := len(content)
		line := content[lineStart:]
		if nl := strings.IndexByte(line, '\n'); nl >= 0 {
			line = line[:nl]
			next = lineStart + nl + 1
		}
		if level, title, ok := HeadingInfo(strings.TrimSuffix(line, "\r")); ok {
			flush(lineStart)
			cur = models.Section{Title: title, Level: level}
			spanStart = lineStart
		}
		lineStart = next
	}
	flush(len(content))

	if len(sections) == 0 {
		sections = append(sections, models.Section{Title: "", Level: 0, Body: content})
	}
	return sections
}

// Serialize reassembles sections into document text by concatenating their
// bodies in order. It is the exact inverse of Parse.
func Serialize(sections []models.Section) string {
	var b strings.Builder
	for _, s := range sections {
		b.WriteString(s.Body)
	}
	return b.String()
}

// FindByTitle returns the index of the first section whose title equals
// title under normalized comparison, or -1. The level-0 root never matches.
func FindByTitle(sections []models.Section, title string) int {
	want := utils.NormalizeTitle(title)
	if want == "" {
		return -1
	}
	for i, s := range sections {
		if s.Level > 0 && utils.NormalizeTitle(s.Title) == want {
			return i
		}
	}
	return -1
}

// Titles returns the titles of all headed sections in document order.
func Titles(sections []models.Section) []string {
	titles := make([]string, 0, len(sections))
	for _, s := range sections {
		if s.Level > 0 {
			titles = append(titles, s.Title)
		}
	}
	return titles
}

// SubtreeEnd returns the index one past the subtree rooted at i: the run of
// sections after i with strictly deeper levels.
func SubtreeEnd(sections []models.Section, i int) int {
	end := i + 1
	for end < len(sections) && sections[end].Level > sections[i].Level {
		end++
	}
	return end
}

// SubtreeBody concatenates the bodies of the subtree rooted at i. This is
// the text unit a section owns for matching and merging: the section's own
// span plus every nested subsection span.
func SubtreeBody(sections []models.Section, i int) string {
	var b strings.Builder
	for j, end := i, SubtreeEnd(sections, i); j < end; j++ {
		b.WriteString(sections[j].Body)
	}
	return b.String()
}

// ParentOf returns the index of the nearest preceding section with a
// shallower nonzero level, or -1 when the section sits at the top.
func ParentOf(sections []models.Section, i int) int {
	for j := i - 1; j >= 0; j-- {
		if sections[j].Level > 0 && sections[j].Level < sections[i].Level {
			return j
		}
	}
	return -1
}

// ReplaceSubtree returns the document text with the subtree rooted at i
// replaced by body. Sections outside the subtree keep their exact bytes.
func ReplaceSubtree(sections []models.Section, i int, body string) string {
	end := SubtreeEnd(sections, i)
	var b strings.Builder
	for j := 0; j < i; j++ {
		b.WriteString(sections[j].Body)
	}
	b.WriteString(body)
	for j := end; j < len(sections); j++ {
		b.WriteString(sections[j].Body)
	}
	return b.String()
}

// AppendBody returns content with body appended as a new block, separated
// from existing text by a single blank line.
func AppendBody(content, body string) string {
	if body == "" {
		return content
	}
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	if content == "" {
		return body
	}
	switch {
	case strings.HasSuffix(content, "\n\n"):
	case strings.HasSuffix(content, "\n"):
		content += "\n"
	default:
		content += "\n\n"
	}
	return content + body
}

// TerminateBlock returns body normalized to end with exactly one blank line.
// Edited spans are terminated this way so a following heading stays visually
// separated; untouched spans are never rewritten.
func TerminateBlock(body string) string {
	return strings.TrimRight(body, "\n") + "\n\n"
}

// Chunk is one independently-mergeable unit split out of a fragment body.
// Title is the chunk's own first-line heading title, empty when the chunk
// starts with prose.
type Chunk struct {
	Title string
	Body  string
}

// chunkHeading recognizes a heading line the way fragment bodies are
// chunked: marker run at the start of the line followed by whitespace.
// Unlike HeadingInfo it does not tolerate indentation, so code-style text
// inside a chunk is not split on.
func chunkHeading(line string) (level int, title string, ok bool) {
	i := 0
	for i < len(line) && line[i] == '#' {
		i++
	}
	if i == 0 || i >= len(line) || (line[i] != ' ' && line[i] != '\t') {
		return 0, "", false
	}
	return i, strings.TrimSpace(line[i:]), true
}

// SplitChunks splits a fragment body into chunks at heading boundaries. A
// heading starts a new chunk when its level is at or above the chunk's own
// heading level; deeper headings stay attached as children. A heading
// always closes an introductory prose chunk.
func SplitChunks(body string) []Chunk {
	if strings.TrimSpace(body) == "" {
		return nil
	}

	var chunks []Chunk
	var current []string
	currentLevel := 0
	currentTitle := ""

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, Chunk{Title: currentTitle, Body: strings.Join(current, "\n")})
		current = nil
		currentTitle = ""
	}

	for _, line := range strings.Split(body, "\n") {
		level, title, isHeading := chunkHeading(line)
		if !isHeading {
			current = append(current, line)
			continue
		}
		if len(current) > 0 && (currentLevel == 0 || level <= currentLevel) {
			flush()
			currentLevel = 0
		}
		if len(current) == 0 {
			currentTitle = title
		}
		current = append(current, line)
		if currentLevel == 0 {
			currentLevel = level
		}
	}
	flush()
	return chunks
}

// Subsection is a direct child span inside a section body.
type Subsection struct {
	Title string
	Body  string
}

// Subsections splits body into the text before the first heading at level
// and the runs headed by each level-`level` heading. Headings deeper than
// level stay inside the preceding subsection's run.
func Subsections(body string, level int) (intro string, subs []Subsection) {
	var introB strings.Builder
	for _, s := range Parse(body) {
		if s.Level == level {
			subs = append(subs, Subsection{Title: s.Title, Body: s.Body})
			continue
		}
		if len(subs) > 0 {
			subs[len(subs)-1].Body += s.Body
			continue
		}
		introB.WriteString(s.Body)
	}
	return introB.String(), subs
}

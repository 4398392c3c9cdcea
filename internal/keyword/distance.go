package keyword

import (
	"sort"
	"strings"

	"github.com/hyperjump/matome/pkg/utils"
)

// tokenize splits a label into lowercase terms.
func tokenize(label string) []string {
	return strings.Fields(strings.ToLower(label))
}

// DamerauLevenshteinDistance calculates the minimum number of
// single-character insertions, deletions, substitutions, or adjacent
// transpositions required to change one string into another.
func DamerauLevenshteinDistance(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len([]rune(b))
	}
	if len(b) == 0 {
		return len([]rune(a))
	}

	// Runes for proper Unicode handling; the transposition check needs
	// the full matrix.
	runesA := []rune(a)
	runesB := []rune(b)
	lenA := len(runesA)
	lenB := len(runesB)

	d := make([][]int, lenA+1)
	for i := range d {
		d[i] = make([]int, lenB+1)
	}
	for i := 0; i <= lenA; i++ {
		d[i][0] = i
	}
	for j := 0; j <= lenB; j++ {
		d[0][j] = j
	}

	for i := 1; i <= lenA; i++ {
		for j := 1; j <= lenB; j++ {
			cost := 0
			if runesA[i-1] != runesB[j-1] {
				cost = 1
			}

			d[i][j] = min(
				d[i-1][j]+1,      // deletion
				d[i][j-1]+1,      // insertion
				d[i-1][j-1]+cost, // substitution
			)

			if i > 1 && j > 1 &&
				runesA[i-1] == runesB[j-2] &&
				runesA[i-2] == runesB[j-1] {
				d[i][j] = minTwo(d[i][j], d[i-2][j-2]+cost)
			}
		}
	}

	return d[lenA][lenB]
}

// min returns the minimum of three integers.
func min(a, b, c int) int {
	if a <= b && a <= c {
		return a
	}
	if b <= c {
		return b
	}
	return c
}

// minTwo returns the minimum of two integers.
func minTwo(a, b int) int {
	if a <= b {
		return a
	}
	return b
}

// NearestTitles returns up to max titles ranked by edit distance from
// label, closest first. Comparison is on normalized titles. A candidate
// qualifies only when its distance is at most half the longer string's
// length, so an unrelated label yields no suggestions. Ties keep the
// original slice order.
func NearestTitles(label string, titles []string, max int) []string {
	if max <= 0 {
		return nil
	}
	normLabel := utils.NormalizeTitle(label)
	if normLabel == "" {
		return nil
	}

	type candidate struct {
		title    string
		distance int
		position int
	}
	seen := make(map[string]struct{}, len(titles))
	candidates := make([]candidate, 0, len(titles))
	for i, title := range titles {
		norm := utils.NormalizeTitle(title)
		if norm == "" {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}

		dist := DamerauLevenshteinDistance(normLabel, norm)
		longer := len([]rune(normLabel))
		if l := len([]rune(norm)); l > longer {
			longer = l
		}
		if dist*2 > longer {
			continue
		}
		candidates = append(candidates, candidate{title: title, distance: dist, position: i})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].position < candidates[j].position
	})

	if len(candidates) > max {
		candidates = candidates[:max]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.title
	}
	return out
}

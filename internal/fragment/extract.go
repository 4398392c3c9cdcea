// Package fragment extracts mergeable fragments from raw collaborator
// output using the structured block protocol.
package fragment

import (
	"regexp"
	"strings"

	"github.com/hyperjump/matome/internal/models"
)

// Protocol markers. A block carries its target section label and a change
// summary ahead of the payload:
//
//	<<<SPEC_START>>>
//	Target-Section: Feature: Auth
//	Change-Summary: Add token expiry rules
//	...payload...
//	<<<SPEC_END>>>
//
// The header keys tolerate a leading "* " bullet.
const (
	StartMarker = "<<<SPEC_START>>>"
	EndMarker   = "<<<SPEC_END>>>"
)

var blockPattern = regexp.MustCompile(
	`(?s)<<<SPEC_START>>>\s+(?:\*\s*)?Target-Section:\s*(.*?)\n\s*(?:\*\s*)?Change-Summary:\s*(.*?)\n\s*(.*?)<<<SPEC_END>>>`)

// Extract parses every protocol block out of raw. Text without any block is
// not rejected: it comes back as a single fragment with an empty target
// label, leaving section resolution entirely to the matcher. Blank input
// yields nothing.
func Extract(raw string) []models.Fragment {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	matches := blockPattern.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return []models.Fragment{{Body: strings.TrimSpace(raw)}}
	}

	fragments := make([]models.Fragment, 0, len(matches))
	for _, m := range matches {
		fragments = append(fragments, models.Fragment{
			TargetLabel: strings.TrimSpace(m[1]),
			Summary:     strings.TrimSpace(m[2]),
			Body:        strings.TrimSpace(m[3]),
		})
	}
	return fragments
}

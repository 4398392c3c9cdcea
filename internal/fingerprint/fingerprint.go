// Package fingerprint derives deterministic identifiers from document and
// section content.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

const sectionPrefix = "section:"

// Body returns the hex SHA-256 fingerprint of a text body. Equal bytes always
// yield equal fingerprints, so an unchanged section keeps its fingerprint
// across syncs and its embedding can be reused without a remote call.
func Body(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:])
}

// SectionID returns a stable ID for a titled section of a named document.
// The ID depends on the document name and section title only, never on the
// section's current content.
func SectionID(document, title string) string {
	hash := sha256.Sum256([]byte(document + "\x00" + title))
	return sectionPrefix + hex.EncodeToString(hash[:])
}

// Pair returns the dedup key for an (original, fragment) input pair. Two
// submissions with byte-identical inputs share a Pair key and therefore a
// merge task.
func Pair(original, fragment string) string {
	hash := sha256.Sum256([]byte(original + "\x00" + fragment))
	return hex.EncodeToString(hash[:])
}

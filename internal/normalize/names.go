package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var multiSpace = regexp.MustCompile(`\s+`)

// NormalizeName lowercases, collapses whitespace, and trims the input.
func NormalizeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return multiSpace.ReplaceAllString(strings.ToLower(s), " ")
}

// CleanText trims and collapses whitespace but keeps case, for display fields
// such as condition names. Output is in Unicode NFC so decomposed and
// precomposed spellings of a name compare equal.
func CleanText(s string) string {
	return norm.NFC.String(multiSpace.ReplaceAllString(strings.TrimSpace(s), " "))
}

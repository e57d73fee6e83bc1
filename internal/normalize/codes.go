package normalize

import (
	"regexp"
	"strings"
)

var codeNoise = regexp.MustCompile(`\s+`)

// NormalizeCode trims whitespace, drops inner whitespace and uppercases a TM2
// code. Dots are kept because they carry the code hierarchy.
func NormalizeCode(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.ToUpper(codeNoise.ReplaceAllString(s, ""))
}

// NormalizeIdentifier trims and uppercases a patient or practitioner id.
func NormalizeIdentifier(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

package textutil

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// Fold returns a case-folded, trimmed form of value for caseless comparison.
// A fresh Caser is used per call since Casers are not safe for concurrent use.
func Fold(value string) string {
	return cases.Fold().String(strings.TrimSpace(value))
}

// ContainsFold reports whether value contains any of needles, ignoring case.
func ContainsFold(value string, needles ...string) bool {
	folded := Fold(value)
	if folded == "" {
		return false
	}
	for _, needle := range needles {
		if n := Fold(needle); n != "" && strings.Contains(folded, n) {
			return true
		}
	}
	return false
}

// Truncate shortens value to at most limit runes, appending "..." when cut.
func Truncate(value string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit]) + "..."
}

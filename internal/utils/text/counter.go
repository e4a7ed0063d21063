// Package text provides small helpers for handling generated and scraped text.
package text

import "strings"

// Ellipsis is appended by Truncate when text is cut.
const Ellipsis = "..."

// CountRunes counts the number of Unicode characters (runes) in the given text.
// Multi-byte characters count once, so limits expressed in characters hold for
// any script.
//
// Examples:
//
//	CountRunes("hello")    // returns 5
//	CountRunes("héllo")    // returns 5
//	CountRunes("")         // returns 0
func CountRunes(text string) int {
	return len([]rune(text))
}

// Truncate cuts text to at most limit runes, ending with Ellipsis when it had
// to cut. A non-positive limit returns the empty string.
func Truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	if limit <= len(Ellipsis) {
		return string(runes[:limit])
	}
	return strings.TrimRight(string(runes[:limit-len(Ellipsis)]), " ") + Ellipsis
}

// Squash collapses runs of whitespace into single spaces and trims the ends.
// Table cells scraped from HTML routinely carry newlines and indentation.
func Squash(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

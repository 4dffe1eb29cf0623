// Package keywords turns free-text recognition output into search keywords.
package keywords

import (
	"strings"
	"unicode"
)

var lineBreaks = strings.NewReplacer("\r\n", ",", "\r", ",", "\n", ",")

// Parse splits raw on commas and line breaks and returns the trimmed,
// sanitized, non-empty pieces in their original order. Duplicates are kept.
func Parse(raw string) []string {
	pieces := strings.Split(lineBreaks.Replace(raw), ",")

	out := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		word := Sanitize(strings.TrimSpace(piece))
		if word == "" {
			continue
		}
		out = append(out, word)
	}
	return out
}

// Sanitize keeps only letters and digits, so LIKE wildcards and quotes never
// reach the lookup.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

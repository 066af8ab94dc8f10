// Package utils provides shared utilities for text, math, files, and logging.
package utils

import "unicode/utf8"

// Truncate returns s truncated to maxLen runes, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	cut := TruncateRunes(s, maxLen)
	if len(cut) == len(s) {
		return s
	}
	return cut + "..."
}

// TruncateRunes returns the first maxLen runes of s without a marker.
// If maxLen is 0 or negative, returns s unchanged.
func TruncateRunes(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	n := 0
	for i := range s {
		if n == maxLen {
			return s[:i]
		}
		n++
	}
	return s
}

package types

import "unicode/utf8"

// truncationMarker is appended to any text cut at capture time so readers
// can tell a short record from a shortened one.
const truncationMarker = "... [truncated]"

// Truncate shortens s to at most max bytes plus the truncation marker,
// backing up to a rune boundary so the cut never splits a UTF-8 sequence.
// Text at or under the limit is returned unchanged.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMarker
}

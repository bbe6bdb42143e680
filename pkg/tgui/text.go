package tgui

import (
	"strings"
	"unicode/utf8"
)

// TruncRunes returns s truncated to at most n runes, ending in "…" when cut.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n-1 {
			return s[:i] + "…"
		}
		count++
	}
	return s
}

// TruncLines is TruncRunes for HTML text: it cuts at the last line break that
// fits, so tags opened and closed on one line stay balanced.
func TruncLines(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	cut := TruncRunes(s, n)
	if i := strings.LastIndexByte(cut, '\n'); i > 0 {
		return strings.TrimRight(cut[:i], "\n") + "\n…"
	}
	return cut
}

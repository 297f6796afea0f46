package domain

import "unicode/utf8"

// TruncateUTF8 shortens s to at most limit bytes without cutting a
// multi-byte rune in half.
func TruncateUTF8(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

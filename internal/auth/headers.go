package auth

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxTokenBytes bounds signed tokens read from headers and cookies.
const maxTokenBytes = 8192

// sanitizeHeaderValue trims v and reports false when it is empty, longer
// than max bytes, not valid UTF-8, or contains control characters.
// Malformed input is treated as absent, never as an error.
func sanitizeHeaderValue(v string, max int) (string, bool) {
	if max > 0 && len(v) > max {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" || !utf8.ValidString(v) {
		return "", false
	}
	for _, r := range v {
		if unicode.IsControl(r) {
			return "", false
		}
	}
	return v, true
}

package logutil

import (
	"strings"
	"unicode"
)

// MaxFieldLen caps a single sanitized value in a log line.
const MaxFieldLen = 256

// SanitizeForLog flattens user-provided strings onto one log line: CR, LF
// and tabs become spaces, other control characters (including DEL and C1
// controls) are dropped, and the result is cut to MaxFieldLen runes.
func SanitizeForLog(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	n := 0
	for _, r := range s {
		if n == MaxFieldLen {
			result.WriteString("...")
			break
		}
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			result.WriteByte(' ')
		case unicode.IsControl(r):
			continue
		default:
			result.WriteRune(r)
		}
		n++
	}
	return result.String()
}

// Truncate shortens s to at most n runes, appending "..." when it cut.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + "..."
		}
		i++
	}
	return s
}

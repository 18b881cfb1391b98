package chi

import (
	"strings"
	"unicode"
)

// Sanitize strips control characters from user-supplied query text and
// collapses runs of whitespace to a single space. Length limits are enforced
// downstream during query validation.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsControl(r):
			// dropped
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

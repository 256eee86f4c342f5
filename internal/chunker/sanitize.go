package chunker

import (
	"strings"
	"unicode/utf8"
)

// SanitizeContent replaces every invalid UTF-8 sequence, including unpaired
// surrogate code units (U+D800..U+DFFF as they appear in CESU-8 style
// encodings), with U+FFFD. Valid input is returned unchanged without
// allocation. Embedders and the vector store both require valid UTF-8.
func SanitizeContent(s string) string {
	if utf8.ValidString(s) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
			i++
			continue
		}
		b.WriteString(s[i : i+size])
		i += size
	}
	return b.String()
}

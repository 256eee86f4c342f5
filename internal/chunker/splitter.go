package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultSeparators is the split preference order: paragraph breaks first,
// then lines, sentence ends, clauses, words, and finally a hard cut.
var DefaultSeparators = []string{
	"\n\n\n", "\n\n", "\n", ". ", "! ", "? ", "; ", ", ", " ", "",
}

const (
	// DefaultChunkSize is the target chunk length in bytes.
	DefaultChunkSize = 1000
	// DefaultOverlap is how many bytes of the preceding chunk are repeated
	// at the start of the next one.
	DefaultOverlap = 100
)

// Piece is one split segment. Start and End are byte offsets into the input
// text; Start already accounts for overlap, so pieces may share a prefix
// with the tail of their predecessor.
type Piece struct {
	Content string
	Start   int
	End     int
}

// Splitter cuts text into roughly ChunkSize-byte pieces, preferring the
// earliest separator in the hierarchy that yields pieces small enough.
type Splitter struct {
	ChunkSize  int
	Overlap    int
	Separators []string
}

// NewSplitter returns a splitter with the default size, overlap and
// separator hierarchy.
func NewSplitter() *Splitter {
	return &Splitter{
		ChunkSize:  DefaultChunkSize,
		Overlap:    DefaultOverlap,
		Separators: DefaultSeparators,
	}
}

// Split cuts text into pieces. Whitespace-only pieces are dropped. The
// returned offsets always point into text, so callers can recover exact
// line numbers from the original source.
func (s *Splitter) Split(text string) []Piece {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	size := s.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	overlap := s.Overlap
	if overlap < 0 {
		overlap = 0
	}
	seps := s.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}

	segments := recurse(text, seps, size)

	// Segments concatenate back to the input, so offsets are cumulative.
	pieces := make([]Piece, 0, len(segments))
	offset := 0
	for _, seg := range segments {
		start, end := offset, offset+len(seg)
		offset = end

		if strings.TrimSpace(seg) == "" {
			continue
		}

		if len(pieces) > 0 && overlap > 0 {
			ext := start - overlap
			if prev := pieces[len(pieces)-1].Start; ext < prev {
				ext = prev
			}
			start = runeAlign(text, ext)
		}
		pieces = append(pieces, Piece{Content: text[start:end], Start: start, End: end})
	}
	return pieces
}

// recurse splits text with the first separator that divides it, merging the
// parts greedily back up to size. Parts still too large descend to the next
// separator; the empty separator means a hard byte cut.
func recurse(text string, seps []string, size int) []string {
	if len(text) <= size {
		return []string{text}
	}
	if len(seps) == 0 {
		return hardCut(text, size)
	}

	sep := seps[0]
	rest := seps[1:]
	if sep == "" {
		return hardCut(text, size)
	}

	parts := splitAfter(text, sep)
	if len(parts) == 1 {
		return recurse(text, rest, size)
	}

	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, p := range parts {
		if len(p) > size {
			flush()
			out = append(out, recurse(p, rest, size)...)
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(p) > size {
			flush()
		}
		cur.WriteString(p)
	}
	flush()
	return out
}

// splitAfter splits text on sep, keeping the separator attached to the end
// of each preceding part so the parts concatenate back to text.
func splitAfter(text, sep string) []string {
	var parts []string
	for {
		i := strings.Index(text, sep)
		if i < 0 {
			parts = append(parts, text)
			return parts
		}
		parts = append(parts, text[:i+len(sep)])
		text = text[i+len(sep):]
		if text == "" {
			return parts
		}
	}
}

// hardCut slices text at size boundaries, never inside a UTF-8 sequence.
func hardCut(text string, size int) []string {
	var out []string
	for len(text) > size {
		cut := runeAlign(text, size)
		if cut == 0 {
			_, w := utf8.DecodeRuneInString(text)
			cut = w
		}
		out = append(out, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

// runeAlign moves offset backwards to the nearest rune start.
func runeAlign(s string, offset int) int {
	if offset <= 0 {
		return 0
	}
	if offset >= len(s) {
		return len(s)
	}
	for offset > 0 && !utf8.RuneStart(s[offset]) {
		offset--
	}
	return offset
}

// lineSpan converts a byte range in src to 1-based inclusive line numbers.
// A trailing newline belongs to the line it terminates.
func lineSpan(src string, start, end int) (int, int) {
	startLine := 1 + strings.Count(src[:start], "\n")
	if end > start && src[end-1] == '\n' {
		end--
	}
	endLine := 1 + strings.Count(src[:end], "\n")
	return startLine, endLine
}

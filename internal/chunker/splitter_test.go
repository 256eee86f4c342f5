package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitShortTextSinglePiece(t *testing.T) {
	s := NewSplitter()
	pieces := s.Split("hello world")

	require.Len(t, pieces, 1)
	assert.Equal(t, "hello world", pieces[0].Content)
	assert.Equal(t, 0, pieces[0].Start)
	assert.Equal(t, 11, pieces[0].End)
}

func TestSplitWhitespaceOnly(t *testing.T) {
	s := NewSplitter()
	assert.Nil(t, s.Split("  \n\n\t  "))
	assert.Nil(t, s.Split(""))
}

func TestSplitPrefersParagraphBreaks(t *testing.T) {
	para1 := strings.Repeat("a", 600)
	para2 := strings.Repeat("b", 600)
	text := para1 + "\n\n" + para2

	s := NewSplitter()
	s.Overlap = 0
	pieces := s.Split(text)

	require.Len(t, pieces, 2)
	assert.Equal(t, para1+"\n\n", pieces[0].Content)
	assert.Equal(t, para2, pieces[1].Content)
}

func TestSplitOverlapSharesTail(t *testing.T) {
	para1 := strings.Repeat("a", 600)
	para2 := strings.Repeat("b", 600)
	text := para1 + "\n\n" + para2

	s := NewSplitter()
	pieces := s.Split(text)

	require.Len(t, pieces, 2)
	// The second piece starts Overlap bytes before where the first ends.
	assert.Equal(t, pieces[0].End-s.Overlap, pieces[1].Start)
	assert.True(t, strings.HasPrefix(pieces[1].Content, strings.Repeat("a", 98)))
}

func TestSplitOffsetsPointIntoSource(t *testing.T) {
	text := strings.Repeat("line one\nline two\n\nline four\n", 200)

	s := NewSplitter()
	for _, p := range s.Split(text) {
		assert.Equal(t, text[p.Start:p.End], p.Content)
		assert.LessOrEqual(t, len(p.Content), s.ChunkSize+s.Overlap)
	}
}

func TestSplitHardCutRespectsRuneBoundaries(t *testing.T) {
	// No separators present at all, multi-byte runes throughout.
	text := strings.Repeat("héllo", 400)

	s := NewSplitter()
	s.Overlap = 0
	for _, p := range s.Split(text) {
		assert.True(t, len(p.Content) <= s.ChunkSize)
		for _, r := range p.Content {
			assert.NotEqual(t, '�', r)
		}
	}
}

func TestLineSpan(t *testing.T) {
	src := "one\ntwo\nthree\n"

	start, end := lineSpan(src, 0, len(src))
	assert.Equal(t, 1, start)
	assert.Equal(t, 3, end)

	start, end = lineSpan(src, 4, 8) // "two\n"
	assert.Equal(t, 2, start)
	assert.Equal(t, 2, end)

	start, end = lineSpan(src, 4, 13) // "two\nthree"
	assert.Equal(t, 2, start)
	assert.Equal(t, 3, end)
}

func TestSanitizeContentValidPassthrough(t *testing.T) {
	in := "plain ascii and héllo 世界"
	assert.Equal(t, in, SanitizeContent(in))
}

func TestSanitizeContentReplacesInvalidBytes(t *testing.T) {
	// 0xED 0xA0 0x80 is the CESU-8 encoding of the unpaired surrogate
	// U+D800, which is invalid UTF-8.
	in := "ok" + string([]byte{0xED, 0xA0, 0x80}) + "ok"
	out := SanitizeContent(in)

	assert.True(t, strings.HasPrefix(out, "ok"))
	assert.True(t, strings.HasSuffix(out, "ok"))
	assert.Contains(t, out, "�")
}

func TestChunkIDDeterministic(t *testing.T) {
	a := ChunkID("pkg/main.go", 1, 10, 0, "func main() {}")
	b := ChunkID("pkg/main.go", 1, 10, 0, "func main() {}")
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "chunk_"))
	assert.Len(t, a, len("chunk_")+16)

	assert.NotEqual(t, a, ChunkID("pkg/main.go", 1, 10, 1, "func main() {}"))
	assert.NotEqual(t, a, ChunkID("pkg/other.go", 1, 10, 0, "func main() {}"))
	assert.NotEqual(t, a, ChunkID("pkg/main.go", 1, 10, 0, "func main() { }"))
}

package chunker

import (
	"context"
	"net/url"
	"strings"
)

// pageSegment is a contiguous run of prose or one fenced code block.
type pageSegment struct {
	start, end int
	code       bool
	lang       string
}

// ChunkPage splits a crawled page into chunks. Fenced code blocks become
// code chunks labeled with their info-string language; blocks in a
// supported language that exceed the chunk size are cut at symbol
// boundaries like source files, and the prose around them goes through the
// character splitter. Every chunk carries the page title and the source
// domain.
func (c *Chunker) ChunkPage(ctx context.Context, pageURL, title, content string) Result {
	src := SanitizeContent(content)
	if strings.TrimSpace(src) == "" {
		return Result{}
	}

	domain := ""
	if u, err := url.Parse(pageURL); err == nil {
		domain = u.Hostname()
	}

	var chunks []Chunk
	emit := func(seg pageSegment) {
		text := src[seg.start:seg.end]
		if strings.TrimSpace(text) == "" {
			return
		}
		lang := seg.lang
		if !seg.code {
			lang = "markdown"
		}

		add := func(body string, start, end int) {
			sl, el := lineSpan(src, start, end)
			chunks = append(chunks, Chunk{
				Content:      body,
				RelativePath: pageURL,
				StartLine:    sl,
				EndLine:      el,
				Language:     lang,
				SourceType:   SourceWebPage,
				Title:        title,
				Domain:       domain,
			})
		}

		if seg.code {
			if len(text) <= c.splitter.ChunkSize {
				add(text, seg.start, seg.end)
				return
			}
			if g, ok := grammarForName(seg.lang); ok {
				if astChunks, err := c.chunkAST(ctx, g, pageURL, text); err == nil {
					base := 1 + strings.Count(src[:seg.start], "\n")
					for _, ch := range astChunks {
						ch.StartLine += base - 1
						ch.EndLine += base - 1
						ch.SourceType = SourceWebPage
						ch.Title = title
						ch.Domain = domain
						chunks = append(chunks, ch)
					}
					return
				}
			}
		}
		for _, p := range c.splitter.Split(text) {
			add(p.Content, seg.start+p.Start, seg.start+p.End)
		}
	}

	for _, seg := range segmentPage(src) {
		emit(seg)
	}
	return finalize(pageURL, len(src), chunks)
}

// segmentPage separates fenced code blocks from prose. The fence lines
// themselves belong to neither segment. An unclosed fence runs to the end
// of the page.
func segmentPage(src string) []pageSegment {
	var segs []pageSegment
	proseStart := 0
	inCode := false
	var cur pageSegment

	pos := 0
	for pos <= len(src) {
		lineEnd := strings.IndexByte(src[pos:], '\n')
		var next int
		if lineEnd < 0 {
			lineEnd = len(src)
			next = len(src) + 1
		} else {
			lineEnd += pos
			next = lineEnd + 1
		}
		line := strings.TrimSpace(src[pos:lineEnd])

		switch {
		case !inCode && (strings.HasPrefix(line, "```") || strings.HasPrefix(line, "~~~")):
			if pos > proseStart {
				segs = append(segs, pageSegment{start: proseStart, end: pos})
			}
			cur = pageSegment{start: next, code: true, lang: fenceLanguage(line)}
			inCode = true
		case inCode && (line == "```" || line == "~~~"):
			cur.end = pos
			if cur.end > cur.start {
				segs = append(segs, cur)
			}
			inCode = false
			proseStart = next
		}
		pos = next
	}

	if inCode {
		cur.end = len(src)
		if cur.end > cur.start {
			segs = append(segs, cur)
		}
	} else if proseStart < len(src) {
		segs = append(segs, pageSegment{start: proseStart, end: len(src)})
	}
	return segs
}

// fenceLanguage normalizes the info string of a fence opener, e.g.
// "```python title=x" yields "python".
func fenceLanguage(line string) string {
	info := strings.TrimLeft(line, "`~")
	info = strings.TrimSpace(info)
	if info == "" {
		return "code"
	}
	tag := strings.ToLower(strings.Fields(info)[0])
	if g, ok := grammarForName(tag); ok {
		return g.name
	}
	switch tag {
	case "bash", "sh", "zsh", "shell", "console":
		return "shell"
	}
	return tag
}

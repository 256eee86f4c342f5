package chunker

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Config tunes chunk sizing.
type Config struct {
	// ChunkSize is the target chunk length in bytes. Zero means
	// DefaultChunkSize.
	ChunkSize int
	// Overlap is the number of bytes repeated between adjacent splitter
	// chunks. Zero means DefaultOverlap.
	Overlap int
}

// Chunker turns files and pages into chunks.
type Chunker struct {
	splitter *Splitter
}

// New creates a chunker.
func New(cfg Config) *Chunker {
	s := NewSplitter()
	if cfg.ChunkSize > 0 {
		s.ChunkSize = cfg.ChunkSize
	}
	if cfg.Overlap > 0 {
		s.Overlap = cfg.Overlap
	}
	return &Chunker{splitter: s}
}

// maxSymbolBytes is the threshold above which a single symbol is split
// across multiple chunks.
func (c *Chunker) maxSymbolBytes() int {
	return 3 * c.splitter.ChunkSize
}

// ChunkFile splits one source file. Supported languages are cut at symbol
// boundaries; everything else goes through the character splitter. Content
// is sanitized to valid UTF-8 before ids are derived.
func (c *Chunker) ChunkFile(ctx context.Context, relPath string, content []byte) (Result, error) {
	src := SanitizeContent(string(content))
	if strings.TrimSpace(src) == "" {
		return Result{}, nil
	}

	lang := DetectLanguage(relPath)

	var chunks []Chunk
	parsed := false
	if g, ok := grammarForPath(relPath); ok {
		if astChunks, err := c.chunkAST(ctx, g, relPath, src); err == nil {
			chunks = astChunks
			parsed = true
		}
	}
	if !parsed {
		for _, p := range c.splitter.Split(src) {
			start, end := lineSpan(src, p.Start, p.End)
			chunks = append(chunks, Chunk{
				Content:      p.Content,
				RelativePath: relPath,
				StartLine:    start,
				EndLine:      end,
				Language:     lang,
				SourceType:   SourceCode,
			})
		}
	}
	return finalize(relPath, len(src), chunks), nil
}

// chunkAST cuts src at top-level symbol boundaries. Source between symbols
// (package clauses, imports, top-level variables) is chunked through the
// character splitter so the whole file stays covered.
func (c *Chunker) chunkAST(ctx context.Context, g *grammar, relPath, src string) ([]Chunk, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(g.lang)

	source := []byte(src)
	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	var chunks []Chunk
	gap := func(start, end int) {
		for _, p := range c.splitter.Split(src[start:end]) {
			sl, el := lineSpan(src, start+p.Start, start+p.End)
			chunks = append(chunks, Chunk{
				Content:      p.Content,
				RelativePath: relPath,
				StartLine:    sl,
				EndLine:      el,
				Language:     g.name,
				SourceType:   SourceCode,
			})
		}
	}

	root := tree.RootNode()
	gapStart := 0
	commentStart, commentEnd := -1, -1
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)

		// Runs of comments directly above a symbol are doc comments and
		// belong to the symbol's chunk.
		if node.Type() == "comment" {
			if commentStart < 0 {
				commentStart = int(node.StartByte())
			}
			commentEnd = int(node.EndByte())
			continue
		}

		inner, kind, ok := g.resolve(node)
		if !ok {
			commentStart, commentEnd = -1, -1
			continue
		}

		start, end := int(node.StartByte()), int(node.EndByte())
		if commentStart >= 0 && strings.TrimSpace(src[commentEnd:start]) == "" {
			start = commentStart
		}
		commentStart, commentEnd = -1, -1

		if start > gapStart {
			gap(gapStart, start)
		}
		gapStart = end

		sym := &Symbol{Name: symbolName(inner, source), Kind: kind}
		body := src[start:end]
		if len(body) <= c.maxSymbolBytes() {
			sl, el := lineSpan(src, start, end)
			chunks = append(chunks, Chunk{
				Content:      body,
				RelativePath: relPath,
				StartLine:    sl,
				EndLine:      el,
				Language:     g.name,
				SourceType:   SourceCode,
				Symbol:       sym,
			})
			continue
		}
		for _, p := range c.splitter.Split(body) {
			sl, el := lineSpan(src, start+p.Start, start+p.End)
			chunks = append(chunks, Chunk{
				Content:      p.Content,
				RelativePath: relPath,
				StartLine:    sl,
				EndLine:      el,
				Language:     g.name,
				SourceType:   SourceCode,
				Symbol:       sym,
			})
		}
	}
	if gapStart < len(src) {
		gap(gapStart, len(src))
	}
	return chunks, nil
}

// resolve reports whether a top-level node defines a symbol, unwrapping
// python decorators and javascript/typescript export statements. The
// returned node is the inner definition, used for name extraction; the
// chunk span always covers the outer node.
func (g *grammar) resolve(n *sitter.Node) (*sitter.Node, SymbolKind, bool) {
	if kind, ok := g.symbols[n.Type()]; ok {
		return n, g.refineKind(n, kind), true
	}
	switch n.Type() {
	case "decorated_definition":
		if d := n.ChildByFieldName("definition"); d != nil {
			if kind, ok := g.symbols[d.Type()]; ok {
				return d, kind, true
			}
		}
	case "export_statement":
		if d := n.ChildByFieldName("declaration"); d != nil {
			if kind, ok := g.symbols[d.Type()]; ok {
				return d, g.refineKind(d, kind), true
			}
		}
	}
	return nil, "", false
}

// refineKind upgrades go type declarations of interface types to the
// interface kind.
func (g *grammar) refineKind(n *sitter.Node, kind SymbolKind) SymbolKind {
	if g.name != "go" || kind != SymbolType {
		return kind
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		spec := n.NamedChild(i)
		if spec.Type() != "type_spec" {
			continue
		}
		if t := spec.ChildByFieldName("type"); t != nil && t.Type() == "interface_type" {
			return SymbolInterface
		}
	}
	return kind
}

// symbolName extracts the declared name. Go type declarations keep the name
// on their type_spec child rather than the declaration itself.
func symbolName(n *sitter.Node, source []byte) string {
	if f := n.ChildByFieldName("name"); f != nil {
		return f.Content(source)
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if f := n.NamedChild(i).ChildByFieldName("name"); f != nil {
			return f.Content(source)
		}
	}
	return ""
}

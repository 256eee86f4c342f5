package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SourceType distinguishes where a chunk came from.
type SourceType string

const (
	// SourceCode marks chunks cut from repository files.
	SourceCode SourceType = "code"
	// SourceWebPage marks chunks cut from crawled pages.
	SourceWebPage SourceType = "web_page"
)

// SymbolKind classifies the code symbol a chunk covers.
type SymbolKind string

const (
	SymbolFunction  SymbolKind = "function"
	SymbolMethod    SymbolKind = "method"
	SymbolClass     SymbolKind = "class"
	SymbolInterface SymbolKind = "interface"
	SymbolType      SymbolKind = "type"
)

// Symbol names the code construct a chunk covers.
type Symbol struct {
	Name string     `json:"name"`
	Kind SymbolKind `json:"kind"`
}

// Chunk is one embedding unit. Line numbers are 1-based and inclusive and
// always refer to the original source, including for fallback splits.
type Chunk struct {
	ID           string
	Content      string
	RelativePath string
	StartLine    int
	EndLine      int
	Index        int
	Language     string
	SourceType   SourceType
	Symbol       *Symbol

	// Title and Domain are set for web-page chunks only.
	Title  string
	Domain string
}

// Result carries the chunks for one source plus any soft-cap warnings.
type Result struct {
	Chunks   []Chunk
	Warnings []string
}

// Soft caps: exceeding them is worth a warning, never an error.
const (
	softChunkCap = 50
	softByteCap  = 100 * 1024
)

// ChunkID derives the stable chunk identifier:
//
//	"chunk_" + hex(sha256(path ":" start ":" end ":" index ":" content))[:16]
//
// Identical inputs always produce identical ids.
func ChunkID(relativePath string, startLine, endLine, index int, content string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s:%d:%d:%d:%s", relativePath, startLine, endLine, index, content)
	return "chunk_" + hex.EncodeToString(h.Sum(nil))[:16]
}

// finalize assigns indices and ids and appends soft-cap warnings.
func finalize(path string, sourceSize int, chunks []Chunk) Result {
	for i := range chunks {
		chunks[i].Index = i
		chunks[i].ID = ChunkID(chunks[i].RelativePath, chunks[i].StartLine, chunks[i].EndLine, i, chunks[i].Content)
	}

	var warnings []string
	if len(chunks) > softChunkCap {
		warnings = append(warnings, fmt.Sprintf("%s: %d chunks exceeds soft cap of %d", path, len(chunks), softChunkCap))
	}
	if sourceSize > softByteCap {
		warnings = append(warnings, fmt.Sprintf("%s: %d bytes exceeds soft cap of %d", path, sourceSize, softByteCap))
	}
	return Result{Chunks: chunks, Warnings: warnings}
}

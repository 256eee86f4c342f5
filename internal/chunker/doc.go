// Package chunker splits source files and web pages into embedding-sized
// chunks with exact line spans.
//
// Code goes through an AST-aware splitter (tree-sitter) that cuts at symbol
// boundaries: functions, methods, types, classes. Unsupported languages fall
// back to a character splitter that prefers paragraph and sentence breaks
// over arbitrary cuts. Web pages are separated into fenced code blocks
// (routed through the code path with their tagged language) and prose
// (routed through the character splitter).
//
// Chunk ids are content-addressed: identical (path, span, index, content)
// always derives the same id, which makes vector upserts idempotent.
package chunker

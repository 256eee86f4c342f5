// Package embeddings generates dense and sparse vectors for chunks and
// queries.
//
// Dense vectors come from a TEI-compatible HTTP service (POST /embed).
// Sparse vectors come from a SPLADE encoder behind the TEI sparse endpoint
// (POST /embed_sparse). The Coordinator batches chunk content, bounds
// concurrent batches, runs dense and sparse encoding in parallel, and
// degrades to dense-only when the sparse encoder is unavailable.
package embeddings

package embeddings

import "context"

// Dense generates dense embedding vectors.
type Dense interface {
	// EmbedDocuments embeds a batch of passage texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the vector width the service produces.
	Dimension() int
}

// SparseVector is a SPLADE-style term-weight vector: parallel slices of
// vocabulary indices and their activation values.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// IsZero reports whether the vector has no active terms.
func (v SparseVector) IsZero() bool {
	return len(v.Indices) == 0
}

// Sparse generates sparse lexical-expansion vectors.
type Sparse interface {
	// EncodeDocuments encodes a batch of passage texts.
	EncodeDocuments(ctx context.Context, texts []string) ([]SparseVector, error)
	// EncodeQuery encodes a single query string.
	EncodeQuery(ctx context.Context, text string) (SparseVector, error)
}

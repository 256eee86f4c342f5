package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// SpladeConfig holds configuration for the sparse encoder endpoint.
type SpladeConfig struct {
	// BaseURL is the service base URL. Empty disables sparse encoding.
	BaseURL string

	// Model is the SPLADE model name, used for metric labels.
	Model string

	// Timeout bounds each HTTP request. Zero means 30s.
	Timeout time.Duration
}

// ApplyDefaults fills unset fields.
func (c *SpladeConfig) ApplyDefaults() {
	if c.Model == "" {
		c.Model = "prithivida/Splade_PP_en_v1"
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Splade is a sparse encoder backed by the TEI sparse endpoint.
type Splade struct {
	config  SpladeConfig
	client  *http.Client
	metrics *Metrics
}

// NewSplade creates a sparse encoder client.
func NewSplade(config SpladeConfig, metrics *Metrics) (*Splade, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	config.ApplyDefaults()
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Splade{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		metrics: metrics,
	}, nil
}

// sparseTerm is one (index, value) pair in the wire format of
// /embed_sparse.
type sparseTerm struct {
	Index uint32  `json:"index"`
	Value float32 `json:"value"`
}

func toSparseVector(terms []sparseTerm) SparseVector {
	v := SparseVector{
		Indices: make([]uint32, len(terms)),
		Values:  make([]float32, len(terms)),
	}
	for i, t := range terms {
		v.Indices[i] = t.Index
		v.Values[i] = t.Value
	}
	return v
}

// EncodeDocuments encodes a batch of passage texts.
func (s *Splade) EncodeDocuments(ctx context.Context, texts []string) ([]SparseVector, error) {
	start := time.Now()
	var genErr error
	defer func() {
		s.metrics.observe(s.config.Model, "encode_documents", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	var raw [][]sparseTerm
	if genErr = postJSON(ctx, s.client, s.config.BaseURL+"/embed_sparse", teiRequest{Inputs: texts, Truncate: true}, &raw); genErr != nil {
		return nil, genErr
	}
	if len(raw) != len(texts) {
		genErr = fmt.Errorf("%w: got %d sparse vectors for %d texts", ErrEmbeddingFailed, len(raw), len(texts))
		return nil, genErr
	}

	vectors := make([]SparseVector, len(raw))
	for i, terms := range raw {
		vectors[i] = toSparseVector(terms)
	}
	return vectors, nil
}

// EncodeQuery encodes a single query string.
func (s *Splade) EncodeQuery(ctx context.Context, text string) (SparseVector, error) {
	start := time.Now()
	var genErr error
	defer func() {
		s.metrics.observe(s.config.Model, "encode_query", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return SparseVector{}, genErr
	}

	var raw [][]sparseTerm
	if genErr = postJSON(ctx, s.client, s.config.BaseURL+"/embed_sparse", teiRequest{Inputs: text, Truncate: true}, &raw); genErr != nil {
		return SparseVector{}, genErr
	}
	if len(raw) == 0 {
		genErr = fmt.Errorf("%w: empty response", ErrEmbeddingFailed)
		return SparseVector{}, genErr
	}
	return toSparseVector(raw[0]), nil
}

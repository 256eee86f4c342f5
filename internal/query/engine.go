// Package query implements hybrid retrieval across project-scoped
// collections: resolve the accessible datasets, expand the dataset
// selector, embed the query dense and sparse, fan out across the backing
// collections, merge, optionally rerank, and shape the response.
package query

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fathomlabs/fathomd/internal/embeddings"
	"github.com/fathomlabs/fathomd/internal/metastore"
	"github.com/fathomlabs/fathomd/internal/reranker"
	"github.com/fathomlabs/fathomd/internal/scope"
	"github.com/fathomlabs/fathomd/internal/vectorstore"
)

var tracer = otel.Tracer("fathomd.query")

var (
	// ErrEmptyQuery is returned for a blank query string.
	ErrEmptyQuery = errors.New("query cannot be empty")
)

// Defaults for the retrieval knobs.
const (
	DefaultTopK           = 10
	DefaultInitialK       = 150
	DefaultCandidateLimit = 20
	DefaultTextMaxChars   = 4000
)

// Searcher is the subset of the vector gateway the engine uses.
type Searcher interface {
	Search(ctx context.Context, collection string, vector []float32, k int, filter *vectorstore.Filter) ([]vectorstore.ScoredChunk, error)
	HybridQuery(ctx context.Context, collection string, dense []float32, sparse embeddings.SparseVector, k int, filter *vectorstore.Filter, opts vectorstore.HybridOptions) ([]vectorstore.ScoredChunk, error)
}

// CollectionResolver maps dataset ids to their backing collections.
type CollectionResolver interface {
	ResolveCollections(ctx context.Context, datasetIDs []uuid.UUID) ([]metastore.CollectionRecord, error)
}

// Config tunes retrieval.
type Config struct {
	// EnableHybrid turns on the sparse leg when a sparse encoder is set.
	EnableHybrid bool

	// EnableRerank turns on cross-encoder reranking when a reranker is set.
	EnableRerank bool

	// InitialK is per-collection depth when reranking. Zero means 150.
	InitialK int

	// CandidateLimit is how many merged hits go to the reranker. Zero
	// means 20.
	CandidateLimit int

	// TextMaxChars truncates rerank texts. Zero means 4000.
	TextMaxChars int

	// DenseWeight and SparseWeight feed weighted hybrid fusion; zero for
	// both means the store defaults (0.6/0.4).
	DenseWeight  float32
	SparseWeight float32
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.InitialK <= 0 {
		c.InitialK = DefaultInitialK
	}
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = DefaultCandidateLimit
	}
	if c.TextMaxChars <= 0 {
		c.TextMaxChars = DefaultTextMaxChars
	}
}

// Request is one search request.
type Request struct {
	// Project scopes the search; the case-insensitive "all" sentinel
	// searches every project the caller can see.
	Project string `json:"project"`

	// DatasetSelector holds names, globs and semantic aliases; empty
	// selects every accessible dataset.
	DatasetSelector []string `json:"dataset,omitempty"`

	Query string `json:"query"`

	// TopK is the final result count. Zero means 10.
	TopK int `json:"top_k,omitempty"`

	// Threshold drops hits whose pre-rerank score is below it.
	Threshold float32 `json:"threshold,omitempty"`

	Repo          string `json:"repo,omitempty"`
	Language      string `json:"lang,omitempty"`
	PathPrefix    string `json:"path_prefix,omitempty"`
	IncludeGlobal bool   `json:"include_global,omitempty"`
}

// Scores is the per-hit score breakdown. Vector is always the dense
// similarity; Sparse carries the hybrid-fused score when the sparse leg
// ran, preserving the provenance split the response format promises.
type Scores struct {
	Vector float32  `json:"vector"`
	Sparse *float32 `json:"sparse,omitempty"`
	Rerank *float32 `json:"rerank,omitempty"`
	Final  float32  `json:"final"`
}

// Hit is one search result.
type Hit struct {
	ID        string `json:"id"`
	Chunk     string `json:"chunk"`
	File      string `json:"file"`
	LineSpan  [2]int `json:"line_span"`
	Scores    Scores `json:"scores"`
	ProjectID string `json:"project_id,omitempty"`
	DatasetID string `json:"dataset_id"`
	Repo      string `json:"repo,omitempty"`
	Language  string `json:"lang,omitempty"`
	Symbol    string `json:"symbol,omitempty"`
}

// Timing is per-phase latency in milliseconds.
type Timing struct {
	Embedding int64 `json:"embedding"`
	Search    int64 `json:"search"`
	Reranking int64 `json:"reranking,omitempty"`
	Total     int64 `json:"total"`
}

// SearchParams echoes the effective retrieval parameters.
type SearchParams struct {
	InitialK     int      `json:"initial_k"`
	FinalK       int      `json:"final_k"`
	DenseWeight  *float32 `json:"dense_weight,omitempty"`
	SparseWeight *float32 `json:"sparse_weight,omitempty"`
}

// Metadata describes how a response was produced.
type Metadata struct {
	RetrievalMethod string       `json:"retrieval_method"`
	TimingMS        Timing       `json:"timing_ms"`
	FeaturesUsed    []string     `json:"features_used"`
	SearchParams    SearchParams `json:"search_params"`
}

// Response is the full search response.
type Response struct {
	Results  []Hit    `json:"results"`
	Metadata Metadata `json:"metadata"`
	Message  string   `json:"message,omitempty"`
}

// Engine runs searches. sparse and rr may be nil; the corresponding
// features simply stay off.
type Engine struct {
	access      *scope.Access
	collections CollectionResolver
	vectors     Searcher
	dense       embeddings.Dense
	sparse      embeddings.Sparse
	rr          reranker.Reranker
	config      Config
	logger      *zap.Logger
	metrics     *Metrics
}

// New creates an engine.
func New(access *scope.Access, collections CollectionResolver, vectors Searcher, dense embeddings.Dense, sparse embeddings.Sparse, rr reranker.Reranker, config Config, logger *zap.Logger, metrics *Metrics) (*Engine, error) {
	if access == nil || collections == nil || vectors == nil || dense == nil {
		return nil, errors.New("access, collections, vectors and dense embedder are required")
	}
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Engine{
		access:      access,
		collections: collections,
		vectors:     vectors,
		dense:       dense,
		sparse:      sparse,
		rr:          rr,
		config:      config,
		logger:      logger.Named("query"),
		metrics:     metrics,
	}, nil
}

func (e *Engine) hybridEnabled() bool {
	return e.config.EnableHybrid && e.sparse != nil
}

func (e *Engine) rerankEnabled() bool {
	return e.config.EnableRerank && e.rr != nil
}

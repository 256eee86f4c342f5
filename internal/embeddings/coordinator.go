package embeddings

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultBatchSize is texts per embedding request.
	DefaultBatchSize = 100
	// DefaultMaxConcurrentBatches bounds in-flight embedding requests.
	DefaultMaxConcurrentBatches = 1
	// DefaultMaxChunks caps how many chunks a single run will embed.
	DefaultMaxChunks = 450_000
)

// CoordinatorConfig tunes batching and concurrency.
type CoordinatorConfig struct {
	BatchSize            int
	MaxConcurrentBatches int64
	MaxChunks            int
}

// ApplyDefaults fills unset fields.
func (c *CoordinatorConfig) ApplyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxConcurrentBatches <= 0 {
		c.MaxConcurrentBatches = DefaultMaxConcurrentBatches
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = DefaultMaxChunks
	}
}

// Result carries the vectors for one coordinated run. Dense and Sparse are
// index-aligned with the embedded texts. Sparse is nil when the encoder is
// absent or failed mid-run.
type Result struct {
	Dense          [][]float32
	Sparse         []SparseVector
	SparseDegraded bool
	// LimitReached reports that input was truncated at MaxChunks; only the
	// first Embedded texts have vectors.
	LimitReached bool
	Embedded     int
}

// Coordinator fans texts out to the dense embedder and sparse encoder in
// bounded batches.
type Coordinator struct {
	dense  Dense
	sparse Sparse
	config CoordinatorConfig
	logger *zap.Logger
	sem    *semaphore.Weighted
}

// NewCoordinator creates a coordinator. sparse may be nil, in which case
// every result is dense-only.
func NewCoordinator(dense Dense, sparse Sparse, config CoordinatorConfig, logger *zap.Logger) (*Coordinator, error) {
	if dense == nil {
		return nil, fmt.Errorf("%w: dense embedder required", ErrInvalidConfig)
	}
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		dense:  dense,
		sparse: sparse,
		config: config,
		logger: logger,
		sem:    semaphore.NewWeighted(config.MaxConcurrentBatches),
	}, nil
}

// Dimension returns the dense vector width.
func (c *Coordinator) Dimension() int {
	return c.dense.Dimension()
}

// Hybrid reports whether sparse encoding is configured.
func (c *Coordinator) Hybrid() bool {
	return c.sparse != nil
}

// EmbedTexts embeds all texts. A dense failure fails the run; a sparse
// failure degrades it to dense-only and keeps going.
func (c *Coordinator) EmbedTexts(ctx context.Context, texts []string) (*Result, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	res := &Result{}
	if len(texts) > c.config.MaxChunks {
		c.logger.Warn("chunk cap reached, truncating input",
			zap.Int("texts", len(texts)),
			zap.Int("cap", c.config.MaxChunks))
		texts = texts[:c.config.MaxChunks]
		res.LimitReached = true
	}
	res.Embedded = len(texts)
	res.Dense = make([][]float32, len(texts))
	if c.sparse != nil {
		res.Sparse = make([]SparseVector, len(texts))
	}

	var degraded sync.Once
	g, ctx := errgroup.WithContext(ctx)
	for off := 0; off < len(texts); off += c.config.BatchSize {
		start := off
		end := min(off+c.config.BatchSize, len(texts))

		g.Go(func() error {
			if err := c.sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer c.sem.Release(1)
			return c.embedBatch(ctx, texts[start:end], start, res, &degraded)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if res.SparseDegraded {
		res.Sparse = nil
	}
	return res, nil
}

// embedBatch runs dense and sparse encoding for one batch concurrently.
func (c *Coordinator) embedBatch(ctx context.Context, batch []string, offset int, res *Result, degraded *sync.Once) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		vectors, err := c.dense.EmbedDocuments(ctx, batch)
		if err != nil {
			return fmt.Errorf("dense batch at %d: %w", offset, err)
		}
		copy(res.Dense[offset:], vectors)
		return nil
	})

	if c.sparse != nil {
		g.Go(func() error {
			vectors, err := c.sparse.EncodeDocuments(ctx, batch)
			if err != nil {
				degraded.Do(func() {
					res.SparseDegraded = true
					c.logger.Warn("sparse encoder failed, degrading to dense-only search",
						zap.Int("offset", offset),
						zap.Error(err))
				})
				return nil
			}
			copy(res.Sparse[offset:], vectors)
			return nil
		})
	}

	return g.Wait()
}

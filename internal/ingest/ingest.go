// Package ingest orchestrates the indexing pipeline: resolve the target
// dataset and collection, detect changes, chunk sources, embed chunk
// batches and upsert them into the vector store, then record the indexed
// state in the metastore.
//
// Per-file and per-batch failures are logged and skipped; they never abort
// a job. A job ends with status completed, limit_reached (chunk cap hit)
// or skipped (incremental run with nothing to do).
package ingest

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fathomlabs/fathomd/internal/changeset"
	"github.com/fathomlabs/fathomd/internal/chunker"
	"github.com/fathomlabs/fathomd/internal/embeddings"
	"github.com/fathomlabs/fathomd/internal/metastore"
	"github.com/fathomlabs/fathomd/internal/scope"
	"github.com/fathomlabs/fathomd/internal/vectorstore"
)

var tracer = otel.Tracer("fathomd.ingest")

var (
	// ErrInvalidJob is returned for a job missing required fields.
	ErrInvalidJob = errors.New("invalid ingest job")
)

// Job statuses reported in Result.Status.
const (
	StatusCompleted    = metastore.StatusCompleted
	StatusLimitReached = metastore.StatusLimitReached
	// StatusSkipped means an incremental run found nothing to do.
	StatusSkipped = "skipped"
)

// VectorStore is the subset of the vector gateway the orchestrator uses.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, dimension int, hybrid bool) error
	DropCollection(ctx context.Context, name string) error
	UpsertChunks(ctx context.Context, collection string, points []vectorstore.ChunkPoint) error
	DeleteByPaths(ctx context.Context, collection, datasetID string, paths []string) error
	CountPoints(ctx context.Context, name string) (uint64, error)
}

// Metastore is the subset of the relational gateway the orchestrator uses.
type Metastore interface {
	GetOrCreateDataset(ctx context.Context, spec metastore.DatasetSpec) (*metastore.Dataset, error)
	GetOrCreateCollectionRecord(ctx context.Context, datasetID uuid.UUID, collectionName string, dimension int, hybrid bool) (*metastore.CollectionRecord, error)
	UpdateCollectionMetadata(ctx context.Context, datasetID uuid.UUID, pointCount int64, status string) error
	UpsertIndexedFiles(ctx context.Context, datasetID uuid.UUID, files []metastore.IndexedFile) error
	IndexedHashes(ctx context.Context, datasetID uuid.UUID) (map[string]string, error)
	DeleteIndexedFiles(ctx context.Context, datasetID uuid.UUID, paths []string) error
	ClearIndexedFiles(ctx context.Context, datasetID uuid.UUID) error
	UpsertWebPage(ctx context.Context, datasetID uuid.UUID, page metastore.WebPage) error
	WebPageHash(ctx context.Context, datasetID uuid.UUID, url string) (string, error)
}

// Embedder is the coordinated dense+sparse embedding capability.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) (*embeddings.Result, error)
	Dimension() int
	Hybrid() bool
}

// Config tunes the pipeline.
type Config struct {
	// ChunkSize and Overlap configure the character splitter.
	ChunkSize int
	Overlap   int

	// FlushSize is how many chunks accumulate before an embed+upsert
	// flush. Zero means 100.
	FlushSize int

	// UpsertBatchSize is points per vector-store upsert call. Zero means 16.
	UpsertBatchSize int

	// MaxChunks caps chunks per job; exceeding it ends the job with
	// status limit_reached. Zero means 450000.
	MaxChunks int

	// Extensions overrides the change detector's file allowlist.
	Extensions []string

	// MaxFileSize is passed to the change detector.
	MaxFileSize int64
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.FlushSize <= 0 {
		c.FlushSize = 100
	}
	if c.UpsertBatchSize <= 0 {
		c.UpsertBatchSize = 16
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = embeddings.DefaultMaxChunks
	}
}

// Progress is one progress event, emitted at file boundaries.
type Progress struct {
	Phase      string  `json:"phase"`
	Current    int     `json:"current"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// ProgressFunc receives progress events. It must not block.
type ProgressFunc func(Progress)

// Job describes one codebase ingest.
type Job struct {
	// Root is the directory to index.
	Root string

	// Project may be empty for a global dataset.
	Project string
	Dataset string

	// Repository provenance, recorded on every chunk payload.
	Repo      string
	Branch    string
	CommitSHA string

	// Force drops the collection and indexed-file records first.
	Force bool

	Progress ProgressFunc
}

// Result summarizes a finished job.
type Result struct {
	IndexedFiles int      `json:"indexed_files"`
	TotalChunks  int      `json:"total_chunks"`
	Status       string   `json:"status"`
	Warnings     []string `json:"warnings,omitempty"`
}

// ChangeResult extends Result with incremental-run file counts.
type ChangeResult struct {
	Result
	Added    int `json:"added"`
	Modified int `json:"modified"`
	Removed  int `json:"removed"`
}

// Orchestrator runs ingest jobs.
type Orchestrator struct {
	store    Metastore
	vectors  VectorStore
	embedder Embedder
	chunker  *chunker.Chunker
	detector *changeset.Detector
	config   Config
	logger   *zap.Logger
	metrics  *Metrics
}

// New creates an orchestrator. detector may be nil, in which case a
// default one is built.
func New(store Metastore, vectors VectorStore, embedder Embedder, detector *changeset.Detector, config Config, logger *zap.Logger, metrics *Metrics) (*Orchestrator, error) {
	if store == nil || vectors == nil || embedder == nil {
		return nil, errors.New("store, vectors and embedder are required")
	}
	config.ApplyDefaults()
	if detector == nil {
		detector = changeset.NewDetector(nil)
	}
	detector.Extensions = config.Extensions
	detector.MaxFileSize = config.MaxFileSize
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Orchestrator{
		store:    store,
		vectors:  vectors,
		embedder: embedder,
		chunker:  chunker.New(chunker.Config{ChunkSize: config.ChunkSize, Overlap: config.Overlap}),
		detector: detector,
		config:   config,
		logger:   logger.Named("ingest"),
		metrics:  metrics,
	}, nil
}

// target is the resolved destination for one job.
type target struct {
	dataset    *metastore.Dataset
	collection string
	hybrid     bool

	// provenance copied onto every payload
	repo      string
	branch    string
	commitSHA string
}

// prepare resolves the dataset and collection, applies force, and ensures
// both stores know about the collection.
func (o *Orchestrator) prepare(ctx context.Context, project, dataset, sourceType, repo, branch, sha string, force bool) (*target, error) {
	if dataset == "" {
		return nil, ErrInvalidJob
	}

	level := scope.Local
	if project == "" {
		level = scope.Global
	}
	collection, err := scope.CollectionName(level, project, dataset)
	if err != nil {
		return nil, err
	}

	ds, err := o.store.GetOrCreateDataset(ctx, metastore.DatasetSpec{
		Project:    project,
		Name:       dataset,
		SourceType: sourceType,
		Repo:       repo,
		Branch:     branch,
		CommitSHA:  sha,
	})
	if err != nil {
		return nil, err
	}

	if force {
		if err := o.vectors.DropCollection(ctx, collection); err != nil {
			return nil, err
		}
		if err := o.store.ClearIndexedFiles(ctx, ds.ID); err != nil {
			return nil, err
		}
	}

	hybrid := o.embedder.Hybrid()
	if err := o.vectors.EnsureCollection(ctx, collection, o.embedder.Dimension(), hybrid); err != nil {
		return nil, err
	}

	// The record feeds every downstream count, so its absence is worth
	// shouting about, but indexing itself can proceed without it.
	if _, err := o.store.GetOrCreateCollectionRecord(ctx, ds.ID, collection, o.embedder.Dimension(), hybrid); err != nil {
		o.logger.Error("collection record unavailable; point counts and status will be stale",
			zap.String("collection", collection),
			zap.String("dataset", dataset),
			zap.Error(err))
	}

	return &target{
		dataset:    ds,
		collection: collection,
		hybrid:     hybrid,
		repo:       repo,
		branch:     branch,
		commitSHA:  sha,
	}, nil
}

// finish records the final point count and status. Failures are logged,
// not returned: the vectors are already durable.
func (o *Orchestrator) finish(ctx context.Context, t *target, totalChunks int, status string) {
	count := int64(totalChunks)
	if n, err := o.vectors.CountPoints(ctx, t.collection); err == nil {
		count = int64(n)
	}
	if err := o.store.UpdateCollectionMetadata(ctx, t.dataset.ID, count, status); err != nil {
		o.logger.Warn("updating collection metadata failed",
			zap.String("collection", t.collection),
			zap.Error(err))
	}
}

func emit(fn ProgressFunc, phase string, current, total int) {
	if fn == nil {
		return
	}
	pct := 100.0
	if total > 0 {
		pct = float64(current) / float64(total) * 100
	}
	fn(Progress{Phase: phase, Current: current, Total: total, Percentage: pct})
}

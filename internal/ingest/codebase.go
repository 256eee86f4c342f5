package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fathomlabs/fathomd/internal/changeset"
	"github.com/fathomlabs/fathomd/internal/chunker"
	"github.com/fathomlabs/fathomd/internal/embeddings"
	"github.com/fathomlabs/fathomd/internal/metastore"
	"github.com/fathomlabs/fathomd/internal/vectorstore"
)

// IndexCodebase runs a full index of the tree at job.Root. Re-running on
// an unchanged tree is idempotent: chunk ids are deterministic, so upserts
// overwrite in place.
func (o *Orchestrator) IndexCodebase(ctx context.Context, job Job) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.IndexCodebase")
	defer span.End()
	span.SetAttributes(
		attribute.String("project", job.Project),
		attribute.String("dataset", job.Dataset),
		attribute.Bool("force", job.Force),
	)

	started := time.Now()
	t, err := o.prepare(ctx, job.Project, job.Dataset, string(chunker.SourceCode), job.Repo, job.Branch, job.CommitSHA, job.Force)
	if err != nil {
		return nil, err
	}

	// A nil baseline classifies every candidate file as new, which is
	// exactly the full-index file list.
	changes, err := o.detector.Detect(ctx, job.Root, nil)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", job.Root, err)
	}

	res, err := o.indexFiles(ctx, t, job.Root, changes.New, job.Progress)
	if err != nil {
		return nil, err
	}

	o.finish(ctx, t, res.TotalChunks, res.Status)
	o.metrics.jobDone("code", res.Status, time.Since(started))
	o.logger.Info("codebase indexed",
		zap.String("collection", t.collection),
		zap.Int("files", res.IndexedFiles),
		zap.Int("chunks", res.TotalChunks),
		zap.String("status", res.Status))
	return res, nil
}

// ReindexByChange runs the incremental pipeline: classify the tree against
// the indexed baseline, drop stale chunks for deleted and modified files,
// then index only what changed. When nothing changed the job is skipped.
func (o *Orchestrator) ReindexByChange(ctx context.Context, job Job) (*ChangeResult, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.ReindexByChange")
	defer span.End()
	span.SetAttributes(
		attribute.String("project", job.Project),
		attribute.String("dataset", job.Dataset),
	)

	started := time.Now()
	t, err := o.prepare(ctx, job.Project, job.Dataset, string(chunker.SourceCode), job.Repo, job.Branch, job.CommitSHA, false)
	if err != nil {
		return nil, err
	}

	baseline, err := o.store.IndexedHashes(ctx, t.dataset.ID)
	if err != nil {
		return nil, fmt.Errorf("loading indexed baseline: %w", err)
	}

	changes, err := o.detector.Detect(ctx, job.Root, baseline)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", job.Root, err)
	}

	out := &ChangeResult{
		Added:    len(changes.New),
		Modified: len(changes.Modified),
		Removed:  len(changes.Deleted),
	}

	if changes.Recommendation() == changeset.RecommendSkip {
		out.Status = StatusSkipped
		return out, nil
	}

	// Stale chunks belong to deleted files and to the previous versions
	// of modified files; modified files are about to be re-chunked with
	// new ids.
	stale := append([]string(nil), changes.Deleted...)
	for _, f := range changes.Modified {
		stale = append(stale, f.RelativePath)
	}
	if err := o.vectors.DeleteByPaths(ctx, t.collection, t.dataset.ID.String(), stale); err != nil {
		return nil, fmt.Errorf("removing stale chunks: %w", err)
	}
	if err := o.store.DeleteIndexedFiles(ctx, t.dataset.ID, changes.Deleted); err != nil {
		return nil, fmt.Errorf("removing deleted file records: %w", err)
	}

	todo := append(append([]changeset.FileState(nil), changes.New...), changes.Modified...)
	res, err := o.indexFiles(ctx, t, job.Root, todo, job.Progress)
	if err != nil {
		return nil, err
	}
	out.Result = *res

	o.finish(ctx, t, res.TotalChunks, res.Status)
	o.metrics.jobDone("code", res.Status, time.Since(started))
	o.logger.Info("incremental reindex done",
		zap.String("collection", t.collection),
		zap.Int("added", out.Added),
		zap.Int("modified", out.Modified),
		zap.Int("removed", out.Removed),
		zap.String("status", res.Status))
	return out, nil
}

// indexFiles runs the chunk→embed→upsert pipeline over files. The chunk
// buffer flushes at FlushSize; the final flush runs after the last file.
func (o *Orchestrator) indexFiles(ctx context.Context, t *target, root string, files []changeset.FileState, progress ProgressFunc) (*Result, error) {
	res := &Result{Status: StatusCompleted}

	var pendingChunks []chunker.Chunk
	var pendingFiles []metastore.IndexedFile
	fileHash := make(map[string]string, len(files))

	flush := func() error {
		if len(pendingChunks) == 0 {
			return nil
		}
		embedded := o.flushChunks(ctx, t, pendingChunks, fileHash)
		if embedded {
			if err := o.store.UpsertIndexedFiles(ctx, t.dataset.ID, pendingFiles); err != nil {
				o.logger.Warn("recording indexed files failed", zap.Error(err))
			}
			res.TotalChunks += len(pendingChunks)
			res.IndexedFiles += len(pendingFiles)
		}
		pendingChunks = pendingChunks[:0]
		pendingFiles = pendingFiles[:0]
		return ctx.Err()
	}

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(f.RelativePath)))
		if err != nil {
			o.logger.Warn("skipping unreadable file", zap.String("path", f.RelativePath), zap.Error(err))
			o.metrics.fileFailed()
			continue
		}

		chunked, err := o.chunker.ChunkFile(ctx, f.RelativePath, content)
		if err != nil {
			o.logger.Warn("skipping unchunkable file", zap.String("path", f.RelativePath), zap.Error(err))
			o.metrics.fileFailed()
			continue
		}
		res.Warnings = append(res.Warnings, chunked.Warnings...)

		if res.TotalChunks+len(pendingChunks)+len(chunked.Chunks) > o.config.MaxChunks {
			o.logger.Warn("chunk cap reached, truncating job",
				zap.Int("cap", o.config.MaxChunks),
				zap.String("last_file", f.RelativePath))
			res.Status = StatusLimitReached
			break
		}

		fileHash[f.RelativePath] = f.ContentHash
		pendingChunks = append(pendingChunks, chunked.Chunks...)
		pendingFiles = append(pendingFiles, metastore.IndexedFile{
			RelativePath: f.RelativePath,
			ContentHash:  f.ContentHash,
			SizeBytes:    f.Size,
			ChunkCount:   len(chunked.Chunks),
		})

		if len(pendingChunks) >= o.config.FlushSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		emit(progress, "indexing", i+1, len(files))
	}

	if err := flush(); err != nil {
		return nil, err
	}
	return res, nil
}

// flushChunks embeds one buffer and upserts the points. Embed or upsert
// failures discard the buffer and are reported as false.
func (o *Orchestrator) flushChunks(ctx context.Context, t *target, chunks []chunker.Chunk, fileHash map[string]string) bool {
	if len(chunks) == 0 {
		return true
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vecs, err := o.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		o.logger.Error("embedding batch failed, discarding chunks",
			zap.Int("chunks", len(chunks)), zap.Error(err))
		o.metrics.batchFailed()
		return false
	}

	points := make([]vectorstore.ChunkPoint, len(chunks))
	for i, c := range chunks {
		var sparse *embeddings.SparseVector
		if vecs.Sparse != nil {
			sparse = &vecs.Sparse[i]
		}
		points[i] = toPoint(t, c, vecs.Dense[i], sparse, fileHash[c.RelativePath])
	}

	for start := 0; start < len(points); start += o.config.UpsertBatchSize {
		end := start + o.config.UpsertBatchSize
		if end > len(points) {
			end = len(points)
		}
		if err := o.vectors.UpsertChunks(ctx, t.collection, points[start:end]); err != nil {
			o.logger.Error("upserting batch failed, discarding chunks",
				zap.Int("chunks", end-start), zap.Error(err))
			o.metrics.batchFailed()
			return false
		}
	}

	o.metrics.chunksIndexed(len(chunks))
	return true
}

// toPoint builds the vector-store point for one chunk, carrying the full
// payload plus dataset identity and provenance.
func toPoint(t *target, c chunker.Chunk, dense []float32, sparse *embeddings.SparseVector, contentHash string) vectorstore.ChunkPoint {
	var symbol string
	if c.Symbol != nil {
		symbol = c.Symbol.Name
	}
	var projectID string
	if t.dataset.ProjectID != nil {
		projectID = t.dataset.ProjectID.String()
	}
	return vectorstore.ChunkPoint{
		ID:     c.ID,
		Dense:  dense,
		Sparse: sparse,
		Payload: vectorstore.Payload{
			Content:      c.Content,
			RelativePath: c.RelativePath,
			StartLine:    c.StartLine,
			EndLine:      c.EndLine,
			ChunkIndex:   c.Index,
			Language:     c.Language,
			Symbol:       symbol,
			SourceType:   string(c.SourceType),
			ContentHash:  contentHash,
			ProjectID:    projectID,
			DatasetID:    t.dataset.ID.String(),
			Dataset:      t.dataset.Name,
			Repo:         t.repo,
			Branch:       t.branch,
			CommitSHA:    t.commitSHA,
			Title:        c.Title,
			Domain:       c.Domain,
		},
	}
}

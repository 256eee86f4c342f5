package metastore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// IndexedFile records one file's indexed state inside a dataset.
type IndexedFile struct {
	RelativePath string
	ContentHash  string
	SizeBytes    int64
	ChunkCount   int
	IndexedAt    time.Time
}

// UpsertIndexedFiles records files after their chunks have been written to
// the vector store.
func (s *Store) UpsertIndexedFiles(ctx context.Context, datasetID uuid.UUID, files []IndexedFile) error {
	ctx, span := tracer.Start(ctx, "Store.UpsertIndexedFiles")
	defer span.End()
	span.SetAttributes(
		attribute.String("dataset_id", datasetID.String()),
		attribute.Int("file_count", len(files)),
	)

	for _, f := range files {
		_, err := s.db.Exec(ctx, `
			INSERT INTO indexed_files (dataset_id, relative_path, content_hash, size_bytes, chunk_count)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (dataset_id, relative_path) DO UPDATE SET
				content_hash = EXCLUDED.content_hash,
				size_bytes = EXCLUDED.size_bytes,
				chunk_count = EXCLUDED.chunk_count,
				indexed_at = now()`,
			datasetID.String(), f.RelativePath, f.ContentHash, f.SizeBytes, f.ChunkCount)
		if err != nil {
			return fmt.Errorf("upserting indexed file %s: %w", f.RelativePath, err)
		}
	}
	return nil
}

// IndexedHashes returns relative path to content hash for a dataset, the
// baseline for change detection.
func (s *Store) IndexedHashes(ctx context.Context, datasetID uuid.UUID) (map[string]string, error) {
	ctx, span := tracer.Start(ctx, "Store.IndexedHashes")
	defer span.End()
	span.SetAttributes(attribute.String("dataset_id", datasetID.String()))

	rows, err := s.db.Query(ctx, `
		SELECT relative_path, content_hash FROM indexed_files WHERE dataset_id = $1`,
		datasetID.String())
	if err != nil {
		return nil, fmt.Errorf("querying indexed hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, err
		}
		hashes[path] = hash
	}
	return hashes, rows.Err()
}

// DeleteIndexedFiles removes specific file records, used when files
// disappear between incremental runs.
func (s *Store) DeleteIndexedFiles(ctx context.Context, datasetID uuid.UUID, paths []string) error {
	ctx, span := tracer.Start(ctx, "Store.DeleteIndexedFiles")
	defer span.End()
	span.SetAttributes(
		attribute.String("dataset_id", datasetID.String()),
		attribute.Int("file_count", len(paths)),
	)

	if len(paths) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `
		DELETE FROM indexed_files WHERE dataset_id = $1 AND relative_path = ANY($2)`,
		datasetID.String(), paths)
	if err != nil {
		return fmt.Errorf("deleting indexed files: %w", err)
	}
	return nil
}

// ClearIndexedFiles removes every file record for a dataset, used by full
// re-index and clear operations.
func (s *Store) ClearIndexedFiles(ctx context.Context, datasetID uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "Store.ClearIndexedFiles")
	defer span.End()
	span.SetAttributes(attribute.String("dataset_id", datasetID.String()))

	_, err := s.db.Exec(ctx, `DELETE FROM indexed_files WHERE dataset_id = $1`,
		datasetID.String())
	if err != nil {
		return fmt.Errorf("clearing indexed files: %w", err)
	}
	return nil
}

// IndexedFileStats summarizes the indexed_files table for one dataset.
type IndexedFileStats struct {
	FileCount  int
	ChunkCount int
	TotalBytes int64
}

// GetIndexedFileStats aggregates counts for status reporting.
func (s *Store) GetIndexedFileStats(ctx context.Context, datasetID uuid.UUID) (*IndexedFileStats, error) {
	ctx, span := tracer.Start(ctx, "Store.GetIndexedFileStats")
	defer span.End()
	span.SetAttributes(attribute.String("dataset_id", datasetID.String()))

	row := s.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(chunk_count), 0), COALESCE(SUM(size_bytes), 0)
		FROM indexed_files WHERE dataset_id = $1`,
		datasetID.String())

	var stats IndexedFileStats
	if err := row.Scan(&stats.FileCount, &stats.ChunkCount, &stats.TotalBytes); err != nil {
		return nil, fmt.Errorf("aggregating indexed files: %w", err)
	}
	return &stats, nil
}

// WebPage records one crawled page inside a dataset.
type WebPage struct {
	URL         string
	Title       string
	Domain      string
	ContentHash string
	ChunkCount  int
	CrawledAt   time.Time
}

// UpsertWebPage records a crawled page after its chunks are stored.
func (s *Store) UpsertWebPage(ctx context.Context, datasetID uuid.UUID, page WebPage) error {
	ctx, span := tracer.Start(ctx, "Store.UpsertWebPage")
	defer span.End()
	span.SetAttributes(
		attribute.String("dataset_id", datasetID.String()),
		attribute.String("url", page.URL),
	)

	_, err := s.db.Exec(ctx, `
		INSERT INTO web_pages (dataset_id, url, title, domain, content_hash, chunk_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (dataset_id, url) DO UPDATE SET
			title = EXCLUDED.title,
			domain = EXCLUDED.domain,
			content_hash = EXCLUDED.content_hash,
			chunk_count = EXCLUDED.chunk_count,
			crawled_at = now()`,
		datasetID.String(), page.URL, page.Title, page.Domain, page.ContentHash, page.ChunkCount)
	if err != nil {
		return fmt.Errorf("upserting web page %s: %w", page.URL, err)
	}
	return nil
}

// WebPageHash returns the stored content hash for a page, or ErrNotFound.
func (s *Store) WebPageHash(ctx context.Context, datasetID uuid.UUID, url string) (string, error) {
	ctx, span := tracer.Start(ctx, "Store.WebPageHash")
	defer span.End()

	var hash string
	err := s.db.QueryRow(ctx, `
		SELECT content_hash FROM web_pages WHERE dataset_id = $1 AND url = $2`,
		datasetID.String(), url).Scan(&hash)
	if err != nil {
		return "", fmt.Errorf("web page %s: %w", url, ErrNotFound)
	}
	return hash, nil
}

package metastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
)

// Collection statuses.
const (
	StatusReady        = "ready"
	StatusIndexing     = "indexing"
	StatusCompleted    = "completed"
	StatusLimitReached = "limit_reached"
	StatusFailed       = "failed"
)

// CollectionRecord ties a dataset to its vector-store collection.
type CollectionRecord struct {
	DatasetID      uuid.UUID
	CollectionName string
	Dimension      int
	Hybrid         bool
	PointCount     int64
	Status         string
	LastIndexedAt  *time.Time
	UpdatedAt      time.Time
}

// GetOrCreateCollectionRecord registers the collection for a dataset. On
// conflict only the collection name is refreshed: dimension and hybrid
// describe vectors already stored and must never drift from them.
func (s *Store) GetOrCreateCollectionRecord(ctx context.Context, datasetID uuid.UUID, collectionName string, dimension int, hybrid bool) (*CollectionRecord, error) {
	ctx, span := tracer.Start(ctx, "Store.GetOrCreateCollectionRecord")
	defer span.End()
	span.SetAttributes(
		attribute.String("dataset_id", datasetID.String()),
		attribute.String("collection", collectionName),
	)

	if collectionName == "" {
		return nil, fmt.Errorf("%w: collection name required", ErrInvalidInput)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidInput)
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO dataset_collections (dataset_id, collection_name, dimension, hybrid)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dataset_id) DO UPDATE SET
			collection_name = EXCLUDED.collection_name,
			updated_at = now()
		RETURNING dataset_id, collection_name, dimension, hybrid, point_count, status, last_indexed_at, updated_at`,
		datasetID.String(), collectionName, dimension, hybrid)

	rec, err := scanCollectionRecord(row)
	if err != nil {
		return nil, fmt.Errorf("upserting collection record: %w", err)
	}
	return rec, nil
}

// GetCollectionRecord returns the record for one dataset.
func (s *Store) GetCollectionRecord(ctx context.Context, datasetID uuid.UUID) (*CollectionRecord, error) {
	ctx, span := tracer.Start(ctx, "Store.GetCollectionRecord")
	defer span.End()
	span.SetAttributes(attribute.String("dataset_id", datasetID.String()))

	row := s.db.QueryRow(ctx, `
		SELECT dataset_id, collection_name, dimension, hybrid, point_count, status, last_indexed_at, updated_at
		FROM dataset_collections WHERE dataset_id = $1`, datasetID.String())

	rec, err := scanCollectionRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("collection record for %s: %w", datasetID, ErrNotFound)
	}
	return rec, err
}

// UpdateCollectionMetadata records the outcome of an indexing run.
func (s *Store) UpdateCollectionMetadata(ctx context.Context, datasetID uuid.UUID, pointCount int64, status string) error {
	ctx, span := tracer.Start(ctx, "Store.UpdateCollectionMetadata")
	defer span.End()
	span.SetAttributes(
		attribute.String("dataset_id", datasetID.String()),
		attribute.Int64("point_count", pointCount),
		attribute.String("status", status),
	)

	tag, err := s.db.Exec(ctx, `
		UPDATE dataset_collections
		SET point_count = $2, status = $3, last_indexed_at = now(), updated_at = now()
		WHERE dataset_id = $1`,
		datasetID.String(), pointCount, status)
	if err != nil {
		return fmt.Errorf("updating collection metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("collection record for %s: %w", datasetID, ErrNotFound)
	}
	return nil
}

// ResolveCollections returns the collection records for the given
// datasets, keeping only datasets that actually have one. Callers fall
// back to deriving collection names when a dataset has no record yet.
func (s *Store) ResolveCollections(ctx context.Context, datasetIDs []uuid.UUID) ([]CollectionRecord, error) {
	ctx, span := tracer.Start(ctx, "Store.ResolveCollections")
	defer span.End()
	span.SetAttributes(attribute.Int("dataset_count", len(datasetIDs)))

	if len(datasetIDs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(datasetIDs))
	for i, id := range datasetIDs {
		ids[i] = id.String()
	}

	rows, err := s.db.Query(ctx, `
		SELECT dataset_id, collection_name, dimension, hybrid, point_count, status, last_indexed_at, updated_at
		FROM dataset_collections
		WHERE dataset_id = ANY($1)
		ORDER BY collection_name`, ids)
	if err != nil {
		return nil, fmt.Errorf("resolving collections: %w", err)
	}
	defer rows.Close()

	var out []CollectionRecord
	for rows.Next() {
		rec, err := scanCollectionRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanCollectionRecord(row pgx.Row) (*CollectionRecord, error) {
	var (
		rec CollectionRecord
		id  string
	)
	err := row.Scan(&id, &rec.CollectionName, &rec.Dimension, &rec.Hybrid, &rec.PointCount, &rec.Status, &rec.LastIndexedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing dataset id %q: %w", id, err)
	}
	rec.DatasetID = parsed
	return &rec, nil
}

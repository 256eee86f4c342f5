package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathomlabs/fathomd/internal/metastore"
	"github.com/fathomlabs/fathomd/internal/scope"
)

// ClearStore is the subset of the relational gateway the cleaner uses.
type ClearStore interface {
	GetDataset(ctx context.Context, project, name string) (*metastore.Dataset, error)
	DeleteDataset(ctx context.Context, datasetID uuid.UUID) error
}

// ClearVectors is the subset of the vector gateway the cleaner uses.
type ClearVectors interface {
	DropCollection(ctx context.Context, name string) error
	DeleteByDataset(ctx context.Context, collection, datasetID string) (uint64, error)
}

// Cleaner removes a dataset: its vectors, its collection when dedicated,
// and its metastore records.
type Cleaner struct {
	store   ClearStore
	vectors ClearVectors
	logger  *zap.Logger
}

// NewCleaner creates a cleaner.
func NewCleaner(store ClearStore, vectors ClearVectors, logger *zap.Logger) (*Cleaner, error) {
	if store == nil || vectors == nil {
		return nil, errors.New("store and vectors are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{store: store, vectors: vectors, logger: logger.Named("clear")}, nil
}

// Clear deletes the dataset's vectors and records. A dataset in the shared
// global collection is deleted point-by-point; a dedicated local collection
// is dropped outright. Returns the collection name that was cleared.
func (c *Cleaner) Clear(ctx context.Context, project, dataset string) (string, error) {
	ctx, span := tracer.Start(ctx, "Cleaner.Clear")
	defer span.End()

	ds, err := c.store.GetDataset(ctx, project, dataset)
	if err != nil {
		return "", err
	}

	level := scope.Resolve(project, dataset, scope.Local)
	collection, err := scope.CollectionName(level, project, dataset)
	if err != nil {
		return "", err
	}

	if level == scope.Local {
		if err := c.vectors.DropCollection(ctx, collection); err != nil {
			// Tolerate a missing collection; the records still go.
			c.logger.Warn("dropping collection failed",
				zap.String("collection", collection), zap.Error(err))
		}
	} else {
		deleted, err := c.vectors.DeleteByDataset(ctx, collection, ds.ID.String())
		if err != nil {
			return "", fmt.Errorf("deleting dataset vectors: %w", err)
		}
		c.logger.Info("deleted dataset vectors",
			zap.String("collection", collection),
			zap.Uint64("points", deleted),
		)
	}

	if err := c.store.DeleteDataset(ctx, ds.ID); err != nil {
		return "", fmt.Errorf("deleting dataset records: %w", err)
	}

	c.logger.Info("cleared dataset",
		zap.String("project", project),
		zap.String("dataset", dataset),
		zap.String("collection", collection),
	)
	return collection, nil
}

package vectorstore

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// keywordIndexes are payload fields indexed for filtering.
var keywordIndexes = []string{
	"project_id", "dataset_id", "dataset", "language", "repo", "source_type",
}

// HasCollection reports whether a collection exists. Positive answers are
// cached.
func (g *Gateway) HasCollection(ctx context.Context, name string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Gateway.HasCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return false, err
	}
	if _, ok := g.collections.Load(name); ok {
		return true, nil
	}

	var exists bool
	err := g.retry(ctx, "collection_exists", func() error {
		ok, err := g.client.CollectionExists(ctx, name)
		if err != nil {
			return err
		}
		exists = ok
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("checking collection %s: %w", name, err)
	}
	if exists {
		g.collections.Store(name, true)
	}
	return exists, nil
}

// EnsureCollection creates a collection if it does not exist. Every
// collection carries a named dense vector; hybrid collections additionally
// carry a named sparse vector. Existing collections are left untouched,
// including their dimension and hybrid setting.
func (g *Gateway) EnsureCollection(ctx context.Context, name string, dimension int, hybrid bool) error {
	ctx, span := tracer.Start(ctx, "Gateway.EnsureCollection")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("dimension", dimension),
		attribute.Bool("hybrid", hybrid),
	)

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}

	exists, err := g.HasCollection(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		span.SetStatus(codes.Ok, "already exists")
		return nil
	}

	req := &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			DenseVectorName: {
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	}
	if hybrid {
		req.SparseVectorsConfig = qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			SparseVectorName: {},
		})
	}

	err = g.retry(ctx, "create_collection", func() error {
		return g.client.CreateCollection(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", name, err)
	}

	g.createPayloadIndexes(ctx, name)
	g.collections.Store(name, true)
	span.SetStatus(codes.Ok, "created")
	return nil
}

// createPayloadIndexes indexes the filterable payload fields. Index
// creation failures are logged, not fatal: filtering still works, just
// slower.
func (g *Gateway) createPayloadIndexes(ctx context.Context, name string) {
	for _, field := range keywordIndexes {
		_, err := g.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			g.logger.Warn("creating payload index failed",
				zap.String("collection", name),
				zap.String("field", field),
				zap.Error(err))
		}
	}
	_, err := g.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: name,
		FieldName:      "relative_path",
		FieldType:      qdrant.FieldType_FieldTypeText.Enum(),
	})
	if err != nil {
		g.logger.Warn("creating path index failed",
			zap.String("collection", name),
			zap.Error(err))
	}
}

// DropCollection deletes a collection. Dropping a missing collection is
// not an error.
func (g *Gateway) DropCollection(ctx context.Context, name string) error {
	ctx, span := tracer.Start(ctx, "Gateway.DropCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	err := g.retry(ctx, "delete_collection", func() error {
		return g.client.DeleteCollection(ctx, name)
	})
	g.collections.Delete(name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("dropping collection %s: %w", name, err)
	}
	span.SetStatus(codes.Ok, "dropped")
	return nil
}

// ListCollections returns all collection names on the server.
func (g *Gateway) ListCollections(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Gateway.ListCollections")
	defer span.End()

	var names []string
	err := g.retry(ctx, "list_collections", func() error {
		list, err := g.client.ListCollections(ctx)
		if err != nil {
			return err
		}
		names = list
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	span.SetAttributes(attribute.Int("collection_count", len(names)))
	return names, nil
}

// CountPoints returns the exact number of points in a collection.
func (g *Gateway) CountPoints(ctx context.Context, name string) (uint64, error) {
	ctx, span := tracer.Start(ctx, "Gateway.CountPoints")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return 0, err
	}

	var count uint64
	err := g.retry(ctx, "count_points", func() error {
		n, err := g.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: name,
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("counting points in %s: %w", name, err)
	}
	return count, nil
}

package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fathomlabs/fathomd/internal/embeddings"
)

// pointNamespace scopes the UUIDv5 derivation of point ids.
var pointNamespace = uuid.MustParse("8c9e6ad2-4f64-4a33-9f43-1db6c52ab3de")

// PointID derives the deterministic Qdrant point id for a chunk id. The
// same chunk always maps to the same point, making upserts idempotent.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

// Payload is the structured metadata stored with every point.
type Payload struct {
	Content      string
	RelativePath string
	StartLine    int
	EndLine      int
	ChunkIndex   int
	Language     string
	Symbol       string
	SourceType   string
	ContentHash  string

	ProjectID string
	DatasetID string
	Dataset   string

	// Repository provenance, set for remote ingests.
	Repo      string
	Branch    string
	CommitSHA string

	// Web page provenance.
	Title  string
	Domain string
}

// ChunkPoint is one chunk ready for upsert. Sparse is nil for dense-only
// runs.
type ChunkPoint struct {
	ID      string
	Dense   []float32
	Sparse  *embeddings.SparseVector
	Payload Payload
}

func (p Payload) toQdrant(chunkID string) map[string]*qdrant.Value {
	m := map[string]any{
		"chunk_id":      chunkID,
		"content":       p.Content,
		"relative_path": p.RelativePath,
		"start_line":    int64(p.StartLine),
		"end_line":      int64(p.EndLine),
		"chunk_index":   int64(p.ChunkIndex),
		"source_type":   p.SourceType,
	}
	setIf := func(key, val string) {
		if val != "" {
			m[key] = val
		}
	}
	setIf("language", p.Language)
	setIf("symbol", p.Symbol)
	setIf("content_hash", p.ContentHash)
	setIf("project_id", p.ProjectID)
	setIf("dataset_id", p.DatasetID)
	setIf("dataset", p.Dataset)
	setIf("repo", p.Repo)
	setIf("branch", p.Branch)
	setIf("commit_sha", p.CommitSHA)
	setIf("title", p.Title)
	setIf("domain", p.Domain)
	return qdrant.NewValueMap(m)
}

func payloadFromQdrant(values map[string]*qdrant.Value) Payload {
	str := func(key string) string {
		if v, ok := values[key]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	num := func(key string) int {
		if v, ok := values[key]; ok {
			return int(v.GetIntegerValue())
		}
		return 0
	}
	return Payload{
		Content:      str("content"),
		RelativePath: str("relative_path"),
		StartLine:    num("start_line"),
		EndLine:      num("end_line"),
		ChunkIndex:   num("chunk_index"),
		Language:     str("language"),
		Symbol:       str("symbol"),
		SourceType:   str("source_type"),
		ContentHash:  str("content_hash"),
		ProjectID:    str("project_id"),
		DatasetID:    str("dataset_id"),
		Dataset:      str("dataset"),
		Repo:         str("repo"),
		Branch:       str("branch"),
		CommitSHA:    str("commit_sha"),
		Title:        str("title"),
		Domain:       str("domain"),
	}
}

func (p ChunkPoint) toQdrant() *qdrant.PointStruct {
	vectors := map[string]*qdrant.Vector{
		DenseVectorName: qdrant.NewVectorDense(p.Dense),
	}
	if p.Sparse != nil && !p.Sparse.IsZero() {
		vectors[SparseVectorName] = qdrant.NewVectorSparse(p.Sparse.Indices, p.Sparse.Values)
	}
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(PointID(p.ID)),
		Vectors: qdrant.NewVectorsMap(vectors),
		Payload: p.Payload.toQdrant(p.ID),
	}
}

// UpsertChunks writes points into a collection. Existing points with the
// same chunk id are overwritten.
func (g *Gateway) UpsertChunks(ctx context.Context, collection string, points []ChunkPoint) error {
	ctx, span := tracer.Start(ctx, "Gateway.UpsertChunks")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("point_count", len(points)),
	)

	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	qpoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		qpoints[i] = p.toQdrant()
	}

	err := g.retry(ctx, "upsert", func() error {
		_, err := g.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         qpoints,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting %d points to %s: %w", len(points), collection, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteByDataset removes every point belonging to a dataset and returns
// how many points were removed.
func (g *Gateway) DeleteByDataset(ctx context.Context, collection, datasetID string) (uint64, error) {
	ctx, span := tracer.Start(ctx, "Gateway.DeleteByDataset")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.String("dataset_id", datasetID),
	)

	if err := ValidateCollectionName(collection); err != nil {
		return 0, err
	}
	if datasetID == "" {
		return 0, fmt.Errorf("%w: dataset id required", ErrInvalidConfig)
	}

	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch("dataset_id", datasetID)},
	}

	var count uint64
	err := g.retry(ctx, "count", func() error {
		n, err := g.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: collection,
			Filter:         filter,
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
		return 0, fmt.Errorf("counting points for dataset %s: %w", datasetID, err)
	}
	if count == 0 {
		span.SetStatus(codes.Ok, "nothing to delete")
		return 0, nil
	}

	err = g.retry(ctx, "delete", func() error {
		_, err := g.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points:         qdrant.NewPointsSelectorFilter(filter),
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("deleting points for dataset %s: %w", datasetID, err)
	}

	span.SetAttributes(attribute.Int64("points_deleted", int64(count)))
	span.SetStatus(codes.Ok, "success")
	return count, nil
}

// DeleteByPaths removes a dataset's points for specific relative paths,
// used when files are modified or deleted between incremental runs.
func (g *Gateway) DeleteByPaths(ctx context.Context, collection, datasetID string, paths []string) error {
	ctx, span := tracer.Start(ctx, "Gateway.DeleteByPaths")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.String("dataset_id", datasetID),
		attribute.Int("path_count", len(paths)),
	)

	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if datasetID == "" {
		return fmt.Errorf("%w: dataset id required", ErrInvalidConfig)
	}
	if len(paths) == 0 {
		span.SetStatus(codes.Ok, "nothing to delete")
		return nil
	}

	// relative_path carries a full-text index; the per-path conditions
	// match on the stored value, which the dataset_id guard scopes to one
	// dataset worth of points.
	should := make([]*qdrant.Condition, len(paths))
	for i, p := range paths {
		should[i] = qdrant.NewMatch("relative_path", p)
	}
	filter := &qdrant.Filter{
		Must:   []*qdrant.Condition{qdrant.NewMatch("dataset_id", datasetID)},
		Should: should,
	}

	err := g.retry(ctx, "delete", func() error {
		_, err := g.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points:         qdrant.NewPointsSelectorFilter(filter),
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting %d paths from %s: %w", len(paths), collection, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

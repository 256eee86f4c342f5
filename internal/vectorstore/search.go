package vectorstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fathomlabs/fathomd/internal/embeddings"
)

// Filter narrows a search by payload metadata. Zero values mean no
// constraint.
type Filter struct {
	ProjectID  string
	DatasetIDs []string
	Repo       string
	Language   string
	PathPrefix string
	SourceType string
}

func (f *Filter) toQdrant() *qdrant.Filter {
	if f == nil {
		return nil
	}
	var must []*qdrant.Condition
	if f.ProjectID != "" {
		must = append(must, qdrant.NewMatch("project_id", f.ProjectID))
	}
	if len(f.DatasetIDs) == 1 {
		must = append(must, qdrant.NewMatch("dataset_id", f.DatasetIDs[0]))
	} else if len(f.DatasetIDs) > 1 {
		must = append(must, qdrant.NewMatchKeywords("dataset_id", f.DatasetIDs...))
	}
	if f.Repo != "" {
		must = append(must, qdrant.NewMatch("repo", f.Repo))
	}
	if f.Language != "" {
		must = append(must, qdrant.NewMatch("language", f.Language))
	}
	if f.SourceType != "" {
		must = append(must, qdrant.NewMatch("source_type", f.SourceType))
	}
	if f.PathPrefix != "" {
		must = append(must, qdrant.NewMatchText("relative_path", f.PathPrefix))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// ScoredChunk is one search hit. DenseScore and SparseScore carry the
// per-leg similarity when the fusion happened client-side; server-side
// fusion only yields the final Score.
type ScoredChunk struct {
	ChunkID     string
	Score       float32
	DenseScore  float32
	SparseScore float32
	Payload     Payload
}

// FusionMode selects how hybrid legs are combined.
type FusionMode string

const (
	// FusionRRF fuses server-side with reciprocal rank fusion.
	FusionRRF FusionMode = "rrf"
	// FusionWeighted runs both legs separately and merges scores
	// client-side as DenseWeight*dense + SparseWeight*sparse.
	FusionWeighted FusionMode = "weighted"
)

// HybridOptions tunes hybrid queries.
type HybridOptions struct {
	Mode         FusionMode
	DenseWeight  float32
	SparseWeight float32
}

// ApplyDefaults fills unset fields: weighted fusion at 0.6/0.4.
func (o *HybridOptions) ApplyDefaults() {
	if o.Mode == "" {
		o.Mode = FusionWeighted
	}
	if o.DenseWeight == 0 && o.SparseWeight == 0 {
		o.DenseWeight = 0.6
		o.SparseWeight = 0.4
	}
}

// Search runs a dense-only query against one collection.
func (g *Gateway) Search(ctx context.Context, collection string, vector []float32, k int, filter *Filter) ([]ScoredChunk, error) {
	ctx, span := tracer.Start(ctx, "Gateway.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("k", k),
	)

	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", ErrInvalidConfig)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query vector required", ErrInvalidConfig)
	}

	points, err := g.query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vector),
		Using:          qdrant.PtrOf(DenseVectorName),
		Limit:          qdrant.PtrOf(uint64(k)),
		Filter:         filter.toQdrant(),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching %s: %w", collection, err)
	}

	results := make([]ScoredChunk, len(points))
	for i, p := range points {
		results[i] = scoredFromPoint(p)
		results[i].DenseScore = p.Score
	}
	span.SetAttributes(attribute.Int("result_count", len(results)))
	return results, nil
}

// HybridQuery runs dense and sparse legs and fuses them. A zero sparse
// vector degrades to a dense-only search.
func (g *Gateway) HybridQuery(ctx context.Context, collection string, dense []float32, sparse embeddings.SparseVector, k int, filter *Filter, opts HybridOptions) ([]ScoredChunk, error) {
	opts.ApplyDefaults()

	ctx, span := tracer.Start(ctx, "Gateway.HybridQuery")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("k", k),
		attribute.String("fusion", string(opts.Mode)),
	)

	if sparse.IsZero() {
		return g.Search(ctx, collection, dense, k, filter)
	}
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", ErrInvalidConfig)
	}

	switch opts.Mode {
	case FusionRRF:
		return g.hybridRRF(ctx, collection, dense, sparse, k, filter)
	case FusionWeighted:
		return g.hybridWeighted(ctx, collection, dense, sparse, k, filter, opts)
	default:
		return nil, fmt.Errorf("%w: unknown fusion mode %q", ErrInvalidConfig, opts.Mode)
	}
}

// hybridRRF lets Qdrant fuse both legs with reciprocal rank fusion.
func (g *Gateway) hybridRRF(ctx context.Context, collection string, dense []float32, sparse embeddings.SparseVector, k int, filter *Filter) ([]ScoredChunk, error) {
	qf := filter.toQdrant()
	prefetchLimit := uint64(k * 2)

	points, err := g.query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Prefetch: []*qdrant.PrefetchQuery{
			{
				Query:  qdrant.NewQueryDense(dense),
				Using:  qdrant.PtrOf(DenseVectorName),
				Limit:  qdrant.PtrOf(prefetchLimit),
				Filter: qf,
			},
			{
				Query:  qdrant.NewQuerySparse(sparse.Indices, sparse.Values),
				Using:  qdrant.PtrOf(SparseVectorName),
				Limit:  qdrant.PtrOf(prefetchLimit),
				Filter: qf,
			},
		},
		Query:       qdrant.NewQueryFusion(qdrant.Fusion_RRF),
		Limit:       qdrant.PtrOf(uint64(k)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("hybrid rrf query on %s: %w", collection, err)
	}

	results := make([]ScoredChunk, len(points))
	for i, p := range points {
		results[i] = scoredFromPoint(p)
	}
	return results, nil
}

// hybridWeighted runs both legs and merges client-side.
func (g *Gateway) hybridWeighted(ctx context.Context, collection string, dense []float32, sparse embeddings.SparseVector, k int, filter *Filter, opts HybridOptions) ([]ScoredChunk, error) {
	qf := filter.toQdrant()
	legLimit := uint64(k * 2)

	densePoints, err := g.query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(dense),
		Using:          qdrant.PtrOf(DenseVectorName),
		Limit:          qdrant.PtrOf(legLimit),
		Filter:         qf,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("hybrid dense leg on %s: %w", collection, err)
	}

	sparsePoints, err := g.query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuerySparse(sparse.Indices, sparse.Values),
		Using:          qdrant.PtrOf(SparseVectorName),
		Limit:          qdrant.PtrOf(legLimit),
		Filter:         qf,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("hybrid sparse leg on %s: %w", collection, err)
	}

	denseHits := make([]ScoredChunk, len(densePoints))
	for i, p := range densePoints {
		denseHits[i] = scoredFromPoint(p)
	}
	sparseHits := make([]ScoredChunk, len(sparsePoints))
	for i, p := range sparsePoints {
		sparseHits[i] = scoredFromPoint(p)
	}
	return weightedMerge(denseHits, sparseHits, opts.DenseWeight, opts.SparseWeight, k), nil
}

// weightedMerge combines two result legs by chunk id. The final score of a
// chunk is dw*dense + sw*sparse; chunks present in only one leg keep that
// leg's weighted score.
func weightedMerge(dense, sparse []ScoredChunk, dw, sw float32, k int) []ScoredChunk {
	merged := make(map[string]*ScoredChunk, len(dense)+len(sparse))
	order := make([]string, 0, len(dense)+len(sparse))

	for _, hit := range dense {
		h := hit
		h.DenseScore = hit.Score
		h.Score = dw * hit.Score
		merged[h.ChunkID] = &h
		order = append(order, h.ChunkID)
	}
	for _, hit := range sparse {
		if existing, ok := merged[hit.ChunkID]; ok {
			existing.SparseScore = hit.Score
			existing.Score += sw * hit.Score
			continue
		}
		h := hit
		h.SparseScore = hit.Score
		h.Score = sw * hit.Score
		merged[h.ChunkID] = &h
		order = append(order, h.ChunkID)
	}

	out := make([]ScoredChunk, 0, len(order))
	for _, id := range order {
		out = append(out, *merged[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// query is the retried low-level Query call with the search timeout
// applied.
func (g *Gateway) query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.SearchTimeout)
	defer cancel()

	var points []*qdrant.ScoredPoint
	err := g.retry(ctx, "query", func() error {
		res, err := g.client.Query(ctx, req)
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	return points, err
}

func scoredFromPoint(p *qdrant.ScoredPoint) ScoredChunk {
	sc := ScoredChunk{Score: p.Score}
	if p.Payload != nil {
		sc.Payload = payloadFromQdrant(p.Payload)
		if v, ok := p.Payload["chunk_id"]; ok {
			sc.ChunkID = v.GetStringValue()
		}
	}
	return sc
}

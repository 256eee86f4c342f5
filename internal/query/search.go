package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fathomlabs/fathomd/internal/dataset"
	"github.com/fathomlabs/fathomd/internal/embeddings"
	"github.com/fathomlabs/fathomd/internal/reranker"
	"github.com/fathomlabs/fathomd/internal/scope"
	"github.com/fathomlabs/fathomd/internal/vectorstore"
)

// Search runs the full retrieval procedure. The dense embedding is the
// only hard dependency: sparse, rerank and individual collections degrade
// with a logged warning.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "Engine.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("project", req.Project),
		attribute.Int("top_k", req.TopK),
	)

	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}

	started := time.Now()
	defer func() {
		e.metrics.queryDone(time.Since(started))
	}()

	// Scope resolution and dataset expansion.
	accessible, err := e.access.AccessibleDatasets(ctx, req.Project, req.IncludeGlobal)
	if err != nil {
		return nil, fmt.Errorf("resolving accessible datasets: %w", err)
	}

	resolution := dataset.Resolve(req.DatasetSelector, scope.Names(accessible))
	if len(resolution.Datasets) == 0 {
		msg := "no datasets matched"
		if resolution.Diagnostics != nil {
			msg = resolution.Diagnostics.Reason
		}
		return e.emptyResponse(req, msg, started), nil
	}

	selected := selectByName(accessible, resolution.Datasets)
	selectedIDs := make([]uuid.UUID, len(selected))
	idStrings := make([]string, len(selected))
	for i, d := range selected {
		selectedIDs[i] = d.ID
		idStrings[i] = d.ID.String()
	}

	// Query embedding: dense is fatal, sparse degrades.
	embedStart := time.Now()
	denseVec, sparseVec, sparseOK, err := e.embedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	embedMS := time.Since(embedStart).Milliseconds()

	// Collection discovery.
	collections, err := e.resolveCollections(ctx, req, selected, selectedIDs)
	if err != nil {
		return nil, err
	}
	if len(collections) == 0 {
		return e.emptyResponse(req, "no indexed collections for the selected datasets", started), nil
	}

	filter := &vectorstore.Filter{
		DatasetIDs: idStrings,
		Repo:       req.Repo,
		Language:   req.Language,
		PathPrefix: req.PathPrefix,
	}
	depth := req.TopK
	if e.rerankEnabled() {
		depth = e.config.InitialK
	}

	searchStart := time.Now()
	merged := e.fanOut(ctx, collections, denseVec, sparseVec, sparseOK, depth, filter)
	searchMS := time.Since(searchStart).Milliseconds()

	if req.Threshold > 0 {
		kept := merged[:0]
		for _, h := range merged {
			if h.Score >= req.Threshold {
				kept = append(kept, h)
			}
		}
		merged = kept
	}

	sortHits(merged)

	var rerankMS int64
	reranked := false
	if e.rerankEnabled() && len(merged) > 0 {
		rerankStart := time.Now()
		merged, reranked = e.rerank(ctx, req.Query, merged)
		rerankMS = time.Since(rerankStart).Milliseconds()
		e.metrics.rerankDone(time.Since(rerankStart), reranked)
	}

	if len(merged) > req.TopK {
		merged = merged[:req.TopK]
	}

	resp := e.buildResponse(req, merged, sparseOK, reranked)
	resp.Metadata.TimingMS = Timing{
		Embedding: embedMS,
		Search:    searchMS,
		Reranking: rerankMS,
		Total:     time.Since(started).Milliseconds(),
	}
	span.SetAttributes(attribute.Int("result_count", len(resp.Results)))
	return resp, nil
}

// hit pairs a scored chunk with its optional rerank score.
type hit struct {
	vectorstore.ScoredChunk
	rerankScore *float32
}

// embedQuery embeds dense and sparse concurrently. Sparse failure is
// recovered: the query degrades to dense-only.
func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, embeddings.SparseVector, bool, error) {
	var denseVec []float32
	var sparseVec embeddings.SparseVector
	sparseOK := false

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := e.dense.EmbedQuery(gctx, query)
		if err != nil {
			return err
		}
		denseVec = v
		return nil
	})
	if e.hybridEnabled() {
		g.Go(func() error {
			v, err := e.sparse.EncodeQuery(gctx, query)
			if err != nil {
				e.logger.Warn("sparse query encoding failed, degrading to dense-only", zap.Error(err))
				return nil
			}
			sparseVec = v
			sparseOK = !v.IsZero()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, embeddings.SparseVector{}, false, err
	}
	return denseVec, sparseVec, sparseOK, nil
}

// resolveCollections consults the authoritative dataset_collections table
// and falls back to derived local collection names for datasets indexed
// before the table existed. The fallback needs a concrete project name, so
// it is skipped under the all-projects sentinel.
func (e *Engine) resolveCollections(ctx context.Context, req Request, selected []scope.Dataset, ids []uuid.UUID) ([]string, error) {
	records, err := e.collections.ResolveCollections(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolving collections: %w", err)
	}

	known := make(map[uuid.UUID]bool, len(records))
	names := make([]string, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		known[r.DatasetID] = true
		if !seen[r.CollectionName] {
			seen[r.CollectionName] = true
			names = append(names, r.CollectionName)
		}
	}

	if scope.IsAllSentinel(req.Project) {
		return names, nil
	}
	for _, d := range selected {
		if known[d.ID] {
			continue
		}
		level := scope.Local
		project := req.Project
		if d.Global() {
			level = scope.Global
			project = ""
		}
		derived, err := scope.CollectionName(level, project, d.Name)
		if err != nil {
			continue
		}
		if !seen[derived] {
			seen[derived] = true
			names = append(names, derived)
		}
	}
	return names, nil
}

// fanOut searches every collection in parallel and merges hits by chunk
// id, keeping the best score. Per-collection failures are skipped.
func (e *Engine) fanOut(ctx context.Context, collections []string, denseVec []float32, sparseVec embeddings.SparseVector, sparseOK bool, k int, filter *vectorstore.Filter) []hit {
	var mu sync.Mutex
	byID := make(map[string]hit)

	g, gctx := errgroup.WithContext(ctx)
	for _, collection := range collections {
		collection := collection
		g.Go(func() error {
			var chunks []vectorstore.ScoredChunk
			var err error
			if sparseOK {
				chunks, err = e.vectors.HybridQuery(gctx, collection, denseVec, sparseVec, k, filter, vectorstore.HybridOptions{
					DenseWeight:  e.config.DenseWeight,
					SparseWeight: e.config.SparseWeight,
				})
			} else {
				chunks, err = e.vectors.Search(gctx, collection, denseVec, k, filter)
			}
			if err != nil {
				e.logger.Warn("collection search failed, skipping",
					zap.String("collection", collection), zap.Error(err))
				e.metrics.collectionSkipped()
				return nil
			}
			mu.Lock()
			for _, c := range chunks {
				if existing, ok := byID[c.ChunkID]; !ok || c.Score > existing.Score {
					byID[c.ChunkID] = hit{ScoredChunk: c}
				}
			}
			mu.Unlock()
			return nil
		})
	}
	// Goroutines only return nil; Wait is for completion.
	_ = g.Wait()

	merged := make([]hit, 0, len(byID))
	for _, h := range byID {
		merged = append(merged, h)
	}
	return merged
}

// sortHits orders by score descending with chunk id ascending as the tie
// break, making result order fully deterministic.
func sortHits(hits []hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
}

// rerank re-scores the top candidates with the cross-encoder. Failure
// keeps the vector ordering.
func (e *Engine) rerank(ctx context.Context, query string, hits []hit) ([]hit, bool) {
	limit := e.config.CandidateLimit
	if limit > len(hits) {
		limit = len(hits)
	}

	candidates := make([]reranker.Candidate, limit)
	index := make(map[string]int, limit)
	for i := 0; i < limit; i++ {
		text := hits[i].Payload.RelativePath + "\n" + hits[i].Payload.Content
		if len(text) > e.config.TextMaxChars {
			text = text[:e.config.TextMaxChars]
		}
		candidates[i] = reranker.Candidate{
			ID:    hits[i].ChunkID,
			Text:  text,
			Score: hits[i].Score,
		}
		index[hits[i].ChunkID] = i
	}

	ranked, err := e.rr.Rerank(ctx, query, candidates, 0)
	if err != nil {
		e.logger.Warn("reranking failed, keeping vector order", zap.Error(err))
		return hits, false
	}

	reordered := make([]hit, 0, len(hits))
	for _, r := range ranked {
		h := hits[index[r.ID]]
		score := r.RerankScore
		h.rerankScore = &score
		reordered = append(reordered, h)
	}
	// Candidates the reranker dropped keep their vector score and rank
	// below the reranked set, followed by the non-candidates.
	rankedIDs := make(map[string]bool, len(ranked))
	for _, r := range ranked {
		rankedIDs[r.ID] = true
	}
	for i := 0; i < limit; i++ {
		if !rankedIDs[hits[i].ChunkID] {
			reordered = append(reordered, hits[i])
		}
	}
	reordered = append(reordered, hits[limit:]...)
	return reordered, true
}

func (e *Engine) buildResponse(req Request, hits []hit, sparseUsed, reranked bool) *Response {
	results := make([]Hit, len(hits))
	for i, h := range hits {
		scores := Scores{
			Vector: h.DenseScore,
			Final:  h.Score,
		}
		if scores.Vector == 0 {
			scores.Vector = h.Score
		}
		if sparseUsed {
			fused := h.Score
			scores.Sparse = &fused
		}
		if h.rerankScore != nil {
			scores.Rerank = h.rerankScore
			scores.Final = *h.rerankScore
		}
		results[i] = Hit{
			ID:        h.ChunkID,
			Chunk:     h.Payload.Content,
			File:      h.Payload.RelativePath,
			LineSpan:  [2]int{h.Payload.StartLine, h.Payload.EndLine},
			Scores:    scores,
			ProjectID: h.Payload.ProjectID,
			DatasetID: h.Payload.DatasetID,
			Repo:      h.Payload.Repo,
			Language:  h.Payload.Language,
			Symbol:    h.Payload.Symbol,
		}
	}

	method := "dense"
	features := []string{"dense"}
	if sparseUsed {
		method = "hybrid"
		features = append(features, "sparse")
	}
	if reranked {
		if sparseUsed {
			method = "hybrid+rerank"
		} else {
			method = "rerank"
		}
		features = append(features, "rerank")
	}

	params := SearchParams{InitialK: e.config.InitialK, FinalK: req.TopK}
	if sparseUsed {
		dw, sw := e.config.DenseWeight, e.config.SparseWeight
		if dw == 0 && sw == 0 {
			dw, sw = 0.6, 0.4
		}
		params.DenseWeight = &dw
		params.SparseWeight = &sw
	}

	return &Response{
		Results: results,
		Metadata: Metadata{
			RetrievalMethod: method,
			FeaturesUsed:    features,
			SearchParams:    params,
		},
	}
}

func (e *Engine) emptyResponse(req Request, message string, started time.Time) *Response {
	return &Response{
		Results: []Hit{},
		Metadata: Metadata{
			RetrievalMethod: "dense",
			FeaturesUsed:    []string{},
			TimingMS:        Timing{Total: time.Since(started).Milliseconds()},
			SearchParams:    SearchParams{InitialK: e.config.InitialK, FinalK: req.TopK},
		},
		Message: message,
	}
}

// selectByName maps resolved names back to dataset rows, preserving the
// resolver's order.
func selectByName(accessible []scope.Dataset, names []string) []scope.Dataset {
	byName := make(map[string]scope.Dataset, len(accessible))
	for _, d := range accessible {
		if _, ok := byName[d.Name]; !ok {
			byName[d.Name] = d
		}
	}
	out := make([]scope.Dataset, 0, len(names))
	for _, n := range names {
		if d, ok := byName[n]; ok {
			out = append(out, d)
		}
	}
	return out
}

package query

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomlabs/fathomd/internal/embeddings"
	"github.com/fathomlabs/fathomd/internal/metastore"
	"github.com/fathomlabs/fathomd/internal/reranker"
	"github.com/fathomlabs/fathomd/internal/scope"
	"github.com/fathomlabs/fathomd/internal/vectorstore"
)

type fakeSource struct {
	owned  []scope.Dataset
	global []scope.Dataset
	shared []scope.Dataset
	all    []scope.Dataset
}

func (f *fakeSource) DatasetsForProject(context.Context, string) ([]scope.Dataset, error) {
	return f.owned, nil
}
func (f *fakeSource) GlobalDatasets(context.Context) ([]scope.Dataset, error) {
	return f.global, nil
}
func (f *fakeSource) SharedDatasets(context.Context, string) ([]scope.Dataset, error) {
	return f.shared, nil
}
func (f *fakeSource) AllDatasets(context.Context, bool) ([]scope.Dataset, error) {
	return f.all, nil
}

type fakeResolver struct {
	records []metastore.CollectionRecord
}

func (f *fakeResolver) ResolveCollections(context.Context, []uuid.UUID) ([]metastore.CollectionRecord, error) {
	return f.records, nil
}

type fakeSearcher struct {
	hits        map[string][]vectorstore.ScoredChunk
	fail        map[string]bool
	denseCalls  int
	hybridCalls int
}

func (f *fakeSearcher) Search(_ context.Context, collection string, _ []float32, _ int, _ *vectorstore.Filter) ([]vectorstore.ScoredChunk, error) {
	f.denseCalls++
	if f.fail[collection] {
		return nil, errors.New("collection unavailable")
	}
	return f.hits[collection], nil
}

func (f *fakeSearcher) HybridQuery(_ context.Context, collection string, _ []float32, _ embeddings.SparseVector, _ int, _ *vectorstore.Filter, _ vectorstore.HybridOptions) ([]vectorstore.ScoredChunk, error) {
	f.hybridCalls++
	if f.fail[collection] {
		return nil, errors.New("collection unavailable")
	}
	return f.hits[collection], nil
}

type fakeDense struct{}

func (fakeDense) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}
func (fakeDense) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (fakeDense) Dimension() int { return 3 }

type fakeSparse struct{ fail bool }

func (f fakeSparse) EncodeDocuments(_ context.Context, texts []string) ([]embeddings.SparseVector, error) {
	out := make([]embeddings.SparseVector, len(texts))
	for i := range out {
		out[i] = embeddings.SparseVector{Indices: []uint32{1}, Values: []float32{1}}
	}
	return out, nil
}
func (f fakeSparse) EncodeQuery(context.Context, string) (embeddings.SparseVector, error) {
	if f.fail {
		return embeddings.SparseVector{}, errors.New("sparse encoder down")
	}
	return embeddings.SparseVector{Indices: []uint32{1}, Values: []float32{1}}, nil
}

// constReranker scores candidates by a fixed table, defaulting to zero.
type constReranker struct {
	scores map[string]float32
	fail   bool
}

func (c constReranker) Rerank(_ context.Context, _ string, candidates []reranker.Candidate, topK int) ([]reranker.Ranked, error) {
	if c.fail {
		return nil, errors.New("reranker down")
	}
	out := make([]reranker.Ranked, len(candidates))
	for i, cand := range candidates {
		out[i] = reranker.Ranked{Candidate: cand, RerankScore: c.scores[cand.ID], OriginalRank: i}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].RerankScore > out[i].RerankScore {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func ds(project, name string) scope.Dataset {
	d := scope.Dataset{ID: scope.DatasetID(project, name), Name: name}
	if project != "" {
		pid := scope.ProjectID(project)
		d.ProjectID = &pid
	}
	return d
}

func chunk(id string, score float32, datasetID uuid.UUID, path string) vectorstore.ScoredChunk {
	return vectorstore.ScoredChunk{
		ChunkID:    id,
		Score:      score,
		DenseScore: score,
		Payload: vectorstore.Payload{
			Content:      "content of " + id,
			RelativePath: path,
			StartLine:    1,
			EndLine:      5,
			DatasetID:    datasetID.String(),
		},
	}
}

func newEngine(t *testing.T, source *fakeSource, resolver *fakeResolver, searcher *fakeSearcher, sparse embeddings.Sparse, rr reranker.Reranker, cfg Config) *Engine {
	t.Helper()
	e, err := New(scope.NewAccess(source), resolver, searcher, fakeDense{}, sparse, rr, cfg, nil, nil)
	require.NoError(t, err)
	return e
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	e := newEngine(t, &fakeSource{}, &fakeResolver{}, &fakeSearcher{}, nil, nil, Config{})

	_, err := e.Search(context.Background(), Request{Project: "acme", Query: "  "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSearchDenseOnly(t *testing.T) {
	local := ds("acme", "local")
	collection := "project_acme_dataset_local"

	searcher := &fakeSearcher{hits: map[string][]vectorstore.ScoredChunk{
		collection: {
			chunk("chunk_b", 0.7, local.ID, "b.go"),
			chunk("chunk_a", 0.9, local.ID, "a.go"),
		},
	}}
	resolver := &fakeResolver{records: []metastore.CollectionRecord{
		{DatasetID: local.ID, CollectionName: collection},
	}}
	e := newEngine(t, &fakeSource{owned: []scope.Dataset{local}}, resolver, searcher, nil, nil, Config{})

	resp, err := e.Search(context.Background(), Request{Project: "acme", Query: "auth middleware", TopK: 5})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "chunk_a", resp.Results[0].ID)
	assert.Equal(t, "chunk_b", resp.Results[1].ID)
	assert.GreaterOrEqual(t, resp.Results[0].Scores.Final, resp.Results[1].Scores.Final)
	assert.Equal(t, "dense", resp.Metadata.RetrievalMethod)
	assert.Equal(t, [2]int{1, 5}, resp.Results[0].LineSpan)
	assert.Nil(t, resp.Results[0].Scores.Sparse)
	assert.Equal(t, 1, searcher.denseCalls)
	assert.Zero(t, searcher.hybridCalls)

	for _, r := range resp.Results {
		assert.Equal(t, local.ID.String(), r.DatasetID)
	}
}

func TestSearchHybrid(t *testing.T) {
	local := ds("acme", "local")
	collection := "project_acme_dataset_local"

	searcher := &fakeSearcher{hits: map[string][]vectorstore.ScoredChunk{
		collection: {chunk("chunk_a", 0.8, local.ID, "a.go")},
	}}
	resolver := &fakeResolver{records: []metastore.CollectionRecord{
		{DatasetID: local.ID, CollectionName: collection},
	}}
	e := newEngine(t, &fakeSource{owned: []scope.Dataset{local}}, resolver, searcher, fakeSparse{}, nil, Config{EnableHybrid: true})

	resp, err := e.Search(context.Background(), Request{Project: "acme", Query: "auth"})
	require.NoError(t, err)
	assert.Equal(t, "hybrid", resp.Metadata.RetrievalMethod)
	assert.Equal(t, 1, searcher.hybridCalls)
	require.Len(t, resp.Results, 1)
	require.NotNil(t, resp.Results[0].Scores.Sparse)
	require.NotNil(t, resp.Metadata.SearchParams.DenseWeight)
	assert.InDelta(t, 0.6, *resp.Metadata.SearchParams.DenseWeight, 1e-6)
}

func TestSearchSparseFailureDegradesToDense(t *testing.T) {
	local := ds("acme", "local")
	collection := "project_acme_dataset_local"

	searcher := &fakeSearcher{hits: map[string][]vectorstore.ScoredChunk{
		collection: {chunk("chunk_a", 0.8, local.ID, "a.go")},
	}}
	resolver := &fakeResolver{records: []metastore.CollectionRecord{
		{DatasetID: local.ID, CollectionName: collection},
	}}
	e := newEngine(t, &fakeSource{owned: []scope.Dataset{local}}, resolver, searcher, fakeSparse{fail: true}, nil, Config{EnableHybrid: true})

	resp, err := e.Search(context.Background(), Request{Project: "acme", Query: "auth"})
	require.NoError(t, err)
	assert.Equal(t, "dense", resp.Metadata.RetrievalMethod)
	assert.Equal(t, 1, searcher.denseCalls)
	assert.Zero(t, searcher.hybridCalls)
}

func TestSearchRerank(t *testing.T) {
	local := ds("acme", "local")
	collection := "project_acme_dataset_local"

	searcher := &fakeSearcher{hits: map[string][]vectorstore.ScoredChunk{
		collection: {
			chunk("chunk_a", 0.9, local.ID, "a.go"),
			chunk("chunk_b", 0.7, local.ID, "b.go"),
			chunk("chunk_c", 0.5, local.ID, "c.go"),
		},
	}}
	resolver := &fakeResolver{records: []metastore.CollectionRecord{
		{DatasetID: local.ID, CollectionName: collection},
	}}
	rr := constReranker{scores: map[string]float32{"chunk_c": 0.95, "chunk_a": 0.4, "chunk_b": 0.2}}
	e := newEngine(t, &fakeSource{owned: []scope.Dataset{local}}, resolver, searcher, nil, rr, Config{EnableRerank: true})

	resp, err := e.Search(context.Background(), Request{Project: "acme", Query: "auth", TopK: 2})
	require.NoError(t, err)
	assert.Equal(t, "rerank", resp.Metadata.RetrievalMethod)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "chunk_c", resp.Results[0].ID)
	assert.Equal(t, "chunk_a", resp.Results[1].ID)
	require.NotNil(t, resp.Results[0].Scores.Rerank)
	assert.InDelta(t, 0.95, *resp.Results[0].Scores.Rerank, 1e-6)
	assert.InDelta(t, 0.95, resp.Results[0].Scores.Final, 1e-6)
	// The pre-rerank vector score survives in the breakdown.
	assert.InDelta(t, 0.5, resp.Results[0].Scores.Vector, 1e-6)
}

func TestSearchRerankFailureKeepsVectorOrder(t *testing.T) {
	local := ds("acme", "local")
	collection := "project_acme_dataset_local"

	searcher := &fakeSearcher{hits: map[string][]vectorstore.ScoredChunk{
		collection: {
			chunk("chunk_a", 0.9, local.ID, "a.go"),
			chunk("chunk_b", 0.7, local.ID, "b.go"),
		},
	}}
	resolver := &fakeResolver{records: []metastore.CollectionRecord{
		{DatasetID: local.ID, CollectionName: collection},
	}}
	e := newEngine(t, &fakeSource{owned: []scope.Dataset{local}}, resolver, searcher, nil, constReranker{fail: true}, Config{EnableRerank: true})

	resp, err := e.Search(context.Background(), Request{Project: "acme", Query: "auth"})
	require.NoError(t, err)
	assert.Equal(t, "dense", resp.Metadata.RetrievalMethod)
	assert.Equal(t, "chunk_a", resp.Results[0].ID)
}

func TestSearchSelectorNoMatch(t *testing.T) {
	local := ds("acme", "local")
	e := newEngine(t, &fakeSource{owned: []scope.Dataset{local}}, &fakeResolver{}, &fakeSearcher{}, nil, nil, Config{})

	resp, err := e.Search(context.Background(), Request{Project: "acme", Query: "auth", DatasetSelector: []string{"ghost"}})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.NotEmpty(t, resp.Message)
}

func TestSearchSkipsFailedCollections(t *testing.T) {
	a, b := ds("acme", "alpha"), ds("acme", "beta")
	searcher := &fakeSearcher{
		hits: map[string][]vectorstore.ScoredChunk{
			"project_acme_dataset_beta": {chunk("chunk_b", 0.6, b.ID, "b.go")},
		},
		fail: map[string]bool{"project_acme_dataset_alpha": true},
	}
	resolver := &fakeResolver{records: []metastore.CollectionRecord{
		{DatasetID: a.ID, CollectionName: "project_acme_dataset_alpha"},
		{DatasetID: b.ID, CollectionName: "project_acme_dataset_beta"},
	}}
	e := newEngine(t, &fakeSource{owned: []scope.Dataset{a, b}}, resolver, searcher, nil, nil, Config{})

	resp, err := e.Search(context.Background(), Request{Project: "acme", Query: "auth"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "chunk_b", resp.Results[0].ID)
}

func TestSearchAllProjectsSentinel(t *testing.T) {
	a := ds("acme", "local")
	b := ds("globex", "local")
	searcher := &fakeSearcher{hits: map[string][]vectorstore.ScoredChunk{
		"project_acme_dataset_local":   {chunk("chunk_a", 0.9, a.ID, "a.go")},
		"project_globex_dataset_local": {chunk("chunk_b", 0.8, b.ID, "b.go")},
	}}
	resolver := &fakeResolver{records: []metastore.CollectionRecord{
		{DatasetID: a.ID, CollectionName: "project_acme_dataset_local"},
		{DatasetID: b.ID, CollectionName: "project_globex_dataset_local"},
	}}
	e := newEngine(t, &fakeSource{all: []scope.Dataset{a, b}}, resolver, searcher, nil, nil, Config{})

	resp, err := e.Search(context.Background(), Request{Project: "ALL", Query: "auth", IncludeGlobal: true})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	projects := map[string]bool{}
	for _, r := range resp.Results {
		projects[r.DatasetID] = true
	}
	assert.Len(t, projects, 2)
}

func TestSearchTieBreaksByID(t *testing.T) {
	local := ds("acme", "local")
	collection := "project_acme_dataset_local"
	searcher := &fakeSearcher{hits: map[string][]vectorstore.ScoredChunk{
		collection: {
			chunk("chunk_zz", 0.5, local.ID, "z.go"),
			chunk("chunk_aa", 0.5, local.ID, "a.go"),
		},
	}}
	resolver := &fakeResolver{records: []metastore.CollectionRecord{
		{DatasetID: local.ID, CollectionName: collection},
	}}
	e := newEngine(t, &fakeSource{owned: []scope.Dataset{local}}, resolver, searcher, nil, nil, Config{})

	resp, err := e.Search(context.Background(), Request{Project: "acme", Query: "auth"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "chunk_aa", resp.Results[0].ID)
}

func TestSearchThreshold(t *testing.T) {
	local := ds("acme", "local")
	collection := "project_acme_dataset_local"
	searcher := &fakeSearcher{hits: map[string][]vectorstore.ScoredChunk{
		collection: {
			chunk("chunk_a", 0.9, local.ID, "a.go"),
			chunk("chunk_b", 0.2, local.ID, "b.go"),
		},
	}}
	resolver := &fakeResolver{records: []metastore.CollectionRecord{
		{DatasetID: local.ID, CollectionName: collection},
	}}
	e := newEngine(t, &fakeSource{owned: []scope.Dataset{local}}, resolver, searcher, nil, nil, Config{})

	resp, err := e.Search(context.Background(), Request{Project: "acme", Query: "auth", Threshold: 0.5})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "chunk_a", resp.Results[0].ID)
}

func TestSearchFallbackCollectionNames(t *testing.T) {
	local := ds("acme", "local")
	searcher := &fakeSearcher{hits: map[string][]vectorstore.ScoredChunk{
		"project_acme_dataset_local": {chunk("chunk_a", 0.9, local.ID, "a.go")},
	}}
	// No collection records: the engine derives the local name.
	e := newEngine(t, &fakeSource{owned: []scope.Dataset{local}}, &fakeResolver{}, searcher, nil, nil, Config{})

	resp, err := e.Search(context.Background(), Request{Project: "acme", Query: "auth"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
}

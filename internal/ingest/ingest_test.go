package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomlabs/fathomd/internal/embeddings"
	"github.com/fathomlabs/fathomd/internal/metastore"
	"github.com/fathomlabs/fathomd/internal/scope"
	"github.com/fathomlabs/fathomd/internal/vectorstore"
)

type fakeEmbedder struct {
	hybrid bool
	fail   bool
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) (*embeddings.Result, error) {
	if f.fail {
		return nil, errors.New("embedder down")
	}
	res := &embeddings.Result{
		Dense:    make([][]float32, len(texts)),
		Embedded: len(texts),
	}
	for i := range texts {
		res.Dense[i] = []float32{1, 0, 0, 0}
	}
	if f.hybrid {
		res.Sparse = make([]embeddings.SparseVector, len(texts))
		for i := range res.Sparse {
			res.Sparse[i] = embeddings.SparseVector{Indices: []uint32{3}, Values: []float32{0.7}}
		}
	}
	return res, nil
}

func (f *fakeEmbedder) Dimension() int { return 4 }
func (f *fakeEmbedder) Hybrid() bool   { return f.hybrid }

type fakeVectors struct {
	mu          sync.Mutex
	ensured     map[string]bool
	points      map[string]map[string]vectorstore.ChunkPoint
	dropped     []string
	pathDeletes [][]string
	upsertErr   error
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{
		ensured: make(map[string]bool),
		points:  make(map[string]map[string]vectorstore.ChunkPoint),
	}
}

func (f *fakeVectors) EnsureCollection(_ context.Context, name string, _ int, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured[name] = true
	if f.points[name] == nil {
		f.points[name] = make(map[string]vectorstore.ChunkPoint)
	}
	return nil
}

func (f *fakeVectors) DropCollection(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, name)
	delete(f.points, name)
	return nil
}

func (f *fakeVectors) UpsertChunks(_ context.Context, collection string, points []vectorstore.ChunkPoint) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.points[collection] == nil {
		f.points[collection] = make(map[string]vectorstore.ChunkPoint)
	}
	for _, p := range points {
		f.points[collection][p.ID] = p
	}
	return nil
}

func (f *fakeVectors) DeleteByPaths(_ context.Context, collection, datasetID string, paths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pathDeletes = append(f.pathDeletes, paths)
	match := make(map[string]bool, len(paths))
	for _, p := range paths {
		match[p] = true
	}
	for id, point := range f.points[collection] {
		if point.Payload.DatasetID == datasetID && match[point.Payload.RelativePath] {
			delete(f.points[collection], id)
		}
	}
	return nil
}

func (f *fakeVectors) DeleteByDataset(_ context.Context, collection, datasetID string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted uint64
	for id, point := range f.points[collection] {
		if point.Payload.DatasetID == datasetID {
			delete(f.points[collection], id)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeVectors) CountPoints(_ context.Context, name string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.points[name])), nil
}

type fakeStore struct {
	mu         sync.Mutex
	datasets   map[uuid.UUID]*metastore.Dataset
	files      map[uuid.UUID]map[string]metastore.IndexedFile
	pages      map[uuid.UUID]map[string]metastore.WebPage
	lastStatus string
	lastCount  int64
	recordErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		datasets: make(map[uuid.UUID]*metastore.Dataset),
		files:    make(map[uuid.UUID]map[string]metastore.IndexedFile),
		pages:    make(map[uuid.UUID]map[string]metastore.WebPage),
	}
}

func (f *fakeStore) GetOrCreateDataset(_ context.Context, spec metastore.DatasetSpec) (*metastore.Dataset, error) {
	d := &metastore.Dataset{
		ID:          scope.DatasetID(spec.Project, spec.Name),
		Name:        spec.Name,
		ProjectName: spec.Project,
		SourceType:  spec.SourceType,
	}
	if spec.Project != "" {
		pid := scope.ProjectID(spec.Project)
		d.ProjectID = &pid
	}
	f.mu.Lock()
	f.datasets[d.ID] = d
	f.mu.Unlock()
	return d, nil
}

func (f *fakeStore) GetDataset(_ context.Context, project, name string) (*metastore.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.datasets[scope.DatasetID(project, name)]
	if !ok {
		return nil, metastore.ErrNotFound
	}
	return d, nil
}

func (f *fakeStore) DeleteDataset(_ context.Context, datasetID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.datasets[datasetID]; !ok {
		return metastore.ErrNotFound
	}
	delete(f.datasets, datasetID)
	delete(f.files, datasetID)
	delete(f.pages, datasetID)
	return nil
}

func (f *fakeStore) GetOrCreateCollectionRecord(_ context.Context, datasetID uuid.UUID, name string, dimension int, hybrid bool) (*metastore.CollectionRecord, error) {
	if f.recordErr != nil {
		return nil, f.recordErr
	}
	return &metastore.CollectionRecord{DatasetID: datasetID, CollectionName: name, Dimension: dimension, Hybrid: hybrid}, nil
}

func (f *fakeStore) UpdateCollectionMetadata(_ context.Context, _ uuid.UUID, pointCount int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCount = pointCount
	f.lastStatus = status
	return nil
}

func (f *fakeStore) UpsertIndexedFiles(_ context.Context, datasetID uuid.UUID, files []metastore.IndexedFile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.files[datasetID] == nil {
		f.files[datasetID] = make(map[string]metastore.IndexedFile)
	}
	for _, file := range files {
		f.files[datasetID][file.RelativePath] = file
	}
	return nil
}

func (f *fakeStore) IndexedHashes(_ context.Context, datasetID uuid.UUID) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string)
	for path, file := range f.files[datasetID] {
		out[path] = file.ContentHash
	}
	return out, nil
}

func (f *fakeStore) DeleteIndexedFiles(_ context.Context, datasetID uuid.UUID, paths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range paths {
		delete(f.files[datasetID], p)
	}
	return nil
}

func (f *fakeStore) ClearIndexedFiles(_ context.Context, datasetID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, datasetID)
	return nil
}

func (f *fakeStore) UpsertWebPage(_ context.Context, datasetID uuid.UUID, page metastore.WebPage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pages[datasetID] == nil {
		f.pages[datasetID] = make(map[string]metastore.WebPage)
	}
	f.pages[datasetID][page.URL] = page
	return nil
}

func (f *fakeStore) WebPageHash(_ context.Context, datasetID uuid.UUID, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.pages[datasetID][url]
	if !ok {
		return "", metastore.ErrNotFound
	}
	return page.ContentHash, nil
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

func newOrchestrator(t *testing.T, store Metastore, vectors VectorStore, embedder Embedder, cfg Config) *Orchestrator {
	t.Helper()
	o, err := New(store, vectors, embedder, nil, cfg, nil, nil)
	require.NoError(t, err)
	return o
}

const mainSrc = `package main

func main() {
	println("hello")
}
`

const utilSrc = `package main

// Add sums two ints.
func Add(a, b int) int {
	return a + b
}
`

func TestIndexCodebase(t *testing.T) {
	root := writeTree(t, map[string]string{
		"main.go":   mainSrc,
		"util.go":   utilSrc,
		"README.md": "# Demo\n\nA demo project.\n",
	})

	store := newFakeStore()
	vectors := newFakeVectors()
	o := newOrchestrator(t, store, vectors, &fakeEmbedder{}, Config{})

	var events []Progress
	res, err := o.IndexCodebase(context.Background(), Job{
		Root:    root,
		Project: "acme",
		Dataset: "local",
		Progress: func(p Progress) {
			events = append(events, p)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 3, res.IndexedFiles)
	assert.Greater(t, res.TotalChunks, 0)

	collection := "project_acme_dataset_local"
	assert.True(t, vectors.ensured[collection])
	assert.Len(t, vectors.points[collection], res.TotalChunks)
	assert.Equal(t, StatusCompleted, store.lastStatus)
	assert.Equal(t, int64(res.TotalChunks), store.lastCount)
	assert.NotEmpty(t, events)
	assert.Equal(t, 100.0, events[len(events)-1].Percentage)

	for _, p := range vectors.points[collection] {
		assert.Equal(t, scope.ProjectID("acme").String(), p.Payload.ProjectID)
		assert.Equal(t, scope.DatasetID("acme", "local").String(), p.Payload.DatasetID)
		assert.Equal(t, "code", p.Payload.SourceType)
		assert.NotEmpty(t, p.Payload.ContentHash)
	}
}

func TestIndexCodebaseIdempotent(t *testing.T) {
	root := writeTree(t, map[string]string{"main.go": mainSrc, "util.go": utilSrc})

	store := newFakeStore()
	vectors := newFakeVectors()
	o := newOrchestrator(t, store, vectors, &fakeEmbedder{}, Config{})

	first, err := o.IndexCodebase(context.Background(), Job{Root: root, Project: "acme", Dataset: "local"})
	require.NoError(t, err)
	second, err := o.IndexCodebase(context.Background(), Job{Root: root, Project: "acme", Dataset: "local"})
	require.NoError(t, err)

	assert.Equal(t, first.TotalChunks, second.TotalChunks)
	assert.Len(t, vectors.points["project_acme_dataset_local"], first.TotalChunks)
}

func TestIndexCodebaseForceDrops(t *testing.T) {
	root := writeTree(t, map[string]string{"main.go": mainSrc})

	store := newFakeStore()
	vectors := newFakeVectors()
	o := newOrchestrator(t, store, vectors, &fakeEmbedder{}, Config{})

	_, err := o.IndexCodebase(context.Background(), Job{Root: root, Project: "acme", Dataset: "local", Force: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"project_acme_dataset_local"}, vectors.dropped)
}

func TestReindexByChangeSkips(t *testing.T) {
	root := writeTree(t, map[string]string{"main.go": mainSrc, "util.go": utilSrc})

	store := newFakeStore()
	vectors := newFakeVectors()
	o := newOrchestrator(t, store, vectors, &fakeEmbedder{}, Config{})

	_, err := o.IndexCodebase(context.Background(), Job{Root: root, Project: "acme", Dataset: "local"})
	require.NoError(t, err)

	res, err := o.ReindexByChange(context.Background(), Job{Root: root, Project: "acme", Dataset: "local"})
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Zero(t, res.Added)
	assert.Zero(t, res.Modified)
	assert.Zero(t, res.Removed)
	assert.Empty(t, vectors.pathDeletes)
}

func TestReindexByChangeIncremental(t *testing.T) {
	root := writeTree(t, map[string]string{
		"main.go":   mainSrc,
		"util.go":   utilSrc,
		"README.md": "# Demo\n",
	})

	store := newFakeStore()
	vectors := newFakeVectors()
	o := newOrchestrator(t, store, vectors, &fakeEmbedder{}, Config{})

	_, err := o.IndexCodebase(context.Background(), Job{Root: root, Project: "acme", Dataset: "local"})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "util.go"), []byte(utilSrc+"\n// changed\n"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(root, "README.md")))

	res, err := o.ReindexByChange(context.Background(), Job{Root: root, Project: "acme", Dataset: "local"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Added)
	assert.Equal(t, 1, res.Modified)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, StatusCompleted, res.Status)

	require.Len(t, vectors.pathDeletes, 1)
	assert.ElementsMatch(t, []string{"README.md", "util.go"}, vectors.pathDeletes[0])

	// README's chunks are gone, util.go's were replaced.
	for _, p := range vectors.points["project_acme_dataset_local"] {
		assert.NotEqual(t, "README.md", p.Payload.RelativePath)
	}

	datasetID := scope.DatasetID("acme", "local")
	hashes, err := store.IndexedHashes(context.Background(), datasetID)
	require.NoError(t, err)
	assert.NotContains(t, hashes, "README.md")
	assert.Contains(t, hashes, "util.go")
}

func TestIndexCodebaseChunkCap(t *testing.T) {
	root := writeTree(t, map[string]string{"main.go": mainSrc, "util.go": utilSrc})

	store := newFakeStore()
	vectors := newFakeVectors()
	o := newOrchestrator(t, store, vectors, &fakeEmbedder{}, Config{MaxChunks: 1})

	res, err := o.IndexCodebase(context.Background(), Job{Root: root, Project: "acme", Dataset: "local"})
	require.NoError(t, err)
	assert.Equal(t, StatusLimitReached, res.Status)
	assert.Equal(t, StatusLimitReached, store.lastStatus)
}

func TestIndexCodebaseEmbedFailureDiscardsBatch(t *testing.T) {
	root := writeTree(t, map[string]string{"main.go": mainSrc})

	store := newFakeStore()
	vectors := newFakeVectors()
	o := newOrchestrator(t, store, vectors, &fakeEmbedder{fail: true}, Config{})

	res, err := o.IndexCodebase(context.Background(), Job{Root: root, Project: "acme", Dataset: "local"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.IndexedFiles)
	assert.Equal(t, 0, res.TotalChunks)
	assert.Empty(t, vectors.points["project_acme_dataset_local"])
}

func TestIndexCodebaseRequiresDataset(t *testing.T) {
	o := newOrchestrator(t, newFakeStore(), newFakeVectors(), &fakeEmbedder{}, Config{})

	_, err := o.IndexCodebase(context.Background(), Job{Root: t.TempDir(), Project: "acme"})
	assert.ErrorIs(t, err, ErrInvalidJob)
}

func TestIndexPages(t *testing.T) {
	store := newFakeStore()
	vectors := newFakeVectors()
	o := newOrchestrator(t, store, vectors, &fakeEmbedder{hybrid: true}, Config{})

	pages := []Page{
		{URL: "https://docs.example.com/install", Title: "Install", Content: "Run the installer.\n\n```shell\nmake install\n```\n"},
		{URL: "https://docs.example.com/usage", Title: "Usage", Content: "Start the daemon and query it.\n"},
	}

	res, err := o.IndexPages(context.Background(), PageJob{Pages: pages, Project: "acme", Dataset: "docs"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 2, res.IndexedFiles)
	assert.Greater(t, res.TotalChunks, 0)

	var sawWebPage bool
	for _, p := range vectors.points["project_acme_dataset_docs"] {
		assert.Equal(t, "web_page", p.Payload.SourceType)
		assert.Equal(t, "docs.example.com", p.Payload.Domain)
		require.NotNil(t, p.Sparse)
		sawWebPage = true
	}
	assert.True(t, sawWebPage)

	// Second run with identical content skips both pages.
	res2, err := o.IndexPages(context.Background(), PageJob{Pages: pages, Project: "acme", Dataset: "docs"})
	require.NoError(t, err)
	assert.Equal(t, 0, res2.IndexedFiles)
	assert.Equal(t, 0, res2.TotalChunks)
}

func TestIndexPagesUnchangedHashSkips(t *testing.T) {
	store := newFakeStore()
	vectors := newFakeVectors()
	o := newOrchestrator(t, store, vectors, &fakeEmbedder{}, Config{})

	page := Page{URL: "https://e.com/a", Title: "A", Content: "alpha beta gamma"}
	_, err := o.IndexPages(context.Background(), PageJob{Pages: []Page{page}, Project: "acme", Dataset: "docs"})
	require.NoError(t, err)

	page.Content = "alpha beta delta"
	res, err := o.IndexPages(context.Background(), PageJob{Pages: []Page{page}, Project: "acme", Dataset: "docs"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.IndexedFiles)
}

func TestCollectionRecordFailureDoesNotAbort(t *testing.T) {
	root := writeTree(t, map[string]string{"main.go": mainSrc})

	store := newFakeStore()
	store.recordErr = errors.New("metastore down")
	vectors := newFakeVectors()
	o := newOrchestrator(t, store, vectors, &fakeEmbedder{}, Config{})

	res, err := o.IndexCodebase(context.Background(), Job{Root: root, Project: "acme", Dataset: "local"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Greater(t, res.TotalChunks, 0)
}

func TestGlobalDatasetCollection(t *testing.T) {
	root := writeTree(t, map[string]string{"main.go": mainSrc})

	store := newFakeStore()
	vectors := newFakeVectors()
	o := newOrchestrator(t, store, vectors, &fakeEmbedder{}, Config{})

	_, err := o.IndexCodebase(context.Background(), Job{Root: root, Dataset: "shared-docs"})
	require.NoError(t, err)
	assert.True(t, vectors.ensured[scope.GlobalCollection])
}

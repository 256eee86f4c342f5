package metastore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomlabs/fathomd/internal/scope"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return New(mock, nil), mock
}

func TestGetOrCreateProject(t *testing.T) {
	store, mock := newMockStore(t)

	wantID := scope.ProjectID("acme")
	mock.ExpectQuery("INSERT INTO projects").
		WithArgs(wantID.String(), "acme").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "created_at"}).
			AddRow(wantID.String(), "acme", time.Now()))

	p, err := store.GetOrCreateProject(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, wantID, p.ID)
	assert.Equal(t, "acme", p.Name)
}

func TestGetOrCreateProjectRejectsInvalidName(t *testing.T) {
	store, _ := newMockStore(t)

	_, err := store.GetOrCreateProject(context.Background(), "all")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = store.GetOrCreateProject(context.Background(), "!!!")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGetProjectNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, name, created_at FROM projects").
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetProject(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOrCreateDatasetGlobal(t *testing.T) {
	store, mock := newMockStore(t)

	wantID := scope.DatasetID("", "shared-docs")
	mock.ExpectQuery("INSERT INTO datasets").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(datasetRows().
			AddRow(wantID.String(), nil, "shared-docs", "docs", "", "", "", time.Now(), time.Now()))

	d, err := store.GetOrCreateDataset(context.Background(), DatasetSpec{
		Name:       "shared-docs",
		SourceType: "docs",
	})
	require.NoError(t, err)
	assert.Equal(t, wantID, d.ID)
	assert.Nil(t, d.ProjectID)
	assert.Equal(t, "", d.ProjectName)
}

func TestGetOrCreateDatasetScoped(t *testing.T) {
	store, mock := newMockStore(t)

	projectID := scope.ProjectID("acme")
	datasetID := scope.DatasetID("acme", "github-main")

	mock.ExpectQuery("INSERT INTO projects").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "created_at"}).
			AddRow(projectID.String(), "acme", time.Now()))
	mock.ExpectQuery("INSERT INTO datasets").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(datasetRows().
			AddRow(datasetID.String(), ptr(projectID.String()), "github-main", "code",
				"github.com/acme/app", "main", "deadbeef", time.Now(), time.Now()))

	d, err := store.GetOrCreateDataset(context.Background(), DatasetSpec{
		Project:   "acme",
		Name:      "github-main",
		Repo:      "github.com/acme/app",
		Branch:    "main",
		CommitSHA: "deadbeef",
	})
	require.NoError(t, err)
	assert.Equal(t, datasetID, d.ID)
	require.NotNil(t, d.ProjectID)
	assert.Equal(t, projectID, *d.ProjectID)
	assert.Equal(t, "github.com/acme/app", d.Repo)
}

func TestGetOrCreateDatasetRequiresName(t *testing.T) {
	store, _ := newMockStore(t)

	_, err := store.GetOrCreateDataset(context.Background(), DatasetSpec{Project: "acme"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGetOrCreateCollectionRecord(t *testing.T) {
	store, mock := newMockStore(t)

	datasetID := uuid.New()
	mock.ExpectQuery("INSERT INTO dataset_collections").
		WithArgs(datasetID.String(), "project_acme_dataset_github_main", 384, true).
		WillReturnRows(collectionRows().
			AddRow(datasetID.String(), "project_acme_dataset_github_main", 384, true,
				int64(0), StatusReady, nil, time.Now()))

	rec, err := store.GetOrCreateCollectionRecord(context.Background(), datasetID, "project_acme_dataset_github_main", 384, true)
	require.NoError(t, err)
	assert.Equal(t, datasetID, rec.DatasetID)
	assert.Equal(t, 384, rec.Dimension)
	assert.True(t, rec.Hybrid)
	assert.Nil(t, rec.LastIndexedAt)
}

func TestGetOrCreateCollectionRecordValidates(t *testing.T) {
	store, _ := newMockStore(t)

	_, err := store.GetOrCreateCollectionRecord(context.Background(), uuid.New(), "", 384, false)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = store.GetOrCreateCollectionRecord(context.Background(), uuid.New(), "c", 0, false)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUpdateCollectionMetadata(t *testing.T) {
	store, mock := newMockStore(t)
	datasetID := uuid.New()

	mock.ExpectExec("UPDATE dataset_collections").
		WithArgs(datasetID.String(), int64(1200), StatusCompleted).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.UpdateCollectionMetadata(context.Background(), datasetID, 1200, StatusCompleted)
	assert.NoError(t, err)
}

func TestUpdateCollectionMetadataMissing(t *testing.T) {
	store, mock := newMockStore(t)
	datasetID := uuid.New()

	mock.ExpectExec("UPDATE dataset_collections").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateCollectionMetadata(context.Background(), datasetID, 10, StatusCompleted)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveCollectionsEmpty(t *testing.T) {
	store, _ := newMockStore(t)

	recs, err := store.ResolveCollections(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, recs)
}

func TestResolveCollections(t *testing.T) {
	store, mock := newMockStore(t)

	a, b := uuid.New(), uuid.New()
	mock.ExpectQuery("SELECT dataset_id, collection_name").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(collectionRows().
			AddRow(a.String(), "global_knowledge", 384, false, int64(10), StatusCompleted, ptr(time.Now()), time.Now()).
			AddRow(b.String(), "project_acme", 384, true, int64(20), StatusCompleted, ptr(time.Now()), time.Now()))

	recs, err := store.ResolveCollections(context.Background(), []uuid.UUID{a, b})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "global_knowledge", recs[0].CollectionName)
	assert.Equal(t, int64(20), recs[1].PointCount)
}

func TestIndexedHashes(t *testing.T) {
	store, mock := newMockStore(t)
	datasetID := uuid.New()

	mock.ExpectQuery("SELECT relative_path, content_hash FROM indexed_files").
		WithArgs(datasetID.String()).
		WillReturnRows(pgxmock.NewRows([]string{"relative_path", "content_hash"}).
			AddRow("main.go", "h1").
			AddRow("docs/a.md", "h2"))

	hashes, err := store.IndexedHashes(context.Background(), datasetID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"main.go": "h1", "docs/a.md": "h2"}, hashes)
}

func TestUpsertIndexedFiles(t *testing.T) {
	store, mock := newMockStore(t)
	datasetID := uuid.New()

	mock.ExpectExec("INSERT INTO indexed_files").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO indexed_files").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.UpsertIndexedFiles(context.Background(), datasetID, []IndexedFile{
		{RelativePath: "a.go", ContentHash: "h1", SizeBytes: 10, ChunkCount: 1},
		{RelativePath: "b.go", ContentHash: "h2", SizeBytes: 20, ChunkCount: 2},
	})
	assert.NoError(t, err)
}

func TestDeleteIndexedFilesNoPaths(t *testing.T) {
	store, _ := newMockStore(t)
	assert.NoError(t, store.DeleteIndexedFiles(context.Background(), uuid.New(), nil))
}

func TestDatasetsForProject(t *testing.T) {
	store, mock := newMockStore(t)

	id := uuid.New()
	pid := scope.ProjectID("acme")
	mock.ExpectQuery("SELECT id, project_id, name FROM datasets").
		WithArgs(pid.String()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "project_id", "name"}).
			AddRow(id.String(), ptr(pid.String()), "local"))

	datasets, err := store.DatasetsForProject(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, datasets, 1)
	assert.Equal(t, "local", datasets[0].Name)
	assert.False(t, datasets[0].Global())
}

func TestGlobalDatasets(t *testing.T) {
	store, mock := newMockStore(t)

	id := uuid.New()
	mock.ExpectQuery("SELECT id, project_id, name FROM datasets").
		WillReturnRows(pgxmock.NewRows([]string{"id", "project_id", "name"}).
			AddRow(id.String(), nil, "shared-docs"))

	datasets, err := store.GlobalDatasets(context.Background())
	require.NoError(t, err)
	require.Len(t, datasets, 1)
	assert.True(t, datasets[0].Global())
}

func TestGetIndexedFileStats(t *testing.T) {
	store, mock := newMockStore(t)
	datasetID := uuid.New()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(datasetID.String()).
		WillReturnRows(pgxmock.NewRows([]string{"count", "chunks", "bytes"}).
			AddRow(12, 340, int64(99000)))

	stats, err := store.GetIndexedFileStats(context.Background(), datasetID)
	require.NoError(t, err)
	assert.Equal(t, 12, stats.FileCount)
	assert.Equal(t, 340, stats.ChunkCount)
	assert.Equal(t, int64(99000), stats.TotalBytes)
}

func datasetRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "project_id", "name", "source_type", "repo", "branch", "commit_sha", "created_at", "updated_at",
	})
}

func collectionRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"dataset_id", "collection_name", "dimension", "hybrid", "point_count", "status", "last_indexed_at", "updated_at",
	})
}

func ptr[T any](v T) *T { return &v }

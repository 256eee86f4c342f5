package status

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomlabs/fathomd/internal/changeset"
	"github.com/fathomlabs/fathomd/internal/metastore"
	"github.com/fathomlabs/fathomd/internal/scope"
)

type fakeStore struct {
	dataset *metastore.Dataset
	hashes  map[string]string
	record  *metastore.CollectionRecord
}

func (f *fakeStore) GetDataset(_ context.Context, _, _ string) (*metastore.Dataset, error) {
	if f.dataset == nil {
		return nil, metastore.ErrNotFound
	}
	return f.dataset, nil
}

func (f *fakeStore) IndexedHashes(context.Context, uuid.UUID) (map[string]string, error) {
	return f.hashes, nil
}

func (f *fakeStore) GetCollectionRecord(context.Context, uuid.UUID) (*metastore.CollectionRecord, error) {
	if f.record == nil {
		return nil, metastore.ErrNotFound
	}
	return f.record, nil
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

func hashOf(content string) string {
	return changeset.HashBytes([]byte(content))
}

func TestCheckUnknownDataset(t *testing.T) {
	svc, err := New(&fakeStore{}, nil, nil)
	require.NoError(t, err)

	report, err := svc.Check(context.Background(), Request{Path: t.TempDir(), Project: "acme", Dataset: "local"})
	require.NoError(t, err)
	assert.False(t, report.IsIndexed)
	assert.True(t, report.NeedsReindex)
	assert.Equal(t, changeset.RecommendFull, report.Recommendation)
	assert.Contains(t, report.Message, "not indexed")
}

func TestCheckEmptyBaseline(t *testing.T) {
	store := &fakeStore{
		dataset: &metastore.Dataset{ID: scope.DatasetID("acme", "local"), Name: "local"},
		hashes:  map[string]string{},
	}
	svc, err := New(store, nil, nil)
	require.NoError(t, err)

	report, err := svc.Check(context.Background(), Request{Path: t.TempDir(), Project: "acme", Dataset: "local"})
	require.NoError(t, err)
	assert.False(t, report.IsIndexed)
	assert.Equal(t, changeset.RecommendFull, report.Recommendation)
}

func TestCheckUpToDate(t *testing.T) {
	files := map[string]string{
		"main.go": "package main\n",
		"util.go": "package main\n\nfunc Add(a, b int) int { return a + b }\n",
	}
	root := writeFiles(t, files)

	hashes := make(map[string]string, len(files))
	for path, content := range files {
		hashes[path] = hashOf(content)
	}
	store := &fakeStore{
		dataset: &metastore.Dataset{ID: scope.DatasetID("acme", "local"), Name: "local"},
		hashes:  hashes,
		record:  &metastore.CollectionRecord{PointCount: 42},
	}
	svc, err := New(store, nil, nil)
	require.NoError(t, err)

	report, err := svc.Check(context.Background(), Request{Path: root, Project: "acme", Dataset: "local"})
	require.NoError(t, err)
	assert.True(t, report.IsIndexed)
	assert.True(t, report.IsFullyIndexed)
	assert.False(t, report.NeedsReindex)
	assert.Equal(t, changeset.RecommendSkip, report.Recommendation)
	assert.Equal(t, 100.0, report.Stats.PercentIndexed)
	assert.Equal(t, int64(42), report.PointCount)
	assert.Nil(t, report.Details)
}

func TestCheckDriftWithDetails(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"main.go": "package main\n",
		"new.go":  "package main\n\nvar New = 1\n",
	})

	store := &fakeStore{
		dataset: &metastore.Dataset{ID: scope.DatasetID("acme", "local"), Name: "local"},
		hashes: map[string]string{
			"main.go": hashOf("package main\n"),
			"gone.go": hashOf("package main\n\nvar Gone = 1\n"),
		},
	}
	svc, err := New(store, nil, nil)
	require.NoError(t, err)

	report, err := svc.Check(context.Background(), Request{
		Path: root, Project: "acme", Dataset: "local", IncludeDetails: true,
	})
	require.NoError(t, err)
	assert.True(t, report.IsIndexed)
	assert.False(t, report.IsFullyIndexed)
	assert.True(t, report.NeedsReindex)
	assert.Equal(t, 1, report.Stats.NewFiles)
	assert.Equal(t, 1, report.Stats.DeletedFiles)
	require.NotNil(t, report.Details)
	assert.Equal(t, []string{"new.go"}, report.Details.New)
	assert.Equal(t, []string{"gone.go"}, report.Details.Deleted)
}

func TestCheckDetailsTruncated(t *testing.T) {
	files := make(map[string]string, 15)
	for i := 0; i < 15; i++ {
		files[fmt.Sprintf("file%02d.go", i)] = fmt.Sprintf("package main\n\nvar V%d = %d\n", i, i)
	}
	root := writeFiles(t, files)

	store := &fakeStore{
		dataset: &metastore.Dataset{ID: scope.DatasetID("acme", "local"), Name: "local"},
		hashes:  map[string]string{"seed.go": hashOf("package main\n")},
	}
	svc, err := New(store, nil, nil)
	require.NoError(t, err)

	report, err := svc.Check(context.Background(), Request{
		Path: root, Project: "acme", Dataset: "local", IncludeDetails: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 15, report.Stats.NewFiles)
	require.NotNil(t, report.Details)
	assert.Len(t, report.Details.New, 10)
}

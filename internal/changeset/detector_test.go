package changeset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomlabs/fathomd/internal/ignore"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func detect(t *testing.T, root string, indexed map[string]string) *Changes {
	t.Helper()
	d := NewDetector(ignore.NewParser(nil))
	changes, err := d.Detect(context.Background(), root, indexed)
	require.NoError(t, err)
	return changes
}

func TestDetectNewTree(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n")
	writeFile(t, dir, "docs/guide.md", "# Guide\n")

	changes := detect(t, dir, nil)

	assert.Len(t, changes.New, 2)
	assert.Empty(t, changes.Modified)
	assert.Empty(t, changes.Deleted)
	assert.Empty(t, changes.Unchanged)
	assert.Equal(t, RecommendFull, changes.Recommendation())
}

func TestDetectUnchangedAfterIndex(t *testing.T) {
	dir := t.TempDir()
	p1 := writeFile(t, dir, "a.go", "package a\n")
	p2 := writeFile(t, dir, "b.go", "package b\n")

	h1, err := HashFile(p1)
	require.NoError(t, err)
	h2, err := HashFile(p2)
	require.NoError(t, err)

	changes := detect(t, dir, map[string]string{"a.go": h1, "b.go": h2})

	assert.Empty(t, changes.New)
	assert.Empty(t, changes.Modified)
	assert.Empty(t, changes.Deleted)
	assert.Len(t, changes.Unchanged, 2)
	assert.Equal(t, RecommendSkip, changes.Recommendation())
}

func TestDetectClassification(t *testing.T) {
	dir := t.TempDir()
	keep := writeFile(t, dir, "keep.go", "package keep\n")
	writeFile(t, dir, "changed.go", "package changed // v2\n")
	writeFile(t, dir, "added.go", "package added\n")

	keepHash, err := HashFile(keep)
	require.NoError(t, err)

	indexed := map[string]string{
		"keep.go":    keepHash,
		"changed.go": "stalehash",
		"gone.go":    "oldhash",
	}

	changes := detect(t, dir, indexed)

	require.Len(t, changes.New, 1)
	assert.Equal(t, "added.go", changes.New[0].RelativePath)
	require.Len(t, changes.Modified, 1)
	assert.Equal(t, "changed.go", changes.Modified[0].RelativePath)
	assert.Equal(t, []string{"gone.go"}, changes.Deleted)
	require.Len(t, changes.Unchanged, 1)
	assert.Equal(t, "keep.go", changes.Unchanged[0].RelativePath)

	assert.Equal(t, Stats{
		TotalFiles:     3,
		IndexedFiles:   3,
		UnchangedFiles: 1,
		NewFiles:       1,
		ModifiedFiles:  1,
		DeletedFiles:   1,
	}, changes.Stats)
}

func TestDetectRespectsIgnoreAndExtensions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n")
	writeFile(t, dir, "image.png", "not text")
	writeFile(t, dir, "node_modules/lib/index.js", "module.exports = 1\n")
	writeFile(t, dir, ".gitignore", "generated/\n")
	writeFile(t, dir, "generated/out.go", "package out\n")

	changes := detect(t, dir, nil)

	require.Len(t, changes.New, 1)
	assert.Equal(t, "main.go", changes.New[0].RelativePath)
}

func TestRecommendationIncremental(t *testing.T) {
	c := &Changes{
		Modified:  make([]FileState, 3),
		Unchanged: make([]FileState, 97),
	}
	assert.Equal(t, RecommendIncremental, c.Recommendation())
}

func TestRecommendationFullWhenManyChanged(t *testing.T) {
	c := &Changes{
		Modified:  make([]FileState, 60),
		Unchanged: make([]FileState, 300),
	}
	assert.Equal(t, RecommendFull, c.Recommendation())
}

func TestHashBytesStable(t *testing.T) {
	assert.Equal(t, HashBytes([]byte("hello")), HashBytes([]byte("hello")))
	assert.NotEqual(t, HashBytes([]byte("hello")), HashBytes([]byte("world")))
}

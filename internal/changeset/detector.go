// Package changeset compares a file tree against its indexed state and
// classifies files as new, modified, deleted or unchanged.
//
// Classification is content-hash based: a file is modified only when its
// digest differs from the recorded one, so touch/mtime churn never triggers
// re-indexing.
package changeset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fathomlabs/fathomd/internal/ignore"
)

// DefaultExtensions is the allowlist of file extensions considered for
// indexing when none is configured.
var DefaultExtensions = []string{
	".go", ".py", ".js", ".jsx", ".ts", ".tsx", ".java", ".kt", ".rb",
	".rs", ".c", ".h", ".cc", ".cpp", ".hpp", ".cs", ".php", ".swift",
	".scala", ".sh", ".sql", ".proto", ".tf",
	".md", ".rst", ".txt", ".json", ".yaml", ".yml", ".toml",
}

// FileState describes one candidate file on disk.
type FileState struct {
	RelativePath string
	ContentHash  string
	Size         int64
}

// Stats summarizes a detection run.
type Stats struct {
	TotalFiles     int `json:"total_files"`
	IndexedFiles   int `json:"indexed_files"`
	UnchangedFiles int `json:"unchanged_files"`
	NewFiles       int `json:"new_files"`
	ModifiedFiles  int `json:"modified_files"`
	DeletedFiles   int `json:"deleted_files"`
}

// Recommendation is the suggested ingest action for a detected change set.
type Recommendation string

const (
	// RecommendSkip means nothing changed.
	RecommendSkip Recommendation = "skip"
	// RecommendIncremental means a small fraction changed.
	RecommendIncremental Recommendation = "incremental"
	// RecommendFull means enough changed that a full reindex is cheaper.
	RecommendFull Recommendation = "full-reindex"
)

// Changes is the classification result.
type Changes struct {
	New       []FileState
	Modified  []FileState
	Deleted   []string
	Unchanged []FileState
	Stats     Stats
}

// Recommendation applies the ingest heuristics: skip when nothing changed,
// incremental when more than 70% of tracked files are unchanged and fewer
// than 50 changed, full reindex otherwise.
func (c *Changes) Recommendation() Recommendation {
	changed := len(c.New) + len(c.Modified) + len(c.Deleted)
	if changed == 0 {
		return RecommendSkip
	}
	total := changed + len(c.Unchanged)
	if total > 0 && float64(len(c.Unchanged))/float64(total) > 0.7 && changed < 50 {
		return RecommendIncremental
	}
	return RecommendFull
}

// Detector walks a tree and classifies files against an indexed baseline.
type Detector struct {
	// Extensions is the allowlist of file extensions; empty means
	// DefaultExtensions.
	Extensions []string

	// MaxFileSize skips files larger than this many bytes. Zero means 1MB.
	MaxFileSize int64

	ignoreParser *ignore.Parser
}

// NewDetector creates a detector with the given ignore parser. A nil parser
// falls back to the built-in default patterns only.
func NewDetector(parser *ignore.Parser) *Detector {
	if parser == nil {
		parser = ignore.NewParser(nil)
	}
	return &Detector{ignoreParser: parser}
}

// Detect walks root and compares every candidate file against indexed, a
// map of relative path to recorded content hash.
func (d *Detector) Detect(ctx context.Context, root string, indexed map[string]string) (*Changes, error) {
	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	patterns, err := d.ignoreParser.ParseTree(root)
	if err != nil {
		return nil, fmt.Errorf("collecting ignore patterns: %w", err)
	}

	maxSize := d.MaxFileSize
	if maxSize == 0 {
		maxSize = 1 << 20
	}
	allowed := d.extensionSet()

	changes := &Changes{}
	seen := make(map[string]bool, len(indexed))

	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if entry.IsDir() {
			if rel != "." && ignore.MatchAny(patterns, rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !allowed[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		if ignore.MatchAny(patterns, rel) {
			return nil
		}

		fi, statErr := entry.Info()
		if statErr != nil || fi.Size() > maxSize {
			return nil
		}

		hash, hashErr := HashFile(path)
		if hashErr != nil {
			return nil
		}

		state := FileState{RelativePath: rel, ContentHash: hash, Size: fi.Size()}
		seen[rel] = true

		recorded, known := indexed[rel]
		switch {
		case !known:
			changes.New = append(changes.New, state)
		case recorded != hash:
			changes.Modified = append(changes.Modified, state)
		default:
			changes.Unchanged = append(changes.Unchanged, state)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for rel := range indexed {
		if !seen[rel] {
			changes.Deleted = append(changes.Deleted, rel)
		}
	}
	sort.Strings(changes.Deleted)

	changes.Stats = Stats{
		TotalFiles:     len(changes.New) + len(changes.Modified) + len(changes.Unchanged),
		IndexedFiles:   len(indexed),
		UnchangedFiles: len(changes.Unchanged),
		NewFiles:       len(changes.New),
		ModifiedFiles:  len(changes.Modified),
		DeletedFiles:   len(changes.Deleted),
	}
	return changes, nil
}

func (d *Detector) extensionSet() map[string]bool {
	exts := d.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[strings.ToLower(e)] = true
	}
	return set
}

// HashFile returns the hex sha256 digest of a file's bytes.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the hex sha256 digest of content.
func HashBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Package status reports whether a codebase is indexed and how far the
// index has drifted from the tree on disk.
package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fathomlabs/fathomd/internal/changeset"
	"github.com/fathomlabs/fathomd/internal/metastore"
)

var tracer = otel.Tracer("fathomd.status")

// detailLimit caps each file list in Details.
const detailLimit = 10

// Metastore is the subset of the relational gateway the service uses.
type Metastore interface {
	GetDataset(ctx context.Context, project, name string) (*metastore.Dataset, error)
	IndexedHashes(ctx context.Context, datasetID uuid.UUID) (map[string]string, error)
	GetCollectionRecord(ctx context.Context, datasetID uuid.UUID) (*metastore.CollectionRecord, error)
}

// Request identifies the tree and dataset to compare.
type Request struct {
	Path    string `json:"path"`
	Project string `json:"project"`
	Dataset string `json:"dataset"`

	// IncludeDetails adds the truncated per-class file lists.
	IncludeDetails bool `json:"include_details,omitempty"`
}

// Stats mirrors the change detector's counts plus the indexed percentage.
type Stats struct {
	changeset.Stats
	PercentIndexed float64 `json:"percent_indexed"`
}

// Details lists affected files, truncated to the first 10 per class.
type Details struct {
	New      []string `json:"new_files,omitempty"`
	Modified []string `json:"modified_files,omitempty"`
	Deleted  []string `json:"deleted_files,omitempty"`
}

// Report is the index-status response.
type Report struct {
	IsIndexed      bool                     `json:"is_indexed"`
	IsFullyIndexed bool                     `json:"is_fully_indexed"`
	NeedsReindex   bool                     `json:"needs_reindex"`
	Stats          Stats                    `json:"stats"`
	Recommendation changeset.Recommendation `json:"recommendation"`
	Message        string                   `json:"message"`
	Details        *Details                 `json:"details,omitempty"`

	// PointCount is the recorded collection size, when known.
	PointCount int64 `json:"point_count,omitempty"`
}

// Service answers index-status requests.
type Service struct {
	store    Metastore
	detector *changeset.Detector
	logger   *zap.Logger
}

// New creates a service. detector may be nil.
func New(store Metastore, detector *changeset.Detector, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if detector == nil {
		detector = changeset.NewDetector(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, detector: detector, logger: logger.Named("status")}, nil
}

// Check compares the tree at req.Path against the dataset's indexed state.
func (s *Service) Check(ctx context.Context, req Request) (*Report, error) {
	ctx, span := tracer.Start(ctx, "Service.Check")
	defer span.End()
	span.SetAttributes(
		attribute.String("project", req.Project),
		attribute.String("dataset", req.Dataset),
	)

	notIndexed := &Report{
		NeedsReindex:   true,
		Recommendation: changeset.RecommendFull,
		Message:        fmt.Sprintf("dataset %q is not indexed", req.Dataset),
	}

	ds, err := s.store.GetDataset(ctx, req.Project, req.Dataset)
	if errors.Is(err, metastore.ErrNotFound) {
		return notIndexed, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up dataset: %w", err)
	}

	baseline, err := s.store.IndexedHashes(ctx, ds.ID)
	if err != nil {
		return nil, fmt.Errorf("loading indexed baseline: %w", err)
	}
	if len(baseline) == 0 {
		return notIndexed, nil
	}

	changes, err := s.detector.Detect(ctx, req.Path, baseline)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", req.Path, err)
	}

	rec := changes.Recommendation()
	report := &Report{
		IsIndexed:      true,
		IsFullyIndexed: rec == changeset.RecommendSkip,
		NeedsReindex:   rec != changeset.RecommendSkip,
		Stats:          buildStats(changes.Stats),
		Recommendation: rec,
		Message:        message(rec, changes.Stats),
	}

	if record, err := s.store.GetCollectionRecord(ctx, ds.ID); err == nil {
		report.PointCount = record.PointCount
	} else if !errors.Is(err, metastore.ErrNotFound) {
		s.logger.Warn("collection record lookup failed", zap.Error(err))
	}

	if req.IncludeDetails {
		report.Details = buildDetails(changes)
	}
	return report, nil
}

func buildStats(st changeset.Stats) Stats {
	out := Stats{Stats: st}
	if st.TotalFiles > 0 {
		out.PercentIndexed = float64(st.UnchangedFiles) / float64(st.TotalFiles) * 100
	}
	return out
}

func message(rec changeset.Recommendation, st changeset.Stats) string {
	switch rec {
	case changeset.RecommendSkip:
		return fmt.Sprintf("index is current (%d files)", st.TotalFiles)
	case changeset.RecommendIncremental:
		return fmt.Sprintf("%d new, %d modified, %d deleted; incremental reindex suggested",
			st.NewFiles, st.ModifiedFiles, st.DeletedFiles)
	default:
		return fmt.Sprintf("%d of %d files changed; full reindex suggested",
			st.NewFiles+st.ModifiedFiles+st.DeletedFiles, st.TotalFiles)
	}
}

func buildDetails(changes *changeset.Changes) *Details {
	d := &Details{
		Deleted: truncateList(changes.Deleted),
	}
	d.New = truncateList(paths(changes.New))
	d.Modified = truncateList(paths(changes.Modified))
	return d
}

func paths(files []changeset.FileState) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.RelativePath
	}
	return out
}

func truncateList(list []string) []string {
	if len(list) > detailLimit {
		return list[:detailLimit]
	}
	return list
}

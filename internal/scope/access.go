package scope

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Dataset is the access-resolution view of a dataset row. ProjectID is nil
// for global datasets.
type Dataset struct {
	ID        uuid.UUID
	ProjectID *uuid.UUID
	Name      string
}

// Global reports whether the dataset belongs to the global scope.
func (d Dataset) Global() bool { return d.ProjectID == nil }

// DatasetSource supplies dataset rows for access resolution. The relational
// store gateway implements it.
type DatasetSource interface {
	// DatasetsForProject returns datasets owned by the named project.
	// Unknown projects yield an empty slice, not an error.
	DatasetsForProject(ctx context.Context, project string) ([]Dataset, error)

	// GlobalDatasets returns datasets with no owning project.
	GlobalDatasets(ctx context.Context) ([]Dataset, error)

	// SharedDatasets returns datasets another project has shared with the
	// named project through an unexpired share grant.
	SharedDatasets(ctx context.Context, project string) ([]Dataset, error)

	// AllDatasets returns every dataset, optionally including global ones.
	AllDatasets(ctx context.Context, includeGlobal bool) ([]Dataset, error)
}

// Access resolves the concrete set of datasets a caller may read:
// owned ∪ global (when requested) ∪ explicitly shared.
type Access struct {
	source DatasetSource
}

// NewAccess creates an access resolver backed by the given source.
func NewAccess(source DatasetSource) *Access {
	return &Access{source: source}
}

// AccessibleDatasets returns the ordered, deduplicated set of datasets the
// caller identified by project may read. The "all" sentinel returns every
// dataset. Order is owned, then global, then shared, each in source order.
func (a *Access) AccessibleDatasets(ctx context.Context, project string, includeGlobal bool) ([]Dataset, error) {
	if IsAllSentinel(project) {
		return a.source.AllDatasets(ctx, includeGlobal)
	}

	owned, err := a.source.DatasetsForProject(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("resolving owned datasets: %w", err)
	}

	out := make([]Dataset, 0, len(owned))
	seen := make(map[uuid.UUID]bool, len(owned))
	add := func(datasets []Dataset) {
		for _, d := range datasets {
			if !seen[d.ID] {
				seen[d.ID] = true
				out = append(out, d)
			}
		}
	}
	add(owned)

	if includeGlobal {
		global, err := a.source.GlobalDatasets(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolving global datasets: %w", err)
		}
		add(global)
	}

	shared, err := a.source.SharedDatasets(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("resolving shared datasets: %w", err)
	}
	add(shared)

	return out, nil
}

// Names extracts dataset names preserving order.
func Names(datasets []Dataset) []string {
	names := make([]string, len(datasets))
	for i, d := range datasets {
		names[i] = d.Name
	}
	return names
}

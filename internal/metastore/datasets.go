package metastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fathomlabs/fathomd/internal/scope"
)

// Dataset is one registered dataset. ProjectName is empty for global
// datasets.
type Dataset struct {
	ID          uuid.UUID
	ProjectID   *uuid.UUID
	ProjectName string
	Name        string
	SourceType  string
	Repo        string
	Branch      string
	CommitSHA   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DatasetSpec describes a dataset to register. Project empty means global
// scope.
type DatasetSpec struct {
	Project    string
	Name       string
	SourceType string
	Repo       string
	Branch     string
	CommitSHA  string
}

// GetOrCreateDataset registers a dataset, creating its owning project row
// first when needed. Provenance fields are refreshed on conflict; identity
// fields are not.
func (s *Store) GetOrCreateDataset(ctx context.Context, spec DatasetSpec) (*Dataset, error) {
	ctx, span := tracer.Start(ctx, "Store.GetOrCreateDataset")
	defer span.End()
	span.SetAttributes(
		attribute.String("project", spec.Project),
		attribute.String("dataset", spec.Name),
	)

	if spec.Name == "" {
		return nil, fmt.Errorf("%w: dataset name required", ErrInvalidInput)
	}
	if spec.SourceType == "" {
		spec.SourceType = "code"
	}

	var projectID *string
	if spec.Project != "" {
		project, err := s.GetOrCreateProject(ctx, spec.Project)
		if err != nil {
			return nil, fmt.Errorf("ensuring project: %w", err)
		}
		idStr := project.ID.String()
		projectID = &idStr
	}

	id := scope.DatasetID(spec.Project, spec.Name)

	row := s.db.QueryRow(ctx, `
		INSERT INTO datasets (id, project_id, name, source_type, repo, branch, commit_sha)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_id, name) DO UPDATE SET
			source_type = EXCLUDED.source_type,
			repo = EXCLUDED.repo,
			branch = EXCLUDED.branch,
			commit_sha = EXCLUDED.commit_sha,
			updated_at = now()
		RETURNING id, project_id, name, source_type, repo, branch, commit_sha, created_at, updated_at`,
		id.String(), projectID, spec.Name, spec.SourceType, spec.Repo, spec.Branch, spec.CommitSHA)

	d, err := scanDataset(row)
	if err != nil {
		return nil, fmt.Errorf("upserting dataset %q: %w", spec.Name, err)
	}
	d.ProjectName = spec.Project
	return d, nil
}

// GetDataset looks up one dataset by project and name. An empty project
// addresses the global scope.
func (s *Store) GetDataset(ctx context.Context, project, name string) (*Dataset, error) {
	ctx, span := tracer.Start(ctx, "Store.GetDataset")
	defer span.End()
	span.SetAttributes(
		attribute.String("project", project),
		attribute.String("dataset", name),
	)

	id := scope.DatasetID(project, name)
	row := s.db.QueryRow(ctx, `
		SELECT id, project_id, name, source_type, repo, branch, commit_sha, created_at, updated_at
		FROM datasets WHERE id = $1`, id.String())

	d, err := scanDataset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("dataset %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	d.ProjectName = project
	return d, nil
}

// DeleteDataset removes a dataset row; indexed files, collection records
// and shares cascade.
func (s *Store) DeleteDataset(ctx context.Context, datasetID uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "Store.DeleteDataset")
	defer span.End()
	span.SetAttributes(attribute.String("dataset_id", datasetID.String()))

	tag, err := s.db.Exec(ctx, `DELETE FROM datasets WHERE id = $1`, datasetID.String())
	if err != nil {
		return fmt.Errorf("deleting dataset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dataset %s: %w", datasetID, ErrNotFound)
	}
	return nil
}

// ShareDataset grants another project read access to a dataset.
func (s *Store) ShareDataset(ctx context.Context, datasetID uuid.UUID, project string) error {
	ctx, span := tracer.Start(ctx, "Store.ShareDataset")
	defer span.End()
	span.SetAttributes(
		attribute.String("dataset_id", datasetID.String()),
		attribute.String("project", project),
	)

	target, err := s.GetOrCreateProject(ctx, project)
	if err != nil {
		return fmt.Errorf("ensuring target project: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO project_shares (dataset_id, project_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		datasetID.String(), target.ID.String())
	if err != nil {
		return fmt.Errorf("sharing dataset: %w", err)
	}
	return nil
}

const datasetAccessColumns = `id, project_id, name`

// DatasetsForProject implements scope.DatasetSource.
func (s *Store) DatasetsForProject(ctx context.Context, project string) ([]scope.Dataset, error) {
	ctx, span := tracer.Start(ctx, "Store.DatasetsForProject")
	defer span.End()
	span.SetAttributes(attribute.String("project", project))

	rows, err := s.db.Query(ctx, `
		SELECT `+datasetAccessColumns+` FROM datasets
		WHERE project_id = $1 ORDER BY created_at, name`,
		scope.ProjectID(project).String())
	if err != nil {
		return nil, fmt.Errorf("querying project datasets: %w", err)
	}
	return scanAccessDatasets(rows)
}

// GlobalDatasets implements scope.DatasetSource.
func (s *Store) GlobalDatasets(ctx context.Context) ([]scope.Dataset, error) {
	ctx, span := tracer.Start(ctx, "Store.GlobalDatasets")
	defer span.End()

	rows, err := s.db.Query(ctx, `
		SELECT `+datasetAccessColumns+` FROM datasets
		WHERE project_id IS NULL ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("querying global datasets: %w", err)
	}
	return scanAccessDatasets(rows)
}

// SharedDatasets implements scope.DatasetSource.
func (s *Store) SharedDatasets(ctx context.Context, project string) ([]scope.Dataset, error) {
	ctx, span := tracer.Start(ctx, "Store.SharedDatasets")
	defer span.End()
	span.SetAttributes(attribute.String("project", project))

	rows, err := s.db.Query(ctx, `
		SELECT d.id, d.project_id, d.name
		FROM datasets d
		JOIN project_shares ps ON ps.dataset_id = d.id
		WHERE ps.project_id = $1
		  AND (ps.expires_at IS NULL OR ps.expires_at > now())
		ORDER BY ps.granted_at, d.name`,
		scope.ProjectID(project).String())
	if err != nil {
		return nil, fmt.Errorf("querying shared datasets: %w", err)
	}
	return scanAccessDatasets(rows)
}

// AllDatasets implements scope.DatasetSource.
func (s *Store) AllDatasets(ctx context.Context, includeGlobal bool) ([]scope.Dataset, error) {
	ctx, span := tracer.Start(ctx, "Store.AllDatasets")
	defer span.End()

	query := `SELECT ` + datasetAccessColumns + ` FROM datasets ORDER BY created_at, name`
	if !includeGlobal {
		query = `SELECT ` + datasetAccessColumns + ` FROM datasets
		WHERE project_id IS NOT NULL ORDER BY created_at, name`
	}

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying all datasets: %w", err)
	}
	return scanAccessDatasets(rows)
}

func scanDataset(row pgx.Row) (*Dataset, error) {
	var (
		d         Dataset
		id        string
		projectID *string
	)
	err := row.Scan(&id, &projectID, &d.Name, &d.SourceType, &d.Repo, &d.Branch, &d.CommitSHA, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing dataset id %q: %w", id, err)
	}
	d.ID = parsed
	if projectID != nil {
		pid, err := uuid.Parse(*projectID)
		if err != nil {
			return nil, fmt.Errorf("parsing project id %q: %w", *projectID, err)
		}
		d.ProjectID = &pid
	}
	return &d, nil
}

func scanAccessDatasets(rows pgx.Rows) ([]scope.Dataset, error) {
	defer rows.Close()

	var out []scope.Dataset
	for rows.Next() {
		var (
			id        string
			projectID *string
			name      string
		)
		if err := rows.Scan(&id, &projectID, &name); err != nil {
			return nil, err
		}
		d := scope.Dataset{Name: name}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parsing dataset id %q: %w", id, err)
		}
		d.ID = parsed
		if projectID != nil {
			pid, err := uuid.Parse(*projectID)
			if err != nil {
				return nil, fmt.Errorf("parsing project id %q: %w", *projectID, err)
			}
			d.ProjectID = &pid
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

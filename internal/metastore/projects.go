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

// Project is one registered project.
type Project struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// GetOrCreateProject registers a project by name. The id is derived from
// the name, so concurrent callers converge on the same row.
func (s *Store) GetOrCreateProject(ctx context.Context, name string) (*Project, error) {
	ctx, span := tracer.Start(ctx, "Store.GetOrCreateProject")
	defer span.End()
	span.SetAttributes(attribute.String("project", name))

	if err := scope.ValidateProjectName(name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	id := scope.ProjectID(name)

	row := s.db.QueryRow(ctx, `
		INSERT INTO projects (id, name)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, created_at`,
		id.String(), name)

	return scanProject(row)
}

// GetProject looks up a project by name.
func (s *Store) GetProject(ctx context.Context, name string) (*Project, error) {
	ctx, span := tracer.Start(ctx, "Store.GetProject")
	defer span.End()
	span.SetAttributes(attribute.String("project", name))

	row := s.db.QueryRow(ctx,
		`SELECT id, name, created_at FROM projects WHERE name = $1`, name)

	p, err := scanProject(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("project %q: %w", name, ErrNotFound)
	}
	return p, err
}

// ListProjects returns all projects ordered by name.
func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	ctx, span := tracer.Start(ctx, "Store.ListProjects")
	defer span.End()

	rows, err := s.db.Query(ctx,
		`SELECT id, name, created_at FROM projects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanProject(row pgx.Row) (*Project, error) {
	var (
		p  Project
		id string
	)
	if err := row.Scan(&id, &p.Name, &p.CreatedAt); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing project id %q: %w", id, err)
	}
	p.ID = parsed
	return &p, nil
}

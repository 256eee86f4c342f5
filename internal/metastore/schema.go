package metastore

import (
	"context"
	"fmt"
)

// schema holds the idempotent bootstrap statements. Identifiers are stored
// as text: they are deterministic UUID strings computed in the scope
// package, never database-generated.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS datasets (
		id TEXT PRIMARY KEY,
		project_id TEXT REFERENCES projects(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		source_type TEXT NOT NULL DEFAULT 'code',
		repo TEXT NOT NULL DEFAULT '',
		branch TEXT NOT NULL DEFAULT '',
		commit_sha TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE NULLS NOT DISTINCT (project_id, name)
	)`,

	`CREATE TABLE IF NOT EXISTS dataset_collections (
		dataset_id TEXT PRIMARY KEY REFERENCES datasets(id) ON DELETE CASCADE,
		collection_name TEXT NOT NULL,
		dimension INTEGER NOT NULL,
		hybrid BOOLEAN NOT NULL,
		point_count BIGINT NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'ready',
		last_indexed_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_dataset_collections_name
		ON dataset_collections (collection_name)`,

	`CREATE TABLE IF NOT EXISTS indexed_files (
		dataset_id TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
		relative_path TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		size_bytes BIGINT NOT NULL DEFAULT 0,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		indexed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (dataset_id, relative_path)
	)`,

	`CREATE TABLE IF NOT EXISTS web_pages (
		dataset_id TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		domain TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		crawled_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (dataset_id, url)
	)`,

	`CREATE TABLE IF NOT EXISTS project_shares (
		dataset_id TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		granted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at TIMESTAMPTZ,
		PRIMARY KEY (dataset_id, project_id)
	)`,

	// Stats change notifications. Listeners refresh index status without
	// polling. Datasets carry their id directly; every other stats-bearing
	// table references it as dataset_id.
	`CREATE OR REPLACE FUNCTION notify_stats_updates() RETURNS trigger AS $$
	DECLARE
		rec RECORD;
		ds TEXT;
	BEGIN
		IF TG_OP = 'DELETE' THEN
			rec := OLD;
		ELSE
			rec := NEW;
		END IF;
		IF TG_TABLE_NAME = 'datasets' THEN
			ds := rec.id;
		ELSE
			ds := rec.dataset_id;
		END IF;
		PERFORM pg_notify('stats_updates', json_build_object(
			'table', TG_TABLE_NAME,
			'op', TG_OP,
			'timestamp', now(),
			'dataset_id', ds
		)::text);
		RETURN NULL;
	END;
	$$ LANGUAGE plpgsql`,

	`DROP TRIGGER IF EXISTS datasets_stats ON datasets`,
	`CREATE TRIGGER datasets_stats
		AFTER INSERT OR UPDATE OR DELETE ON datasets
		FOR EACH ROW EXECUTE FUNCTION notify_stats_updates()`,

	`DROP TRIGGER IF EXISTS indexed_files_stats ON indexed_files`,
	`CREATE TRIGGER indexed_files_stats
		AFTER INSERT OR UPDATE OR DELETE ON indexed_files
		FOR EACH ROW EXECUTE FUNCTION notify_stats_updates()`,

	`DROP TRIGGER IF EXISTS web_pages_stats ON web_pages`,
	`CREATE TRIGGER web_pages_stats
		AFTER INSERT OR UPDATE OR DELETE ON web_pages
		FOR EACH ROW EXECUTE FUNCTION notify_stats_updates()`,

	`DROP TRIGGER IF EXISTS dataset_collections_stats ON dataset_collections`,
	`CREATE TRIGGER dataset_collections_stats
		AFTER INSERT OR UPDATE OR DELETE ON dataset_collections
		FOR EACH ROW EXECUTE FUNCTION notify_stats_updates()`,
}

// Init creates tables, indexes and triggers. Every statement is
// idempotent, so Init is safe to run on every start.
func (s *Store) Init(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Store.Init")
	defer span.End()

	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}

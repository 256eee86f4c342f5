// Package metastore is the PostgreSQL gateway for indexing metadata.
//
// It tracks projects, datasets, their vector-store collection records,
// per-file index state and crawled pages, plus cross-project dataset
// shares. Identifiers are deterministic UUIDv5 values derived from names,
// so get-or-create operations are plain idempotent upserts.
//
// Stats-bearing tables carry triggers that post on the `stats_updates`
// NOTIFY channel, letting interested processes refresh cached status
// without polling.
package metastore

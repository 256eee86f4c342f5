// Package scope resolves visibility scopes to canonical collection names
// and accessible dataset sets.
//
// Three scope levels exist:
//
//   - Global: knowledge shared across every project, stored in the
//     "global_knowledge" collection.
//   - Project: everything owned by one project.
//   - Local: a single dataset within a project (the default for ingest).
//
// Collection names are a pure function of the scope:
//
//	global  -> global_knowledge
//	project -> project_{sanitize(project)}
//	local   -> project_{sanitize(project)}_dataset_{sanitize(dataset)}
//
// The sanitizer lowercases, collapses non-alphanumeric runs into a single
// underscore and trims leading/trailing underscores. It is idempotent.
package scope

// Package dataset expands user-supplied dataset selectors into concrete
// dataset-name sets.
//
// A selector is a list of tokens. Each token is resolved against the set of
// dataset names the caller can access, in precedence order:
//
//  1. empty selector        -> every available dataset
//  2. "*"                   -> every available dataset (short-circuit)
//  3. semantic alias        -> fixed pattern set (env:prod, src:docs, ...)
//  4. glob ("*", "?", "[]") -> pattern match against available names
//  5. exact name            -> kept if present, silently dropped otherwise
//
// Results preserve selector order, deduplicate by first occurrence and are
// always a subset of the available set. Resolution never memoizes across
// calls because the available set changes between them.
package dataset

package dataset

import (
	"regexp"
	"sort"
	"strings"
)

// patternAliases maps each semantic alias to the glob patterns it expands
// to. The expansions are fixed; ver:* aliases are computed in version.go.
var patternAliases = map[string][]string{
	"env:dev":     {"*-dev", "*-development", "*-staging", "dev-*", "development-*", "staging-*"},
	"env:prod":    {"*-prod", "*-production", "*-live", "prod-*", "production-*", "live-*"},
	"env:test":    {"*-test", "*-testing", "*-qa", "test-*", "testing-*", "qa-*"},
	"env:staging": {"*-staging", "*-stage", "staging-*", "stage-*"},

	"src:code":     {"local", "github-*", "gitlab-*", "bitbucket-*"},
	"src:docs":     {"docs", "documentation", "*-docs", "wiki", "*-wiki", "readme", "*-readme"},
	"src:api":      {"api-*", "*-api", "api-docs", "api-ref", "swagger", "openapi"},
	"src:web":      {"crawl-*", "web-*", "*-crawl", "*-web", "site-*"},
	"src:db":       {"db-*", "*-db", "database-*", "*-database", "sql-*"},
	"src:external": {"external-*", "third-party-*", "vendor-*", "integration-*"},

	"branch:main":    {"*-main", "*-master", "main-*", "master-*", "main", "master"},
	"branch:feature": {"*-feature-*", "feature-*", "*-feat-*", "feat-*"},
	"branch:hotfix":  {"*-hotfix-*", "hotfix-*", "*-patch-*", "patch-*"},
	"branch:release": {"*-release-*", "release-*", "*-rel-*", "rel-*"},
}

// unstableMarkers identify pre-release dataset names for the ver:* aliases.
var unstableMarkers = []string{"alpha", "beta", "rc", "dev"}

// functionAliases are aliases computed over the available set rather than
// expanded to patterns.
var functionAliases = map[string]func(available []string) []string{
	"ver:latest":   latestStableVersions,
	"ver:stable":   stableVersions,
	"ver:unstable": unstableVersions,
}

// KnownAliases returns every semantic alias name, sorted.
func KnownAliases() []string {
	out := make([]string, 0, len(patternAliases)+len(functionAliases))
	for a := range patternAliases {
		out = append(out, a)
	}
	for a := range functionAliases {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// IsAlias reports whether token names a semantic alias.
func IsAlias(token string) bool {
	if _, ok := patternAliases[token]; ok {
		return true
	}
	_, ok := functionAliases[token]
	return ok
}

func containsUnstableMarker(name string) bool {
	lower := strings.ToLower(name)
	for _, m := range unstableMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func stableVersions(available []string) []string {
	var out []string
	for _, name := range available {
		if !containsUnstableMarker(name) {
			out = append(out, name)
		}
	}
	return out
}

func unstableVersions(available []string) []string {
	var out []string
	for _, name := range available {
		if containsUnstableMarker(name) {
			out = append(out, name)
		}
	}
	return out
}

// versionSuffix matches a trailing -vN[.M[.P]] version marker.
var versionSuffix = regexp.MustCompile(`^(.*)-v(\d+(?:\.\d+){0,2})$`)

// latestStableVersions keeps, per dataset family, the member with the
// lexicographically-highest stable version suffix. A family is the name
// with its trailing -vN[.M[.P]] stripped; names without a version suffix
// are not versioned and are not part of any family.
//
// Ordering is lexical on the suffix, not semantic-version aware: v10 sorts
// below v2 unless versions are zero-padded.
func latestStableVersions(available []string) []string {
	type member struct {
		name    string
		version string
	}
	best := make(map[string]member)
	var familyOrder []string

	for _, name := range available {
		m := versionSuffix.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		if containsUnstableMarker(name) {
			continue
		}
		family, version := m[1], m[2]
		cur, ok := best[family]
		if !ok {
			familyOrder = append(familyOrder, family)
			best[family] = member{name: name, version: version}
			continue
		}
		if version > cur.version {
			best[family] = member{name: name, version: version}
		}
	}

	out := make([]string, 0, len(familyOrder))
	for _, f := range familyOrder {
		out = append(out, best[f].name)
	}
	return out
}

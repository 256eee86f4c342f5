// Package ignore provides gitignore-style exclusion patterns for tree walks.
package ignore

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultPatterns exclude build artifacts, VCS metadata and caches that are
// never worth indexing.
var DefaultPatterns = []string{
	"**/.git/**", "**/.svn/**", "**/.hg/**",
	"**/node_modules/**", "**/vendor/**", "**/target/**",
	"**/dist/**", "**/build/**", "**/__pycache__/**",
	"**/.venv/**", "**/venv/**", "**/.cache/**",
	"**/.idea/**", "**/.vscode/**", "**/.next/**",
	"**/*.min.js", "**/*.lock", "**/*.log",
}

// Parser collects exclusion patterns for a project tree. Patterns are merged
// from built-in defaults, every ".*ignore" file discovered in the tree
// (.gitignore, .dockerignore, .fathomignore, ...) and an optional global
// pattern list.
type Parser struct {
	// GlobalPatterns are appended to every parse result.
	GlobalPatterns []string

	// MaxDepth bounds how deep ignore-file discovery descends. Zero means
	// unbounded.
	MaxDepth int
}

// NewParser creates a parser with the given global patterns.
func NewParser(globalPatterns []string) *Parser {
	return &Parser{GlobalPatterns: globalPatterns}
}

// ParseTree walks the tree rooted at root, reads every ignore file it finds
// and returns the merged, deduplicated pattern set (defaults first, then
// discovered, then global).
func (p *Parser) ParseTree(root string) ([]string, error) {
	patterns := append([]string(nil), DefaultPatterns...)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if p.MaxDepth > 0 {
				rel, relErr := filepath.Rel(root, path)
				if relErr == nil && rel != "." && strings.Count(rel, string(filepath.Separator))+1 > p.MaxDepth {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if !isIgnoreFile(d.Name()) {
			return nil
		}
		filePatterns, parseErr := parseFile(path)
		if parseErr != nil {
			return nil
		}
		patterns = append(patterns, filePatterns...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	patterns = append(patterns, p.GlobalPatterns...)
	return deduplicate(patterns), nil
}

// isIgnoreFile matches dotfiles ending in "ignore" (.gitignore and friends).
func isIgnoreFile(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, "ignore")
}

func parseFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if pattern := parseLine(scanner.Text()); pattern != "" {
			patterns = append(patterns, pattern)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

// parseLine parses one gitignore line into a glob pattern. Comments, blank
// lines and negations yield the empty string; negations are unsupported.
func parseLine(line string) string {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return ""
	}
	return toGlobPattern(line)
}

// toGlobPattern converts a gitignore pattern to a doublestar-style glob.
func toGlobPattern(pattern string) string {
	// A leading slash anchors to the tree root.
	pattern = strings.TrimPrefix(pattern, "/")

	// Trailing slash marks a directory: match everything inside it.
	if strings.HasSuffix(pattern, "/") {
		pattern += "**"
	}

	// A bare name matches at any depth.
	if !strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "**/") {
		pattern = "**/" + pattern
	}

	return pattern
}

func deduplicate(patterns []string) []string {
	seen := make(map[string]bool, len(patterns))
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// Match reports whether relPath (slash-separated) matches the glob pattern.
// Supported forms: "**/" prefix (any depth), "/**" suffix (whole subtree),
// and filepath.Match syntax for the remainder.
func Match(pattern, relPath string) bool {
	relPath = filepath.ToSlash(relPath)

	// **/foo/** matches any path containing the segment.
	if strings.HasPrefix(pattern, "**/") && strings.HasSuffix(pattern, "/**") {
		segment := strings.TrimSuffix(strings.TrimPrefix(pattern, "**/"), "/**")
		for _, part := range strings.Split(relPath, "/") {
			if ok, _ := filepath.Match(segment, part); ok {
				return true
			}
		}
		return false
	}

	// **/name matches the basename at any depth.
	if strings.HasPrefix(pattern, "**/") {
		base := strings.TrimPrefix(pattern, "**/")
		if ok, _ := filepath.Match(base, filepath.Base(relPath)); ok {
			return true
		}
		ok, _ := filepath.Match(base, relPath)
		return ok
	}

	// prefix/** matches the whole subtree under prefix.
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return relPath == prefix || strings.HasPrefix(relPath, prefix+"/")
	}

	ok, _ := filepath.Match(pattern, relPath)
	return ok
}

// MatchAny reports whether relPath matches any pattern in the set.
func MatchAny(patterns []string, relPath string) bool {
	for _, p := range patterns {
		if Match(p, relPath) {
			return true
		}
	}
	return false
}

package dataset

import (
	"fmt"
	"regexp"
	"strings"
)

// Diagnostics explains an empty resolution so the caller can format a
// helpful message.
type Diagnostics struct {
	// Reason is a one-line explanation of why nothing matched.
	Reason string `json:"reason"`

	// DidYouMean lists semantic aliases close to the unmatched tokens.
	DidYouMean []string `json:"did_you_mean,omitempty"`

	// Examples holds up to five names from the available set.
	Examples []string `json:"examples,omitempty"`
}

// Resolution is the outcome of expanding a selector.
type Resolution struct {
	// Datasets is the ordered, deduplicated result, always a subset of the
	// available set.
	Datasets []string

	// Diagnostics is set only when Datasets is empty.
	Diagnostics *Diagnostics
}

// Resolve expands selector tokens against the available dataset names.
// A nil or empty selector selects everything. See the package doc for the
// per-token precedence rules.
func Resolve(selector, available []string) Resolution {
	if len(selector) == 0 {
		return Resolution{Datasets: append([]string(nil), available...)}
	}

	seen := make(map[string]bool, len(available))
	var out []string
	add := func(names []string) {
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}

	for _, token := range selector {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if token == "*" {
			return Resolution{Datasets: append([]string(nil), available...)}
		}
		add(resolveToken(token, available))
	}

	if len(out) == 0 {
		return Resolution{Diagnostics: diagnose(selector, available)}
	}
	return Resolution{Datasets: out}
}

// resolveToken expands a single token to the available names it selects.
func resolveToken(token string, available []string) []string {
	if fn, ok := functionAliases[token]; ok {
		return fn(available)
	}
	if patterns, ok := patternAliases[token]; ok {
		var out []string
		for _, p := range patterns {
			out = append(out, resolveToken(p, available)...)
		}
		return out
	}
	if strings.ContainsAny(token, "*?[") {
		return globMatch(token, available)
	}
	for _, name := range available {
		if name == token {
			return []string{name}
		}
	}
	return nil
}

// globMatch matches a glob token ("*", "?" and "[...]" ranges) against the
// available names. The token is translated to an anchored regexp with all
// other metacharacters escaped; an invalid pattern matches nothing.
func globMatch(token string, available []string) []string {
	re, err := compileGlob(token)
	if err != nil {
		return nil
	}
	var out []string
	for _, name := range available {
		if re.MatchString(name) {
			out = append(out, name)
		}
	}
	return out
}

func compileGlob(token string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(token); i++ {
		switch c := token[i]; c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '[':
			// Carry character ranges through verbatim up to the closing
			// bracket; an unterminated range is treated literally.
			end := strings.IndexByte(token[i:], ']')
			if end < 0 {
				b.WriteString(regexp.QuoteMeta(string(c)))
				continue
			}
			b.WriteString(token[i : i+end+1])
			i += end
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// diagnose builds the empty-result triplet: reason, near-miss aliases and a
// sample of the available names.
func diagnose(selector, available []string) *Diagnostics {
	d := &Diagnostics{}

	if len(available) == 0 {
		d.Reason = "no datasets are available in this scope"
		return d
	}

	d.Reason = fmt.Sprintf("selector %v matched none of the %d available datasets", selector, len(available))

	for _, token := range selector {
		if strings.Contains(token, ":") && !IsAlias(token) {
			prefix, _, _ := strings.Cut(token, ":")
			for _, alias := range KnownAliases() {
				if strings.HasPrefix(alias, prefix+":") {
					d.DidYouMean = append(d.DidYouMean, alias)
				}
			}
		}
	}

	limit := 5
	if len(available) < limit {
		limit = len(available)
	}
	d.Examples = append(d.Examples, available[:limit]...)

	return d
}

package reranker

import (
	"context"
	"sort"
	"strings"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "he": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "that": {}, "the": {}, "to": {},
	"was": {}, "were": {}, "will": {}, "with": {},
}

// Lexical reranks by term overlap between the query and each candidate.
// It is the fallback when no cross-encoder endpoint is configured; the
// final score blends overlap with the retrieval score so vector ranking
// still breaks ties.
type Lexical struct{}

// NewLexical creates the term-overlap reranker.
func NewLexical() *Lexical { return &Lexical{} }

// Rerank scores candidates by query-term overlap blended 50/50 with the
// retrieval score.
func (l *Lexical) Rerank(_ context.Context, query string, candidates []Candidate, topK int) ([]Ranked, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	queryTerms := tokenize(query)
	ranked := make([]Ranked, len(candidates))
	for i, c := range candidates {
		overlap := termOverlap(queryTerms, tokenize(c.Text))
		ranked[i] = Ranked{
			Candidate:    c,
			RerankScore:  0.5*overlap + 0.5*c.Score,
			OriginalRank: i,
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].RerankScore > ranked[j].RerankScore })
	return trim(ranked, topK), nil
}

// tokenize lowercases, splits on non-alphanumerics, and drops stopwords
// and single characters.
func tokenize(s string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, field := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if len(field) < 2 {
			continue
		}
		if _, stop := stopwords[field]; stop {
			continue
		}
		terms[field] = struct{}{}
	}
	return terms
}

// termOverlap is the fraction of query terms present in the document.
func termOverlap(query, doc map[string]struct{}) float32 {
	if len(query) == 0 {
		return 0
	}
	matched := 0
	for term := range query {
		if _, ok := doc[term]; ok {
			matched++
		}
	}
	return float32(matched) / float32(len(query))
}

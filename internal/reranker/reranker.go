// Package reranker re-scores search candidates against the query text.
//
// The primary implementation calls a TEI cross-encoder (POST /rerank); the
// lexical implementation is the dependency-free fallback used when no
// rerank endpoint is configured. Both return candidates sorted by the new
// score, trimmed to topK.
package reranker

import (
	"context"
	"errors"
)

// ErrRerankFailed indicates the rerank backend failed.
var ErrRerankFailed = errors.New("rerank failed")

// Candidate is one document going into reranking.
type Candidate struct {
	ID    string
	Text  string
	Score float32 // retrieval score, kept for blended fallbacks
}

// Ranked is one reranked candidate.
type Ranked struct {
	Candidate
	RerankScore  float32
	OriginalRank int
}

// Reranker re-orders candidates by relevance to the query.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Ranked, error)
}

func trim(ranked []Ranked, topK int) []Ranked {
	if topK > 0 && len(ranked) > topK {
		return ranked[:topK]
	}
	return ranked
}

package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

// TEIConfig configures the cross-encoder endpoint.
type TEIConfig struct {
	// BaseURL is the rerank service base URL.
	BaseURL string

	// TextMaxChars truncates candidate texts before sending. Zero means
	// 4000.
	TextMaxChars int

	// Timeout bounds each HTTP request. Zero means 15s.
	Timeout time.Duration
}

// ApplyDefaults fills unset fields.
func (c *TEIConfig) ApplyDefaults() {
	if c.TextMaxChars == 0 {
		c.TextMaxChars = 4000
	}
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Second
	}
}

// TEI reranks through a text-embeddings-inference cross-encoder.
type TEI struct {
	config TEIConfig
	client *http.Client
}

// NewTEI creates a cross-encoder client.
func NewTEI(config TEIConfig) (*TEI, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrRerankFailed)
	}
	config.ApplyDefaults()
	return &TEI{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}, nil
}

type rerankRequest struct {
	Query    string   `json:"query"`
	Texts    []string `json:"texts"`
	Truncate bool     `json:"truncate"`
}

type rerankHit struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// Rerank scores every candidate against the query and returns them sorted
// by cross-encoder score.
func (t *TEI) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Ranked, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = truncate(c.Text, t.config.TextMaxChars)
	}

	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.BaseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRerankFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrRerankFailed, resp.StatusCode, string(respBody))
	}

	var hits []rerankHit
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	ranked := make([]Ranked, 0, len(hits))
	for _, hit := range hits {
		if hit.Index < 0 || hit.Index >= len(candidates) {
			return nil, fmt.Errorf("%w: index %d out of range", ErrRerankFailed, hit.Index)
		}
		ranked = append(ranked, Ranked{
			Candidate:    candidates[hit.Index],
			RerankScore:  hit.Score,
			OriginalRank: hit.Index,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].RerankScore > ranked[j].RerankScore })
	return trim(ranked, topK), nil
}

// truncate cuts s at max bytes without splitting a UTF-8 sequence.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}

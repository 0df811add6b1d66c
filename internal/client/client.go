package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"rerankctl/internal/config"
	"rerankctl/pkg/types"
)

// DefaultTimeout is the per-request deadline when none is configured.
const DefaultTimeout = 30 * time.Second

// Config identifies the target service and the per-request deadline.
type Config struct {
	// BaseURL is the API root, e.g. http://127.0.0.1:11438/v1
	BaseURL string
	// Model is the served model name sent with score requests.
	Model string
	// Timeout caps each request. Zero means DefaultTimeout.
	Timeout time.Duration
}

// RankedDoc is one rerank result: the document's original input index, its
// text, its relevance score, and its 1-based rank position.
type RankedDoc struct {
	Index    int
	Document string
	Score    float64
	Rank     int
}

// Client talks to the reranker service over one long-lived HTTP connection
// pool. It is safe for concurrent use and holds no mutable state beyond
// the reusable transport.
type Client struct {
	cfg Config
	hc  *http.Client
}

// New builds a Client. The underlying http.Client has no global timeout;
// every request carries a context deadline instead.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, hc: &http.Client{Timeout: 0}}
}

// FromService builds a Client targeting the configured service instance.
func FromService(sc config.ServiceConfig, timeout time.Duration) *Client {
	return New(Config{BaseURL: sc.BaseURL(), Model: sc.ServedModelName, Timeout: timeout})
}

// Score returns one relevance score per document, in input order. The
// scoring endpoint never reorders; a response that does not cover every
// input index exactly once is rejected as a ResponseError.
func (c *Client) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	if len(documents) == 0 {
		return nil, &RequestError{Reason: "documents must not be empty"}
	}
	var resp types.ScoreResponse
	url := c.cfg.BaseURL + "/score"
	err := c.postJSON(ctx, url, types.ScoreRequest{
		Model: c.cfg.Model,
		Text1: query,
		Text2: documents,
	}, &resp)
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(documents) {
		return nil, &ResponseError{URL: url,
			Reason: fmt.Sprintf("got %d scores for %d documents", len(resp.Data), len(documents))}
	}
	scores := make([]float64, len(documents))
	seen := make([]bool, len(documents))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(documents) || seen[item.Index] {
			return nil, &ResponseError{URL: url,
				Reason: fmt.Sprintf("bad or duplicate index %d", item.Index)}
		}
		seen[item.Index] = true
		scores[item.Index] = item.Score
	}
	return scores, nil
}

// Rerank asks the service to sort documents by relevance to query and
// returns at most min(topN, len(documents)) results, strictly descending
// by score with ties broken by ascending input index. topN == 0 means no
// limit; a negative topN is rejected.
func (c *Client) Rerank(ctx context.Context, query string, documents []string, topN int) ([]RankedDoc, error) {
	if len(documents) == 0 {
		return nil, &RequestError{Reason: "documents must not be empty"}
	}
	if topN < 0 {
		return nil, &RequestError{Reason: fmt.Sprintf("top_n must be positive, got %d", topN)}
	}

	req := types.RerankRequest{
		Model:     c.cfg.Model,
		Query:     query,
		Documents: documents,
	}
	if topN > 0 {
		n := topN
		req.TopN = &n
	}
	var resp types.RerankResponse
	url := c.cfg.BaseURL + "/rerank"
	if err := c.postJSON(ctx, url, req, &resp); err != nil {
		return nil, err
	}

	out := make([]RankedDoc, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			return nil, &ResponseError{URL: url,
				Reason: fmt.Sprintf("result index %d out of range", r.Index)}
		}
		doc := r.Document.Text
		if doc == "" {
			doc = documents[r.Index]
		}
		out = append(out, RankedDoc{Index: r.Index, Document: doc, Score: r.RelevanceScore})
	}
	// The server sorts, but the tie policy must be deterministic on our
	// side regardless of server version.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Index < out[j].Index
	})
	limit := len(documents)
	if topN > 0 && topN < limit {
		limit = topN
	}
	if len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

// postJSON serializes payload, POSTs it under the configured deadline and
// decodes the response into dst, mapping failures onto the error taxonomy.
func (c *Client) postJSON(ctx context.Context, url string, payload, dst any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &RequestError{Reason: err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &RequestError{Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return &TimeoutError{URL: url, Timeout: c.cfg.Timeout}
		}
		return fmt.Errorf("client: %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// keep the server's error text, it is very helpful for schema issues
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &ResponseError{URL: url, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(ctx, err) {
			return &TimeoutError{URL: url, Timeout: c.cfg.Timeout}
		}
		return &ResponseError{URL: url, Reason: err.Error()}
	}
	if err := json.Unmarshal(b, dst); err != nil {
		excerpt := string(b)
		if len(excerpt) > 500 {
			excerpt = excerpt[:500]
		}
		return &ResponseError{URL: url, Reason: "unparseable JSON", Body: excerpt}
	}
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

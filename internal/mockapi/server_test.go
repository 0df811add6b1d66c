package mockapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"rerankctl/internal/client"
)

func newMock(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(NewRouter(zerolog.Nop()))
	t.Cleanup(ts.Close)
	return ts
}

func TestScoreEndToEnd(t *testing.T) {
	ts := newMock(t)
	c := client.New(client.Config{BaseURL: ts.URL + "/v1", Model: "mock-reranker"})

	docs := []string{
		"Shanghai is a large city in China.",
		"The capital of China is Beijing.",
		"My best city is Beijing.",
	}
	scores, err := c.Score(context.Background(), "What is the capital of China?", docs)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if len(scores) != len(docs) {
		t.Fatalf("got %d scores for %d documents", len(scores), len(docs))
	}
	// the direct answer should outscore the unrelated sentence
	if scores[1] <= scores[2] {
		t.Fatalf("expected doc1 (%v) to outscore doc2 (%v)", scores[1], scores[2])
	}
}

func TestRerankEndToEnd(t *testing.T) {
	ts := newMock(t)
	c := client.New(client.Config{BaseURL: ts.URL + "/v1", Model: "mock-reranker"})

	docs := []string{
		"Shanghai is a large city in China.",
		"The capital of China is Beijing.",
	}
	ranked, err := c.Rerank(context.Background(), "What is the capital of China?", docs, 2)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected 2 results, got %d", len(ranked))
	}
	if ranked[0].Index != 1 {
		t.Fatalf("expected the capital sentence first, got %+v", ranked)
	}
	for i := 1; i < len(ranked); i++ {
		if ranked[i].Score > ranked[i-1].Score {
			t.Fatalf("results not sorted descending: %+v", ranked)
		}
	}
}

func TestRerankTruncation(t *testing.T) {
	ts := newMock(t)
	c := client.New(client.Config{BaseURL: ts.URL + "/v1"})
	docs := []string{"china beijing capital", "beijing", "shanghai", "unrelated words here"}
	ranked, err := c.Rerank(context.Background(), "capital of china", docs, 2)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("top_n=2 returned %d results", len(ranked))
	}
}

func TestBadRequests(t *testing.T) {
	ts := newMock(t)
	for _, tc := range []struct {
		path, body string
	}{
		{"/v1/score", `{"model":"m","text_1":"q","text_2":[]}`},
		{"/v1/rerank", `{"query":"q","documents":[]}`},
		{"/v1/rerank", `{"query":"q","documents":["d"],"top_n":0}`},
		{"/v1/score", `not json`},
	} {
		resp, err := http.Post(ts.URL+tc.path, "application/json", strings.NewReader(tc.body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s with %q: status %d, want 400", tc.path, tc.body, resp.StatusCode)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newMock(t)
	for _, path := range []string{"/healthz", "/v1/models", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s returned %d", path, resp.StatusCode)
		}
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0", zerolog.Nop()) }()
	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRelevanceDeterministic(t *testing.T) {
	a := relevance("capital of china", "the capital of china is beijing")
	b := relevance("capital of china", "the capital of china is beijing")
	if a != b {
		t.Fatalf("relevance not deterministic: %v vs %v", a, b)
	}
	if a <= relevance("capital of china", "completely unrelated text") {
		t.Fatalf("overlapping text must score higher")
	}
}

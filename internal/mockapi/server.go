// Package mockapi is a deterministic stand-in for the vLLM scoring
// endpoints, for development and testing on hosts without accelerators.
// Scores are token-overlap based so orderings are stable across runs.
package mockapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"rerankctl/pkg/types"
)

// NewRouter builds the mock service handler: /v1/score, /v1/rerank,
// /healthz, /v1/models and /metrics.
func NewRouter(log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))
	r.Use(metricsMiddleware)
	r.Use(requestLogger(log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/v1/models", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"object": "list",
			"data":   []map[string]string{{"id": "mock-reranker", "object": "model"}},
		})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/v1/score", handleScore)
	r.Post("/v1/rerank", handleRerank)
	return r
}

// Serve runs the mock service until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: NewRouter(log)}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("mock reranker listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, status: 200}
			next.ServeHTTP(sr, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sr.status).
				Dur("dur", time.Since(start)).
				Msg("request")
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, types.ErrorResponse{Error: msg, Code: code})
}

func handleScore(w http.ResponseWriter, r *http.Request) {
	var req types.ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Text2) == 0 {
		writeError(w, http.StatusBadRequest, "text_2 must not be empty")
		return
	}
	resp := types.ScoreResponse{ID: "score-mock"}
	for i, doc := range req.Text2 {
		resp.Data = append(resp.Data, types.ScoreItem{Index: i, Score: relevance(req.Text1, doc)})
		resp.Usage.TotalTokens += len(strings.Fields(doc))
	}
	writeJSON(w, http.StatusOK, resp)
}

func handleRerank(w http.ResponseWriter, r *http.Request) {
	var req types.RerankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "documents must not be empty")
		return
	}
	if req.TopN != nil && *req.TopN <= 0 {
		writeError(w, http.StatusBadRequest, "top_n must be positive")
		return
	}

	resp := types.RerankResponse{ID: "rerank-mock", Model: req.Model}
	for i, doc := range req.Documents {
		resp.Results = append(resp.Results, types.RerankEntry{
			Index:          i,
			Document:       types.DocumentText{Text: doc},
			RelevanceScore: relevance(req.Query, doc),
		})
		resp.Usage.TotalTokens += len(strings.Fields(doc))
	}
	sort.SliceStable(resp.Results, func(i, j int) bool {
		if resp.Results[i].RelevanceScore != resp.Results[j].RelevanceScore {
			return resp.Results[i].RelevanceScore > resp.Results[j].RelevanceScore
		}
		return resp.Results[i].Index < resp.Results[j].Index
	})
	if req.TopN != nil && *req.TopN < len(resp.Results) {
		resp.Results = resp.Results[:*req.TopN]
	}
	writeJSON(w, http.StatusOK, resp)
}

// relevance is a Jaccard overlap of lowercase tokens. Deterministic and
// order-independent; good enough to give tests meaningful rankings.
func relevance(query, doc string) float64 {
	q := tokenSet(query)
	d := tokenSet(doc)
	if len(q) == 0 || len(d) == 0 {
		return 0
	}
	inter := 0
	union := len(q)
	for tok := range d {
		if q[tok] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		out[strings.Trim(tok, ".,!?;:\"'()")] = true
	}
	return out
}

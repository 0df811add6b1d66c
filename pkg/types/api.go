package types

// Wire types for the vLLM OpenAI-compatible scoring endpoints.
// Field shapes follow the schemas the server actually returns, which differ
// between /v1/score (flat data array) and /v1/rerank (nested document).

// ScoreRequest is the payload for POST /v1/score.
type ScoreRequest struct {
	// Served model name. The server rejects requests for unknown models.
	Model string `json:"model"`
	// Query text compared against every entry of Text2.
	Text1 string `json:"text_1"`
	// Candidate documents, scored pairwise against Text1.
	Text2 []string `json:"text_2"`
}

// ScoreItem is one entry of the /v1/score response data array.
type ScoreItem struct {
	// Index into the request's Text2 list.
	Index int `json:"index"`
	// Relevance score; higher means more relevant.
	Score float64 `json:"score"`
}

// ScoreResponse is returned by POST /v1/score. Data carries one item per
// input document; the server does not sort.
type ScoreResponse struct {
	ID    string      `json:"id,omitempty"`
	Data  []ScoreItem `json:"data"`
	Usage Usage       `json:"usage"`
}

// RerankRequest is the payload for POST /v1/rerank.
type RerankRequest struct {
	// Optional served model name; empty lets the server pick its default.
	Model string `json:"model,omitempty"`
	// Query text the documents are ranked against.
	Query string `json:"query"`
	// Candidate documents in caller order.
	Documents []string `json:"documents"`
	// Optional cap on returned results. Nil returns all documents.
	TopN *int `json:"top_n,omitempty"`
}

// DocumentText wraps the document body in rerank results.
type DocumentText struct {
	Text string `json:"text"`
}

// RerankEntry is one ranked result from /v1/rerank.
type RerankEntry struct {
	// Index into the request's Documents list.
	Index int `json:"index"`
	// Echoed document body. May be empty on servers configured to omit it.
	Document DocumentText `json:"document"`
	// Relevance score; results arrive sorted descending by this value.
	RelevanceScore float64 `json:"relevance_score"`
}

// RerankResponse is returned by POST /v1/rerank, sorted by descending
// relevance and truncated to TopN when the request set it.
type RerankResponse struct {
	ID      string        `json:"id,omitempty"`
	Model   string        `json:"model,omitempty"`
	Results []RerankEntry `json:"results"`
	Usage   Usage         `json:"usage"`
}

// Usage reports token accounting for a request.
type Usage struct {
	TotalTokens int `json:"total_tokens"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

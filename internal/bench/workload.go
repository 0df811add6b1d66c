package bench

import "fmt"

// Workload supplies query/document pairs to workers. Implementations must
// be safe for concurrent use.
type Workload interface {
	Next() (query string, documents []string)
}

var baseDocs = []string{
	"Shanghai is a large city in China.",
	"The capital of China is Beijing.",
	"Guangzhou is a major city in southern China.",
	"China has a long history and rich culture.",
	"Beijing is known for the Forbidden City.",
}

// StaticWorkload hands out the same query and document set on every draw.
// Being immutable it needs no synchronization.
type StaticWorkload struct {
	Query     string
	Documents []string
}

func (w *StaticWorkload) Next() (string, []string) { return w.Query, w.Documents }

// Generated builds a deterministic workload of nDocs documents, cycling a
// small base corpus with unique suffixes so responses differ per document.
func Generated(nDocs int) *StaticWorkload {
	if nDocs <= 0 {
		nDocs = len(baseDocs)
	}
	docs := make([]string, nDocs)
	for i := range docs {
		docs[i] = fmt.Sprintf("%s (doc_id=%d)", baseDocs[i%len(baseDocs)], i)
	}
	return &StaticWorkload{Query: "What is the capital of China?", Documents: docs}
}

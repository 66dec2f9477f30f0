// File path: internal/store/types.go
package store

import (
	"context"
	"time"
)

// Chunk is the atomic retrievable unit: a bounded text segment with its
// embedding and provenance metadata. Text and embedding are immutable once
// created; re-ingesting a source overwrites chunks by their source-derived
// identifiers.
type Chunk struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
	Metadata  Metadata  `json:"metadata"`
}

// Metadata carries chunk provenance. Source identifies the origin document
// and drives cascade deletes; Sequence preserves original document order.
type Metadata struct {
	Source     string    `json:"source"`
	Sequence   int       `json:"sequence"`
	DocType    string    `json:"doc_type"`
	IngestedAt time.Time `json:"ingested_at"`
}

// ScoredChunk pairs a chunk with its retrieval score. Scores are
// monotonically decreasing within one result list.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// UpsertResult reports a batch write. Partial failures do not roll back
// successes; re-running ingestion is idempotent by chunk ID construction.
type UpsertResult struct {
	Indexed int      `json:"indexed"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// Store is the document store adapter contract. Implementations own chunk
// persistence exclusively; ranking policy lives in the fusion engine.
type Store interface {
	// Available reports whether the backend is reachable and ready.
	Available() bool
	// Dimension returns the vector dimension the index is configured for,
	// or zero when not yet fixed.
	Dimension() int
	// EnsureIndex prepares the backing index for vectors of the given
	// dimension. Calling it again with a different dimension fails with a
	// *DimensionMismatchError.
	EnsureIndex(ctx context.Context, dim int) error
	// Upsert writes chunks with at-least-once semantics.
	Upsert(ctx context.Context, chunks []Chunk) (UpsertResult, error)
	// DeleteBySource removes every chunk whose metadata source matches and
	// verifies the removal with a follow-up count.
	DeleteBySource(ctx context.Context, source string) (int, error)
	// Fetch returns the chunks with the given IDs. Unknown IDs are
	// silently skipped; order follows the input IDs.
	Fetch(ctx context.Context, ids []string) ([]Chunk, error)
	// VectorSearch runs nearest-neighbor search over stored embeddings.
	VectorSearch(ctx context.Context, vector []float32, k int) ([]ScoredChunk, error)
	// KeywordSearch runs full-text relevance search.
	KeywordSearch(ctx context.Context, query string, k int) ([]ScoredChunk, error)
}

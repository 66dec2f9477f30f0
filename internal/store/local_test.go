// File path: internal/store/local_test.go
package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func testChunk(id, source string, seq int, text string, embedding []float32) Chunk {
	return Chunk{
		ID:        id,
		Text:      text,
		Embedding: embedding,
		Metadata: Metadata{
			Source:     source,
			Sequence:   seq,
			DocType:    "note",
			IngestedAt: time.Now().UTC(),
		},
	}
}

func TestLocalUpsertAndVectorSearch(t *testing.T) {
	ctx := context.Background()
	local := NewLocal()
	if err := local.EnsureIndex(ctx, 3); err != nil {
		t.Fatalf("ensure index: %v", err)
	}
	chunks := []Chunk{
		testChunk("a", "doc1", 0, "green tea oxidation", []float32{1, 0, 0}),
		testChunk("b", "doc1", 1, "black tea rolling", []float32{0, 1, 0}),
		testChunk("c", "doc2", 0, "oolong partial oxidation", []float32{0.9, 0.1, 0}),
	}
	result, err := local.Upsert(ctx, chunks)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if result.Indexed != 3 || result.Failed != 0 {
		t.Fatalf("unexpected upsert result: %+v", result)
	}
	hits, err := local.VectorSearch(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Chunk.ID != "a" {
		t.Fatalf("expected chunk a first, got %s", hits[0].Chunk.ID)
	}
	if hits[1].Chunk.ID != "c" {
		t.Fatalf("expected chunk c second, got %s", hits[1].Chunk.ID)
	}
	if hits[0].Score < hits[1].Score {
		t.Fatalf("scores not descending: %f < %f", hits[0].Score, hits[1].Score)
	}
}

func TestLocalKeywordSearchRanksTermOverlap(t *testing.T) {
	ctx := context.Background()
	local := NewLocal()
	chunks := []Chunk{
		testChunk("a", "doc1", 0, "withering reduces leaf moisture before rolling", nil),
		testChunk("b", "doc2", 0, "fermentation tanks control humidity", nil),
		testChunk("c", "doc3", 0, "rolling shapes the withered leaf", nil),
	}
	if _, err := local.Upsert(ctx, chunks); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	hits, err := local.KeywordSearch(ctx, "withering leaf moisture", 3)
	if err != nil {
		t.Fatalf("keyword search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected keyword hits")
	}
	if hits[0].Chunk.ID != "a" {
		t.Fatalf("expected chunk a to rank first, got %s", hits[0].Chunk.ID)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i-1].Score < hits[i].Score {
			t.Fatalf("scores not descending at %d", i)
		}
	}
}

func TestLocalDeleteBySourceCascades(t *testing.T) {
	ctx := context.Background()
	local := NewLocal()
	chunks := []Chunk{
		testChunk("a", "doc1", 0, "first", nil),
		testChunk("b", "doc1", 1, "second", nil),
		testChunk("c", "doc2", 0, "third", nil),
	}
	if _, err := local.Upsert(ctx, chunks); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	deleted, err := local.DeleteBySource(ctx, "doc1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted, got %d", deleted)
	}
	fetched, err := local.Fetch(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(fetched) != 1 || fetched[0].ID != "c" {
		t.Fatalf("expected only chunk c to remain, got %+v", fetched)
	}
	// deleting an absent source is a no-op
	deleted, err = local.DeleteBySource(ctx, "doc1")
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected 0 deleted, got %d", deleted)
	}
}

func TestLocalDimensionLatch(t *testing.T) {
	ctx := context.Background()
	local := NewLocal()
	if err := local.EnsureIndex(ctx, 4); err != nil {
		t.Fatalf("ensure index: %v", err)
	}
	err := local.EnsureIndex(ctx, 8)
	var mismatch *DimensionMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
	if mismatch.Want != 4 || mismatch.Got != 8 {
		t.Fatalf("unexpected mismatch detail: %+v", mismatch)
	}
	if _, err := local.VectorSearch(ctx, []float32{1, 2}, 5); !errors.As(err, &mismatch) {
		t.Fatalf("expected mismatch on query vector, got %v", err)
	}
}

func TestLocalJournalRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chunks.jsonl")
	local, err := NewLocalWithJournal(path)
	if err != nil {
		t.Fatalf("create journaled store: %v", err)
	}
	chunks := []Chunk{
		testChunk("a", "doc1", 0, "persisted chunk", []float32{0.5, 0.5}),
	}
	if _, err := local.Upsert(ctx, chunks); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	restored, err := NewLocalWithJournal(path)
	if err != nil {
		t.Fatalf("reopen journaled store: %v", err)
	}
	fetched, err := restored.Fetch(ctx, []string{"a"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(fetched) != 1 || fetched[0].Text != "persisted chunk" {
		t.Fatalf("journal did not restore chunk: %+v", fetched)
	}
	if restored.Dimension() != 2 {
		t.Fatalf("expected dimension 2 after restore, got %d", restored.Dimension())
	}
}

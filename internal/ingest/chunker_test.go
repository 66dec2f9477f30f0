// File path: internal/ingest/chunker_test.go
package ingest

import (
	"strings"
	"testing"
)

func TestChunkerEmptyText(t *testing.T) {
	chunker := NewChunker(0, 0)
	chunks, err := chunker.Split("doc", "note", "   \n\t ")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks for blank text, got %d", len(chunks))
	}
}

func TestChunkerShortText(t *testing.T) {
	chunker := NewChunker(1024, 64)
	chunks, err := chunker.Split("doc", "note", "a single short paragraph about tea")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected one chunk, got %d", len(chunks))
	}
	if chunks[0].Metadata.Sequence != 0 {
		t.Fatalf("expected sequence 0, got %d", chunks[0].Metadata.Sequence)
	}
	if chunks[0].Metadata.Source != "doc" {
		t.Fatalf("unexpected source %q", chunks[0].Metadata.Source)
	}
}

func TestChunkerLongTextSequences(t *testing.T) {
	chunker := NewChunker(200, 20)
	var builder strings.Builder
	for i := 0; i < 40; i++ {
		builder.WriteString("Withering removes moisture from freshly plucked leaves.\n\n")
	}
	chunks, err := chunker.Split("doc", "note", builder.String())
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Metadata.Sequence != i {
			t.Fatalf("chunk %d has sequence %d", i, chunk.Metadata.Sequence)
		}
		if chunk.ID != ChunkID("doc", i) {
			t.Fatalf("chunk %d has non-derived id %q", i, chunk.ID)
		}
	}
}

func TestChunkIDDeterministic(t *testing.T) {
	if ChunkID("doc", 3) != ChunkID("doc", 3) {
		t.Fatal("chunk id not deterministic")
	}
	if ChunkID("doc", 3) == ChunkID("doc", 4) {
		t.Fatal("distinct sequences collided")
	}
	if ChunkID("doc-a", 0) == ChunkID("doc-b", 0) {
		t.Fatal("distinct sources collided")
	}
	// the separator prevents ambiguity between source and sequence
	if ChunkID("doc1", 1) == ChunkID("doc", 11) {
		t.Fatal("source/sequence boundary ambiguous")
	}
}

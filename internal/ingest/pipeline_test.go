// File path: internal/ingest/pipeline_test.go
package ingest

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oolong-labs/teaqa/internal/store"
)

type hashEmbedder struct {
	dim   int
	calls int64
}

func (h *hashEmbedder) Embed(ctx context.Context, input []string) ([][]float32, error) {
	atomic.AddInt64(&h.calls, 1)
	vectors := make([][]float32, len(input))
	for i, text := range input {
		vec := make([]float32, h.dim)
		for j, r := range text {
			vec[(j+int(r))%h.dim] += 1
		}
		vectors[i] = vec
	}
	return vectors, nil
}

type countingInvalidator struct {
	count int64
}

func (c *countingInvalidator) Invalidate() {
	atomic.AddInt64(&c.count, 1)
}

type recordingCatalog struct {
	recorded map[string]int
	removed  []string
}

func (r *recordingCatalog) RecordSource(ctx context.Context, source, docType string, chunkCount int, ingestedAt time.Time) error {
	if r.recorded == nil {
		r.recorded = make(map[string]int)
	}
	r.recorded[source] = chunkCount
	return nil
}

func (r *recordingCatalog) RemoveSource(ctx context.Context, source string) error {
	r.removed = append(r.removed, source)
	return nil
}

func TestPipelineIngestIndexesChunks(t *testing.T) {
	ctx := context.Background()
	local := store.NewLocal()
	embedder := &hashEmbedder{dim: 16}
	invalidator := &countingInvalidator{}
	cat := &recordingCatalog{}
	pipeline := NewPipeline(NewChunker(256, 32), embedder, local,
		WithWorkers(2),
		WithInvalidator(invalidator),
		WithRecorder(cat),
	)

	report, err := pipeline.Ingest(ctx, Document{
		Source:  "notes.md",
		DocType: "note",
		Text:    "Green tea is pan fired to halt oxidation. Black tea is fully oxidized before drying.",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if report.Chunks == 0 || report.Indexed != report.Chunks || report.Failed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if local.Dimension() != 16 {
		t.Fatalf("expected index dimension 16, got %d", local.Dimension())
	}
	if atomic.LoadInt64(&invalidator.count) != 1 {
		t.Fatalf("expected one cache invalidation, got %d", invalidator.count)
	}
	if cat.recorded["notes.md"] != report.Indexed {
		t.Fatalf("catalog recorded %d chunks, want %d", cat.recorded["notes.md"], report.Indexed)
	}
}

func TestPipelineReingestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	local := store.NewLocal()
	pipeline := NewPipeline(NewChunker(256, 32), &hashEmbedder{dim: 8}, local)

	doc := Document{Source: "doc.md", DocType: "note", Text: "Oolong sits between green and black tea in oxidation."}
	first, err := pipeline.Ingest(ctx, doc)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	second, err := pipeline.Ingest(ctx, doc)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if first.Chunks != second.Chunks {
		t.Fatalf("chunk counts differ: %d vs %d", first.Chunks, second.Chunks)
	}
	hits, err := local.KeywordSearch(ctx, "oolong oxidation", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != first.Chunks {
		t.Fatalf("expected %d chunks after re-ingest, got %d", first.Chunks, len(hits))
	}
}

func TestPipelineReingestShrinkDropsStaleChunks(t *testing.T) {
	ctx := context.Background()
	local := store.NewLocal()
	pipeline := NewPipeline(NewChunker(64, 0), &hashEmbedder{dim: 8}, local)

	long := "Withering reduces moisture content. Rolling bruises the leaf. " +
		"Oxidation develops color and aroma. Firing locks in the final flavor profile."
	first, err := pipeline.Ingest(ctx, Document{Source: "doc.md", Text: long})
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if first.Chunks < 2 {
		t.Fatalf("expected multiple chunks from long text, got %d", first.Chunks)
	}

	second, err := pipeline.Ingest(ctx, Document{Source: "doc.md", Text: "Withering reduces moisture."})
	if err != nil {
		t.Fatalf("shrink re-ingest: %v", err)
	}
	hits, err := local.KeywordSearch(ctx, "withering rolling oxidation firing", 20)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != second.Chunks {
		t.Fatalf("stale chunks survive shrink: %d in store, want %d", len(hits), second.Chunks)
	}
}

func TestPipelineEmptyDocumentNoops(t *testing.T) {
	ctx := context.Background()
	local := store.NewLocal()
	embedder := &hashEmbedder{dim: 8}
	pipeline := NewPipeline(NewChunker(256, 32), embedder, local)

	report, err := pipeline.Ingest(ctx, Document{Source: "empty.md", Text: ""})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if report.Chunks != 0 || report.Indexed != 0 {
		t.Fatalf("expected empty report, got %+v", report)
	}
	if atomic.LoadInt64(&embedder.calls) != 0 {
		t.Fatal("embedder called for empty document")
	}
}

func TestPipelineDeleteSource(t *testing.T) {
	ctx := context.Background()
	local := store.NewLocal()
	invalidator := &countingInvalidator{}
	cat := &recordingCatalog{}
	pipeline := NewPipeline(NewChunker(256, 32), &hashEmbedder{dim: 8}, local,
		WithInvalidator(invalidator),
		WithRecorder(cat),
	)

	if _, err := pipeline.Ingest(ctx, Document{Source: "doc.md", Text: "Steeping time affects astringency."}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	removed, err := pipeline.DeleteSource(ctx, "doc.md")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed == 0 {
		t.Fatal("expected chunks removed")
	}
	if len(cat.removed) != 1 || cat.removed[0] != "doc.md" {
		t.Fatalf("catalog removal not recorded: %v", cat.removed)
	}
	if atomic.LoadInt64(&invalidator.count) != 2 {
		t.Fatalf("expected invalidation on ingest and delete, got %d", invalidator.count)
	}
}

func TestPipelineIngestAllTolerance(t *testing.T) {
	ctx := context.Background()
	local := store.NewLocal()
	pipeline := NewPipeline(NewChunker(256, 32), &hashEmbedder{dim: 8}, local)

	reports, err := pipeline.IngestAll(ctx, []Document{
		{Source: "a.md", Text: "First document about rolling."},
		{Source: "b.md", Text: ""},
		{Source: "c.md", Text: "Third document about firing."},
	})
	if err != nil {
		t.Fatalf("ingest all: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(reports))
	}
	if reports[1].Chunks != 0 {
		t.Fatalf("empty document produced chunks: %+v", reports[1])
	}
	if reports[0].Indexed == 0 || reports[2].Indexed == 0 {
		t.Fatalf("expected non-empty documents indexed: %+v", reports)
	}
}

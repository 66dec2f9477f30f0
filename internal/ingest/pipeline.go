// File path: internal/ingest/pipeline.go
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oolong-labs/teaqa/internal/common"
	"github.com/oolong-labs/teaqa/internal/common/telemetry"
	"github.com/oolong-labs/teaqa/internal/store"
)

const (
	defaultWorkers    = 4
	defaultEmbedBatch = 16
	defaultWriteBatch = 64
	defaultRetries    = 3
)

// Document is a raw ingestion input before chunking.
type Document struct {
	Source  string `json:"source"`
	DocType string `json:"doc_type"`
	Text    string `json:"text"`
}

// Report summarizes one document's trip through the pipeline.
type Report struct {
	Source   string   `json:"source"`
	Chunks   int      `json:"chunks"`
	Indexed  int      `json:"indexed"`
	Failed   int      `json:"failed"`
	Warnings []string `json:"warnings,omitempty"`
}

// Embedder produces one vector per input text. The embedding chain
// satisfies this.
type Embedder interface {
	Embed(ctx context.Context, input []string) ([][]float32, error)
}

// Recorder tracks ingested sources in the catalog.
type Recorder interface {
	RecordSource(ctx context.Context, source, docType string, chunkCount int, ingestedAt time.Time) error
	RemoveSource(ctx context.Context, source string) error
}

// Invalidator drops cached retrieval results after the corpus changes.
type Invalidator interface {
	Invalidate()
}

// GraphIndexer receives freshly ingested chunks for entity extraction. It
// is optional; a nil indexer skips graph maintenance.
type GraphIndexer interface {
	IndexChunks(ctx context.Context, chunks []store.Chunk) []string
	RemoveSource(source string)
}

// Pipeline drives chunking, embedding, and indexing for documents.
type Pipeline struct {
	chunker     *Chunker
	embedder    Embedder
	store       store.Store
	recorder    Recorder
	invalidator Invalidator
	graph       GraphIndexer

	workers    int
	embedBatch int
	writeBatch int
	retries    int
}

// PipelineOption customizes pipeline behavior.
type PipelineOption func(*Pipeline)

// WithWorkers bounds the number of concurrent embedding batches.
func WithWorkers(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithRecorder attaches a source catalog.
func WithRecorder(r Recorder) PipelineOption {
	return func(p *Pipeline) { p.recorder = r }
}

// WithInvalidator attaches a retrieval cache to drop on corpus changes.
func WithInvalidator(inv Invalidator) PipelineOption {
	return func(p *Pipeline) { p.invalidator = inv }
}

// WithGraphIndexer attaches the entity graph builder.
func WithGraphIndexer(g GraphIndexer) PipelineOption {
	return func(p *Pipeline) { p.graph = g }
}

// NewPipeline wires a pipeline over the given chunker, embedder, and store.
func NewPipeline(chunker *Chunker, embedder Embedder, st store.Store, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		chunker:    chunker,
		embedder:   embedder,
		store:      st,
		workers:    defaultWorkers,
		embedBatch: defaultEmbedBatch,
		writeBatch: defaultWriteBatch,
		retries:    defaultRetries,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest chunks, embeds, and indexes a single document. Any previous
// version of the source is cleared first so a shrinking document leaves
// no stale chunks behind. Partial indexing failures are reported, not
// fatal; embedding or store unavailability is.
func (p *Pipeline) Ingest(ctx context.Context, doc Document) (Report, error) {
	logger := common.Logger()
	report := Report{Source: doc.Source}

	// Cached retrieval results must be dropped on any partially applied
	// mutation, not just on the success path.
	mutated := false
	defer func() {
		if mutated && p.invalidator != nil {
			p.invalidator.Invalidate()
		}
	}()

	chunks, err := p.chunker.Split(doc.Source, doc.DocType, doc.Text)
	if err != nil {
		return report, err
	}
	if len(chunks) == 0 {
		logger.Info("ingest: document produced no chunks", "source", doc.Source)
		return report, nil
	}
	report.Chunks = len(chunks)

	if err := p.embedChunks(ctx, chunks); err != nil {
		return report, err
	}
	if err := p.store.EnsureIndex(ctx, len(chunks[0].Embedding)); err != nil {
		return report, err
	}

	removedOld, err := p.store.DeleteBySource(ctx, doc.Source)
	mutated = mutated || removedOld > 0
	if err != nil {
		return report, fmt.Errorf("ingest: clear previous %s: %w", doc.Source, err)
	}

	for start := 0; start < len(chunks); start += p.writeBatch {
		end := start + p.writeBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		result, err := p.upsertWithRetry(ctx, chunks[start:end])
		report.Indexed += result.Indexed
		report.Failed += result.Failed
		report.Warnings = append(report.Warnings, result.Errors...)
		mutated = mutated || result.Indexed > 0
		if err != nil {
			return report, fmt.Errorf("ingest: index %s: %w", doc.Source, err)
		}
	}
	telemetry.RecordIngestBatch(report.Indexed)

	if p.graph != nil {
		p.graph.RemoveSource(doc.Source)
		warnings := p.graph.IndexChunks(ctx, chunks)
		report.Warnings = append(report.Warnings, warnings...)
	}
	if p.recorder != nil {
		if err := p.recorder.RecordSource(ctx, doc.Source, doc.DocType, report.Indexed, chunks[0].Metadata.IngestedAt); err != nil {
			logger.Warn("ingest: catalog record failed", "source", doc.Source, "error", err)
			report.Warnings = append(report.Warnings, fmt.Sprintf("catalog: %v", err))
		}
	}
	mutated = true
	logger.Info("ingest: document indexed",
		"source", doc.Source, "chunks", report.Chunks,
		"indexed", report.Indexed, "failed", report.Failed)
	return report, nil
}

// IngestAll processes documents independently; one document's failure does
// not stop the rest. The error aggregates per-source failures.
func (p *Pipeline) IngestAll(ctx context.Context, docs []Document) ([]Report, error) {
	reports := make([]Report, 0, len(docs))
	var errs []error
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		report, err := p.Ingest(ctx, doc)
		reports = append(reports, report)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", doc.Source, err))
		}
	}
	return reports, errors.Join(errs...)
}

// DeleteSource removes a document's chunks from the store, the catalog, and
// the entity graph, and drops cached retrieval results.
func (p *Pipeline) DeleteSource(ctx context.Context, source string) (int, error) {
	removed, err := p.store.DeleteBySource(ctx, source)
	// A verification failure still means chunks were removed, so the cache
	// and graph cleanup must run on the error path too.
	if p.invalidator != nil {
		p.invalidator.Invalidate()
	}
	if p.graph != nil {
		p.graph.RemoveSource(source)
	}
	if err != nil {
		return removed, err
	}
	if p.recorder != nil {
		if err := p.recorder.RemoveSource(ctx, source); err != nil {
			common.Logger().Warn("ingest: catalog removal failed", "source", source, "error", err)
		}
	}
	telemetry.RecordDelete()
	common.Logger().Info("ingest: source deleted", "source", source, "removed", removed)
	return removed, nil
}

// embedChunks fills chunk embeddings using bounded parallel batches.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []store.Chunk) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.workers)
	for start := 0; start < len(chunks); start += p.embedBatch {
		start := start
		end := start + p.embedBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		group.Go(func() error {
			texts := make([]string, end-start)
			for i := start; i < end; i++ {
				texts[i-start] = chunks[i].Text
			}
			vectors, err := p.embedder.Embed(groupCtx, texts)
			if err != nil {
				return err
			}
			if len(vectors) != len(texts) {
				return fmt.Errorf("ingest: embedder returned %d vectors for %d texts", len(vectors), len(texts))
			}
			for i := start; i < end; i++ {
				chunks[i].Embedding = vectors[i-start]
			}
			return nil
		})
	}
	return group.Wait()
}

// upsertWithRetry retries transient store unavailability with a linear
// backoff before giving up.
func (p *Pipeline) upsertWithRetry(ctx context.Context, batch []store.Chunk) (store.UpsertResult, error) {
	var result store.UpsertResult
	var err error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		result, err = p.store.Upsert(ctx, batch)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, store.ErrStoreUnavailable) {
			return result, err
		}
		common.Logger().Warn("ingest: store unavailable, retrying", "attempt", attempt+1)
	}
	return result, err
}

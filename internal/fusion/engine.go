// File path: internal/fusion/engine.go
package fusion

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oolong-labs/teaqa/internal/common"
	"github.com/oolong-labs/teaqa/internal/common/telemetry"
	"github.com/oolong-labs/teaqa/internal/graphrag"
	"github.com/oolong-labs/teaqa/internal/store"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeVector  Mode = "vector"
	ModeKeyword Mode = "keyword"
	ModeHybrid  Mode = "hybrid"
	ModeGraph   Mode = "graph"
)

// ParseMode validates a mode string. Empty defaults to hybrid.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return ModeHybrid, nil
	case ModeVector:
		return ModeVector, nil
	case ModeKeyword:
		return ModeKeyword, nil
	case ModeHybrid:
		return ModeHybrid, nil
	case ModeGraph:
		return ModeGraph, nil
	default:
		return "", fmt.Errorf("fusion: unknown retrieval mode %q", raw)
	}
}

const (
	defaultTopK          = 5
	defaultContextBudget = 4000
	overFetchFactor      = 3

	contextSeparator = "\n\n"
)

// Result is an assembled retrieval outcome. Mode records the strategy that
// actually produced the chunks, which differs from the requested mode when
// graph retrieval falls back to hybrid. Sources lists only the documents
// whose chunks made it into the assembled context.
type Result struct {
	Chunks   []store.ScoredChunk `json:"chunks"`
	Context  string              `json:"context"`
	Sources  []string            `json:"sources"`
	Mode     Mode                `json:"mode"`
	Degraded bool                `json:"degraded,omitempty"`
}

// Embedder produces query vectors; the embedding chain satisfies this.
type Embedder interface {
	Embed(ctx context.Context, input []string) ([][]float32, error)
}

// GraphQuerier is the entity graph surface the engine needs. The graphrag
// graph satisfies this; nil disables graph mode entirely.
type GraphQuerier interface {
	TryQuery(query string) (graphrag.QueryResult, bool)
}

// Engine fuses vector, keyword, and graph retrieval signals over a single
// store and assembles model-ready context under a character budget.
type Engine struct {
	store    store.Store
	embedder Embedder
	graph    GraphQuerier
	cache    *resultCache

	vectorWeight  float64
	keywordWeight float64
	contextBudget int
	topK          int
}

// Option customizes engine behavior.
type Option func(*Engine)

// WithWeights overrides the hybrid fusion weights. Non-positive pairs are
// ignored.
func WithWeights(vector, keyword float64) Option {
	return func(e *Engine) {
		if vector >= 0 && keyword >= 0 && vector+keyword > 0 {
			e.vectorWeight = vector
			e.keywordWeight = keyword
		}
	}
}

// WithContextBudget sets the default assembled context budget in
// characters, used when a call passes no budget of its own.
func WithContextBudget(budget int) Option {
	return func(e *Engine) {
		if budget > 0 {
			e.contextBudget = budget
		}
	}
}

// WithTopK sets the default result count.
func WithTopK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

// WithCacheTTL sets how long retrieval results stay cached absent corpus
// changes.
func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.cache = newResultCache(ttl)
		}
	}
}

// WithGraph enables graph-mode retrieval.
func WithGraph(graph GraphQuerier) Option {
	return func(e *Engine) { e.graph = graph }
}

// NewEngine wires a fusion engine over the given store and embedder.
func NewEngine(st store.Store, embedder Embedder, opts ...Option) *Engine {
	e := &Engine{
		store:         st,
		embedder:      embedder,
		cache:         newResultCache(time.Minute),
		vectorWeight:  0.5,
		keywordWeight: 0.5,
		contextBudget: defaultContextBudget,
		topK:          defaultTopK,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Invalidate drops all cached retrieval results. The ingestion pipeline
// calls this after every corpus mutation.
func (e *Engine) Invalidate() {
	e.cache.Purge()
}

// Retrieve runs the requested strategy and assembles context. Non-positive
// k and budget fall back to the engine defaults. Results are cached per
// query, mode, and request shape until the corpus changes or the TTL
// lapses.
func (e *Engine) Retrieve(ctx context.Context, query string, mode Mode, k, budget int) (Result, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{Mode: mode}, fmt.Errorf("fusion: empty query")
	}
	if k <= 0 {
		k = e.topK
	}
	if budget <= 0 {
		budget = e.contextBudget
	}
	if cached, ok := e.cache.Get(query, mode, k, budget); ok {
		telemetry.RecordRetrieval(string(cached.Mode), true, time.Since(start))
		return cached, nil
	}

	var chunks []store.ScoredChunk
	var err error
	effective := mode
	switch mode {
	case ModeVector:
		chunks, err = e.vectorRetrieve(ctx, query, k)
	case ModeKeyword:
		chunks, err = e.store.KeywordSearch(ctx, query, k)
	case ModeHybrid:
		chunks, err = e.hybridRetrieve(ctx, query, k)
	case ModeGraph:
		chunks, effective, err = e.graphRetrieve(ctx, query, k)
	default:
		return Result{}, fmt.Errorf("fusion: unknown retrieval mode %q", mode)
	}
	if err != nil {
		return Result{Mode: effective}, err
	}

	result := e.assemble(chunks, effective, budget)
	e.cache.Set(query, mode, k, budget, result)
	telemetry.RecordRetrieval(string(effective), false, time.Since(start))
	return result, nil
}

func (e *Engine) vectorRetrieve(ctx context.Context, query string, k int) ([]store.ScoredChunk, error) {
	vectors, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("fusion: embedder returned %d vectors for one query", len(vectors))
	}
	return e.store.VectorSearch(ctx, vectors[0], k)
}

// hybridRetrieve over-fetches both signals, min-max normalizes each list
// independently, and ranks by the weighted sum. A chunk absent from one
// list contributes zero for that signal. Ties break on the raw vector
// score, then chunk ID.
func (e *Engine) hybridRetrieve(ctx context.Context, query string, k int) ([]store.ScoredChunk, error) {
	fetch := k * overFetchFactor
	vectorHits, err := e.vectorRetrieve(ctx, query, fetch)
	if err != nil {
		return nil, err
	}
	keywordHits, err := e.store.KeywordSearch(ctx, query, fetch)
	if err != nil {
		return nil, err
	}

	type fused struct {
		chunk     store.Chunk
		score     float64
		rawVector float64
	}
	candidates := make(map[string]*fused)
	for id, norm := range normalizeScores(vectorHits) {
		candidates[id] = &fused{score: e.vectorWeight * norm}
	}
	for _, hit := range vectorHits {
		if c, ok := candidates[hit.Chunk.ID]; ok {
			c.chunk = hit.Chunk
			c.rawVector = hit.Score
		}
	}
	for id, norm := range normalizeScores(keywordHits) {
		if c, ok := candidates[id]; ok {
			c.score += e.keywordWeight * norm
		} else {
			candidates[id] = &fused{score: e.keywordWeight * norm}
		}
	}
	for _, hit := range keywordHits {
		if c, ok := candidates[hit.Chunk.ID]; ok && c.chunk.ID == "" {
			c.chunk = hit.Chunk
		}
	}

	results := make([]store.ScoredChunk, 0, len(candidates))
	raw := make(map[string]float64, len(candidates))
	for id, c := range candidates {
		results = append(results, store.ScoredChunk{Chunk: c.chunk, Score: c.score})
		raw[id] = c.rawVector
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		ri, rj := raw[results[i].Chunk.ID], raw[results[j].Chunk.ID]
		if ri != rj {
			return ri > rj
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// graphRetrieve ranks the chunks mentioning query-resolved entities by
// mention frequency. When the graph is mid-rebuild or resolves no
// entities, retrieval silently falls back to hybrid.
func (e *Engine) graphRetrieve(ctx context.Context, query string, k int) ([]store.ScoredChunk, Mode, error) {
	if e.graph == nil {
		chunks, err := e.hybridRetrieve(ctx, query, k)
		return chunks, ModeHybrid, err
	}
	graphResult, ok := e.graph.TryQuery(query)
	if !ok || len(graphResult.Entities) == 0 {
		if !ok {
			common.Logger().Debug("fusion: graph busy, falling back to hybrid")
		}
		chunks, err := e.hybridRetrieve(ctx, query, k)
		return chunks, ModeHybrid, err
	}

	ids := make([]string, 0, len(graphResult.ChunkScores))
	for id := range graphResult.ChunkScores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		si, sj := graphResult.ChunkScores[ids[i]], graphResult.ChunkScores[ids[j]]
		if si != sj {
			return si > sj
		}
		return ids[i] < ids[j]
	})
	if len(ids) > k {
		ids = ids[:k]
	}
	fetched, err := e.store.Fetch(ctx, ids)
	if err != nil {
		return nil, ModeGraph, err
	}
	byID := make(map[string]store.Chunk, len(fetched))
	for _, chunk := range fetched {
		byID[chunk.ID] = chunk
	}
	results := make([]store.ScoredChunk, 0, len(ids))
	for _, id := range ids {
		chunk, ok := byID[id]
		if !ok {
			continue
		}
		results = append(results, store.ScoredChunk{Chunk: chunk, Score: float64(graphResult.ChunkScores[id])})
	}
	return results, ModeGraph, nil
}

// normalizeScores min-max normalizes one result list into [0, 1]. A list
// with a single score level maps everything to 1 so the signal still
// counts.
func normalizeScores(hits []store.ScoredChunk) map[string]float64 {
	normalized := make(map[string]float64, len(hits))
	if len(hits) == 0 {
		return normalized
	}
	min, max := hits[0].Score, hits[0].Score
	for _, hit := range hits[1:] {
		if hit.Score < min {
			min = hit.Score
		}
		if hit.Score > max {
			max = hit.Score
		}
	}
	span := max - min
	for _, hit := range hits {
		if span == 0 {
			normalized[hit.Chunk.ID] = 1
		} else {
			normalized[hit.Chunk.ID] = (hit.Score - min) / span
		}
	}
	return normalized
}

// assemble builds the prompt context from ranked chunks. Whole chunks are
// added until the next one, separator included, would exceed the budget.
// When even the first chunk is over budget it is truncated instead so
// retrieval still returns something, and the result is flagged degraded.
func (e *Engine) assemble(chunks []store.ScoredChunk, mode Mode, budget int) Result {
	result := Result{Chunks: chunks, Mode: mode}
	var builder strings.Builder
	seen := make(map[string]struct{})
	for i, scored := range chunks {
		block := fmt.Sprintf("[Source: %s]\n%s", scored.Chunk.Metadata.Source, scored.Chunk.Text)
		sep := 0
		if builder.Len() > 0 {
			sep = len(contextSeparator)
		}
		if builder.Len()+sep+len(block) > budget {
			if i == 0 {
				builder.WriteString(block[:budget])
				result.Degraded = true
				e.recordSource(&result, seen, scored.Chunk.Metadata.Source)
				common.Logger().Warn("fusion: first chunk exceeds context budget, truncating",
					"chunk", scored.Chunk.ID, "budget", budget)
			}
			break
		}
		if sep > 0 {
			builder.WriteString(contextSeparator)
		}
		builder.WriteString(block)
		e.recordSource(&result, seen, scored.Chunk.Metadata.Source)
	}
	result.Context = builder.String()
	return result
}

func (e *Engine) recordSource(result *Result, seen map[string]struct{}, source string) {
	if _, ok := seen[source]; ok {
		return
	}
	seen[source] = struct{}{}
	result.Sources = append(result.Sources, source)
}

// File path: internal/store/local.go
package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/oolong-labs/teaqa/internal/common"
)

// Local is an in-process Store used when no Elasticsearch backend is
// reachable, and throughout the test suite. Vector search is exact cosine
// similarity; keyword search is TF-IDF cosine over a token index rebuilt on
// every mutation. When constructed with a journal path, chunks survive
// restarts as JSON lines.
type Local struct {
	mu        sync.RWMutex
	chunks    map[string]Chunk
	dimension int
	path      string

	vectors map[string]map[string]float64
	norms   map[string]float64
	df      map[string]int
	total   int
}

func NewLocal() *Local {
	return &Local{chunks: make(map[string]Chunk)}
}

// NewLocalWithJournal restores any previously journaled chunks from path and
// persists future mutations there.
func NewLocalWithJournal(path string) (*Local, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("journal path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	l := &Local{chunks: make(map[string]Chunk), path: path}
	if err := l.load(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.rebuildLocked()
	l.mu.Unlock()
	return l, nil
}

func (l *Local) Available() bool { return l != nil }

func (l *Local) Dimension() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dimension
}

func (l *Local) EnsureIndex(ctx context.Context, dim int) error {
	if dim <= 0 {
		return errors.New("invalid vector dimension")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dimension != 0 && l.dimension != dim {
		return &DimensionMismatchError{Want: l.dimension, Got: dim}
	}
	l.dimension = dim
	return nil
}

func (l *Local) Upsert(ctx context.Context, chunks []Chunk) (UpsertResult, error) {
	if len(chunks) == 0 {
		return UpsertResult{}, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	result := UpsertResult{}
	for _, chunk := range chunks {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}
		if strings.TrimSpace(chunk.ID) == "" {
			result.Failed++
			result.Errors = append(result.Errors, "chunk id required")
			continue
		}
		if len(chunk.Embedding) > 0 && l.dimension != 0 && len(chunk.Embedding) != l.dimension {
			result.Failed++
			result.Errors = append(result.Errors, (&DimensionMismatchError{Want: l.dimension, Got: len(chunk.Embedding)}).Error())
			continue
		}
		l.chunks[chunk.ID] = chunk
		result.Indexed++
	}
	l.rebuildLocked()
	if err := l.persistLocked(); err != nil {
		common.Logger().Warn("store: journal write failed", "error", err)
	}
	return result, nil
}

func (l *Local) DeleteBySource(ctx context.Context, source string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	deleted := 0
	for id, chunk := range l.chunks {
		if chunk.Metadata.Source == source {
			delete(l.chunks, id)
			deleted++
		}
	}
	l.rebuildLocked()
	if err := l.persistLocked(); err != nil {
		common.Logger().Warn("store: journal write failed", "error", err)
	}
	// The recount cannot observe leftovers under the same lock as the
	// delete; it mirrors the post-delete verification the Elasticsearch
	// adapter needs for its eventually consistent refresh.
	remaining := 0
	for _, chunk := range l.chunks {
		if chunk.Metadata.Source == source {
			remaining++
		}
	}
	if remaining > 0 {
		return deleted, &DeletionVerificationError{Source: source, Remaining: remaining}
	}
	return deleted, nil
}

func (l *Local) Fetch(ctx context.Context, ids []string) ([]Chunk, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	chunks := make([]Chunk, 0, len(ids))
	for _, id := range ids {
		if chunk, ok := l.chunks[id]; ok {
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

func (l *Local) VectorSearch(ctx context.Context, vector []float32, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		k = 5
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.dimension != 0 && len(vector) != l.dimension {
		return nil, &DimensionMismatchError{Want: l.dimension, Got: len(vector)}
	}
	var qnorm float64
	for _, v := range vector {
		qnorm += float64(v) * float64(v)
	}
	qnorm = math.Sqrt(qnorm)
	if qnorm == 0 {
		return nil, nil
	}
	results := make([]ScoredChunk, 0, len(l.chunks))
	for _, chunk := range l.chunks {
		// Chunks embedded at a different dimension are invisible to vector
		// search until re-embedded.
		if len(chunk.Embedding) != len(vector) {
			continue
		}
		var dot, norm float64
		for i, v := range chunk.Embedding {
			dot += float64(v) * float64(vector[i])
			norm += float64(v) * float64(v)
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			continue
		}
		results = append(results, ScoredChunk{Chunk: chunk, Score: dot / (norm * qnorm)})
	}
	sortScored(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (l *Local) KeywordSearch(ctx context.Context, query string, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		k = 5
	}
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	qtf := make(map[string]float64)
	for _, term := range terms {
		qtf[term]++
	}
	var qnorm float64
	for term, freq := range qtf {
		weight := l.tfidfWeight(term, freq)
		qtf[term] = weight
		qnorm += weight * weight
	}
	qnorm = math.Sqrt(qnorm)
	if qnorm == 0 {
		return nil, nil
	}
	results := make([]ScoredChunk, 0, len(l.chunks))
	for id, chunk := range l.chunks {
		dv := l.vectors[id]
		if len(dv) == 0 {
			continue
		}
		var dot float64
		for term, weight := range qtf {
			dot += weight * dv[term]
		}
		denom := qnorm * l.norms[id]
		if denom == 0 {
			continue
		}
		score := dot / denom
		if score <= 0 {
			continue
		}
		results = append(results, ScoredChunk{Chunk: chunk, Score: score})
	}
	sortScored(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func sortScored(results []ScoredChunk) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].Chunk.ID < results[j].Chunk.ID
		}
		return results[i].Score > results[j].Score
	})
}

func (l *Local) rebuildLocked() {
	l.vectors = make(map[string]map[string]float64, len(l.chunks))
	l.norms = make(map[string]float64, len(l.chunks))
	l.df = make(map[string]int)
	l.total = len(l.chunks)
	for id, chunk := range l.chunks {
		tf := make(map[string]float64)
		for _, term := range tokenize(chunk.Text) {
			tf[term]++
		}
		for term := range tf {
			l.df[term]++
		}
		l.vectors[id] = tf
	}
	for id, tf := range l.vectors {
		var norm float64
		for term, freq := range tf {
			weight := l.tfidfWeight(term, freq)
			tf[term] = weight
			norm += weight * weight
		}
		l.norms[id] = math.Sqrt(norm)
	}
}

func (l *Local) tfidfWeight(term string, freq float64) float64 {
	df := float64(l.df[term])
	if df == 0 {
		return 0
	}
	idf := math.Log((float64(l.total)+1)/(df+1)) + 1
	return freq * idf
}

func tokenize(text string) []string {
	text = strings.ToLower(text)
	replacer := strings.NewReplacer(
		".", " ",
		",", " ",
		"\n", " ",
		"\t", " ",
		":", " ",
		";", " ",
		"?", " ",
		"!", " ",
		"(", " ",
		")", " ",
		"'", " ",
		"\"", " ",
	)
	return strings.Fields(replacer.Replace(text))
}

func (l *Local) load() error {
	file, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<24)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var chunk Chunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			common.Logger().Warn("store: skipping corrupt journal line", "error", err)
			continue
		}
		l.chunks[chunk.ID] = chunk
		if l.dimension == 0 && len(chunk.Embedding) > 0 {
			l.dimension = len(chunk.Embedding)
		}
	}
	return scanner.Err()
}

func (l *Local) persistLocked() error {
	if l.path == "" {
		return nil
	}
	tmp := l.path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create journal: %w", err)
	}
	enc := json.NewEncoder(file)
	ids := make([]string, 0, len(l.chunks))
	for id := range l.chunks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := enc.Encode(l.chunks[id]); err != nil {
			file.Close()
			return fmt.Errorf("encode chunk: %w", err)
		}
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}

var _ Store = (*Local)(nil)

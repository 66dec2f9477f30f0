// File path: internal/store/elastic.go
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/oolong-labs/teaqa/internal/common"
)

// ElasticClient implements Store against an Elasticsearch backend: a
// dense_vector field for nearest-neighbor search plus a text field analyzed
// by the shared TextAnalyzer for keyword relevance.
type ElasticClient struct {
	httpClient *http.Client

	baseURL   string
	index     string
	available bool
	dimension int

	cfg Config

	mu sync.RWMutex
}

var errNotFound = errors.New("resource not found")

func NewElasticFromEnv(ctx context.Context) (*ElasticClient, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return NewElastic(ctx, cfg)
}

// NewElastic constructs a client from the provided configuration. Connection
// failures leave the client in an unavailable state rather than erroring,
// so the caller can degrade to the local store.
func NewElastic(ctx context.Context, cfg Config) (*ElasticClient, error) {
	logger := common.Logger()
	logger.Info(
		"store: initializing elasticsearch client",
		"host", cfg.Host,
		"port", cfg.Port,
		"index", cfg.Index,
		"timeout", cfg.Timeout,
	)
	client := &ElasticClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    fmt.Sprintf("%s://%s:%s", cfg.Scheme, cfg.Host, cfg.Port),
		index:      cfg.Index,
		cfg:        cfg,
	}
	if err := client.ensureReady(ctx); err != nil {
		logger.Warn("store: elasticsearch initialization failed", "index", cfg.Index, "error", err)
		return client, nil
	}
	logger.Info("store: elasticsearch connection established")
	return client, nil
}

func (c *ElasticClient) Available() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

func (c *ElasticClient) Dimension() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dimension
}

func (c *ElasticClient) ensureReady(ctx context.Context) error {
	if c == nil {
		return ErrStoreUnavailable
	}
	c.mu.RLock()
	available := c.available
	c.mu.RUnlock()
	if available {
		return nil
	}
	var err error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		err = c.doRequest(ctx, http.MethodGet, c.baseURL, nil, nil)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 250 * time.Millisecond):
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	c.mu.Lock()
	c.available = true
	c.mu.Unlock()
	return nil
}

// EnsureIndex creates the index with the shared analyzer and a dense_vector
// mapping of the given dimension, or adopts an existing index after checking
// that its configured dimension matches.
func (c *ElasticClient) EnsureIndex(ctx context.Context, dim int) error {
	if err := c.ensureReady(ctx); err != nil {
		return err
	}
	if dim <= 0 {
		return errors.New("invalid vector dimension")
	}
	c.mu.RLock()
	current := c.dimension
	c.mu.RUnlock()
	if current != 0 && current != dim {
		return &DimensionMismatchError{Want: current, Got: dim}
	}
	endpoint := fmt.Sprintf("%s/%s", c.baseURL, url.PathEscape(c.index))
	existing, err := c.indexDimension(ctx)
	if err != nil && !errors.Is(err, errNotFound) {
		return err
	}
	if err == nil {
		if existing != 0 && existing != dim {
			return &DimensionMismatchError{Want: existing, Got: dim}
		}
		c.mu.Lock()
		c.dimension = dim
		c.mu.Unlock()
		return nil
	}
	mapping := map[string]interface{}{
		"settings": map[string]interface{}{
			"number_of_shards":   c.cfg.Shards,
			"number_of_replicas": c.cfg.Replicas,
			"analysis": map[string]interface{}{
				"analyzer": map[string]interface{}{
					TextAnalyzer: map[string]interface{}{
						"type":      "custom",
						"tokenizer": "standard",
						"filter":    []string{"lowercase", "cjk_width", "cjk_bigram"},
					},
				},
			},
		},
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"text": map[string]interface{}{
					"type":            "text",
					"analyzer":        TextAnalyzer,
					"search_analyzer": TextAnalyzer,
				},
				"embedding": map[string]interface{}{
					"type":       "dense_vector",
					"dims":       dim,
					"index":      true,
					"similarity": "cosine",
				},
				"metadata": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"source":      map[string]interface{}{"type": "keyword"},
						"sequence":    map[string]interface{}{"type": "integer"},
						"doc_type":    map[string]interface{}{"type": "keyword"},
						"ingested_at": map[string]interface{}{"type": "date"},
					},
				},
			},
		},
	}
	if err := c.doRequest(ctx, http.MethodPut, endpoint, mapping, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.dimension = dim
	c.mu.Unlock()
	common.Logger().Info("store: index created", "index", c.index, "dimension", dim)
	return nil
}

func (c *ElasticClient) indexDimension(ctx context.Context) (int, error) {
	endpoint := fmt.Sprintf("%s/%s/_mapping", c.baseURL, url.PathEscape(c.index))
	var resp map[string]struct {
		Mappings struct {
			Properties struct {
				Embedding struct {
					Dims int `json:"dims"`
				} `json:"embedding"`
			} `json:"properties"`
		} `json:"mappings"`
	}
	if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return 0, err
	}
	for _, index := range resp {
		return index.Mappings.Properties.Embedding.Dims, nil
	}
	return 0, errNotFound
}

// Upsert writes chunks through the bulk API. Item-level failures are counted
// and reported without rolling back the successes.
func (c *ElasticClient) Upsert(ctx context.Context, chunks []Chunk) (UpsertResult, error) {
	if err := c.ensureReady(ctx); err != nil {
		return UpsertResult{}, err
	}
	if len(chunks) == 0 {
		return UpsertResult{}, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, chunk := range chunks {
		action := map[string]interface{}{
			"index": map[string]interface{}{"_index": c.index, "_id": chunk.ID},
		}
		if err := enc.Encode(action); err != nil {
			return UpsertResult{}, err
		}
		doc := map[string]interface{}{
			"text":      chunk.Text,
			"embedding": chunk.Embedding,
			"metadata":  chunk.Metadata,
		}
		if err := enc.Encode(doc); err != nil {
			return UpsertResult{}, err
		}
	}
	endpoint := fmt.Sprintf("%s/_bulk?refresh=true", c.baseURL)
	var resp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  *struct {
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := c.doRaw(ctx, http.MethodPost, endpoint, buf.Bytes(), "application/x-ndjson", &resp); err != nil {
		return UpsertResult{}, err
	}
	result := UpsertResult{}
	for _, item := range resp.Items {
		for _, op := range item {
			if op.Status >= 200 && op.Status < 300 {
				result.Indexed++
			} else {
				result.Failed++
				if op.Error != nil {
					result.Errors = append(result.Errors, op.Error.Reason)
				}
			}
		}
	}
	return result, nil
}

// DeleteBySource removes every chunk of the source, refreshes the index, and
// re-counts to verify the cascade actually completed.
func (c *ElasticClient) DeleteBySource(ctx context.Context, source string) (int, error) {
	if err := c.ensureReady(ctx); err != nil {
		return 0, err
	}
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"metadata.source": source},
		},
	}
	endpoint := fmt.Sprintf("%s/%s/_delete_by_query?refresh=true", c.baseURL, url.PathEscape(c.index))
	var resp struct {
		Deleted int `json:"deleted"`
	}
	if err := c.doRequest(ctx, http.MethodPost, endpoint, query, &resp); err != nil {
		return 0, err
	}
	countEndpoint := fmt.Sprintf("%s/%s/_count", c.baseURL, url.PathEscape(c.index))
	var count struct {
		Count int `json:"count"`
	}
	if err := c.doRequest(ctx, http.MethodPost, countEndpoint, query, &count); err != nil {
		return resp.Deleted, err
	}
	if count.Count > 0 {
		return resp.Deleted, &DeletionVerificationError{Source: source, Remaining: count.Count}
	}
	return resp.Deleted, nil
}

// Fetch retrieves chunks by ID through the multi-get API. Missing IDs are
// skipped.
func (c *ElasticClient) Fetch(ctx context.Context, ids []string) ([]Chunk, error) {
	if err := c.ensureReady(ctx); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	endpoint := fmt.Sprintf("%s/%s/_mget", c.baseURL, url.PathEscape(c.index))
	body := map[string]interface{}{"ids": ids}
	var resp struct {
		Docs []struct {
			ID     string `json:"_id"`
			Found  bool   `json:"found"`
			Source struct {
				Text      string    `json:"text"`
				Embedding []float32 `json:"embedding"`
				Metadata  Metadata  `json:"metadata"`
			} `json:"_source"`
		} `json:"docs"`
	}
	if err := c.doRequest(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return nil, err
	}
	chunks := make([]Chunk, 0, len(resp.Docs))
	for _, doc := range resp.Docs {
		if !doc.Found {
			continue
		}
		chunks = append(chunks, Chunk{
			ID:        doc.ID,
			Text:      doc.Source.Text,
			Embedding: doc.Source.Embedding,
			Metadata:  doc.Source.Metadata,
		})
	}
	return chunks, nil
}

// VectorSearch runs knn search. The query vector must match the index's
// configured dimension; anything else is a fatal configuration error.
func (c *ElasticClient) VectorSearch(ctx context.Context, vector []float32, k int) ([]ScoredChunk, error) {
	if err := c.ensureReady(ctx); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 5
	}
	c.mu.RLock()
	dim := c.dimension
	c.mu.RUnlock()
	if dim != 0 && len(vector) != dim {
		return nil, &DimensionMismatchError{Want: dim, Got: len(vector)}
	}
	body := map[string]interface{}{
		"size": k,
		"knn": map[string]interface{}{
			"field":          "embedding",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": k * 10,
		},
	}
	return c.search(ctx, body)
}

// KeywordSearch runs full-text relevance scoring with the shared analyzer,
// boosting exact phrase matches the way the index was designed to be
// queried.
func (c *ElasticClient) KeywordSearch(ctx context.Context, query string, k int) ([]ScoredChunk, error) {
	if err := c.ensureReady(ctx); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 5
	}
	body := map[string]interface{}{
		"size": k,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"should": []interface{}{
					map[string]interface{}{
						"match": map[string]interface{}{
							"text": map[string]interface{}{
								"query":    query,
								"analyzer": TextAnalyzer,
								"boost":    1.0,
							},
						},
					},
					map[string]interface{}{
						"match_phrase": map[string]interface{}{
							"text": map[string]interface{}{
								"query": query,
								"boost": 1.5,
							},
						},
					},
				},
				"minimum_should_match": 1,
			},
		},
	}
	return c.search(ctx, body)
}

func (c *ElasticClient) search(ctx context.Context, body map[string]interface{}) ([]ScoredChunk, error) {
	endpoint := fmt.Sprintf("%s/%s/_search", c.baseURL, url.PathEscape(c.index))
	var resp struct {
		Hits struct {
			Hits []struct {
				ID     string  `json:"_id"`
				Score  float64 `json:"_score"`
				Source struct {
					Text     string   `json:"text"`
					Metadata Metadata `json:"metadata"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := c.doRequest(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return nil, err
	}
	results := make([]ScoredChunk, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		results = append(results, ScoredChunk{
			Chunk: Chunk{
				ID:       hit.ID,
				Text:     hit.Source.Text,
				Metadata: hit.Source.Metadata,
			},
			Score: hit.Score,
		})
	}
	return results, nil
}

func (c *ElasticClient) doRequest(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	return c.doRaw(ctx, method, endpoint, data, "application/json", out)
}

func (c *ElasticClient) doRaw(ctx context.Context, method, endpoint string, body []byte, contentType string, out interface{}) error {
	if c == nil {
		return ErrStoreUnavailable
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.mu.Lock()
		c.available = false
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("elasticsearch %s %s failed: %s", method, endpoint, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Close releases pooled connections.
func (c *ElasticClient) Close() error {
	if c == nil {
		return nil
	}
	c.httpClient.CloseIdleConnections()
	return nil
}

var _ Store = (*ElasticClient)(nil)

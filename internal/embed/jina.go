// File path: internal/embed/jina.go
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oolong-labs/teaqa/internal/common"
)

const (
	jinaEndpoint  = "https://api.jina.ai/v1/embeddings"
	jinaModel     = "jina-embeddings-v3"
	jinaDimension = 1024
)

// JinaProvider calls the hosted Jina embeddings API, the primary provider of
// the chain.
type JinaProvider struct {
	httpClient *http.Client
	apiKey     string
	model      string
	dimension  int
}

func NewJinaProvider(apiKey string, timeout time.Duration) *JinaProvider {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &JinaProvider{
		httpClient: &http.Client{Timeout: timeout},
		apiKey:     apiKey,
		model:      jinaModel,
		dimension:  jinaDimension,
	}
}

func (j *JinaProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	if len(input) == 0 {
		return nil, nil
	}
	payload := map[string]interface{}{
		"model":      j.model,
		"dimensions": j.dimension,
		"input":      input,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, jinaEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+j.apiKey)
	resp, err := j.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("jina embeddings failed: %s", strings.TrimSpace(string(body)))
	}
	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if len(parsed.Data) != len(input) {
		return nil, fmt.Errorf("jina returned %d embeddings for %d inputs", len(parsed.Data), len(input))
	}
	vectors := make([][]float32, 0, len(parsed.Data))
	for _, item := range parsed.Data {
		if len(item.Embedding) != j.dimension {
			common.Logger().Warn("embed: jina dimension drift", "expected", j.dimension, "got", len(item.Embedding))
		}
		vectors = append(vectors, item.Embedding)
	}
	return vectors, nil
}

func (j *JinaProvider) Dimension() int { return j.dimension }

func (j *JinaProvider) Name() string { return "jina" }

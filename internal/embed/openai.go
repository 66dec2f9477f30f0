// File path: internal/embed/openai.go
package embed

import (
	"context"
	"fmt"

	openai "github.com/openai/openai-go/v2"

	"github.com/oolong-labs/teaqa/internal/common"
)

const openaiDimension = 1536

// OpenAIProvider is the secondary hosted provider of the chain.
type OpenAIProvider struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	dimension int
}

func NewOpenAIProvider(client *openai.Client) *OpenAIProvider {
	return &OpenAIProvider{
		client:    client,
		model:     openai.EmbeddingModelTextEmbedding3Small,
		dimension: openaiDimension,
	}
}

func (o *OpenAIProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	if o.client == nil {
		return nil, fmt.Errorf("nil openai client")
	}
	if len(input) == 0 {
		return nil, nil
	}
	logger := common.Logger()
	logger.Debug("embed: creating openai embeddings", "model", o.model, "items", len(input))
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: o.model,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: input},
	})
	if err != nil {
		return nil, err
	}
	vectors := make([][]float32, 0, len(resp.Data))
	for _, data := range resp.Data {
		vec := make([]float32, len(data.Embedding))
		for i, v := range data.Embedding {
			vec[i] = float32(v)
		}
		vectors = append(vectors, vec)
	}
	if len(vectors) != len(input) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(vectors), len(input))
	}
	return vectors, nil
}

func (o *OpenAIProvider) Dimension() int { return o.dimension }

func (o *OpenAIProvider) Name() string { return "openai" }

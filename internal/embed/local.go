// File path: internal/embed/local.go
package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

const localDimension = 384

// LocalProvider is the terminal fallback of the chain: a deterministic
// hash-based token projection with no network dependency. It trades
// retrieval quality for availability, which beats total unavailability.
// Embed is a pure function of its input.
type LocalProvider struct {
	dimension int
}

func NewLocalProvider() *LocalProvider {
	return &LocalProvider{dimension: localDimension}
}

func (l *LocalProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	vectors := make([][]float32, len(input))
	for i, text := range input {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		vectors[i] = l.project(text)
	}
	return vectors, nil
}

func (l *LocalProvider) project(text string) []float32 {
	vec := make([]float64, l.dimension)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()
		bucket := int(sum % uint64(l.dimension))
		sign := 1.0
		if sum&(1<<63) != 0 {
			sign = -1.0
		}
		vec[bucket] += sign
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, l.dimension)
	if norm == 0 {
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func (l *LocalProvider) Dimension() int { return l.dimension }

func (l *LocalProvider) Name() string { return "local" }

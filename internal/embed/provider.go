// File path: internal/embed/provider.go
package embed

import (
	"context"
	"errors"
)

// ErrEmbeddingUnavailable reports that every provider in the chain failed.
// With the local fallback in place this should be effectively unreachable,
// but the condition is still modeled for completeness.
var ErrEmbeddingUnavailable = errors.New("all embedding providers unavailable")

// Provider produces fixed-dimension vectors for text. Implementations must
// be safe for concurrent use and declare their output dimension up front.
type Provider interface {
	Embed(ctx context.Context, input []string) ([][]float32, error)
	Dimension() int
	Name() string
}

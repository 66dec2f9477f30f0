// File path: internal/embed/chain.go
package embed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/oolong-labs/teaqa/internal/common"
	"github.com/oolong-labs/teaqa/internal/common/telemetry"
	"github.com/oolong-labs/teaqa/internal/store"
)

// Chain tries providers in a fixed priority order until one succeeds. The
// first success fixes the active dimension for the index session; any later
// success at a different dimension is refused and latches the
// needs-re-embedding flag instead of silently mixing vector spaces.
type Chain struct {
	providers []Provider
	limiter   *rate.Limiter
	timeout   time.Duration

	mu             sync.Mutex
	activeDim      int
	activeProvider string
	needsReembed   bool
}

type ChainOption func(*Chain)

// WithTimeout bounds each individual provider attempt.
func WithTimeout(timeout time.Duration) ChainOption {
	return func(c *Chain) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRateLimit throttles calls to remote providers. The local fallback is
// never throttled.
func WithRateLimit(perSecond float64, burst int) ChainOption {
	return func(c *Chain) {
		if perSecond > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// NewChain builds a chain over the given providers, in priority order. The
// caller is expected to append a LocalProvider last so the chain can never
// fully fail.
func NewChain(providers []Provider, opts ...ChainOption) *Chain {
	c := &Chain{
		providers: providers,
		timeout:   20 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Embed produces one vector per input string. Safe for concurrent use; the
// active-dimension latch is the only shared state.
func (c *Chain) Embed(ctx context.Context, input []string) ([][]float32, error) {
	if len(input) == 0 {
		return nil, nil
	}
	logger := common.Logger()
	var lastErr error
	for idx, provider := range c.providers {
		if c.limiter != nil && provider.Name() != "local" {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		vectors, err := provider.Embed(attemptCtx, input)
		cancel()
		if err != nil {
			lastErr = err
			logger.Warn("embed: provider failed, trying next", "provider", provider.Name(), "error", err)
			continue
		}
		dim := vectorDimension(vectors)
		if dim == 0 {
			lastErr = fmt.Errorf("provider %s returned empty vectors", provider.Name())
			continue
		}
		if err := c.recordDimension(provider.Name(), dim); err != nil {
			return nil, err
		}
		telemetry.RecordEmbed(provider.Name(), idx > 0)
		return vectors, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, lastErr)
	}
	return nil, ErrEmbeddingUnavailable
}

// recordDimension implements the single-writer-wins latch on the active
// dimension. A provider recovering mid-session with a different dimension is
// a fatal configuration state, not a silent switch.
func (c *Chain) recordDimension(provider string, dim int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeDim == 0 {
		c.activeDim = dim
		c.activeProvider = provider
		common.Logger().Info("embed: active dimension fixed", "provider", provider, "dimension", dim)
		return nil
	}
	if c.activeDim != dim {
		c.needsReembed = true
		common.Logger().Error(
			"embed: provider dimension conflicts with active index session",
			"active_provider", c.activeProvider,
			"active_dimension", c.activeDim,
			"provider", provider,
			"dimension", dim,
		)
		return &store.DimensionMismatchError{Want: c.activeDim, Got: dim}
	}
	return nil
}

// ActiveDimension reports the dimension fixed by the first successful embed,
// or zero before any call has succeeded.
func (c *Chain) ActiveDimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeDim
}

// ActiveProvider names the provider that fixed the active dimension.
func (c *Chain) ActiveProvider() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeProvider
}

// NeedsReembedding reports whether a dimension conflict was observed. Once
// set, only a full re-embedding of the corpus clears the condition.
func (c *Chain) NeedsReembedding() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.needsReembed
}

func vectorDimension(vectors [][]float32) int {
	for _, vec := range vectors {
		if len(vec) > 0 {
			return len(vec)
		}
	}
	return 0
}

// File path: internal/embed/config.go
package embed

import (
	"os"
	"strconv"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/oolong-labs/teaqa/internal/common"
)

// NewChainFromEnv assembles the provider chain from the environment: Jina
// when JINA_API_KEY is set, OpenAI when OPENAI_API_KEY is set, and the local
// deterministic fallback always last.
func NewChainFromEnv() *Chain {
	logger := common.Logger()
	var providers []Provider

	timeout := 15 * time.Second
	if value := strings.TrimSpace(os.Getenv("EMBED_TIMEOUT")); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
			timeout = parsed
		} else {
			logger.Warn("embed: invalid EMBED_TIMEOUT, using default", "value", value)
		}
	}

	if apiKey := strings.TrimSpace(os.Getenv("JINA_API_KEY")); apiKey != "" {
		providers = append(providers, NewJinaProvider(apiKey, timeout))
		logger.Info("embed: jina provider enabled")
	}
	if apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); apiKey != "" {
		client := openai.NewClient(option.WithAPIKey(apiKey))
		providers = append(providers, NewOpenAIProvider(&client))
		logger.Info("embed: openai provider enabled")
	}
	providers = append(providers, NewLocalProvider())
	if len(providers) == 1 {
		logger.Warn("embed: no hosted providers configured; using local hash projection only")
	}

	perSecond := 8.0
	if value := strings.TrimSpace(os.Getenv("EMBED_RATE_PER_SEC")); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil && parsed > 0 {
			perSecond = parsed
		}
	}
	return NewChain(providers,
		WithTimeout(timeout),
		WithRateLimit(perSecond, int(perSecond)*2),
	)
}

// File path: internal/llm/llm.go
package llm

import (
	"errors"
	"os"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/oolong-labs/teaqa/internal/common"
	"github.com/oolong-labs/teaqa/internal/llm/providers"
)

type Message = providers.Message

type Provider = providers.Provider

const groqEndpoint = "https://api.groq.com/openai/v1"

// NewProvider selects the chat provider from the environment. Groq is
// preferred (an OpenAI-compatible endpoint), then plain OpenAI; without any
// API key the deterministic local stub is used so the service stays up.
func NewProvider() Provider {
	logger := common.Logger()
	apiKey := strings.TrimSpace(os.Getenv("GROQ_API_KEY"))
	endpoint := groqEndpoint
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		endpoint = strings.TrimSpace(os.Getenv("OPENAI_ENDPOINT"))
	}
	if apiKey == "" {
		logger.Warn("llm: no GROQ_API_KEY or OPENAI_API_KEY set; falling back to local provider")
		return providers.NewLocalProvider()
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if timeoutStr := strings.TrimSpace(os.Getenv("LLM_HTTP_TIMEOUT")); timeoutStr != "" {
		timeout, err := time.ParseDuration(timeoutStr)
		if err != nil {
			logger.Warn("llm: invalid LLM_HTTP_TIMEOUT, using default", "value", timeoutStr, "error", err)
		} else {
			opts = append(opts, option.WithRequestTimeout(timeout))
		}
	}
	if endpoint != "" {
		logger.Info("llm: using OpenAI-compatible endpoint", "endpoint", endpoint)
		opts = append(opts, option.WithBaseURL(endpoint))
	}
	client := openai.NewClient(opts...)
	logger.Info("llm: chat provider selected")
	return providers.NewOpenAIProvider(&client)
}

// NormalizeMessages lowercases roles and rejects empty message lists.
func NormalizeMessages(messages []Message) ([]Message, error) {
	if len(messages) == 0 {
		return nil, errors.New("no messages provided")
	}
	for i := range messages {
		messages[i].Role = strings.ToLower(messages[i].Role)
	}
	return messages, nil
}

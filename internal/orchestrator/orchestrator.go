// File path: internal/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langgraphgo/graph"

	"github.com/oolong-labs/teaqa/internal/common"
	"github.com/oolong-labs/teaqa/internal/embed"
	"github.com/oolong-labs/teaqa/internal/fusion"
	"github.com/oolong-labs/teaqa/internal/llm/providers"
	"github.com/oolong-labs/teaqa/internal/store"
)

// historyWindow bounds how many recent turn pairs feed the retrieval query
// and the chat prompt.
const historyWindow = 5

// Turn is one completed question and answer pair.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// AnswerResult is the orchestrated response. Sources lists only the
// documents whose chunks made it into the prompt; Degraded marks answers
// produced without retrieved context or from a truncated context.
type AnswerResult struct {
	Answer   string      `json:"answer"`
	Sources  []string    `json:"sources"`
	Mode     fusion.Mode `json:"mode"`
	Degraded bool        `json:"degraded,omitempty"`
}

const answerSystemPrompt = `You are a knowledgeable assistant. Answer the current question using the context below.
If the context does not contain the answer, say you do not know rather than guessing.

Context:
%s`

const noContextSystemPrompt = `You are a knowledgeable assistant. The document store is currently unavailable, so no supporting context could be retrieved. Answer from general knowledge and say that the knowledge base could not be consulted.`

// Orchestrator runs the retrieve-then-generate flow as a two node graph.
type Orchestrator struct {
	engine   *fusion.Engine
	provider providers.Provider
	topK     int
}

// Option customizes the orchestrator.
type Option func(*Orchestrator)

// WithTopK sets how many chunks feed each answer.
func WithTopK(k int) Option {
	return func(o *Orchestrator) {
		if k > 0 {
			o.topK = k
		}
	}
}

// New wires an orchestrator over the fusion engine and chat provider.
func New(engine *fusion.Engine, provider providers.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{engine: engine, provider: provider, topK: 5}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Answer retrieves context for the question and generates a grounded reply.
// Store or embedding unavailability degrades to an uncontextualized answer;
// a dimension mismatch is a configuration fault and propagates as an error.
func (o *Orchestrator) Answer(ctx context.Context, question string, history []Turn, mode fusion.Mode) (AnswerResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return AnswerResult{}, errors.New("orchestrator: empty question")
	}
	logger := common.Logger()
	window := recentTurns(history, historyWindow)

	result := AnswerResult{Mode: mode}

	g := graph.NewMessageGraph()
	g.AddNode("retrieve", func(ctx context.Context, state []llms.MessageContent) ([]llms.MessageContent, error) {
		retrieval, err := o.engine.Retrieve(ctx, retrievalQuery(window, question), mode, o.topK, 0)
		if err != nil {
			var mismatch *store.DimensionMismatchError
			if errors.As(err, &mismatch) {
				return nil, err
			}
			if errors.Is(err, store.ErrStoreUnavailable) || errors.Is(err, embed.ErrEmbeddingUnavailable) {
				logger.Warn("orchestrator: retrieval unavailable, answering without context", "error", err)
				result.Degraded = true
				system := llms.TextParts(llms.ChatMessageTypeSystem, noContextSystemPrompt)
				return append([]llms.MessageContent{system}, state...), nil
			}
			return nil, err
		}
		result.Mode = retrieval.Mode
		result.Sources = retrieval.Sources
		result.Degraded = retrieval.Degraded
		system := llms.TextParts(llms.ChatMessageTypeSystem, fmt.Sprintf(answerSystemPrompt, retrieval.Context))
		return append([]llms.MessageContent{system}, state...), nil
	})
	g.AddNode("generate", func(ctx context.Context, state []llms.MessageContent) ([]llms.MessageContent, error) {
		reply, err := o.provider.Chat(ctx, toProviderMessages(state))
		if err != nil {
			return nil, fmt.Errorf("orchestrator: generate: %w", err)
		}
		return append(state, llms.TextParts(llms.ChatMessageTypeAI, reply)), nil
	})
	g.AddEdge("retrieve", "generate")
	g.AddEdge("generate", graph.END)
	g.SetEntryPoint("retrieve")

	runnable, err := g.Compile()
	if err != nil {
		return AnswerResult{}, fmt.Errorf("orchestrator: compile graph: %w", err)
	}

	state := make([]llms.MessageContent, 0, len(window)*2+1)
	for _, turn := range window {
		state = append(state, llms.TextParts(llms.ChatMessageTypeHuman, turn.Question))
		state = append(state, llms.TextParts(llms.ChatMessageTypeAI, turn.Answer))
	}
	state = append(state, llms.TextParts(llms.ChatMessageTypeHuman, question))

	final, err := runnable.Invoke(ctx, state)
	if err != nil {
		return AnswerResult{}, err
	}
	if len(final) == 0 {
		return AnswerResult{}, errors.New("orchestrator: graph produced no messages")
	}
	result.Answer = messageText(final[len(final)-1])
	return result, nil
}

// retrievalQuery folds the recent conversation into the query text so
// follow-up questions retrieve against their antecedents, while the prompt
// itself keeps the question and history separate.
func retrievalQuery(window []Turn, question string) string {
	if len(window) == 0 {
		return question
	}
	var builder strings.Builder
	for _, turn := range window {
		builder.WriteString(turn.Question)
		builder.WriteString("\n")
		builder.WriteString(turn.Answer)
		builder.WriteString("\n")
	}
	builder.WriteString(question)
	return builder.String()
}

func recentTurns(history []Turn, limit int) []Turn {
	if len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}

func toProviderMessages(state []llms.MessageContent) []providers.Message {
	messages := make([]providers.Message, 0, len(state))
	for _, mc := range state {
		role := "user"
		switch mc.Role {
		case llms.ChatMessageTypeSystem:
			role = "system"
		case llms.ChatMessageTypeAI:
			role = "assistant"
		case llms.ChatMessageTypeHuman:
			role = "user"
		}
		messages = append(messages, providers.Message{Role: role, Content: messageText(mc)})
	}
	return messages
}

func messageText(mc llms.MessageContent) string {
	var parts []string
	for _, part := range mc.Parts {
		if text, ok := part.(llms.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

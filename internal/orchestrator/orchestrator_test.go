// File path: internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/oolong-labs/teaqa/internal/fusion"
	"github.com/oolong-labs/teaqa/internal/llm/providers"
	"github.com/oolong-labs/teaqa/internal/store"
)

type echoProvider struct {
	lastMessages []providers.Message
}

func (e *echoProvider) Chat(ctx context.Context, messages []providers.Message) (string, error) {
	e.lastMessages = messages
	return "answer about " + messages[len(messages)-1].Content, nil
}

func (e *echoProvider) Name() string { return "echo" }

type failingEmbedder struct {
	err error
}

func (f failingEmbedder) Embed(ctx context.Context, input []string) ([][]float32, error) {
	return nil, f.err
}

type downStore struct {
	store.Store
}

func (downStore) KeywordSearch(ctx context.Context, query string, k int) ([]store.ScoredChunk, error) {
	return nil, store.ErrStoreUnavailable
}

func seedStore(t *testing.T) *store.Local {
	t.Helper()
	local := store.NewLocal()
	chunks := []store.Chunk{
		{ID: "c1", Text: "Withering reduces moisture in fresh tea leaves.", Metadata: store.Metadata{Source: "process.md"}},
		{ID: "c2", Text: "Rolling shapes the withered leaf and starts oxidation.", Metadata: store.Metadata{Source: "process.md"}},
	}
	if _, err := local.Upsert(context.Background(), chunks); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return local
}

func TestAnswerGroundsInRetrievedContext(t *testing.T) {
	ctx := context.Background()
	local := seedStore(t)
	provider := &echoProvider{}
	engine := fusion.NewEngine(local, failingEmbedder{err: fmt.Errorf("unused")})
	orch := New(engine, provider)

	result, err := orch.Answer(ctx, "what does withering do", nil, fusion.ModeKeyword)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if result.Answer == "" {
		t.Fatal("expected an answer")
	}
	if result.Degraded {
		t.Fatal("unexpected degraded flag")
	}
	if len(result.Sources) != 1 || result.Sources[0] != "process.md" {
		t.Fatalf("unexpected sources: %v", result.Sources)
	}
	if len(provider.lastMessages) == 0 || provider.lastMessages[0].Role != "system" {
		t.Fatal("expected system message first")
	}
	if !strings.Contains(provider.lastMessages[0].Content, "[Source: process.md]") {
		t.Fatal("expected retrieved context in the system prompt")
	}
	last := provider.lastMessages[len(provider.lastMessages)-1]
	if last.Role != "user" || last.Content != "what does withering do" {
		t.Fatalf("expected the bare question last, got %+v", last)
	}
}

func TestAnswerWindowsHistory(t *testing.T) {
	ctx := context.Background()
	local := seedStore(t)
	provider := &echoProvider{}
	engine := fusion.NewEngine(local, failingEmbedder{err: fmt.Errorf("unused")})
	orch := New(engine, provider)

	history := make([]Turn, 0, 8)
	for i := 0; i < 8; i++ {
		history = append(history, Turn{
			Question: fmt.Sprintf("question %d about withering", i),
			Answer:   fmt.Sprintf("answer %d", i),
		})
	}
	if _, err := orch.Answer(ctx, "and then, about withering?", history, fusion.ModeKeyword); err != nil {
		t.Fatalf("answer: %v", err)
	}
	// one system message, five windowed turn pairs, and the question
	want := 1 + historyWindow*2 + 1
	if len(provider.lastMessages) != want {
		t.Fatalf("expected %d prompt messages, got %d", want, len(provider.lastMessages))
	}
	if !strings.Contains(provider.lastMessages[1].Content, "question 3") {
		t.Fatalf("expected window to start at turn 3, got %q", provider.lastMessages[1].Content)
	}
}

func TestAnswerDegradesWhenStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	provider := &echoProvider{}
	engine := fusion.NewEngine(downStore{Store: store.NewLocal()}, failingEmbedder{err: fmt.Errorf("unused")})
	orch := New(engine, provider)

	result, err := orch.Answer(ctx, "anything", nil, fusion.ModeKeyword)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !result.Degraded {
		t.Fatal("expected degraded answer when the store is down")
	}
	if len(result.Sources) != 0 {
		t.Fatalf("degraded answer should cite no sources, got %v", result.Sources)
	}
	if result.Answer == "" {
		t.Fatal("expected a best-effort answer")
	}
}

func TestAnswerPropagatesDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	provider := &echoProvider{}
	mismatch := &store.DimensionMismatchError{Want: 1024, Got: 384}
	engine := fusion.NewEngine(store.NewLocal(), failingEmbedder{err: mismatch})
	orch := New(engine, provider)

	if _, err := orch.Answer(ctx, "question", nil, fusion.ModeVector); err == nil {
		t.Fatal("expected dimension mismatch to propagate")
	}
}

func TestAnswerRejectsEmptyQuestion(t *testing.T) {
	engine := fusion.NewEngine(store.NewLocal(), failingEmbedder{err: fmt.Errorf("unused")})
	orch := New(engine, &echoProvider{})
	if _, err := orch.Answer(context.Background(), "   ", nil, fusion.ModeKeyword); err == nil {
		t.Fatal("expected error for empty question")
	}
}

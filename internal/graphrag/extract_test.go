// File path: internal/graphrag/extract_test.go
package graphrag

import (
	"context"
	"testing"

	"github.com/oolong-labs/teaqa/internal/llm/providers"
)

type scriptedProvider struct {
	reply string
	calls int
}

func (s *scriptedProvider) Chat(ctx context.Context, messages []providers.Message) (string, error) {
	s.calls++
	return s.reply, nil
}

func (s *scriptedProvider) Name() string { return "scripted" }

func TestExtractorParsesModelReply(t *testing.T) {
	provider := &scriptedProvider{reply: "(Sencha; is a; Green Tea)\n(Sencha; originates in; Japan)"}
	extractor := NewExtractor(provider)

	triplets, warnings, err := extractor.Extract(context.Background(), "Sencha is a Japanese green tea.")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(triplets) != 2 {
		t.Fatalf("expected 2 triplets, got %d", len(triplets))
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if provider.calls != 1 {
		t.Fatalf("expected one chat call, got %d", provider.calls)
	}
}

func TestExtractorSkipsEmptyText(t *testing.T) {
	provider := &scriptedProvider{}
	extractor := NewExtractor(provider)

	triplets, _, err := extractor.Extract(context.Background(), "   ")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if triplets != nil {
		t.Fatalf("expected no triplets for blank text, got %+v", triplets)
	}
	if provider.calls != 0 {
		t.Fatal("model should not be called for blank text")
	}
}

// File path: internal/graphrag/extract.go
package graphrag

import (
	"context"
	"fmt"
	"strings"

	"github.com/oolong-labs/teaqa/internal/common"
	"github.com/oolong-labs/teaqa/internal/llm/providers"
)

const maxTripletsPerChunk = 10

// Triplet is one extracted (subject, predicate, object) relation.
type Triplet struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

const extractionPrompt = `Extract up to %d knowledge triplets from the text below.
Write one triplet per line in exactly this format:
(subject; predicate; object)
Use short noun phrases for subject and object and a short verb phrase for the predicate.
Do not number the lines and do not add commentary.

Text:
%s`

// Extractor turns chunk text into triplets using a chat model. Malformed
// model output degrades to fewer triplets, never to a failure.
type Extractor struct {
	provider providers.Provider
}

// NewExtractor wraps the given chat provider.
func NewExtractor(provider providers.Provider) *Extractor {
	return &Extractor{provider: provider}
}

// Extract asks the model for triplets and parses whatever well-formed lines
// come back. The returned warnings describe skipped lines.
func (e *Extractor) Extract(ctx context.Context, text string) ([]Triplet, []string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil, nil
	}
	prompt := fmt.Sprintf(extractionPrompt, maxTripletsPerChunk, text)
	reply, err := e.provider.Chat(ctx, []providers.Message{
		{Role: "system", Content: "You are a precise information extraction engine."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("graphrag: extraction chat: %w", err)
	}
	triplets, warnings := ParseTriplets(reply)
	if len(warnings) > 0 {
		common.Logger().Debug("graphrag: extraction produced malformed lines", "skipped", len(warnings))
	}
	return triplets, warnings, nil
}

// ParseTriplets scans model output for "(subject; predicate; object)" lines.
// Lines that do not match are reported as warnings and skipped. At most
// maxTripletsPerChunk triplets are kept.
func ParseTriplets(output string) ([]Triplet, []string) {
	var triplets []Triplet
	var warnings []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(triplets) >= maxTripletsPerChunk {
			break
		}
		triplet, ok := parseTripletLine(line)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("skipped malformed triplet line: %q", truncateLine(line, 80)))
			continue
		}
		triplets = append(triplets, triplet)
	}
	return triplets, warnings
}

func parseTripletLine(line string) (Triplet, bool) {
	open := strings.Index(line, "(")
	closing := strings.LastIndex(line, ")")
	if open < 0 || closing <= open {
		return Triplet{}, false
	}
	parts := strings.Split(line[open+1:closing], ";")
	if len(parts) != 3 {
		return Triplet{}, false
	}
	triplet := Triplet{
		Subject:   strings.TrimSpace(parts[0]),
		Predicate: strings.TrimSpace(parts[1]),
		Object:    strings.TrimSpace(parts[2]),
	}
	if triplet.Subject == "" || triplet.Predicate == "" || triplet.Object == "" {
		return Triplet{}, false
	}
	return triplet, true
}

func truncateLine(line string, limit int) string {
	if len(line) <= limit {
		return line
	}
	return line[:limit] + "..."
}

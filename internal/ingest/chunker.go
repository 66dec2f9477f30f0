// File path: internal/ingest/chunker.go
package ingest

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/oolong-labs/teaqa/internal/store"
)

const (
	defaultChunkSize    = 1024
	defaultChunkOverlap = 64
)

// chunkSeparators favor paragraph and sentence boundaries, including the
// CJK full stop, before falling back to whitespace splits.
var chunkSeparators = []string{"\n\n", "\n", "。", ". ", " ", ""}

// Chunker splits raw document text into overlapping chunks with
// deterministic identifiers.
type Chunker struct {
	splitter textsplitter.RecursiveCharacter
}

// NewChunker builds a chunker targeting size characters per chunk with the
// given overlap. Non-positive values fall back to the defaults.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = defaultChunkOverlap
	}
	return &Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators(chunkSeparators),
		),
	}
}

// Split chunks the document text for the named source. Empty or
// whitespace-only text yields zero chunks; text shorter than the chunk size
// yields exactly one.
func (c *Chunker) Split(source, docType, text string) ([]store.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	parts, err := c.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("chunker: split %s: %w", source, err)
	}
	now := time.Now().UTC()
	chunks := make([]store.Chunk, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		sequence := len(chunks)
		chunks = append(chunks, store.Chunk{
			ID:   ChunkID(source, sequence),
			Text: part,
			Metadata: store.Metadata{
				Source:     source,
				Sequence:   sequence,
				DocType:    docType,
				IngestedAt: now,
			},
		})
	}
	return chunks, nil
}

// ChunkID derives a stable identifier from the source name and chunk
// sequence so re-ingesting a document overwrites its previous chunks.
func ChunkID(source string, sequence int) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s\x00%d", source, sequence)))
	return hex.EncodeToString(sum[:])[:24]
}

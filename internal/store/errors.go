// File path: internal/store/errors.go
package store

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable is returned by every operation when the backing store
// is unreachable. Ingestion retries with backoff; query paths fail fast and
// surface a degraded response upstream.
var ErrStoreUnavailable = errors.New("document store unavailable")

// DimensionMismatchError is the one fatal condition in the retrieval core:
// the vector being indexed or searched disagrees with the dimension the
// index was created with. Mixing vector spaces corrupts similarity scores
// irrecoverably, so this is never truncated or padded over.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: index configured for %d, got %d (full re-embedding required)", e.Want, e.Got)
}

// DeletionVerificationError reports that a delete-by-source call returned
// but a re-query still found matching chunks. Surfacing backend eventual
// consistency beats hiding it.
type DeletionVerificationError struct {
	Source    string
	Remaining int
}

func (e *DeletionVerificationError) Error() string {
	return fmt.Sprintf("delete verification failed for source %q: %d chunks still present", e.Source, e.Remaining)
}

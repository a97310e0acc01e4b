// Package mock provides an in-memory mock implementation of
// [embeddings.Embedder] for use in unit tests.
package mock

import (
	"context"
	"sync"

	"github.com/ringline-ai/ringline/pkg/provider/embeddings"
)

// Compile-time interface assertion.
var _ embeddings.Embedder = (*Embedder)(nil)

// Embedder is a mock implementation of [embeddings.Embedder].
// It is safe for concurrent use.
type Embedder struct {
	mu sync.Mutex

	// Vector is returned by every Embed call.
	Vector []float32

	// Err is the error returned by Embed.
	Err error

	// Dims is returned by Dimensions. Defaults to len(Vector) when zero.
	Dims int

	// Calls records the texts of all Embed invocations.
	Calls []string
}

// Embed implements [embeddings.Embedder].
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = append(e.Calls, text)
	return e.Vector, e.Err
}

// Dimensions implements [embeddings.Embedder].
func (e *Embedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Dims > 0 {
		return e.Dims
	}
	return len(e.Vector)
}

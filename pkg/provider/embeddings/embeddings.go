// Package embeddings defines the Embedder interface for text embedding
// backends used by transcript search.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// DefaultDimensions is the vector length assumed when no embedder is
// configured, matching OpenAI text-embedding-3-small.
const DefaultDimensions = 1536

// Embedder converts text into a dense vector.
type Embedder interface {
	// Embed returns the embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions reports the vector length this embedder produces.
	Dimensions() int
}

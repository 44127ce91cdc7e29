package search

import "context"

// Embedder is the embedding capability injected into the store.
type Embedder interface {
	// Embed returns one vector per input text, all of equal dimension.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Package embedding maps text to vectors for semantic lookup.
package embedding

import (
	"context"
	"errors"
)

// ErrEmptyEmbedding is returned when a provider answers without a vector
var ErrEmptyEmbedding = errors.New("provider returned an empty embedding")

// Provider maps text to a fixed-dimension vector. Implementations must be
// deterministic for a given model version and safe for concurrent use.
type Provider interface {
	// Name returns the provider name (e.g., "ollama", "openai")
	Name() string

	// Embed returns the vector for text
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Package backends defines the model backend contracts for text
// generation, embeddings and image captioning, plus an OpenAI-compatible
// client that serves all three.
package backends

import "context"

// Embedder converts text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dim reports the expected embedding dimensionality.
	Dim() int
}

// Generator produces text from a system prompt and a user prompt.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Vision produces a short textual caption for an image URL.
type Vision interface {
	Caption(ctx context.Context, imageURL string) (string, error)
}

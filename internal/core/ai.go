package core

import (
	"context"
	"time"
)

// Embedder turns texts into dense vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Generator is the external answer-generation service.
type Generator interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}

// ModelConfig configures an Embedder or Generator adapter.
type ModelConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

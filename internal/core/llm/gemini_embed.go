package llm

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/docuiq/internal/core"
)

// maxEmbedBatch is the largest batch the embedding API accepts per call.
const maxEmbedBatch = 100

type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
	cfg       core.ModelConfig
}

func NewGeminiEmbedder(ctx context.Context, cfg core.ModelConfig) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, core.Configuration("GEMINI_API_KEY is not set")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-004"
	}
	return &GeminiEmbedder{client: cl, modelName: cfg.Model, cfg: cfg}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiEmbedder) Model() string { return g.modelName }

// Embed sends texts in batches of at most maxEmbedBatch and returns one
// vector per text, in order.
func (g *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, cancel := withTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	em := g.client.EmbeddingModel(g.modelName)
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxEmbedBatch {
		end := min(start+maxEmbedBatch, len(texts))
		batch := em.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}

		resp, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, classify("gemini batch embed", err)
		}
		if len(resp.Embeddings) != end-start {
			return nil, core.Upstream("embed_failed", fmt.Errorf("gemini returned %d embeddings for %d texts", len(resp.Embeddings), end-start))
		}
		for _, e := range resp.Embeddings {
			out = append(out, e.Values)
		}
	}
	return out, nil
}

var _ core.Embedder = (*GeminiEmbedder)(nil)

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/markdave123-py/docuiq/internal/core"
)

type GeminiLLM struct {
	client    *genai.Client
	modelName string
	timeout   time.Duration
}

func NewGeminiLLM(ctx context.Context, cfg core.ModelConfig) (*GeminiLLM, error) {
	if cfg.APIKey == "" {
		return nil, core.Configuration("GEMINI_API_KEY is not set")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	return &GeminiLLM{client: cl, modelName: cfg.Model, timeout: cfg.Timeout}, nil
}

func (g *GeminiLLM) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	m := g.client.GenerativeModel(g.modelName)
	m.SetTemperature(0.2)
	m.ResponseMIMEType = "application/json"
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}

	resp, err := m.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", classify("gemini generate", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

var _ core.Generator = (*GeminiLLM)(nil)

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// classify maps API failures onto the core error classes. Bad credentials
// are configuration errors; throttling, timeouts and 5xx are transient.
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
			return core.Configuration("%s: %v", op, err)
		case gerr.Code == http.StatusTooManyRequests:
			return core.Upstream("rate_limited", fmt.Errorf("%s: %w", op, err))
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.Upstream("timeout", fmt.Errorf("%s: %w", op, err))
	}
	return core.Upstream("upstream_error", fmt.Errorf("%s: %w", op, err))
}

package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/docqa-ai/docqa/config"
	"github.com/docqa-ai/docqa/internal/agent/core"
	openai_provider "github.com/docqa-ai/docqa/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
	Gemini    Client = "gemini"
)

// Provider is the full LLM surface the application needs: grounded answer
// synthesis (buffered and streaming) plus embeddings for retrieval.
type Provider interface {
	GenerateAnswer(ctx context.Context, question string, contexts []string) (string, error)
	StreamAnswer(ctx context.Context, question string, contexts []string) (core.AnswerStream, error)
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// NewProvider creates an LLM client from configuration. A missing API key is
// a hard configuration error, never degraded.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", cfg.Provider, core.ErrNoGenerator)
	}
	switch Client(cfg.Provider) {
	case OpenAI:
		return openai_provider.NewClient(openai_provider.Config{
			APIKey:         cfg.APIKey,
			Model:          cfg.CompletionModel,
			EmbeddingModel: cfg.EmbeddingModel,
			Temperature:    cfg.Temperature,
			MaxTokens:      cfg.MaxTokens,
			Timeout:        cfg.Timeout,
			BaseURL:        cfg.BaseURL,
		}), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	case Gemini:
		return nil, errors.New("gemini client not implemented yet")
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

package llm

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Providers supported by the factory.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// FactoryConfig selects and configures the chat provider. Embeddings
// always go through the OpenAI-compatible endpoint, which is the only
// provider in the stack exposing them.
type FactoryConfig struct {
	Provider string // openai (default), anthropic, or mock

	APIKey       string
	BaseURL      string
	ChatTimeout  time.Duration
	EmbedTimeout time.Duration

	AnthropicAPIKey string

	Logger hclog.Logger
}

// NewClient creates a chat client for the configured provider.
func NewClient(cfg FactoryConfig) (Client, error) {
	switch cfg.Provider {
	case "", ProviderOpenAI:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			ChatTimeout:  cfg.ChatTimeout,
			EmbedTimeout: cfg.EmbedTimeout,
			Logger:       cfg.Logger,
		})

	case ProviderAnthropic:
		return NewAnthropicClient(AnthropicConfig{
			APIKey: cfg.AnthropicAPIKey,
			Logger: cfg.Logger,
		})

	case ProviderMock:
		return NewMockClient(), nil

	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

// NewEmbedder creates the embeddings client.
func NewEmbedder(cfg FactoryConfig, deployment string) (Embedder, error) {
	if cfg.Provider == ProviderMock {
		return &MockEmbedder{}, nil
	}

	client, err := NewOpenAIClient(OpenAIConfig{
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		ChatTimeout:  cfg.ChatTimeout,
		EmbedTimeout: cfg.EmbedTimeout,
		Logger:       cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return client.EmbedWith(deployment), nil
}

package provider

import (
	"context"
	"fmt"

	"github.com/influix/influix/internal/ollama"
)

const DefaultOllamaURL = "http://localhost:11434"

// Config selects and configures a backend.
type Config struct {
	Name    string // openai, anthropic, gemini or ollama
	APIKey  string
	BaseURL string
}

// New builds the provider named by cfg.Name.
func New(ctx context.Context, cfg Config) (Provider, error) {
	switch cfg.Name {
	case "", "openai":
		return NewOpenAI(cfg.APIKey, cfg.BaseURL), nil
	case "anthropic":
		return NewAnthropic(cfg.APIKey, cfg.BaseURL), nil
	case "gemini":
		g, err := NewGemini(ctx, cfg.APIKey, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "ollama":
		base := cfg.BaseURL
		if base == "" {
			base = DefaultOllamaURL
		}
		return NewOllama(ollama.New(base)), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q (want openai, anthropic, gemini or ollama)", cfg.Name)
	}
}

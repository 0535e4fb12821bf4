// Package resolve creates a Provider from provider-agnostic configuration.
package resolve

import (
	"fmt"
	"log/slog"

	"github.com/nevindra/yae"
	"github.com/nevindra/yae/provider/gemini"
	"github.com/nevindra/yae/provider/openaicompat"
)

// Config holds provider-agnostic configuration for creating a Provider.
type Config struct {
	Provider string // "gemini", "openai", "groq", "deepseek", "together", "mistral", "ollama"
	APIKey   string
	Model    string
	BaseURL  string // required for unknown openai-compat endpoints; auto-filled for known providers

	// Common cross-provider options (nil = provider default).
	Temperature *float64
	TopP        *float64

	Logger *slog.Logger
}

// Provider creates a yae.Provider from cfg.
func Provider(cfg Config) (yae.Provider, error) {
	switch cfg.Provider {
	case "gemini":
		return geminiProvider(cfg), nil
	case "openai", "groq", "deepseek", "together", "mistral", "ollama":
		return openaiCompatProvider(cfg), nil
	default:
		if cfg.BaseURL != "" {
			return openaiCompatProvider(cfg), nil
		}
		return nil, fmt.Errorf("resolve: unknown provider %q", cfg.Provider)
	}
}

func geminiProvider(cfg Config) yae.Provider {
	var opts []gemini.Option
	if cfg.Temperature != nil {
		opts = append(opts, gemini.WithTemperature(*cfg.Temperature))
	}
	if cfg.TopP != nil {
		opts = append(opts, gemini.WithTopP(*cfg.TopP))
	}
	if cfg.Logger != nil {
		opts = append(opts, gemini.WithLogger(cfg.Logger))
	}
	return gemini.New(cfg.APIKey, cfg.Model, opts...)
}

func openaiCompatProvider(cfg Config) yae.Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL(cfg.Provider)
	}
	opts := []openaicompat.Option{openaicompat.WithName(cfg.Provider)}
	if cfg.Temperature != nil {
		opts = append(opts, openaicompat.WithTemperature(*cfg.Temperature))
	}
	if cfg.TopP != nil {
		opts = append(opts, openaicompat.WithTopP(*cfg.TopP))
	}
	if cfg.Logger != nil {
		opts = append(opts, openaicompat.WithLogger(cfg.Logger))
	}
	return openaicompat.New(cfg.APIKey, cfg.Model, baseURL, opts...)
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return "https://api.openai.com/v1"
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "deepseek":
		return "https://api.deepseek.com/v1"
	case "together":
		return "https://api.together.xyz/v1"
	case "mistral":
		return "https://api.mistral.ai/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}

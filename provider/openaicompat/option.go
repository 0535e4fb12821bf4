package openaicompat

import (
	"log/slog"
	"net/http"
)

// Option configures a Provider.
type Option func(*Provider)

// WithName overrides the provider name reported by Name (default "openai").
// Useful when pointing at OpenRouter, Groq, or a local endpoint.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithHTTPClient replaces the HTTP client. The per-call timeout is the
// caller's responsibility via context.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithTemperature sets the sampling temperature applied to every request.
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = &t }
}

// WithTopP sets nucleus sampling top-p applied to every request.
func WithTopP(v float64) Option {
	return func(p *Provider) { p.topP = &v }
}

// WithMaxTokens caps output tokens per request.
func WithMaxTokens(n int) Option {
	return func(p *Provider) { p.maxTokens = n }
}

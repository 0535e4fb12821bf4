package resolve

import (
	"testing"
)

func TestDefaultBaseURL(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{"openai", "https://api.openai.com/v1"},
		{"groq", "https://api.groq.com/openai/v1"},
		{"deepseek", "https://api.deepseek.com/v1"},
		{"together", "https://api.together.xyz/v1"},
		{"mistral", "https://api.mistral.ai/v1"},
		{"ollama", "http://localhost:11434/v1"},
		{"unknown", ""},
	}
	for _, tt := range tests {
		if got := defaultBaseURL(tt.provider); got != tt.want {
			t.Errorf("defaultBaseURL(%q) = %q, want %q", tt.provider, got, tt.want)
		}
	}
}

func TestProviderGemini(t *testing.T) {
	p, err := Provider(Config{Provider: "gemini", APIKey: "test-key", Model: "gemini-2.0-flash"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "gemini" {
		t.Errorf("Name() = %q, want gemini", p.Name())
	}
}

func TestProviderOpenAICompat(t *testing.T) {
	for _, name := range []string{"openai", "groq", "deepseek", "together", "mistral", "ollama"} {
		p, err := Provider(Config{Provider: name, APIKey: "k", Model: "m"})
		if err != nil {
			t.Fatalf("Provider(%q): %v", name, err)
		}
		if p.Name() != name {
			t.Errorf("Name() = %q, want %q", p.Name(), name)
		}
	}
}

func TestProviderCustomBaseURL(t *testing.T) {
	p, err := Provider(Config{Provider: "openrouter", APIKey: "k", Model: "m", BaseURL: "https://openrouter.ai/api/v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "openrouter" {
		t.Errorf("Name() = %q, want openrouter", p.Name())
	}
}

func TestProviderUnknownWithoutBaseURL(t *testing.T) {
	if _, err := Provider(Config{Provider: "nope"}); err == nil {
		t.Fatal("expected error for unknown provider without base URL")
	}
}

// Package config loads the server configuration: defaults, then a TOML
// file, then YAE_* env vars (env wins).
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	LLM      LLMConfig      `toml:"llm"`
	Database DatabaseConfig `toml:"database"`
	Agent    AgentConfig    `toml:"agent"`
	Search   SearchConfig   `toml:"search"`
	Observer ObserverConfig `toml:"observer"`
}

type ServerConfig struct {
	Addr             string `toml:"addr"`
	PublicRatePerMin int    `toml:"public_rate_per_min"`
	AuthedRatePerMin int    `toml:"authed_rate_per_min"`
}

type LLMConfig struct {
	Provider    string  `toml:"provider"`
	Model       string  `toml:"model"`
	APIKey      string  `toml:"api_key"`
	BaseURL     string  `toml:"base_url"`
	Temperature float64 `toml:"temperature"`
}

type DatabaseConfig struct {
	// Driver selects the backend: "sqlite" (one file per agent under Dir)
	// or "postgres" (one shared pool, rows partitioned by agent).
	Driver      string `toml:"driver"`
	Dir         string `toml:"dir"`
	PostgresURL string `toml:"postgres_url"`
}

type AgentConfig struct {
	WorkspacePath string `toml:"workspace_path"`
	PoolSize      int    `toml:"pool_size"`
	Instructions  string `toml:"instructions"`
}

type SearchConfig struct {
	BraveAPIKey string `toml:"brave_api_key"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	return Config{
		Server: ServerConfig{
			Addr:             ":8080",
			PublicRatePerMin: 5,
			AuthedRatePerMin: 30,
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			BaseURL:  "https://api.openai.com/v1",
		},
		Database: DatabaseConfig{Driver: "sqlite", Dir: "data"},
		Agent:    AgentConfig{WorkspacePath: filepath.Join(home, "yae-workspace"), PoolSize: 4},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "yae.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("YAE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("YAE_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("YAE_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("YAE_POSTGRES_URL"); v != "" {
		cfg.Database.PostgresURL = v
		cfg.Database.Driver = "postgres"
	}
	if v := os.Getenv("YAE_BRAVE_API_KEY"); v != "" {
		cfg.Search.BraveAPIKey = v
	}
	if v := os.Getenv("YAE_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}

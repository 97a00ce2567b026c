// Package llm provides language model backends for the mirror.
// Supports Ollama (local), OpenAI and Google Gemini.
package llm

import (
	"context"
	"errors"
	"io"
	"time"
)

// MaxErrorBodySize limits how much error response body we read (1MB)
const MaxErrorBodySize = 1 * 1024 * 1024

// readLimitedBody reads up to maxBytes from r.
func readLimitedBody(r io.Reader, maxBytes int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxBytes))
}

// Common errors
var (
	ErrEmptyReply     = errors.New("language model returned an empty reply")
	ErrNotConfigured  = errors.New("language model provider not configured")
	ErrUnknownBackend = errors.New("unknown language model provider")
)

// Provider completes a prompt into a reply.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Complete sends prompt and returns the model's reply.
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config holds backend settings shared by every provider.
type Config struct {
	Provider    string        `json:"provider"`
	Model       string        `json:"model"`
	BaseURL     string        `json:"base_url"`
	APIKey      string        `json:"api_key"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	MaxTokens   int           `json:"max_tokens"`
	Timeout     time.Duration `json:"timeout"`
}

// DefaultConfig returns the defaults for a provider.
func DefaultConfig(provider string) *Config {
	cfg := &Config{
		Provider:    provider,
		Temperature: 0.7,
		TopP:        0.9,
		MaxTokens:   150,
		Timeout:     45 * time.Second,
	}
	switch provider {
	case "ollama":
		cfg.Model = "llama3.2:3b"
		cfg.BaseURL = "http://localhost:11434"
	case "openai":
		cfg.Model = "gpt-4o-mini"
	case "gemini":
		cfg.Model = "gemini-2.0-flash"
	}
	return cfg
}

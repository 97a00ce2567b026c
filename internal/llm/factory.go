package llm

import (
	"context"
	"fmt"
)

// New creates the backend named by cfg.Provider.
func New(ctx context.Context, cfg *Config) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm: %w", ErrNotConfigured)
	}

	switch cfg.Provider {
	case "ollama", "":
		return NewOllamaProvider(cfg), nil
	case "openai":
		p, err := NewOpenAIProvider(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "gemini":
		p, err := NewGeminiProvider(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Provider)
	}
}

// unavailable stands in for a backend that failed to initialize, so the
// mirror still answers with the fallback reply.
type unavailable struct {
	name string
	err  error
}

// Unavailable returns a provider whose every call fails with err.
func Unavailable(name string, err error) Provider {
	return &unavailable{name: name, err: err}
}

func (u *unavailable) Name() string { return u.name }

func (u *unavailable) Complete(context.Context, string) (string, error) {
	return "", u.err
}

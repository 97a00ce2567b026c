package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider with the Gemini API.
type GeminiProvider struct {
	config *Config
	client *genai.Client
}

// NewGeminiProvider creates a new Gemini provider.
func NewGeminiProvider(ctx context.Context, cfg *Config) (*GeminiProvider, error) {
	if cfg == nil {
		cfg = DefaultConfig("gemini")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrNotConfigured)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultConfig("gemini").Model
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}

	return &GeminiProvider{config: cfg, client: client}, nil
}

// Name returns the provider identifier.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Complete sends prompt as a single user turn.
func (p *GeminiProvider) Complete(ctx context.Context, prompt string) (string, error) {
	gc := &genai.GenerateContentConfig{}
	if p.config.Temperature > 0 {
		temp := float32(p.config.Temperature)
		gc.Temperature = &temp
	}
	if p.config.TopP > 0 {
		topP := float32(p.config.TopP)
		gc.TopP = &topP
	}
	if p.config.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(p.config.MaxTokens)
	}

	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.config.Model, []*genai.Content{
		{Parts: []*genai.Part{{Text: prompt}}, Role: "user"},
	}, gc)
	if err != nil {
		return "", fmt.Errorf("genai generate: %w", err)
	}

	var sb strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
	}

	reply := strings.TrimSpace(sb.String())
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

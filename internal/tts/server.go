package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const maxAudioSize = 50 * 1024 * 1024

// ServerConfig configures the speech server client
type ServerConfig struct {
	BaseURL   string        `json:"base_url"`
	SpeakerID string        `json:"speaker_id"`
	Timeout   time.Duration `json:"timeout"`
}

// DefaultServerConfig returns sensible defaults
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		BaseURL: "http://localhost:5001",
		Timeout: 30 * time.Second,
	}
}

// ServerSpeaker synthesizes speech on the local speech server and hands the
// WAV audio to a Player.
type ServerSpeaker struct {
	config *ServerConfig
	client *http.Client
	player Player
	logger zerolog.Logger
}

// NewServerSpeaker creates a speaker backed by the speech server.
func NewServerSpeaker(logger zerolog.Logger, config *ServerConfig, player Player) *ServerSpeaker {
	if config == nil {
		config = DefaultServerConfig()
	}
	return &ServerSpeaker{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		player: player,
		logger: logger.With().Str("provider", "tts-server").Logger(),
	}
}

type synthesizeRequest struct {
	Text      string `json:"text"`
	SpeakerID string `json:"speaker_id,omitempty"`
}

type serverError struct {
	Error string `json:"error"`
}

// Speak synthesizes text and plays it.
func (s *ServerSpeaker) Speak(ctx context.Context, text, voice string) error {
	audio, err := s.Synthesize(ctx, text, voice)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := s.player.Play(ctx, audio, "wav"); err != nil {
		return err
	}
	s.logger.Debug().Dur("played", time.Since(start)).Msg("Speech finished")
	return nil
}

// Synthesize returns WAV audio for text.
func (s *ServerSpeaker) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if voice == "" {
		voice = s.config.SpeakerID
	}

	body, err := json.Marshal(synthesizeRequest{Text: text, SpeakerID: voice})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url("/tts"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.statusError(resp)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioSize))
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}

	s.logger.Debug().
		Int("chars", len(text)).
		Int("bytes", len(audio)).
		Dur("elapsed", time.Since(start)).
		Msg("Speech synthesized")
	return audio, nil
}

// Voices lists the server's speakers.
func (s *ServerSpeaker) Voices(ctx context.Context) (*Voices, error) {
	var v Voices
	if err := s.getJSON(ctx, "/speakers", &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Health reads the server's health report.
func (s *ServerSpeaker) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := s.getJSON(ctx, "/health", &h); err != nil {
		return nil, err
	}
	if !h.Initialized {
		return &h, fmt.Errorf("%w: model not initialized", ErrProviderUnavailable)
	}
	return &h, nil
}

// ChangeModel switches the server's synthesis model.
func (s *ServerSpeaker) ChangeModel(ctx context.Context, model string) error {
	body, err := json.Marshal(map[string]string{"model": model})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url("/change-model"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s.statusError(resp)
	}
	return nil
}

func (s *ServerSpeaker) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url(path), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s.statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (s *ServerSpeaker) statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var se serverError
	if json.Unmarshal(data, &se) == nil && se.Error != "" {
		return fmt.Errorf("tts server error (status %d): %s", resp.StatusCode, se.Error)
	}
	return fmt.Errorf("tts server error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
}

func (s *ServerSpeaker) url(path string) string {
	return strings.TrimRight(s.config.BaseURL, "/") + path
}

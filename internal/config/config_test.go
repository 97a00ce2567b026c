package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "hey mirror", cfg.Conversation.WakePhrase)
	assert.Equal(t, 2*time.Second, cfg.Conversation.InactivityDelay)
	assert.Equal(t, 5*time.Second, cfg.Conversation.WakeIdleDelay)
	assert.Equal(t, 3*time.Second, cfg.Conversation.RetryDelay)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "llama3.2:3b", cfg.LLM.Model)
	assert.Equal(t, "America/Chicago", cfg.Context.Timezone)
	assert.Equal(t, 2*time.Minute, cfg.Display.PlaybackTimeout)
	assert.Equal(t, []string{"SPY", "AAPL", "GOOGL", "MSFT"}, cfg.Context.Market.Symbols)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty wake phrase", func(c *Config) { c.Conversation.WakePhrase = "  " }},
		{"zero inactivity", func(c *Config) { c.Conversation.InactivityDelay = 0 }},
		{"negative speech guard", func(c *Config) { c.Conversation.SpeechGuard = -time.Second }},
		{"no start attempts", func(c *Config) { c.Conversation.MaxStartAttempts = 0 }},
		{"unknown llm provider", func(c *Config) { c.LLM.Provider = "bard" }},
		{"unknown player", func(c *Config) { c.TTS.Player = "speaker" }},
		{"no playback timeout", func(c *Config) { c.Display.PlaybackTimeout = 0 }},
		{"bad timezone", func(c *Config) { c.Context.Timezone = "Mars/Olympus" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_WritesDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "hey mirror", cfg.Conversation.WakePhrase)

	_, err = os.Stat(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)

	// The written file loads back to the same values.
	again, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg.Conversation, again.Conversation)
	assert.Equal(t, cfg.Context.Market.Symbols, again.Context.Market.Symbols)
}

func TestLoad_FileOverrides(t *testing.T) {
	dir := t.TempDir()
	content := `
conversation:
  wake_phrase: "hello glass"
  inactivity_delay: 1500ms
llm:
  provider: gemini
  model: gemini-2.0-flash
context:
  keywords:
    weather: [umbrella]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0600))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "hello glass", cfg.Conversation.WakePhrase)
	assert.Equal(t, 1500*time.Millisecond, cfg.Conversation.InactivityDelay)
	assert.Equal(t, 5*time.Second, cfg.Conversation.WakeIdleDelay, "unset keys keep defaults")
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, []string{"umbrella"}, cfg.Context.Keywords["weather"])
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MIRROR_LLM_PROVIDER", "openai")
	t.Setenv("MIRROR_CONTEXT_WEATHER_API_KEY", "secret")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "secret", cfg.Context.Weather.APIKey)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MIRROR_CACHE_REDIS_ADDR=localhost:6379\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("MIRROR_CACHE_REDIS_ADDR") })

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
}

func TestDump(t *testing.T) {
	out, err := Dump(DefaultConfig())
	require.NoError(t, err)
	assert.Contains(t, out, "wake_phrase: hey mirror")
	assert.Contains(t, out, "inactivity_delay: 2s")
}

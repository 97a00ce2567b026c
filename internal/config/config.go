// Package config provides configuration management for the mirror.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Log          LogConfig          `mapstructure:"log" yaml:"log"`
	Conversation ConversationConfig `mapstructure:"conversation" yaml:"conversation"`
	STT          STTConfig          `mapstructure:"stt" yaml:"stt"`
	LLM          LLMConfig          `mapstructure:"llm" yaml:"llm"`
	TTS          TTSConfig          `mapstructure:"tts" yaml:"tts"`
	Display      DisplayConfig      `mapstructure:"display" yaml:"display"`
	Context      ContextConfig      `mapstructure:"context" yaml:"context"`
	Cache        CacheConfig        `mapstructure:"cache" yaml:"cache"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler" yaml:"scheduler"`
	Usage        UsageConfig        `mapstructure:"usage" yaml:"usage"`
}

// LogConfig configures logging output
type LogConfig struct {
	Dir     string `mapstructure:"dir" yaml:"dir"`
	Level   string `mapstructure:"level" yaml:"level"`
	Console bool   `mapstructure:"console" yaml:"console"`
}

// ConversationConfig holds the wake phrase and every lifecycle delay.
type ConversationConfig struct {
	WakePhrase         string        `mapstructure:"wake_phrase" yaml:"wake_phrase"`
	InactivityDelay    time.Duration `mapstructure:"inactivity_delay" yaml:"inactivity_delay"`
	WakeIdleDelay      time.Duration `mapstructure:"wake_idle_delay" yaml:"wake_idle_delay"`
	RestartDelay       time.Duration `mapstructure:"restart_delay" yaml:"restart_delay"`               // after a session ends
	ResetDelay         time.Duration `mapstructure:"reset_delay" yaml:"reset_delay"`                   // after an explicit reset
	RetryDelay         time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`                   // backoff base for failed starts
	BackoffCap         time.Duration `mapstructure:"backoff_cap" yaml:"backoff_cap"`
	MaxStartAttempts   int           `mapstructure:"max_start_attempts" yaml:"max_start_attempts"`
	SpeechGuard        time.Duration `mapstructure:"speech_guard" yaml:"speech_guard"`                 // after speech ends normally
	GestureNoticeGuard time.Duration `mapstructure:"gesture_notice_guard" yaml:"gesture_notice_guard"` // after playback was blocked
	ErrorGuard         time.Duration `mapstructure:"error_guard" yaml:"error_guard"`                   // after other playback errors
	TurnTimeout        time.Duration `mapstructure:"turn_timeout" yaml:"turn_timeout"`
	FallbackReply      string        `mapstructure:"fallback_reply" yaml:"fallback_reply"`
	GestureNotice      string        `mapstructure:"gesture_notice" yaml:"gesture_notice"`
	UnsupportedNotice  string        `mapstructure:"unsupported_notice" yaml:"unsupported_notice"`
}

// STTConfig configures the streaming recognizer
type STTConfig struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	Language string `mapstructure:"language" yaml:"language"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key"`
}

// LLMConfig configures the language model backend
type LLMConfig struct {
	Provider      string        `mapstructure:"provider" yaml:"provider"` // ollama, openai, gemini
	Model         string        `mapstructure:"model" yaml:"model"`
	BaseURL       string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey        string        `mapstructure:"api_key" yaml:"api_key"`
	Temperature   float64       `mapstructure:"temperature" yaml:"temperature"`
	TopP          float64       `mapstructure:"top_p" yaml:"top_p"`
	MaxTokens     int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	FallbackReply string        `mapstructure:"fallback_reply" yaml:"fallback_reply"`
	Persona       bool          `mapstructure:"persona" yaml:"persona"` // wrap prompts in the assistant preamble
}

// TTSConfig configures speech output
type TTSConfig struct {
	ServerURL string        `mapstructure:"server_url" yaml:"server_url"`
	SpeakerID string        `mapstructure:"speaker_id" yaml:"speaker_id"`
	Player    string        `mapstructure:"player" yaml:"player"` // command, display
	Command   []string      `mapstructure:"command" yaml:"command"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DisplayConfig configures the display hub
type DisplayConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	PlaybackTimeout time.Duration `mapstructure:"playback_timeout" yaml:"playback_timeout"` // cap on waiting for a display's playback report
}

// ContextConfig configures the context aggregator and its providers.
type ContextConfig struct {
	Timezone        string              `mapstructure:"timezone" yaml:"timezone"`
	ProviderTimeout time.Duration       `mapstructure:"provider_timeout" yaml:"provider_timeout"`
	Keywords        map[string][]string `mapstructure:"keywords" yaml:"keywords,omitempty"` // extra keywords per topic
	Weather         WeatherConfig       `mapstructure:"weather" yaml:"weather"`
	Calendar        CalendarConfig      `mapstructure:"calendar" yaml:"calendar"`
	Market          MarketConfig        `mapstructure:"market" yaml:"market"`
}

// WeatherConfig configures OpenWeatherMap
type WeatherConfig struct {
	APIKey  string  `mapstructure:"api_key" yaml:"api_key"`
	BaseURL string  `mapstructure:"base_url" yaml:"base_url"`
	Lat     float64 `mapstructure:"lat" yaml:"lat"`
	Lon     float64 `mapstructure:"lon" yaml:"lon"`
	Units   string  `mapstructure:"units" yaml:"units"`
}

// CalendarConfig configures Google Calendar
type CalendarConfig struct {
	APIKey        string `mapstructure:"api_key" yaml:"api_key"`
	CalendarID    string `mapstructure:"calendar_id" yaml:"calendar_id"`
	BaseURL       string `mapstructure:"base_url" yaml:"base_url"`
	LookaheadDays int    `mapstructure:"lookahead_days" yaml:"lookahead_days"`
	MaxResults    int    `mapstructure:"max_results" yaml:"max_results"`
}

// MarketConfig configures stock quotes
type MarketConfig struct {
	RapidAPIKey     string   `mapstructure:"rapidapi_key" yaml:"rapidapi_key"`
	AlphaVantageKey string   `mapstructure:"alphavantage_key" yaml:"alphavantage_key"`
	YahooBaseURL    string   `mapstructure:"yahoo_base_url" yaml:"yahoo_base_url"`
	AlphaBaseURL    string   `mapstructure:"alpha_base_url" yaml:"alpha_base_url"`
	Symbols         []string `mapstructure:"symbols" yaml:"symbols"`
	MaxShown        int      `mapstructure:"max_shown" yaml:"max_shown"`
	Timezone        string   `mapstructure:"timezone" yaml:"timezone"` // exchange timezone
}

// CacheConfig configures the redis snapshot cache. Empty address disables it.
type CacheConfig struct {
	RedisAddr string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	Password  string        `mapstructure:"password" yaml:"password"`
	DB        int           `mapstructure:"db" yaml:"db"`
	Prefix    string        `mapstructure:"prefix" yaml:"prefix"`
	TTL       time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// SchedulerConfig holds cron specs for cache prewarm jobs. Empty spec disables a job.
type SchedulerConfig struct {
	Weather  string `mapstructure:"weather" yaml:"weather"`
	Calendar string `mapstructure:"calendar" yaml:"calendar"`
	Market   string `mapstructure:"market" yaml:"market"`
}

// UsageConfig configures the usage and history store
type UsageConfig struct {
	DBPath     string `mapstructure:"db_path" yaml:"db_path"`
	DailyLimit int    `mapstructure:"daily_limit" yaml:"daily_limit"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	dir := configDir()
	return &Config{
		Log: LogConfig{
			Dir:     filepath.Join(dir, "logs"),
			Level:   "info",
			Console: true,
		},
		Conversation: ConversationConfig{
			WakePhrase:         "hey mirror",
			InactivityDelay:    2 * time.Second,
			WakeIdleDelay:      5 * time.Second,
			RestartDelay:       2 * time.Second,
			ResetDelay:         1 * time.Second,
			RetryDelay:         3 * time.Second,
			BackoffCap:         30 * time.Second,
			MaxStartAttempts:   3,
			SpeechGuard:        2 * time.Second,
			GestureNoticeGuard: 5 * time.Second,
			ErrorGuard:         3 * time.Second,
			TurnTimeout:        60 * time.Second,
			FallbackReply:      "Sorry, I encountered an error processing your request.",
			GestureNotice:      "Audio playback requires user interaction. Tap the mirror to hear the reply.",
			UnsupportedNotice:  "Speech recognition is not available on this mirror.",
		},
		STT: STTConfig{
			Endpoint: "ws://localhost:5002/listen",
			Language: "en-US",
		},
		LLM: LLMConfig{
			Provider:      "ollama",
			Model:         "llama3.2:3b",
			BaseURL:       "http://localhost:11434",
			Temperature:   0.7,
			TopP:          0.9,
			MaxTokens:     150,
			Timeout:       45 * time.Second,
			FallbackReply: "The chat is not connected right now",
			Persona:       true,
		},
		TTS: TTSConfig{
			ServerURL: "http://localhost:5001",
			Player:    "command",
			Command:   []string{"aplay", "-q", "-"},
			Timeout:   30 * time.Second,
		},
		Display: DisplayConfig{
			Enabled:         true,
			Addr:            ":8090",
			PlaybackTimeout: 2 * time.Minute,
		},
		Context: ContextConfig{
			Timezone:        "America/Chicago",
			ProviderTimeout: 8 * time.Second,
			Weather: WeatherConfig{
				BaseURL: "https://api.openweathermap.org/data/2.5",
				Lat:     29.5321,
				Lon:     -95.3207,
				Units:   "imperial",
			},
			Calendar: CalendarConfig{
				CalendarID:    "primary",
				BaseURL:       "https://www.googleapis.com/calendar/v3",
				LookaheadDays: 7,
				MaxResults:    50,
			},
			Market: MarketConfig{
				YahooBaseURL: "https://yahoo-finance15.p.rapidapi.com",
				AlphaBaseURL: "https://www.alphavantage.co",
				Symbols:      []string{"SPY", "AAPL", "GOOGL", "MSFT"},
				MaxShown:     3,
				Timezone:     "America/New_York",
			},
		},
		Cache: CacheConfig{
			Prefix: "mirror:",
			TTL:    10 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			Weather:  "*/15 * * * *",
			Calendar: "*/10 * * * *",
			Market:   "*/5 9-16 * * 1-5",
		},
		Usage: UsageConfig{
			DBPath:     filepath.Join(dir, "mirror.db"),
			DailyLimit: 1000,
		},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	conv := c.Conversation
	if strings.TrimSpace(conv.WakePhrase) == "" {
		return errors.New("conversation.wake_phrase must not be empty")
	}

	delays := map[string]time.Duration{
		"inactivity_delay":     conv.InactivityDelay,
		"wake_idle_delay":      conv.WakeIdleDelay,
		"restart_delay":        conv.RestartDelay,
		"reset_delay":          conv.ResetDelay,
		"retry_delay":          conv.RetryDelay,
		"backoff_cap":          conv.BackoffCap,
		"speech_guard":         conv.SpeechGuard,
		"gesture_notice_guard": conv.GestureNoticeGuard,
		"error_guard":          conv.ErrorGuard,
		"turn_timeout":         conv.TurnTimeout,
	}
	for name, d := range delays {
		if d <= 0 {
			return fmt.Errorf("conversation.%s must be positive, got %s", name, d)
		}
	}
	if conv.MaxStartAttempts <= 0 {
		return fmt.Errorf("conversation.max_start_attempts must be positive, got %d", conv.MaxStartAttempts)
	}

	switch c.LLM.Provider {
	case "ollama", "openai", "gemini":
	default:
		return fmt.Errorf("unknown llm.provider %q", c.LLM.Provider)
	}

	switch c.TTS.Player {
	case "command", "display":
	default:
		return fmt.Errorf("unknown tts.player %q", c.TTS.Player)
	}

	if c.Display.PlaybackTimeout <= 0 {
		return fmt.Errorf("display.playback_timeout must be positive, got %s", c.Display.PlaybackTimeout)
	}

	if c.Context.ProviderTimeout <= 0 {
		return fmt.Errorf("context.provider_timeout must be positive, got %s", c.Context.ProviderTimeout)
	}
	if _, err := time.LoadLocation(c.Context.Timezone); err != nil {
		return fmt.Errorf("context.timezone: %w", err)
	}
	return nil
}

// Location returns the configured clock timezone, falling back to local time.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Context.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Load reads configuration from dir (or ~/.mirror when empty) and the environment.
// A default config.yaml is written when none exists.
func Load(dir string) (*Config, error) {
	cfg := DefaultConfig()

	if dir == "" {
		dir = configDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return cfg, err
	}

	// Secrets live next to the config; a missing file is fine.
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	// Environment variable overrides, e.g. MIRROR_LLM_PROVIDER
	v.SetEnvPrefix("MIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := Save(cfg, dir); err != nil {
			return cfg, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// bindEnv registers the keys most often supplied through the environment so
// AutomaticEnv sees them even when absent from the file.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"llm.provider", "llm.model", "llm.base_url", "llm.api_key",
		"stt.endpoint", "stt.api_key",
		"tts.server_url",
		"context.weather.api_key",
		"context.calendar.api_key", "context.calendar.calendar_id",
		"context.market.rapidapi_key", "context.market.alphavantage_key",
		"cache.redis_addr", "cache.password",
	} {
		_ = v.BindEnv(key)
	}
}

// Save writes the configuration to dir/config.yaml
func Save(cfg *Config, dir string) error {
	if dir == "" {
		dir = configDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0600)
}

// Dump renders the configuration as YAML.
func Dump(cfg *Config) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Dir returns the default configuration directory path
func Dir() string {
	return configDir()
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mirror"
	}
	return filepath.Join(home, ".mirror")
}

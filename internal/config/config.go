package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string `mapstructure:"PORT"`
	Env            string `mapstructure:"ENV"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	OpenAIKey      string `mapstructure:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `mapstructure:"OPENAI_BASE_URL"`
	ChatModel      string `mapstructure:"OPENAI_MODEL_CHAT"`
	STTModel       string `mapstructure:"OPENAI_MODEL_STT"`
	TTSModel       string `mapstructure:"OPENAI_MODEL_TTS"`
	TTSVoice       string `mapstructure:"OPENAI_TTS_VOICE"`
	SpeechLanguage string `mapstructure:"SPEECH_LANGUAGE"`
	NotifyChannel  string `mapstructure:"NOTIFY_CHANNEL"`
	PhotoBucket    string `mapstructure:"PHOTO_BUCKET"`
	SlipFontPath   string `mapstructure:"SLIP_FONT_PATH"`
}

var keys = []string{
	"PORT",
	"ENV",
	"DATABASE_URL",
	"OPENAI_API_KEY",
	"OPENAI_BASE_URL",
	"OPENAI_MODEL_CHAT",
	"OPENAI_MODEL_STT",
	"OPENAI_MODEL_TTS",
	"OPENAI_TTS_VOICE",
	"SPEECH_LANGUAGE",
	"NOTIFY_CHANNEL",
	"PHOTO_BUCKET",
	"SLIP_FONT_PATH",
}

// Load reads .env (when present) and the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("OPENAI_MODEL_CHAT", "gpt-4o-mini")
	v.SetDefault("OPENAI_MODEL_STT", "whisper-1")
	v.SetDefault("OPENAI_MODEL_TTS", "tts-1")
	v.SetDefault("OPENAI_TTS_VOICE", "alloy")
	v.SetDefault("SPEECH_LANGUAGE", "hi")
	v.SetDefault("NOTIFY_CHANNEL", "patient_visits")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// a missing .env is fine
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the kiosk is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UsesMemoryStore reports whether patients are kept in process memory because
// no database is configured.
func (c *Config) UsesMemoryStore() bool {
	return strings.TrimSpace(c.DatabaseURL) == ""
}

// Validate checks that the configuration is safe to run.  Production needs an
// API key and a database; development may run against the in-memory store.
func (c *Config) Validate() error {
	switch c.Env {
	case "development", "test", "production":
	default:
		return fmt.Errorf("ENV must be \"development\", \"test\" or \"production\", got %q", c.Env)
	}
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.IsProduction() {
		if c.OpenAIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required in production")
		}
		if c.UsesMemoryStore() {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
	}
	if c.NotifyChannel != "" && strings.ContainsAny(c.NotifyChannel, " \t\"'") {
		return fmt.Errorf("NOTIFY_CHANNEL %q is not a valid channel name", c.NotifyChannel)
	}
	return nil
}

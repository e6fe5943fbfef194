// Package config holds process-wide settings read from the environment and
// the YAML manifest that describes an agency.
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/hupe1980/agencymesh/core"
	"github.com/hupe1980/agencymesh/logging"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Settings is the explicit configuration object built once at process start
// and passed to every agent constructor.
type Settings struct {
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY"`
	GoogleAPIKey    string `envconfig:"GOOGLE_API_KEY"`
	GeminiAPIKey    string `envconfig:"GEMINI_API_KEY"` // Alias for GOOGLE_API_KEY
	OpenAIAPIKey    string `envconfig:"OPENAI_API_KEY"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"` // text|json

	CacheDir         string  `envconfig:"CACHE_DIR" default:".cache"`
	DefaultMaxTokens int64   `envconfig:"DEFAULT_MAX_TOKENS" default:"4096"`
	MaxTemperature   float64 `envconfig:"MAX_TEMPERATURE" default:"1.0"`

	// Reserved for the retrieval and sandbox subsystems; parsed, not used.
	EmbeddingModel     string        `envconfig:"EMBEDDING_MODEL"`
	IndexPath          string        `envconfig:"INDEX_PATH"`
	SandboxTimeout     time.Duration `envconfig:"SANDBOX_TIMEOUT" default:"30s"`
	SandboxMemoryLimit string        `envconfig:"SANDBOX_MEMORY_LIMIT" default:"512m"`
}

// Defaults returns Settings with every default applied and no API keys.
func Defaults() Settings {
	return Settings{
		LogLevel:           "info",
		LogFormat:          "text",
		CacheDir:           ".cache",
		DefaultMaxTokens:   4096,
		MaxTemperature:     1.0,
		SandboxTimeout:     30 * time.Second,
		SandboxMemoryLimit: "512m",
	}
}

// Load reads the given .env files (default ".env"; missing files are
// ignored), then the environment, and validates the result.
func Load(envFiles ...string) (*Settings, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, &core.ConfigurationError{Field: "env", Message: "load env file", Err: err}
	}

	var s Settings
	if err := envconfig.Process("", &s); err != nil {
		return nil, &core.ConfigurationError{Field: "env", Message: "process env config", Err: err}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the ceilings and the logging configuration.
func (s *Settings) Validate() error {
	if s.MaxTemperature < 0 || s.MaxTemperature > 1 {
		return core.NewConfigurationError("MAX_TEMPERATURE", "must be within [0, 1], got %v", s.MaxTemperature)
	}
	if s.DefaultMaxTokens < 1 {
		return core.NewConfigurationError("DEFAULT_MAX_TOKENS", "must be >= 1, got %d", s.DefaultMaxTokens)
	}
	if _, err := logging.ParseLevel(s.LogLevel); err != nil {
		return &core.ConfigurationError{Field: "LOG_LEVEL", Message: "invalid log level", Err: err}
	}
	switch strings.ToLower(s.LogFormat) {
	case "", "text", "json":
	default:
		return core.NewConfigurationError("LOG_FORMAT", "must be text or json, got %q", s.LogFormat)
	}
	return nil
}

// APIKey returns the API key for provider ("claude", "gemini", "openai" or
// an alias). A missing key is a *core.ConfigurationError so that agents
// fail at construction, not at call time.
func (s *Settings) APIKey(provider string) (string, error) {
	var key, env string

	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "claude", "anthropic":
		key, env = s.AnthropicAPIKey, "ANTHROPIC_API_KEY"
	case "gemini", "google":
		key, env = s.GoogleAPIKey, "GOOGLE_API_KEY"
		if key == "" {
			key = s.GeminiAPIKey
		}
	case "openai":
		key, env = s.OpenAIAPIKey, "OPENAI_API_KEY"
	default:
		return "", core.NewConfigurationError("provider", "unknown provider %q", provider)
	}

	if strings.TrimSpace(key) == "" {
		return "", core.NewConfigurationError(env, "API key for provider %s is not set", provider)
	}
	return key, nil
}

// Logger builds the process logger described by LOG_LEVEL and LOG_FORMAT.
func (s *Settings) Logger() (logging.Logger, error) {
	level, err := logging.ParseLevel(s.LogLevel)
	if err != nil {
		return nil, &core.ConfigurationError{Field: "LOG_LEVEL", Message: "invalid log level", Err: err}
	}
	return logging.NewZapLogger(level, strings.ToLower(s.LogFormat))
}

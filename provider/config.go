package provider

import (
	"math"

	"github.com/hupe1980/agencymesh/core"
	geminimodel "github.com/hupe1980/agencymesh/model/gemini"
)

// DefaultMaxTokens is used when Config.MaxTokens is zero.
const DefaultMaxTokens = 4096

// Config holds provider specific parameters. Zero values mean "provider
// default"; bounds are checked by Validate and never clamped.
type Config struct {
	APIVersion        string   `yaml:"api_version"`
	MaxTokens         int      `yaml:"max_tokens"`
	TopP              *float64 `yaml:"top_p"`
	TopK              *int64   `yaml:"top_k"`
	SafetyThreshold   string   `yaml:"safety_threshold"` // gemini only
	RequestsPerMinute int      `yaml:"requests_per_minute"`
	BaseURL           string   `yaml:"base_url"`
}

// WithDefaults returns a copy with MaxTokens filled in.
func (c Config) WithDefaults(defaultMaxTokens int) Config {
	if c.MaxTokens == 0 {
		if defaultMaxTokens <= 0 {
			defaultMaxTokens = DefaultMaxTokens
		}
		c.MaxTokens = defaultMaxTokens
	}
	return c
}

// Validate checks bounds for provider p. Provider specific checks are
// skipped when p is empty.
func (c Config) Validate(p Provider) error {
	if c.MaxTokens < 0 {
		return core.NewConfigurationError("provider_config.max_tokens", "must be >= 1, got %d", c.MaxTokens)
	}
	if c.TopP != nil && (*c.TopP < 0 || *c.TopP > 1) {
		return core.NewConfigurationError("provider_config.top_p", "must be within [0, 1], got %v", *c.TopP)
	}
	if c.TopK != nil && *c.TopK < 0 {
		return core.NewConfigurationError("provider_config.top_k", "must be >= 0, got %d", *c.TopK)
	}
	if c.RequestsPerMinute < 0 {
		return core.NewConfigurationError("provider_config.requests_per_minute", "must be >= 0, got %d", c.RequestsPerMinute)
	}
	if p == "" {
		return nil
	}
	if p == Gemini && c.MaxTokens > math.MaxInt32 {
		return core.NewConfigurationError("provider_config.max_tokens", "must be <= %d for provider %s, got %d", math.MaxInt32, p, c.MaxTokens)
	}
	if c.TopK != nil && p == OpenAI {
		return core.NewConfigurationError("provider_config.top_k", "not supported by provider %s", p)
	}
	if c.SafetyThreshold != "" {
		if p != Gemini {
			return core.NewConfigurationError("provider_config.safety_threshold", "not supported by provider %s", p)
		}
		if !geminimodel.ValidThreshold(c.SafetyThreshold) {
			return core.NewConfigurationError("provider_config.safety_threshold", "unknown threshold %q", c.SafetyThreshold)
		}
	}
	return nil
}

// Package provider enumerates the hosted model families agencymesh can talk
// to, validates provider specific configuration and builds model.Model
// instances for them.
package provider

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/hupe1980/agencymesh/core"
	"github.com/hupe1980/agencymesh/model"
	anthropicmodel "github.com/hupe1980/agencymesh/model/anthropic"
	geminimodel "github.com/hupe1980/agencymesh/model/gemini"
	openaimodel "github.com/hupe1980/agencymesh/model/openai"
)

// Provider identifies a hosted model family.
type Provider string

// Supported providers.
const (
	Claude Provider = "claude"
	Gemini Provider = "gemini"
	OpenAI Provider = "openai"
)

// All lists the supported providers.
var All = []Provider{Claude, Gemini, OpenAI}

// ParseProvider maps a provider name (or alias) to a Provider.
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "claude", "anthropic":
		return Claude, nil
	case "gemini", "google":
		return Gemini, nil
	case "openai":
		return OpenAI, nil
	default:
		return "", core.NewConfigurationError("provider", "unknown provider %q", s)
	}
}

func (p Provider) String() string { return string(p) }

var catalogue = map[Provider][]string{
	Claude: {
		"claude-opus-4-20250514",
		"claude-sonnet-4-20250514",
		"claude-3-7-sonnet-latest",
		"claude-3-5-sonnet-latest",
		"claude-3-5-sonnet-20241022",
		"claude-3-5-haiku-latest",
		"claude-3-opus-latest",
		"claude-3-sonnet",
		"claude-3-haiku-20240307",
	},
	Gemini: {
		"gemini-2.5-pro",
		"gemini-2.5-flash",
		"gemini-2.0-pro",
		"gemini-2.0-flash",
		"gemini-1.5-pro",
		"gemini-1.5-flash",
	},
	OpenAI: {
		"gpt-4.1",
		"gpt-4.1-mini",
		"gpt-4o",
		"gpt-4o-mini",
		"o3-mini",
	},
}

// Models returns the model identifiers known for p.
func Models(p Provider) []string {
	return slices.Clone(catalogue[p])
}

// DefaultModel returns the model used when a manifest omits one.
func DefaultModel(p Provider) string {
	switch p {
	case Claude:
		return "claude-3-5-sonnet-latest"
	case Gemini:
		return "gemini-2.0-flash"
	case OpenAI:
		return "gpt-4o-mini"
	default:
		return ""
	}
}

// ValidModel reports whether modelID is in p's catalogue.
func ValidModel(p Provider, modelID string) bool {
	return slices.Contains(catalogue[p], modelID)
}

// KeySource resolves API keys. config.Settings implements it.
type KeySource interface {
	APIKey(provider string) (string, error)
}

// New builds a model for provider p. The API key is resolved from keys at
// construction time, so a missing key fails here rather than on first use.
func New(ctx context.Context, keys KeySource, p Provider, modelID string, temperature float64, cfg Config) (model.Model, error) {
	if !slices.Contains(All, p) {
		return nil, core.NewConfigurationError("provider", "unknown provider %q", p)
	}
	if modelID == "" {
		modelID = DefaultModel(p)
	}
	if !ValidModel(p, modelID) {
		return nil, core.NewConfigurationError("model", "model %q is not available for provider %s", modelID, p)
	}
	if temperature < 0 || temperature > 1 {
		return nil, core.NewConfigurationError("temperature", "must be within [0, 1], got %v", temperature)
	}
	cfg = cfg.WithDefaults(DefaultMaxTokens)
	if err := cfg.Validate(p); err != nil {
		return nil, err
	}

	if keys == nil {
		return nil, core.NewConfigurationError("settings", "no settings supplied")
	}

	apiKey, err := keys.APIKey(string(p))
	if err != nil {
		return nil, err
	}

	switch p {
	case Claude:
		return anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
			o.Model = anthropic.Model(modelID)
			o.Temperature = temperature
			o.MaxTokens = int64(cfg.MaxTokens)
			o.TopP = cfg.TopP
			o.TopK = cfg.TopK
			o.APIKey = apiKey
			o.APIVersion = cfg.APIVersion
			o.BaseURL = cfg.BaseURL
		}), nil
	case Gemini:
		m, err := geminimodel.NewModel(ctx, func(o *geminimodel.Options) {
			o.Model = modelID
			o.Temperature = temperature
			o.MaxTokens = int32(cfg.MaxTokens)
			o.TopP = cfg.TopP
			o.TopK = cfg.TopK
			o.SafetyThreshold = cfg.SafetyThreshold
			o.APIKey = apiKey
			o.APIVersion = cfg.APIVersion
			o.BaseURL = cfg.BaseURL
		})
		if err != nil {
			return nil, &core.ConfigurationError{Field: "provider", Message: "create gemini client", Err: err}
		}
		return m, nil
	default:
		return openaimodel.NewModel(func(o *openaimodel.Options) {
			o.Model = modelID
			o.Temperature = temperature
			o.MaxCompletionTokens = int64(cfg.MaxTokens)
			o.TopP = cfg.TopP
			o.APIKey = apiKey
			o.BaseURL = cfg.BaseURL
		}), nil
	}
}

// Describe renders p and modelID for log output.
func Describe(p Provider, modelID string) string {
	return fmt.Sprintf("%s/%s", p, modelID)
}

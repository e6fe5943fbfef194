package agent

import (
	"strings"

	"github.com/hupe1980/agencymesh/core"
	"github.com/hupe1980/agencymesh/provider"
)

// Config is the immutable configuration of one agent.
type Config struct {
	Name           string
	Description    string
	Provider       provider.Provider // Informational for mock models; empty skips provider checks
	Model          string
	Temperature    float64 // Within [0, 1]
	ProviderConfig provider.Config
	Retry          *RetryPolicy // nil uses the agency default, then DefaultRetryPolicy
	Streaming      bool
}

// Validate checks every bounded field. Out of range values are reported,
// never clamped.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return core.NewConfigurationError("name", "must not be empty")
	}
	if strings.TrimSpace(c.Description) == "" {
		return core.NewConfigurationError("description", "must not be empty")
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return core.NewConfigurationError("temperature", "must be within [0, 1], got %v", c.Temperature)
	}
	if c.Provider != "" {
		if _, err := provider.ParseProvider(string(c.Provider)); err != nil {
			return err
		}
		if c.Model != "" && !provider.ValidModel(c.Provider, c.Model) {
			return core.NewConfigurationError("model", "model %q is not available for provider %s", c.Model, c.Provider)
		}
	}
	if err := c.ProviderConfig.Validate(c.Provider); err != nil {
		return err
	}
	if c.Retry != nil {
		if err := c.Retry.WithDefaults().Validate(); err != nil {
			return err
		}
	}
	return nil
}

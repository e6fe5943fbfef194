package agency

import (
	"time"

	"github.com/hupe1980/agencymesh/agent"
	"github.com/hupe1980/agencymesh/core"
)

// Defaults for Config.
const (
	DefaultMaxRounds = 10
	DefaultTimeout   = 300 * time.Second
)

// Config holds the run configuration of an agency.
type Config struct {
	// MaxRounds bounds the routing rounds of one top-level call. A call
	// consumes one round; every delegation hop consumes another.
	MaxRounds int

	// Timeout bounds each provider call made by a dispatched agent. Zero
	// disables the limit.
	Timeout time.Duration

	// RetryPolicy applies to agents that declare none.
	RetryPolicy *agent.RetryPolicy

	// BroadcastConcurrency caps concurrent dispatches of one broadcast.
	// Zero dispatches all targets at once.
	BroadcastConcurrency int

	// MaxPromptTokens bounds the estimated prompt of every dispatched
	// agent. Older history is dropped to fit. Zero disables the bound.
	MaxPromptTokens int
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{MaxRounds: DefaultMaxRounds, Timeout: DefaultTimeout}
}

// Validate reports out of range values.
func (c Config) Validate() error {
	if c.MaxRounds < 1 {
		return core.NewConfigurationError("config.max_rounds", "must be >= 1, got %d", c.MaxRounds)
	}
	if c.Timeout < 0 {
		return core.NewConfigurationError("config.timeout", "must be >= 0, got %s", c.Timeout)
	}
	if c.BroadcastConcurrency < 0 {
		return core.NewConfigurationError("config.broadcast_concurrency", "must be >= 0, got %d", c.BroadcastConcurrency)
	}
	if c.MaxPromptTokens < 0 {
		return core.NewConfigurationError("config.max_prompt_tokens", "must be >= 0, got %d", c.MaxPromptTokens)
	}
	if c.RetryPolicy != nil {
		if err := c.RetryPolicy.WithDefaults().Validate(); err != nil {
			return err
		}
	}
	return nil
}

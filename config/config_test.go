package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hupe1980/agencymesh/agent"
	"github.com/hupe1980/agencymesh/core"
	"github.com/hupe1980/agencymesh/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ANTHROPIC_API_KEY", "GOOGLE_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY",
		"LOG_LEVEL", "LOG_FORMAT", "CACHE_DIR", "DEFAULT_MAX_TOKENS", "MAX_TEMPERATURE",
		"EMBEDDING_MODEL", "INDEX_PATH", "SANDBOX_TIMEOUT", "SANDBOX_MEMORY_LIMIT",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	s, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), *s)
}

func TestLoad_EnvAndDotEnv(t *testing.T) {
	clearEnv(t)

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("ANTHROPIC_API_KEY=from-file\nLOG_LEVEL=debug\n"), 0o600))
	t.Setenv("GEMINI_API_KEY", "gemini-key")
	t.Setenv("MAX_TEMPERATURE", "0.9")
	t.Setenv("SANDBOX_TIMEOUT", "1m")

	s, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, "from-file", s.AnthropicAPIKey)
	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, 0.9, s.MaxTemperature)
	assert.Equal(t, time.Minute, s.SandboxTimeout)

	key, err := s.APIKey("google")
	require.NoError(t, err)
	assert.Equal(t, "gemini-key", key)
}

func TestLoad_InvalidCeiling(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_TEMPERATURE", "1.5")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(s *Settings)
		field string
	}{
		{"temperature ceiling", func(s *Settings) { s.MaxTemperature = -0.1 }, "MAX_TEMPERATURE"},
		{"max tokens", func(s *Settings) { s.DefaultMaxTokens = 0 }, "DEFAULT_MAX_TOKENS"},
		{"log level", func(s *Settings) { s.LogLevel = "loud" }, "LOG_LEVEL"},
		{"log format", func(s *Settings) { s.LogFormat = "xml" }, "LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.mut(&s)

			var cfgErr *core.ConfigurationError
			require.ErrorAs(t, s.Validate(), &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestSettings_APIKey(t *testing.T) {
	s := Defaults()
	s.AnthropicAPIKey = "claude-key"
	s.GoogleAPIKey = "google-key"
	s.GeminiAPIKey = "ignored"

	key, err := s.APIKey("claude")
	require.NoError(t, err)
	assert.Equal(t, "claude-key", key)

	key, err = s.APIKey("gemini")
	require.NoError(t, err)
	assert.Equal(t, "google-key", key)

	_, err = s.APIKey("openai")
	var cfgErr *core.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "OPENAI_API_KEY", cfgErr.Field)

	_, err = s.APIKey("mistral")
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestSettings_ImplementsKeySource(t *testing.T) {
	var _ provider.KeySource = &Settings{}
}

func TestSettings_Logger(t *testing.T) {
	s := Defaults()
	s.LogFormat = "json"

	logger, err := s.Logger()
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

const manifestYAML = `
shared_instructions: mission.md
agents:
  - name: ceo
    description: Runs the company
    instructions: ceo.md
    provider: anthropic
    temperature: 0.3
    tools: [web_*]
    retry_config:
      max_retries: 5
      backoff_factor: 1.5
      base_delay: 0.25
      retry_on: [rate_limited, timeout]
  - name: dev
    description: Writes code
    instructions: /abs/dev.md
    provider: gemini
    model: gemini-2.0-pro
    provider_config:
      max_tokens: 2048
      safety_threshold: block_only_high
    streaming: true
chart:
  - ceo
  - [ceo, dev]
  - [dev, ceo]
config:
  max_rounds: 4
  timeout: 12.5
  temperature: 0.5
  max_prompt_tokens: 25000
  retry_policy:
    max_retries: 2
`

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agency.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, manifestYAML)

	m, err := LoadManifest(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Dir(path), m.Dir())
	assert.Equal(t, filepath.Join(filepath.Dir(path), "mission.md"), m.Path(m.SharedInstructions))
	assert.Equal(t, "/abs/dev.md", m.Path("/abs/dev.md"))

	require.Len(t, m.Chart, 3)
	assert.Equal(t, ChartEntry{Agent: "ceo"}, m.Chart[0])
	assert.Equal(t, ChartEntry{From: "ceo", To: "dev"}, m.Chart[1])
	assert.True(t, m.Chart[2].IsEdge())

	ceo, ok := m.Agent("ceo")
	require.True(t, ok)
	assert.Equal(t, []string{"web_*"}, ceo.Tools)

	dev, ok := m.Agent("dev")
	require.True(t, ok)
	assert.Equal(t, 2048, dev.ProviderConfig.MaxTokens)
	assert.Equal(t, "block_only_high", dev.ProviderConfig.SafetyThreshold)
}

func TestAgentSpec_AgentConfig(t *testing.T) {
	m, err := ParseManifest([]byte(manifestYAML))
	require.NoError(t, err)

	ceo, _ := m.Agent("ceo")
	cfg, err := ceo.AgentConfig()
	require.NoError(t, err)
	assert.Equal(t, provider.Claude, cfg.Provider)
	assert.Equal(t, provider.DefaultModel(provider.Claude), cfg.Model)
	assert.Equal(t, 0.3, cfg.Temperature)
	require.NotNil(t, cfg.Retry)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, agent.DefaultMaxDelay, cfg.Retry.MaxDelay)
	assert.Equal(t, []core.ProviderErrorKind{core.KindRateLimited, core.KindTimeout}, cfg.Retry.RetryOn)

	dev, _ := m.Agent("dev")
	cfg, err = dev.AgentConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultTemperature, cfg.Temperature)
	assert.True(t, cfg.Streaming)
	assert.Nil(t, cfg.Retry)
}

func TestAgentSpec_AgentConfigErrors(t *testing.T) {
	hot := 1.2
	tests := []struct {
		name string
		spec AgentSpec
	}{
		{"temperature", AgentSpec{Name: "a", Description: "d", Temperature: &hot}},
		{"provider", AgentSpec{Name: "a", Description: "d", Provider: "mistral"}},
		{"model", AgentSpec{Name: "a", Description: "d", Provider: "claude", Model: "gpt-4o"}},
		{"retry_on", AgentSpec{Name: "a", Description: "d", RetryConfig: &RetryConfig{RetryOn: []string{"safety_blocked"}}}},
		{"unknown retry_on", AgentSpec{Name: "a", Description: "d", RetryConfig: &RetryConfig{RetryOn: []string{"cosmic_rays"}}}},
		{"safety on claude", AgentSpec{
			Name: "a", Description: "d", Provider: "claude",
			ProviderConfig: provider.Config{SafetyThreshold: "block_none"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.spec.AgentConfig()
			assert.ErrorIs(t, err, core.ErrConfiguration)
		})
	}
}

func TestRetryConfig_Policy(t *testing.T) {
	var omitted RetryConfig
	p, err := omitted.Policy()
	require.NoError(t, err)
	assert.Equal(t, agent.DefaultRetryPolicy(), p)

	var rc RetryConfig
	require.NoError(t, yaml.Unmarshal([]byte("base_delay: 0\nmax_delay: 0\n"), &rc))
	p, err = rc.Policy()
	require.NoError(t, err)
	assert.Zero(t, p.BaseDelay)
	assert.Zero(t, p.MaxDelay)

	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"zero max_retries", "max_retries: 0", "retry_config.max_retries"},
		{"zero backoff_factor", "backoff_factor: 0", "retry_config.backoff_factor"},
		{"negative base_delay", "base_delay: -1", "retry_config.base_delay"},
		{"zero max_delay", "max_delay: 0", "retry_config.max_delay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rc RetryConfig
			require.NoError(t, yaml.Unmarshal([]byte(tt.yaml), &rc))

			_, err := rc.Policy()
			var cfgErr *core.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestAgencyConfig(t *testing.T) {
	m, err := ParseManifest([]byte(manifestYAML))
	require.NoError(t, err)

	cfg, err := m.Config.AgencyConfig()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MaxRounds)
	assert.Equal(t, 12500*time.Millisecond, cfg.Timeout)
	require.NotNil(t, cfg.RetryPolicy)
	assert.Equal(t, 2, cfg.RetryPolicy.MaxRetries)
	assert.Equal(t, 25000, cfg.MaxPromptTokens)

	ceo, _ := m.Agent("ceo")
	dev, _ := m.Agent("dev")
	assert.Equal(t, 0.3, *m.Config.Inherit(ceo).Temperature)
	assert.Equal(t, 0.5, *m.Config.Inherit(dev).Temperature)
	assert.Nil(t, dev.Temperature)

	var empty AgencyConfig
	cfg, err = empty.AgencyConfig()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.MaxRounds)
	assert.Equal(t, 300*time.Second, cfg.Timeout)

	zero := 0
	_, err = AgencyConfig{MaxRounds: &zero}.AgencyConfig()
	assert.ErrorIs(t, err, core.ErrConfiguration)

	negative := -1.0
	_, err = AgencyConfig{Timeout: &negative}.AgencyConfig()
	assert.ErrorIs(t, err, core.ErrConfiguration)

	hot := 1.5
	_, err = AgencyConfig{Temperature: &hot}.AgencyConfig()
	assert.Equal(t, "config.temperature", configErrorField(t, err))

	_, err = AgencyConfig{MaxPromptTokens: -1}.AgencyConfig()
	assert.Equal(t, "config.max_prompt_tokens", configErrorField(t, err))
}

func TestParseManifest_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no shared instructions", "agents: [{name: a, description: d, instructions: a.md}]"},
		{"no agents", "shared_instructions: s.md"},
		{"duplicate agent", `
shared_instructions: s.md
agents:
  - {name: a, description: d, instructions: a.md}
  - {name: a, description: d, instructions: b.md}`},
		{"missing instructions", `
shared_instructions: s.md
agents: [{name: a, description: d}]`},
		{"unknown chart agent", `
shared_instructions: s.md
agents: [{name: a, description: d, instructions: a.md}]
chart: [a, [a, ghost]]`},
		{"edge first", `
shared_instructions: s.md
agents:
  - {name: a, description: d, instructions: a.md}
  - {name: b, description: d, instructions: b.md}
chart: [[a, b]]`},
		{"three element edge", `
shared_instructions: s.md
agents: [{name: a, description: d, instructions: a.md}]
chart: [a, [a, b, c]]`},
		{"unknown field", `
shared_instructions: s.md
agents: [{name: a, description: d, instructions: a.md, temprature: 0.2}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.yaml))
			assert.ErrorIs(t, err, core.ErrConfiguration)
		})
	}
}

func TestParseManifest_DefaultChart(t *testing.T) {
	m, err := ParseManifest([]byte(`
shared_instructions: s.md
agents:
  - {name: a, description: d, instructions: a.md}
  - {name: b, description: d, instructions: b.md}`))
	require.NoError(t, err)
	assert.Equal(t, []ChartEntry{{Agent: "a"}, {Agent: "b"}}, m.Chart)
}

func configErrorField(t *testing.T, err error) string {
	t.Helper()
	var cfgErr *core.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	return cfgErr.Field
}

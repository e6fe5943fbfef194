package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hupe1980/agencymesh/agency"
	"github.com/hupe1980/agencymesh/agent"
	"github.com/hupe1980/agencymesh/core"
	"github.com/hupe1980/agencymesh/provider"
	"gopkg.in/yaml.v3"
)

// DefaultTemperature is used for agents that do not set one.
const DefaultTemperature = 0.7

// Manifest is the declarative description of an agency.
//
//	shared_instructions: mission.md
//	agents:
//	  - name: ceo
//	    description: Runs the company
//	    instructions: ceo.md
//	    provider: claude
//	    tools: [web_*]
//	chart:
//	  - ceo
//	  - dev
//	  - [dev, va]
//	config:
//	  max_rounds: 10
//	  timeout: 300
type Manifest struct {
	SharedInstructions string       `yaml:"shared_instructions"`
	Agents             []AgentSpec  `yaml:"agents"`
	Chart              []ChartEntry `yaml:"chart"`
	Config             AgencyConfig `yaml:"config"`

	dir string
}

// AgentSpec is the manifest form of one agent.
type AgentSpec struct {
	Name           string          `yaml:"name"`
	Description    string          `yaml:"description"`
	Instructions   string          `yaml:"instructions"` // Path to a .md or .txt file
	Tools          []string        `yaml:"tools"`        // Registry names or glob patterns
	Provider       string          `yaml:"provider"`     // Defaults to claude
	Model          string          `yaml:"model"`
	Temperature    *float64        `yaml:"temperature"`
	ProviderConfig provider.Config `yaml:"provider_config"`
	RetryConfig    *RetryConfig    `yaml:"retry_config"`
	Streaming      bool            `yaml:"streaming"`
	HistorySize    int             `yaml:"history_size"`
}

// RetryConfig is the manifest form of agent.RetryPolicy. Delays are seconds.
// Omitted fields take the agent package defaults; values that are present
// are validated as given.
type RetryConfig struct {
	MaxRetries    *int     `yaml:"max_retries"`
	BackoffFactor *float64 `yaml:"backoff_factor"`
	BaseDelay     *float64 `yaml:"base_delay"`
	MaxDelay      *float64 `yaml:"max_delay"`
	RetryOn       []string `yaml:"retry_on"`
}

// AgencyConfig is the manifest form of agency.Config. Temperature is the
// default for agents that declare none.
type AgencyConfig struct {
	MaxRounds            *int         `yaml:"max_rounds"`
	Timeout              *float64     `yaml:"timeout"` // Seconds
	RetryPolicy          *RetryConfig `yaml:"retry_policy"`
	BroadcastConcurrency int          `yaml:"broadcast_concurrency"`
	Temperature          *float64     `yaml:"temperature"`
	MaxPromptTokens      int          `yaml:"max_prompt_tokens"`
}

// ChartEntry is either a single agent name or a [from, to] edge.
type ChartEntry struct {
	Agent string
	From  string
	To    string
}

// IsEdge reports whether the entry declares an edge.
func (c ChartEntry) IsEdge() bool { return c.From != "" }

// UnmarshalYAML accepts a scalar or a two element sequence.
func (c *ChartEntry) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&c.Agent)
	case yaml.SequenceNode:
		var pair []string
		if err := node.Decode(&pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("line %d: chart edge must have exactly 2 agents, got %d", node.Line, len(pair))
		}
		c.From, c.To = pair[0], pair[1]
		return nil
	default:
		return fmt.Errorf("line %d: chart entry must be an agent name or a [from, to] pair", node.Line)
	}
}

// LoadManifest reads and validates the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &core.ConfigurationError{Field: "manifest", Message: "read manifest", Err: err}
	}

	m, err := ParseManifest(raw)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &core.ConfigurationError{Field: "manifest", Message: "resolve manifest path", Err: err}
	}
	m.dir = filepath.Dir(abs)
	return m, nil
}

// ParseManifest decodes and validates a manifest. Relative paths resolve
// against the working directory.
func ParseManifest(raw []byte) (*Manifest, error) {
	var m Manifest

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, &core.ConfigurationError{Field: "manifest", Message: "decode manifest", Err: err}
	}

	if len(m.Chart) == 0 {
		for _, a := range m.Agents {
			m.Chart = append(m.Chart, ChartEntry{Agent: a.Name})
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks references between sections. Bounds of individual values
// are checked when agents and the agency are built.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.SharedInstructions) == "" {
		return core.NewConfigurationError("shared_instructions", "path is required")
	}
	if len(m.Agents) == 0 {
		return core.NewConfigurationError("agents", "at least one agent is required")
	}

	names := make(map[string]struct{}, len(m.Agents))
	for i, a := range m.Agents {
		field := fmt.Sprintf("agents[%d]", i)
		if strings.TrimSpace(a.Name) == "" {
			return core.NewConfigurationError(field+".name", "must not be empty")
		}
		if _, dup := names[a.Name]; dup {
			return core.NewConfigurationError(field+".name", "duplicate agent name %q", a.Name)
		}
		names[a.Name] = struct{}{}
		if strings.TrimSpace(a.Instructions) == "" {
			return core.NewConfigurationError(field+".instructions", "path is required")
		}
	}

	if m.Chart[0].IsEdge() {
		return core.NewConfigurationError("chart[0]", "first entry must be a single agent (the entry point)")
	}
	for i, c := range m.Chart {
		for _, name := range []string{c.Agent, c.From, c.To} {
			if name == "" {
				continue
			}
			if _, ok := names[name]; !ok {
				return core.NewConfigurationError(fmt.Sprintf("chart[%d]", i), "unknown agent %q", name)
			}
		}
	}
	return nil
}

// Path resolves p against the manifest directory.
func (m *Manifest) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || m.dir == "" {
		return p
	}
	return filepath.Join(m.dir, p)
}

// Dir returns the directory the manifest was loaded from.
func (m *Manifest) Dir() string { return m.dir }

// Agent returns the spec named name.
func (m *Manifest) Agent(name string) (AgentSpec, bool) {
	for _, a := range m.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return AgentSpec{}, false
}

// AgentConfig converts the spec into an agent.Config. It does not load
// instructions or build tools.
func (a AgentSpec) AgentConfig() (agent.Config, error) {
	cfg := agent.Config{
		Name:           a.Name,
		Description:    a.Description,
		Model:          a.Model,
		Temperature:    DefaultTemperature,
		ProviderConfig: a.ProviderConfig,
		Streaming:      a.Streaming,
	}
	if a.Temperature != nil {
		cfg.Temperature = *a.Temperature
	}

	name := a.Provider
	if name == "" {
		name = string(provider.Claude)
	}
	p, err := provider.ParseProvider(name)
	if err != nil {
		return agent.Config{}, err
	}
	cfg.Provider = p
	if cfg.Model == "" {
		cfg.Model = provider.DefaultModel(p)
	}

	if a.RetryConfig != nil {
		policy, err := a.RetryConfig.Policy()
		if err != nil {
			return agent.Config{}, err
		}
		cfg.Retry = &policy
	}

	return cfg, cfg.Validate()
}

// Policy converts the retry configuration. Omitted fields take defaults;
// explicit values such as max_retries: 0 are rejected rather than replaced.
func (r RetryConfig) Policy() (agent.RetryPolicy, error) {
	p := agent.DefaultRetryPolicy()
	if r.MaxRetries != nil {
		p.MaxRetries = *r.MaxRetries
	}
	if r.BackoffFactor != nil {
		p.BackoffFactor = *r.BackoffFactor
	}
	if r.BaseDelay != nil {
		p.BaseDelay = seconds(*r.BaseDelay)
	}
	if r.MaxDelay != nil {
		p.MaxDelay = seconds(*r.MaxDelay)
	}
	if r.RetryOn != nil {
		p.RetryOn = make([]core.ProviderErrorKind, 0, len(r.RetryOn))
		for _, name := range r.RetryOn {
			kind, err := core.ParseProviderErrorKind(name)
			if err != nil {
				return agent.RetryPolicy{}, err
			}
			p.RetryOn = append(p.RetryOn, kind)
		}
	}

	return p, p.Validate()
}

// AgencyConfig converts the manifest config, applying defaults.
func (c AgencyConfig) AgencyConfig() (agency.Config, error) {
	cfg := agency.DefaultConfig()
	if c.MaxRounds != nil {
		cfg.MaxRounds = *c.MaxRounds
	}
	if c.Timeout != nil {
		if *c.Timeout < 0 {
			return agency.Config{}, core.NewConfigurationError("config.timeout", "must be >= 0, got %v", *c.Timeout)
		}
		cfg.Timeout = seconds(*c.Timeout)
	}
	if c.RetryPolicy != nil {
		p, err := c.RetryPolicy.Policy()
		if err != nil {
			return agency.Config{}, err
		}
		cfg.RetryPolicy = &p
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 1) {
		return agency.Config{}, core.NewConfigurationError("config.temperature", "must be within [0, 1], got %v", *c.Temperature)
	}
	cfg.BroadcastConcurrency = c.BroadcastConcurrency
	cfg.MaxPromptTokens = c.MaxPromptTokens

	return cfg, cfg.Validate()
}

// Inherit returns spec with agency level defaults applied to the fields it
// leaves unset.
func (c AgencyConfig) Inherit(spec AgentSpec) AgentSpec {
	if spec.Temperature == nil && c.Temperature != nil {
		t := *c.Temperature
		spec.Temperature = &t
	}
	return spec
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

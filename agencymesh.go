// Package agencymesh builds agencies of provider-backed agents from a YAML
// manifest and explicit settings. Most applications:
//  1. load Settings once at start-up (config.Load)
//  2. register their tools in a tool.Registry
//  3. call LoadAgency with the manifest path
//  4. route messages with ProcessMessage, Broadcast or Chain
//
// The agent and agency packages can also be used directly when agents are
// assembled in code.
package agencymesh

import (
	"context"
	"path/filepath"

	"github.com/hupe1980/agencymesh/agency"
	"github.com/hupe1980/agencymesh/agent"
	"github.com/hupe1980/agencymesh/config"
	"github.com/hupe1980/agencymesh/core"
	"github.com/hupe1980/agencymesh/logging"
	"github.com/hupe1980/agencymesh/metrics"
	"github.com/hupe1980/agencymesh/model"
	"github.com/hupe1980/agencymesh/provider"
	"github.com/hupe1980/agencymesh/tool"
	"go.opentelemetry.io/otel/trace"
)

// ModelFactory creates the model backing an agent.
type ModelFactory func(ctx context.Context, settings *config.Settings, cfg agent.Config) (model.Model, error)

// Options configures NewAgent and LoadAgency.
type Options struct {
	Logger  logging.Logger
	Metrics *metrics.Recorder
	Tracer  trace.Tracer

	// Policy replaces the static routing policy of the agency.
	Policy agency.Policy

	// ModelFactory defaults to ProviderModel.
	ModelFactory ModelFactory
}

func newOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Logger:       logging.NoOpLogger{},
		ModelFactory: ProviderModel,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.ModelFactory == nil {
		opts.ModelFactory = ProviderModel
	}
	return opts
}

// ProviderModel builds the hosted provider model for cfg, taking the API key
// and the default token limit from settings.
func ProviderModel(ctx context.Context, settings *config.Settings, cfg agent.Config) (model.Model, error) {
	pc := cfg.ProviderConfig.WithDefaults(int(settings.DefaultMaxTokens))
	return provider.New(ctx, settings, cfg.Provider, cfg.Model, cfg.Temperature, pc)
}

// NewAgent builds an agent from its manifest spec. Instruction paths resolve
// against baseDir and tool names or patterns against registry. Every
// failure is a *core.ConfigurationError raised here, never at call time.
func NewAgent(
	ctx context.Context,
	settings *config.Settings,
	spec config.AgentSpec,
	registry *tool.Registry,
	baseDir string,
	optFns ...func(o *Options),
) (*agent.Agent, error) {
	opts := newOptions(optFns)
	return newAgent(ctx, settings, spec, registry, baseDir, opts)
}

func newAgent(
	ctx context.Context,
	settings *config.Settings,
	spec config.AgentSpec,
	registry *tool.Registry,
	baseDir string,
	opts Options,
) (*agent.Agent, error) {
	if settings == nil {
		return nil, core.NewConfigurationError("settings", "no settings supplied")
	}

	cfg, err := spec.AgentConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Temperature > settings.MaxTemperature {
		return nil, core.NewConfigurationError("temperature",
			"%v exceeds MAX_TEMPERATURE %v", cfg.Temperature, settings.MaxTemperature)
	}

	instruction, err := agent.LoadInstruction(resolvePath(baseDir, spec.Instructions))
	if err != nil {
		return nil, err
	}

	var tools []tool.Tool
	if len(spec.Tools) > 0 {
		if registry == nil {
			return nil, core.NewConfigurationError("tools", "agent %s declares tools but no registry was supplied", spec.Name)
		}
		if tools, err = registry.Select(spec.Tools...); err != nil {
			return nil, err
		}
	}

	llm, err := opts.ModelFactory(ctx, settings, cfg)
	if err != nil {
		return nil, err
	}

	a, err := agent.New(cfg, llm, func(o *agent.Options) {
		o.Instruction = instruction
		o.Tools = tools
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
		o.HistorySize = spec.HistorySize
		if opts.Tracer != nil {
			o.Tracer = opts.Tracer
		}
	})
	if err != nil {
		return nil, err
	}

	opts.Logger.Info("agent.created",
		"agent", cfg.Name,
		"model", provider.Describe(cfg.Provider, cfg.Model),
		"tools", len(tools),
	)
	return a, nil
}

// LoadAgency reads the manifest at manifestPath and builds the agency it
// describes.
func LoadAgency(
	ctx context.Context,
	settings *config.Settings,
	manifestPath string,
	registry *tool.Registry,
	optFns ...func(o *Options),
) (*agency.Agency, error) {
	m, err := config.LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	return NewAgency(ctx, settings, m, registry, optFns...)
}

// NewAgency builds the agency described by m. Chart entries that are edges
// add both of their agents.
func NewAgency(
	ctx context.Context,
	settings *config.Settings,
	m *config.Manifest,
	registry *tool.Registry,
	optFns ...func(o *Options),
) (*agency.Agency, error) {
	opts := newOptions(optFns)

	shared, err := agent.ParseInstructionFile(m.Path(m.SharedInstructions))
	if err != nil {
		return nil, err
	}

	cfg, err := m.Config.AgencyConfig()
	if err != nil {
		return nil, err
	}

	agents := make(map[string]*agent.Agent, len(m.Agents))
	for _, spec := range m.Agents {
		a, err := newAgent(ctx, settings, m.Config.Inherit(spec), registry, m.Dir(), opts)
		if err != nil {
			return nil, err
		}
		agents[spec.Name] = a
	}

	chart := make([]agency.ChartEntry, 0, len(m.Chart))
	for _, e := range m.Chart {
		if e.IsEdge() {
			chart = append(chart, agency.Link(agents[e.From], agents[e.To]))
			continue
		}
		chart = append(chart, agency.Member(agents[e.Agent]))
	}

	return agency.New(chart, func(o *agency.Options) {
		o.SharedInstructions = shared.Text
		o.Config = cfg
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
		if opts.Tracer != nil {
			o.Tracer = opts.Tracer
		}
		if opts.Policy != nil {
			o.Policy = opts.Policy
		}
	})
}

func resolvePath(baseDir, p string) string {
	if baseDir == "" || p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

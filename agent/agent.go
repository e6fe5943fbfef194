package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/agencymesh/core"
	"github.com/hupe1980/agencymesh/logging"
	"github.com/hupe1980/agencymesh/metrics"
	"github.com/hupe1980/agencymesh/model"
	"github.com/hupe1980/agencymesh/tool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/hupe1980/agencymesh/agent"

// DefaultMaxToolRounds bounds model/tool round trips within one turn.
const DefaultMaxToolRounds = 8

// RequestTransform rewrites a model request before it is sent. It is the
// extension point for customizing how an agent talks to its provider.
type RequestTransform func(req model.Request) model.Request

// Options configures an Agent. Use functional options with New.
type Options struct {
	Instruction   Instruction
	Tools         []tool.Tool
	Logger        logging.Logger
	Transform     RequestTransform
	MaxToolRounds int
	HistorySize   int           // Messages kept across turns; 0 keeps the agent stateless
	RateLimiter   *rate.Limiter // Overrides provider_config.requests_per_minute
	Metrics       *metrics.Recorder
	Tracer        trace.Tracer
}

// Input is one request to an agent.
type Input struct {
	Message            string
	SharedInstructions string
	Timeout            time.Duration // Per provider call; 0 means no limit
	DefaultRetry       *RetryPolicy  // Used when the agent has no policy of its own
	Recipients         []string      // Agents this one may delegate to via send_message
	MaxPromptTokens    int           // Estimated prompt budget; 0 means no limit
	OnChunk            func(chunk string)
}

// Reply is the outcome of one agent turn.
type Reply struct {
	Text       string
	Attempts   int               // Provider calls made during the turn
	Delegation *tool.Delegation  // Set when the agent handed the conversation on
	Usage      *model.TokenUsage // Summed over all provider calls, nil if unreported
}

// Agent wraps one provider-backed model with identity, instructions, tools
// and a retry policy. Configuration is immutable after New; an Agent is safe
// for concurrent use.
type Agent struct {
	cfg           Config
	llm           model.Model
	instruction   Instruction
	tools         []tool.Tool
	toolIndex     map[string]tool.Tool
	logger        logging.Logger
	transform     RequestTransform
	maxToolRounds int
	history       *history
	limiter       *rate.Limiter
	metrics       *metrics.Recorder
	tracer        trace.Tracer
}

// New validates cfg and creates an Agent backed by llm.
func New(cfg Config, llm model.Model, optFns ...func(o *Options)) (*Agent, error) {
	opts := Options{
		Logger:        logging.NoOpLogger{},
		MaxToolRounds: DefaultMaxToolRounds,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if llm == nil {
		return nil, core.NewConfigurationError("model", "agent %q has no model", cfg.Name)
	}
	if opts.MaxToolRounds < 1 {
		return nil, core.NewConfigurationError("max_tool_rounds", "must be >= 1, got %d", opts.MaxToolRounds)
	}
	if opts.HistorySize < 0 {
		return nil, core.NewConfigurationError("history_size", "must be >= 0, got %d", opts.HistorySize)
	}

	index := make(map[string]tool.Tool, len(opts.Tools))
	for _, t := range opts.Tools {
		if t == nil {
			return nil, core.NewConfigurationError("tools", "nil tool")
		}
		name := t.Name()
		if name == tool.SendMessageToolName {
			return nil, core.NewConfigurationError("tools."+name, "tool name is reserved")
		}
		if _, dup := index[name]; dup {
			return nil, core.NewConfigurationError("tools."+name, "duplicate tool %q", name)
		}
		index[name] = t
	}

	if cfg.Retry != nil {
		p := cfg.Retry.WithDefaults()
		cfg.Retry = &p
	}

	instruction, err := opts.Instruction.Bind(instructionData(cfg))
	if err != nil {
		return nil, err
	}

	limiter := opts.RateLimiter
	if limiter == nil && cfg.ProviderConfig.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.ProviderConfig.RequestsPerMinute)), 1)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	if opts.Transform == nil {
		opts.Transform = func(req model.Request) model.Request { return req }
	}

	return &Agent{
		cfg:           cfg,
		llm:           llm,
		instruction:   instruction,
		tools:         append([]tool.Tool(nil), opts.Tools...),
		toolIndex:     index,
		logger:        opts.Logger,
		transform:     opts.Transform,
		maxToolRounds: opts.MaxToolRounds,
		history:       newHistory(opts.HistorySize),
		limiter:       limiter,
		metrics:       opts.Metrics,
		tracer:        opts.Tracer,
	}, nil
}

// Name returns the agent's unique name.
func (a *Agent) Name() string { return a.cfg.Name }

// Description returns the human-readable description.
func (a *Agent) Description() string { return a.cfg.Description }

// Config returns a copy of the agent configuration.
func (a *Agent) Config() Config { return a.cfg }

// Instruction returns the agent's instruction.
func (a *Agent) Instruction() Instruction { return a.instruction }

// Tools returns the attached tools in declaration order.
func (a *Agent) Tools() []tool.Tool { return append([]tool.Tool(nil), a.tools...) }

// History returns the retained conversation (empty when disabled).
func (a *Agent) History() []model.Message { return a.history.snapshot() }

// ResetHistory clears the retained conversation.
func (a *Agent) ResetHistory() { a.history.reset() }

// Process sends message to the provider and returns its text verbatim.
// sharedInstructions is prepended to the agent's own instruction.
func (a *Agent) Process(ctx context.Context, message, sharedInstructions string) (string, error) {
	reply, err := a.Respond(ctx, Input{Message: message, SharedInstructions: sharedInstructions})
	if err != nil {
		return "", err
	}
	return reply.Text, nil
}

// Respond runs one agent turn: it calls the model (retrying transient
// failures), executes requested tools and returns the final text. A call to
// the send_message tool ends the turn with Reply.Delegation set.
func (a *Agent) Respond(ctx context.Context, in Input) (Reply, error) {
	if strings.TrimSpace(in.Message) == "" {
		return Reply{}, &core.InvalidInputError{Field: "message", Message: "must not be empty"}
	}

	ctx, span := a.tracer.Start(ctx, "agent.respond", trace.WithAttributes(
		attribute.String("agent.name", a.cfg.Name),
		attribute.String("agent.provider", a.llm.Info().Provider),
		attribute.String("agent.model", a.llm.Info().Name),
	))
	defer span.End()

	start := time.Now()
	a.logger.Debug("agent.process.start", "agent", a.cfg.Name, "message_len", len(in.Message))

	reply, err := a.respond(ctx, in)

	span.SetAttributes(attribute.Int("agent.attempts", reply.Attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.logger.Warn("agent.process.failed", "agent", a.cfg.Name, "attempts", reply.Attempts,
			"duration_ms", time.Since(start).Milliseconds(), "error", err.Error())
		return reply, err
	}

	a.logger.Info("agent.process.completed", "agent", a.cfg.Name, "attempts", reply.Attempts,
		"delegated", reply.Delegation != nil, "duration_ms", time.Since(start).Milliseconds())
	return reply, nil
}

func (a *Agent) respond(ctx context.Context, in Input) (Reply, error) {
	system, err := a.systemPrompt(ctx, in.SharedInstructions)
	if err != nil {
		return Reply{}, err
	}

	policy := a.retryPolicy(in.DefaultRetry)
	toolset, defs := a.toolset(in.Recipients)

	userMsg := model.Message{Role: model.RoleUser, Text: in.Message}
	msgs, dropped, err := fitPrompt(system, a.history.snapshot(), userMsg, in.MaxPromptTokens)
	if err != nil {
		return Reply{}, err
	}
	if dropped > 0 {
		a.logger.Debug("agent.history.trimmed", "agent", a.cfg.Name, "dropped", dropped, "max_prompt_tokens", in.MaxPromptTokens)
	}

	var reply Reply
	for round := 0; ; round++ {
		if round == a.maxToolRounds {
			return reply, &tool.ToolError{
				Tool:    a.cfg.Name,
				Code:    tool.CodeExecution,
				Message: fmt.Sprintf("tool round limit (%d) exceeded", a.maxToolRounds),
			}
		}

		req := a.transform(model.Request{
			System:   system,
			Messages: msgs,
			Tools:    defs,
			Stream:   a.cfg.Streaming,
		})

		resp, attempts, err := a.generate(ctx, req, policy, in)
		reply.Attempts += attempts
		if err != nil {
			return reply, err
		}
		reply.Usage = addUsage(reply.Usage, resp.Usage)

		if len(resp.ToolCalls) == 0 {
			reply.Text = resp.Text
			break
		}

		msgs = append(msgs, model.Message{Role: model.RoleAssistant, Text: resp.Text, ToolCalls: resp.ToolCalls})

		results, delegation, err := a.runToolCalls(ctx, toolset, resp.ToolCalls)
		if err != nil {
			return reply, err
		}
		if delegation != nil {
			reply.Text = resp.Text
			reply.Delegation = delegation
			break
		}
		msgs = append(msgs, model.Message{Role: model.RoleTool, ToolResults: results})
	}

	a.history.append(userMsg, model.Message{Role: model.RoleAssistant, Text: reply.Text})
	if reply.Usage != nil {
		a.metrics.ObserveTokens(a.cfg.Name, reply.Usage.PromptTokens, reply.Usage.CompletionTokens)
	}
	return reply, nil
}

// generate performs one logical model call under the retry policy.
func (a *Agent) generate(ctx context.Context, req model.Request, policy RetryPolicy, in Input) (model.Response, int, error) {
	info := a.llm.Info()

	var resp model.Response
	attempts, err := policy.retry(ctx, info.Provider, func(ctx context.Context, attempt int) error {
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return core.NewProviderError(info.Provider, core.KindRateLimited, err)
			}
		}

		callCtx := ctx
		if in.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, in.Timeout)
			defer cancel()
		}

		start := time.Now()
		respCh, errCh := a.llm.Generate(callCtx, req)
		r, err := model.Collect(callCtx, respCh, errCh, in.OnChunk)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			pe := model.ClassifyError(info.Provider, err)
			a.metrics.ObserveProviderAttempt(info.Provider, string(pe.Kind))
			a.logger.Debug("agent.attempt.failed", "agent", a.cfg.Name, "attempt", attempt,
				"kind", string(pe.Kind), "duration_ms", time.Since(start).Milliseconds())
			return pe
		}

		a.metrics.ObserveProviderAttempt(info.Provider, "ok")
		resp = r
		return nil
	}, func(pe *core.ProviderError, attempt int, wait time.Duration) {
		a.logger.Info("agent.retry.scheduled", "agent", a.cfg.Name, "attempt", attempt,
			"kind", string(pe.Kind), "wait_ms", wait.Milliseconds())
	})

	return resp, attempts, err
}

// runToolCalls executes calls in order. A send_message call stops execution
// and returns the delegation.
func (a *Agent) runToolCalls(ctx context.Context, toolset map[string]tool.Tool, calls []model.ToolCall) ([]model.ToolResult, *tool.Delegation, error) {
	results := make([]model.ToolResult, 0, len(calls))

	for _, call := range calls {
		t, ok := toolset[call.Name]
		if !ok {
			err := tool.NewToolError(call.Name, fmt.Sprintf("agent %s has no tool %q", a.cfg.Name, call.Name), tool.CodeNotFound)
			a.metrics.ObserveToolCall(call.Name, err)
			return nil, nil, err
		}

		args := map[string]any{}
		if len(call.Arguments) > 0 {
			if err := json.Unmarshal(call.Arguments, &args); err != nil {
				toolErr := &tool.ToolError{
					Tool:    call.Name,
					Code:    tool.CodeValidation,
					Message: fmt.Sprintf("arguments are not a JSON object: %v", err),
					Err:     err,
				}
				a.metrics.ObserveToolCall(call.Name, toolErr)
				return nil, nil, toolErr
			}
		}

		out, err := a.callTool(ctx, t, args)
		if err != nil {
			return nil, nil, err
		}

		if d, ok := out.(*tool.Delegation); ok {
			return results, d, nil
		}

		results = append(results, model.ToolResult{CallID: call.ID, Name: call.Name, Content: stringify(out)})
	}

	return results, nil, nil
}

// RunTool invokes one of the agent's tools directly, validating args first.
func (a *Agent) RunTool(ctx context.Context, name string, args map[string]any) (any, error) {
	t, ok := a.toolIndex[name]
	if !ok {
		return nil, tool.NewToolError(name, fmt.Sprintf("agent %s has no tool %q", a.cfg.Name, name), tool.CodeNotFound)
	}
	return a.callTool(ctx, t, args)
}

func (a *Agent) callTool(ctx context.Context, t tool.Tool, args map[string]any) (any, error) {
	start := time.Now()
	a.logger.Debug("tool.call.start", "agent", a.cfg.Name, "tool", t.Name())

	out, err := tool.Run(ctx, t, args)
	a.metrics.ObserveToolCall(t.Name(), err)
	if err != nil {
		a.logger.Error("tool.call.error", "agent", a.cfg.Name, "tool", t.Name(), "error", err.Error())
		return nil, err
	}

	a.logger.Info("tool.call.success", "agent", a.cfg.Name, "tool", t.Name(),
		"duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

func (a *Agent) systemPrompt(ctx context.Context, shared string) (string, error) {
	own, err := a.instruction.Resolve(ctx, instructionData(a.cfg))
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", a.cfg.Name, err)
	}

	parts := make([]string, 0, 2)
	if s := strings.TrimSpace(shared); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(own); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n\n"), nil
}

// instructionData is the data available to instruction templates.
func instructionData(cfg Config) map[string]any {
	return map[string]any{
		"AgentName":   cfg.Name,
		"Description": cfg.Description,
	}
}

func (a *Agent) retryPolicy(fallback *RetryPolicy) RetryPolicy {
	switch {
	case a.cfg.Retry != nil:
		return *a.cfg.Retry
	case fallback != nil:
		return fallback.WithDefaults()
	default:
		return DefaultRetryPolicy()
	}
}

// toolset merges the agent's tools with the delegation tool for recipients.
func (a *Agent) toolset(recipients []string) (map[string]tool.Tool, []model.ToolDefinition) {
	set := make(map[string]tool.Tool, len(a.tools)+1)
	defs := make([]model.ToolDefinition, 0, len(a.tools)+1)

	for _, t := range a.tools {
		set[t.Name()] = t
		defs = append(defs, tool.Definition(t))
	}
	if len(recipients) > 0 {
		send := tool.NewSendMessageTool(recipients)
		set[send.Name()] = send
		defs = append(defs, tool.Definition(send))
	}
	return set, defs
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func addUsage(total, u *model.TokenUsage) *model.TokenUsage {
	if u == nil {
		return total
	}
	if total == nil {
		total = &model.TokenUsage{}
	}
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
	return total
}

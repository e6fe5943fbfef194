package agency

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/hupe1980/agencymesh/agent"
	"github.com/hupe1980/agencymesh/core"
	"github.com/hupe1980/agencymesh/internal/util"
	"github.com/hupe1980/agencymesh/logging"
	"github.com/hupe1980/agencymesh/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/hupe1980/agencymesh/agency"

// Options configures an Agency using the functional options pattern.
//
// Example:
//
//	ag, err := agency.New(chart, func(o *agency.Options) {
//	    o.SharedInstructions = mission
//	    o.Logger = logger
//	})
type Options struct {
	// SharedInstructions is prepended to every agent's own instruction.
	SharedInstructions string

	// Config contains run parameters. Defaults to DefaultConfig().
	Config Config

	// Policy decides permitted routes and delegation. Defaults to StaticPolicy.
	Policy Policy

	// Logger receives routing state transitions. Defaults to NoOp.
	Logger logging.Logger

	// Metrics records dispatch outcomes. Nil disables metrics.
	Metrics *metrics.Recorder

	// Tracer creates spans around routing. Defaults to the global provider.
	Tracer trace.Tracer
}

// Agency owns a fixed set of agents and the directed graph over them, and
// routes messages along that graph.
//
// Every public operation validates its route before any agent is invoked,
// so a rejected route never reaches a provider. Configuration is immutable
// after New; an Agency is safe for concurrent use, each call being
// independent of the others.
type Agency struct {
	agents map[string]Participant
	graph  *Graph
	shared string
	cfg    Config

	policy  Policy
	logger  logging.Logger
	metrics *metrics.Recorder
	tracer  trace.Tracer
}

// New builds an Agency from chart. The first entry must be a Member and
// becomes the entry point. Unknown names, duplicate names, self-loops and
// invalid configuration are reported as *core.ConfigurationError; on error
// no Agency is returned.
func New(chart []ChartEntry, optFns ...func(o *Options)) (*Agency, error) {
	opts := Options{
		Config: DefaultConfig(),
		Policy: StaticPolicy{},
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Policy == nil {
		opts.Policy = StaticPolicy{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	agents, graph, err := buildGraph(chart)
	if err != nil {
		return nil, err
	}

	opts.Logger.Info("agency.created",
		"entry_point", graph.EntryPoint(),
		"agents", len(agents),
		"edges", len(graph.Edges()),
		"max_rounds", opts.Config.MaxRounds,
	)

	return &Agency{
		agents:  agents,
		graph:   graph,
		shared:  strings.TrimSpace(opts.SharedInstructions),
		cfg:     opts.Config,
		policy:  opts.Policy,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
	}, nil
}

func buildGraph(chart []ChartEntry) (map[string]Participant, *Graph, error) {
	if len(chart) == 0 {
		return nil, nil, core.NewConfigurationError("chart", "must contain at least the entry point")
	}
	if chart[0].kind != entryMember {
		return nil, nil, core.NewConfigurationError("chart[0]", "first entry must be a single agent (the entry point)")
	}

	agents := make(map[string]Participant)
	graph := newGraph()

	add := func(field string, p Participant) (string, error) {
		if p == nil {
			return "", core.NewConfigurationError(field, "nil agent")
		}
		name := p.Name()
		if strings.TrimSpace(name) == "" {
			return "", core.NewConfigurationError(field, "agent name must not be empty")
		}
		if existing, ok := agents[name]; ok && !sameParticipant(existing, p) {
			return "", core.NewConfigurationError(field, "duplicate agent name %q", name)
		}
		agents[name] = p
		graph.addNode(name)
		return name, nil
	}

	var pending []ChartEntry
	var pendingIdx []int

	for i, e := range chart {
		field := fmt.Sprintf("chart[%d]", i)
		switch e.kind {
		case entryMember:
			name, err := add(field, e.member)
			if err != nil {
				return nil, nil, err
			}
			if i > 0 {
				if name == graph.EntryPoint() {
					return nil, nil, core.NewConfigurationError(field, "self-loop on %q", name)
				}
				graph.addEdge(graph.EntryPoint(), name)
			}
		case entryLink:
			from, err := add(field, e.from)
			if err != nil {
				return nil, nil, err
			}
			to, err := add(field, e.to)
			if err != nil {
				return nil, nil, err
			}
			if from == to {
				return nil, nil, core.NewConfigurationError(field, "self-loop on %q", from)
			}
			graph.addEdge(from, to)
		case entryEdge:
			pending = append(pending, e)
			pendingIdx = append(pendingIdx, i)
		}
	}

	// Named edges may reference agents declared later in the chart.
	for j, e := range pending {
		field := fmt.Sprintf("chart[%d]", pendingIdx[j])
		for _, name := range []string{e.fromName, e.toName} {
			if !graph.Has(name) {
				return nil, nil, core.NewConfigurationError(field, "edge references unknown agent %q", name)
			}
		}
		if e.fromName == e.toName {
			return nil, nil, core.NewConfigurationError(field, "self-loop on %q", e.fromName)
		}
		graph.addEdge(e.fromName, e.toName)
	}

	return agents, graph, nil
}

// sameParticipant reports whether a and b denote the same participant. Values
// of non-comparable dynamic types are compared deeply instead of with ==,
// which would panic.
func sameParticipant(a, b Participant) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// EntryPoint returns the name of the entry-point agent.
func (a *Agency) EntryPoint() string { return a.graph.EntryPoint() }

// Agents returns agent names in declaration order.
func (a *Agency) Agents() []string { return a.graph.Nodes() }

// Agent returns the participant registered under name.
func (a *Agency) Agent(name string) (Participant, bool) {
	p, ok := a.agents[name]
	return p, ok
}

// Graph returns the communication graph.
func (a *Agency) Graph() *Graph { return a.graph }

// SharedInstructions returns the text prepended to every agent instruction.
func (a *Agency) SharedInstructions() string { return a.shared }

// Config returns the run configuration.
func (a *Agency) Config() Config { return a.cfg }

// MessageOption configures one ProcessMessage call.
type MessageOption func(o *messageOptions)

type messageOptions struct {
	from    string
	to      string
	onChunk func(agent, chunk string)
}

// From names the sending agent.
func From(name string) MessageOption { return func(o *messageOptions) { o.from = name } }

// To names the receiving agent.
func To(name string) MessageOption { return func(o *messageOptions) { o.to = name } }

// OnChunk observes streamed text chunks of every dispatched agent.
func OnChunk(fn func(agent, chunk string)) MessageOption {
	return func(o *messageOptions) { o.onChunk = fn }
}

// ProcessMessage routes msg to one agent and returns its reply unchanged.
//
// Receiver resolution:
//   - neither From nor To: the entry point receives the message directly
//   - From only: the sender's sole successor receives it
//   - To only: the entry point is the sender (To equal to the entry point
//     is a direct external message)
//   - both: the pair must be a declared edge
//
// If the receiving agent delegates via send_message and the policy follows
// it, the delegated reply is returned instead. Each follow-up hop consumes
// one round of Config.MaxRounds.
func (a *Agency) ProcessMessage(ctx context.Context, msg string, optFns ...MessageOption) (string, error) {
	var o messageOptions
	for _, fn := range optFns {
		fn(&o)
	}

	ctx, span := a.tracer.Start(ctx, "agency.process_message", trace.WithAttributes(
		attribute.String("agency.from", o.from),
		attribute.String("agency.to", o.to),
	))
	defer span.End()

	text, err := a.processMessage(ctx, msg, o)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return text, err
}

func (a *Agency) processMessage(ctx context.Context, msg string, o messageOptions) (string, error) {
	rounds := core.NewRoundLimiter(a.cfg.MaxRounds)
	env := a.submit(Hop{From: o.from, To: o.to, Message: msg, Round: 1}, rounds)

	if strings.TrimSpace(msg) == "" {
		err := &core.InvalidInputError{Field: "message", Message: "must not be empty"}
		env.fail(err)
		return "", err
	}

	from, to, err := a.resolve(o.from, o.to)
	if err != nil {
		env.fail(err)
		return "", err
	}
	env.hop.From, env.hop.To = from, to
	env.validated()

	if err := rounds.Increment(); err != nil {
		env.fail(err)
		return "", err
	}

	for {
		reply, err := a.dispatch(ctx, env, o.onChunk, true)
		if err != nil {
			return "", err
		}

		next, ok := a.policy.Next(env.hop, reply)
		if !ok {
			return reply.Text, nil
		}

		env = a.submit(next, rounds)
		if err := rounds.Increment(); err != nil {
			env.fail(err)
			return "", err
		}
		env.hop.Round = rounds.Count()

		if err := a.policy.Authorize(a.graph, next.From, next.To); err != nil {
			env.fail(err)
			return "", err
		}
		env.validated()
	}
}

// resolve applies the receiver resolution rules of ProcessMessage.
func (a *Agency) resolve(from, to string) (string, string, error) {
	entry := a.graph.EntryPoint()

	switch {
	case from == "" && to == "":
		return "", entry, nil
	case to == "":
		if !a.graph.Has(from) {
			return "", "", &core.RoutingError{From: from, Reason: fmt.Sprintf("unknown agent %q", from)}
		}
		succ := a.graph.Successors(from)
		if len(succ) != 1 {
			return "", "", &core.RoutingError{
				From:   from,
				Reason: fmt.Sprintf("sender has %d successors; an explicit receiver is required", len(succ)),
			}
		}
		to = succ[0]
	case from == "":
		if to != entry {
			from = entry
		}
	}

	if err := a.policy.Authorize(a.graph, from, to); err != nil {
		return "", "", err
	}
	return from, to, nil
}

// dispatch hands env to its receiving agent. Delegation is offered only when
// delegate is set.
func (a *Agency) dispatch(ctx context.Context, env *envelope, onChunk func(string, string), delegate bool) (agent.Reply, error) {
	hop := env.hop
	p := a.agents[hop.To]

	ctx, span := a.tracer.Start(ctx, "agency.dispatch", trace.WithAttributes(
		attribute.String("agency.message_id", env.id),
		attribute.String("agency.from", hop.From),
		attribute.String("agency.to", hop.To),
		attribute.Int("agency.round", hop.Round),
	))
	defer span.End()

	in := agent.Input{
		Message:            hop.Message,
		SharedInstructions: a.shared,
		Timeout:            a.cfg.Timeout,
		DefaultRetry:       a.cfg.RetryPolicy,
		MaxPromptTokens:    a.cfg.MaxPromptTokens,
	}
	if delegate {
		in.Recipients = a.policy.Recipients(a.graph, hop.To)
	}
	if onChunk != nil {
		in.OnChunk = func(chunk string) { onChunk(hop.To, chunk) }
	}

	env.dispatched()
	start := time.Now()
	reply, err := p.Respond(ctx, in)
	a.metrics.ObserveDispatch(hop.To, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		dErr := &core.DispatchError{Agent: hop.To, From: hop.From, To: hop.To, Err: err}
		env.fail(dErr)
		return reply, dErr
	}

	env.completed(reply)
	return reply, nil
}

// envelope tracks one in-flight message through
// SUBMITTED -> ROUTE_VALIDATED -> DISPATCHED -> COMPLETED | FAILED.
type envelope struct {
	id     string
	hop    Hop
	state  core.MessageState
	rounds *core.RoundLimiter // nil for broadcast and chain hops
	logger logging.Logger
}

func (a *Agency) submit(hop Hop, rounds *core.RoundLimiter) *envelope {
	env := &envelope{id: util.NewID(), hop: hop, state: core.StateSubmitted, rounds: rounds, logger: a.logger}
	env.logger.Debug("agency.message.submitted", env.fields()...)
	return env
}

func (e *envelope) fields(kv ...any) []any {
	fields := []any{
		"message_id", e.id,
		"from", e.hop.From,
		"to", e.hop.To,
		"round", e.hop.Round,
		"state", e.state.String(),
	}
	if e.rounds != nil {
		fields = append(fields, "rounds_remaining", e.rounds.Remaining())
	}
	return append(fields, kv...)
}

func (e *envelope) advance(next core.MessageState) bool {
	if !e.state.CanTransition(next) {
		return false
	}
	e.state = next
	return true
}

func (e *envelope) validated() {
	if e.advance(core.StateRouteValidated) {
		e.logger.Debug("agency.route.validated", e.fields()...)
	}
}

func (e *envelope) dispatched() {
	if e.advance(core.StateDispatched) {
		e.logger.Debug("agency.message.dispatched", e.fields()...)
	}
}

func (e *envelope) completed(reply agent.Reply) {
	if e.advance(core.StateCompleted) {
		e.logger.Info("agency.message.completed", e.fields(
			"attempts", reply.Attempts,
			"delegated", reply.Delegation != nil,
		)...)
	}
}

func (e *envelope) fail(err error) {
	if e.advance(core.StateFailed) {
		e.logger.Warn("agency.message.failed", e.fields("error", err.Error())...)
	}
}

package agency

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/agencymesh/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Chain routes msg through names in order, feeding each agent's reply to the
// next. Every consecutive pair is validated before the first dispatch. A
// failure at step i aborts the chain with a *core.ChainError carrying the
// output of the last successful step.
func (a *Agency) Chain(ctx context.Context, msg string, names []string) (string, error) {
	if strings.TrimSpace(msg) == "" {
		return "", &core.InvalidInputError{Field: "message", Message: "must not be empty"}
	}
	if len(names) < 2 {
		return "", &core.InvalidInputError{Field: "chain", Message: fmt.Sprintf("needs at least 2 agents, got %d", len(names))}
	}

	for _, name := range names {
		if !a.graph.Has(name) {
			return "", &core.RoutingError{To: name, Reason: fmt.Sprintf("unknown agent %q", name)}
		}
	}
	for i := 1; i < len(names); i++ {
		if err := a.policy.Authorize(a.graph, names[i-1], names[i]); err != nil {
			a.logger.Warn("agency.chain.rejected", "from", names[i-1], "to", names[i], "error", err.Error())
			return "", err
		}
	}

	ctx, span := a.tracer.Start(ctx, "agency.chain", trace.WithAttributes(
		attribute.StringSlice("agency.chain", names),
	))
	defer span.End()

	current, partial := msg, ""
	for i, name := range names {
		from := ""
		if i > 0 {
			from = names[i-1]
		}

		env := a.submit(Hop{From: from, To: name, Message: current, Round: 1}, nil)
		env.validated()

		reply, err := a.dispatch(ctx, env, nil, false)
		if err != nil {
			cErr := &core.ChainError{Step: i, Agent: name, Partial: partial, Err: err}
			span.RecordError(cErr)
			span.SetStatus(codes.Error, cErr.Error())
			return "", cErr
		}

		current, partial = reply.Text, reply.Text
	}

	a.logger.Info("agency.chain.completed", "steps", len(names))
	return current, nil
}

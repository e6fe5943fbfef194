package agency

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/agencymesh/core"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Result is the outcome of one broadcast target.
type Result struct {
	Target string
	Text   string
	Err    error // *core.DispatchError when the target failed
}

// Failed reports whether the target failed.
func (r Result) Failed() bool { return r.Err != nil }

// Broadcast sends msg from the named sender to every successor of it. Targets
// are processed concurrently and independently: a failing target never
// aborts the others. Results keep the declared successor order. The error is
// non-nil only when the broadcast could not start.
func (a *Agency) Broadcast(ctx context.Context, msg, from string) ([]Result, error) {
	if strings.TrimSpace(msg) == "" {
		return nil, &core.InvalidInputError{Field: "message", Message: "must not be empty"}
	}
	if !a.graph.Has(from) {
		return nil, &core.RoutingError{From: from, Reason: fmt.Sprintf("unknown agent %q", from)}
	}

	targets := a.graph.Successors(from)
	if len(targets) == 0 {
		return nil, &core.RoutingError{From: from, Reason: "sender has no successors"}
	}

	envs := make([]*envelope, len(targets))
	for i, to := range targets {
		envs[i] = a.submit(Hop{From: from, To: to, Message: msg, Round: 1}, nil)
		if err := a.policy.Authorize(a.graph, from, to); err != nil {
			envs[i].fail(err)
			return nil, err
		}
		envs[i].validated()
	}

	ctx, span := a.tracer.Start(ctx, "agency.broadcast", trace.WithAttributes(
		attribute.String("agency.from", from),
		attribute.Int("agency.targets", len(targets)),
	))
	defer span.End()

	size := a.cfg.BroadcastConcurrency
	if size == 0 || size > len(targets) {
		size = len(targets)
	}

	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("create broadcast worker pool: %w", err)
	}
	defer pool.Release()

	results := make([]Result, len(targets))
	var wg sync.WaitGroup

	for i, env := range envs {
		results[i].Target = env.hop.To

		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			reply, err := a.dispatch(ctx, env, nil, false)
			results[i].Text = reply.Text
			results[i].Err = err
		}); err != nil {
			wg.Done()
			results[i].Err = &core.DispatchError{Agent: env.hop.To, From: from, To: env.hop.To, Err: err}
			env.fail(err)
		}
	}

	wg.Wait()

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("agency.failed", failed))
	a.logger.Info("agency.broadcast.completed", "from", from, "targets", len(targets), "failed", failed)

	return results, nil
}

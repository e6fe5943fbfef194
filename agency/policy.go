package agency

import (
	"fmt"

	"github.com/hupe1980/agencymesh/agent"
	"github.com/hupe1980/agencymesh/core"
)

// Hop is one routed message. An empty From is a message from outside the
// agency.
type Hop struct {
	From    string
	To      string
	Message string
	Round   int
}

// Policy decides which routes are permitted and whether a reply triggers a
// further hop. Inject a custom Policy to change routing without touching
// the Agency.
type Policy interface {
	// Authorize returns a *core.RoutingError if from may not message to.
	Authorize(g *Graph, from, to string) error

	// Recipients lists the agents name may delegate to during a dispatch.
	Recipients(g *Graph, name string) []string

	// Next returns the follow-up hop for reply, if any.
	Next(hop Hop, reply agent.Reply) (Hop, bool)
}

// StaticPolicy permits exactly the declared graph edges, plus external
// messages to the entry point. Agents may delegate to their successors and
// delegations are followed.
type StaticPolicy struct{}

// Authorize implements Policy.
func (StaticPolicy) Authorize(g *Graph, from, to string) error {
	if !g.Has(to) {
		return &core.RoutingError{From: from, To: to, Reason: fmt.Sprintf("unknown agent %q", to)}
	}
	if from == "" {
		if to != g.EntryPoint() {
			return &core.RoutingError{From: from, To: to, Reason: "only the entry point accepts messages without a sender"}
		}
		return nil
	}
	if !g.Has(from) {
		return &core.RoutingError{From: from, To: to, Reason: fmt.Sprintf("unknown agent %q", from)}
	}
	if !g.HasEdge(from, to) {
		return &core.RoutingError{From: from, To: to, Reason: "no such edge in the communication graph"}
	}
	return nil
}

// Recipients implements Policy.
func (StaticPolicy) Recipients(g *Graph, name string) []string { return g.Successors(name) }

// Next implements Policy.
func (StaticPolicy) Next(hop Hop, reply agent.Reply) (Hop, bool) {
	if reply.Delegation == nil {
		return Hop{}, false
	}
	return Hop{From: hop.To, To: reply.Delegation.Recipient, Message: reply.Delegation.Message}, true
}

// NoDelegationPolicy routes along graph edges but never offers or follows
// delegation, so every call is a single hop.
type NoDelegationPolicy struct{ StaticPolicy }

// Recipients implements Policy.
func (NoDelegationPolicy) Recipients(*Graph, string) []string { return nil }

// Next implements Policy.
func (NoDelegationPolicy) Next(Hop, agent.Reply) (Hop, bool) { return Hop{}, false }

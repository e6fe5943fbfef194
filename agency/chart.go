package agency

import (
	"context"

	"github.com/hupe1980/agencymesh/agent"
)

// Participant is an agent that can serve agency dispatches.
// *agent.Agent implements it.
type Participant interface {
	Name() string
	Respond(ctx context.Context, in agent.Input) (agent.Reply, error)
}

type entryKind int

const (
	entryMember entryKind = iota
	entryLink
	entryEdge
)

// ChartEntry is one element of an agency chart. The first entry must be a
// Member and becomes the entry point.
type ChartEntry struct {
	kind     entryKind
	member   Participant
	from, to Participant
	fromName string
	toName   string
}

// Member adds p to the agency. Every member after the first is reachable
// from the entry point.
func Member(p Participant) ChartEntry {
	return ChartEntry{kind: entryMember, member: p}
}

// Link adds both participants and the edge from -> to.
func Link(from, to Participant) ChartEntry {
	return ChartEntry{kind: entryLink, from: from, to: to}
}

// Edge declares from -> to between agents added elsewhere in the chart.
func Edge(from, to string) ChartEntry {
	return ChartEntry{kind: entryEdge, fromName: from, toName: to}
}

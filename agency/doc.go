// Package agency composes agents into an agency: a fixed set of agents, a
// directed communication graph over them and shared instructions.
//
// An agency is described by a chart. The first entry is the entry point;
// later single members are reachable from it, and links or named edges
// declare further permitted directions:
//
//	ag, err := agency.New([]agency.ChartEntry{
//	    agency.Member(ceo),
//	    agency.Member(dev),
//	    agency.Link(dev, assistant),
//	    agency.Edge("assistant", "dev"),
//	})
//
// Messages are routed with ProcessMessage (one receiver, optional
// delegation hops), Broadcast (every successor of a sender, concurrently)
// and Chain (an explicit path). Every route is validated against the graph
// before any agent runs, and each in-flight message moves through
// SUBMITTED, ROUTE_VALIDATED, DISPATCHED and then COMPLETED or FAILED.
//
// A top-level call is one round. Delegation hops each consume another
// round, bounded by Config.MaxRounds.
package agency

package agency

import "slices"

// Graph is the directed communication graph of an agency. An edge A -> B
// means A may initiate a message to B. Nodes and edges keep declaration
// order. A Graph is immutable once the agency is built.
type Graph struct {
	entry string
	nodes []string
	succ  map[string][]string
}

func newGraph() *Graph {
	return &Graph{succ: make(map[string][]string)}
}

func (g *Graph) addNode(name string) {
	if _, ok := g.succ[name]; ok {
		return
	}
	if len(g.nodes) == 0 {
		g.entry = name
	}
	g.nodes = append(g.nodes, name)
	g.succ[name] = nil
}

// addEdge records from -> to. Repeated edges are ignored.
func (g *Graph) addEdge(from, to string) {
	if slices.Contains(g.succ[from], to) {
		return
	}
	g.succ[from] = append(g.succ[from], to)
}

// EntryPoint returns the agent reachable from outside without a sender.
func (g *Graph) EntryPoint() string { return g.entry }

// Nodes returns all agent names in declaration order.
func (g *Graph) Nodes() []string { return slices.Clone(g.nodes) }

// Has reports whether name is an agent of the graph.
func (g *Graph) Has(name string) bool {
	_, ok := g.succ[name]
	return ok
}

// Successors returns the agents name may message, in declaration order.
func (g *Graph) Successors(name string) []string { return slices.Clone(g.succ[name]) }

// HasEdge reports whether from -> to is declared.
func (g *Graph) HasEdge(from, to string) bool { return slices.Contains(g.succ[from], to) }

// Edges returns every declared edge as [from, to] pairs.
func (g *Graph) Edges() [][2]string {
	var out [][2]string
	for _, from := range g.nodes {
		for _, to := range g.succ[from] {
			out = append(out, [2]string{from, to})
		}
	}
	return out
}

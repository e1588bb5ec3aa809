package survey

import (
	"fmt"
	"sort"
	"strings"

	"github.com/expectedparrot/edsl-sub003/pkg/errors"
)

// Reason records why an edge exists.
type Reason string

const (
	ReasonTemplate Reason = "template"
	ReasonSkipRule Reason = "skip_rule"
	ReasonStopRule Reason = "stop_rule"
	ReasonMemory   Reason = "memory"
)

// Edge A→B means B's rendering or eligibility needs A resolved first.
// From and To are question positions.
type Edge struct {
	From   int    `json:"from"`
	To     int    `json:"to"`
	Reason Reason `json:"reason"`
}

// Graph is the dependency graph over question positions. Nodes live in an
// arena indexed by position and edges are index pairs. It is read-only once
// built.
type Graph struct {
	names []string
	edges []Edge
	preds [][]int
	succs [][]int
	topo  []int
	waves [][]int
}

func newGraph(names []string) *Graph {
	return &Graph{
		names: names,
		preds: make([][]int, len(names)),
		succs: make([][]int, len(names)),
	}
}

// addEdge records from→to once. The first reason for a pair wins.
func (g *Graph) addEdge(from, to int, reason Reason) {
	for _, p := range g.preds[to] {
		if p == from {
			return
		}
	}
	g.edges = append(g.edges, Edge{From: from, To: to, Reason: reason})
	g.preds[to] = append(g.preds[to], from)
	g.succs[from] = append(g.succs[from], to)
}

// finish sorts adjacency, orders the nodes and fails on a cycle.
func (g *Graph) finish() error {
	for i := range g.names {
		sort.Ints(g.preds[i])
		sort.Ints(g.succs[i])
	}
	sort.SliceStable(g.edges, func(i, j int) bool {
		if g.edges[i].To != g.edges[j].To {
			return g.edges[i].To < g.edges[j].To
		}
		return g.edges[i].From < g.edges[j].From
	})

	indegree := make([]int, len(g.names))
	for i := range g.names {
		indegree[i] = len(g.preds[i])
	}
	level := make([]int, len(g.names))

	var ready []int
	for i, d := range indegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}
	for len(ready) > 0 {
		// Lowest position first keeps the order close to survey order.
		sort.Ints(ready)
		n := ready[0]
		ready = ready[1:]
		g.topo = append(g.topo, n)
		for _, s := range g.succs[n] {
			if level[n]+1 > level[s] {
				level[s] = level[n] + 1
			}
			indegree[s]--
			if indegree[s] == 0 {
				ready = append(ready, s)
			}
		}
	}

	if len(g.topo) != len(g.names) {
		cycle := g.findCycle(indegree)
		return errors.Newf(errors.ErrCodeDependencyCycle, "dependency cycle: %s", strings.Join(cycle, " -> ")).
			WithContext("questions", cycle)
	}

	for _, n := range g.topo {
		for len(g.waves) <= level[n] {
			g.waves = append(g.waves, nil)
		}
		g.waves[level[n]] = append(g.waves[level[n]], n)
	}
	for _, w := range g.waves {
		sort.Ints(w)
	}
	return nil
}

// findCycle walks predecessors among the nodes Kahn's algorithm could not
// order. Every such node has a remaining predecessor, so the walk must revisit
// a node.
func (g *Graph) findCycle(indegree []int) []string {
	start := -1
	for i, d := range indegree {
		if d > 0 {
			start = i
			break
		}
	}
	if start < 0 {
		return nil
	}

	seenAt := make(map[int]int)
	var path []int
	n := start
	for {
		if at, ok := seenAt[n]; ok {
			loop := append([]int(nil), path[at:]...)
			// path follows predecessors; reverse into dependency order.
			for i, j := 0, len(loop)-1; i < j; i, j = i+1, j-1 {
				loop[i], loop[j] = loop[j], loop[i]
			}
			names := make([]string, 0, len(loop)+1)
			for _, idx := range loop {
				names = append(names, g.names[idx])
			}
			return append(names, g.names[loop[0]])
		}
		seenAt[n] = len(path)
		path = append(path, n)
		next := -1
		for _, p := range g.preds[n] {
			if indegree[p] > 0 {
				next = p
				break
			}
		}
		if next < 0 {
			return []string{g.names[n]}
		}
		n = next
	}
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.names) }

// Name returns the question name at position i.
func (g *Graph) Name(i int) string { return g.names[i] }

// Edges returns every edge sorted by target then source.
func (g *Graph) Edges() []Edge { return append([]Edge(nil), g.edges...) }

// EdgeCount returns the number of distinct edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Predecessors returns the positions question i waits for.
func (g *Graph) Predecessors(i int) []int { return append([]int(nil), g.preds[i]...) }

// Successors returns the positions waiting for question i.
func (g *Graph) Successors(i int) []int { return append([]int(nil), g.succs[i]...) }

// Roots returns every position with no predecessors.
func (g *Graph) Roots() []int {
	var out []int
	for i := range g.names {
		if len(g.preds[i]) == 0 {
			out = append(out, i)
		}
	}
	return out
}

// TopoOrder returns a topological order that prefers survey order.
func (g *Graph) TopoOrder() []int { return append([]int(nil), g.topo...) }

// Waves groups positions by longest distance from a root. Everything in one
// wave can run concurrently once the earlier waves are done.
func (g *Graph) Waves() [][]int {
	out := make([][]int, len(g.waves))
	for i, w := range g.waves {
		out[i] = append([]int(nil), w...)
	}
	return out
}

// String renders the edges for debugging.
func (g *Graph) String() string {
	var b strings.Builder
	for _, e := range g.edges {
		fmt.Fprintf(&b, "%s -> %s (%s)\n", g.names[e.From], g.names[e.To], e.Reason)
	}
	return b.String()
}

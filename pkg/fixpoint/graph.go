// Package fixpoint resolves rule dependencies: it builds the dependency
// graph over rule names, collapses it into strongly connected components,
// orders the components into evaluation strata and validates that no
// negative edge crosses a recursive cycle.
package fixpoint

import (
	"sort"

	"github.com/l7mp/reflow/pkg/plan"
)

// Graph is a directed graph over rule names. An edge runs from the dependent
// rule to the rule it references; negative edges cross a non-monotonic
// operator.
type Graph struct {
	Nodes    []string
	byLabel  map[string]int
	edges    map[string]map[string]bool
	negative map[string]map[string]bool
}

func NewGraph() *Graph {
	return &Graph{
		byLabel:  map[string]int{},
		edges:    map[string]map[string]bool{},
		negative: map[string]map[string]bool{},
	}
}

// AddNode registers a rule name; false if already present.
func (g *Graph) AddNode(label string) bool {
	if _, ok := g.byLabel[label]; ok {
		return false
	}
	g.byLabel[label] = len(g.Nodes)
	g.Nodes = append(g.Nodes, label)
	g.edges[label] = map[string]bool{}
	g.negative[label] = map[string]bool{}
	return true
}

func (g *Graph) HasNode(label string) bool {
	_, ok := g.byLabel[label]
	return ok
}

// AddEdge records that from references to. Negative edges stick: once a
// dependency is negative it stays negative even if a positive reference also
// exists.
func (g *Graph) AddEdge(from, to string, negative bool) {
	g.edges[from][to] = true
	if negative {
		g.negative[from][to] = true
	}
}

func (g *Graph) HasEdge(from, to string) bool {
	return g.edges[from] != nil && g.edges[from][to]
}

// Edges lists the successors of from, ordered by node insertion for
// determinism.
func (g *Graph) Edges(from string) []string {
	out := make([]string, 0, len(g.edges[from]))
	for to := range g.edges[from] {
		out = append(out, to)
	}
	sort.Slice(out, func(i, j int) bool { return g.byLabel[out[i]] < g.byLabel[out[j]] })
	return out
}

// BuildGraph constructs the dependency graph of a rule set from the edges
// each rule's plan contributes.
func BuildGraph(rules map[string]*plan.Rule) *Graph {
	g := NewGraph()
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		g.AddNode(name)
	}
	for _, name := range names {
		for _, e := range plan.RuleDependencies(rules[name]) {
			if !g.HasNode(e.To) {
				g.AddNode(e.To)
			}
			g.AddEdge(e.From, e.To, e.Negative)
		}
	}
	return g
}

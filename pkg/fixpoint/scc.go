package fixpoint

import (
	"fmt"

	"github.com/l7mp/reflow/pkg/data"
)

// Component is one evaluation stratum: a maximal set of mutually recursive
// rules. Non-recursive rules form singleton components.
type Component struct {
	Rules     []string
	Recursive bool
}

// Components collapses the graph into strongly connected components with
// Tarjan's algorithm. Since edges run from dependent to dependency, the
// emission order is already the evaluation order: every component appears
// after the components it depends on have been emitted.
func (g *Graph) Components() []Component {
	t := &tarjan{
		g:       g,
		index:   map[string]int{},
		lowlink: map[string]int{},
		onStack: map[string]bool{},
	}
	for _, n := range g.Nodes {
		if _, seen := t.index[n]; !seen {
			t.strongconnect(n)
		}
	}
	return t.out
}

type tarjan struct {
	g       *Graph
	counter int
	index   map[string]int
	lowlink map[string]int
	stack   []string
	onStack map[string]bool
	out     []Component
}

func (t *tarjan) strongconnect(v string) {
	t.index[v] = t.counter
	t.lowlink[v] = t.counter
	t.counter++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	for _, w := range t.g.Edges(v) {
		if _, seen := t.index[w]; !seen {
			t.strongconnect(w)
			if t.lowlink[w] < t.lowlink[v] {
				t.lowlink[v] = t.lowlink[w]
			}
		} else if t.onStack[w] {
			if t.index[w] < t.lowlink[v] {
				t.lowlink[v] = t.index[w]
			}
		}
	}

	if t.lowlink[v] != t.index[v] {
		return
	}
	var members []string
	for {
		w := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.onStack[w] = false
		members = append(members, w)
		if w == v {
			break
		}
	}
	// A singleton is recursive only when it references itself.
	recursive := len(members) > 1 || t.g.HasEdge(v, v)
	t.out = append(t.out, Component{Rules: members, Recursive: recursive})
}

// Validate rejects rule sets where a negative edge stays inside a recursive
// component: negation or aggregation across a cycle has no stratified
// semantics.
func (g *Graph) Validate() error {
	comp := map[string]int{}
	for i, c := range g.Components() {
		for _, r := range c.Rules {
			comp[r] = i
		}
	}
	for from, tos := range g.negative {
		for to := range tos {
			if comp[from] == comp[to] {
				return &data.Error{Category: data.ErrPlan,
					Message: fmt.Sprintf(
						"rule %q negates %q inside a recursive cycle, rule set is not stratifiable",
						from, to)}
			}
		}
	}
	return nil
}

// Package visualize renders compiled operator graphs as diagrams.
package visualize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/emicklei/dot"

	"github.com/l7mp/reflow/pkg/dbsp"
)

// Graph is the visualization graph of one or more compiled queries.
type Graph struct {
	Name  string
	Nodes []OpNode
	Edges []Edge
}

// OpNode represents a single operator in the graph.
type OpNode struct {
	ID     string
	Label  string
	Kind   dbsp.OperatorType
	Source bool
	Refs   int
}

// Edge is a dataflow edge from a producer operator to a consumer.
type Edge struct {
	From string
	To   string
}

// BuildGraph collects the operators reachable from the given roots. Shared
// sub-plans appear once regardless of how many roots reach them.
func BuildGraph(name string, roots ...*dbsp.Node) *Graph {
	g := &Graph{Name: name}
	seen := map[dbsp.NodeID]bool{}
	var visit func(n *dbsp.Node)
	visit = func(n *dbsp.Node) {
		if seen[n.ID] {
			return
		}
		seen[n.ID] = true
		g.Nodes = append(g.Nodes, OpNode{
			ID:     n.ID.String(),
			Label:  opLabel(n),
			Kind:   n.Op.OpType(),
			Source: len(n.Inputs) == 0,
			Refs:   n.Refs(),
		})
		for _, in := range n.Inputs {
			g.Edges = append(g.Edges, Edge{From: in.ID.String(), To: n.ID.String()})
			visit(in)
		}
	}
	for _, r := range roots {
		visit(r)
	}

	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].ID < g.Nodes[j].ID })
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].From != g.Edges[j].From {
			return g.Edges[i].From < g.Edges[j].From
		}
		return g.Edges[i].To < g.Edges[j].To
	})
	return g
}

// opLabel builds a display label: the operator name plus the rule context
// when the node belongs to one.
func opLabel(n *dbsp.Node) string {
	label := n.Op.Name()
	if n.ID.Ctx != "" {
		label = n.ID.Ctx + "/" + label
	}
	if n.Refs() > 1 {
		label = fmt.Sprintf("%s (refs:%d)", label, n.Refs())
	}
	return label
}

// BuildDotGraph creates a dot.Graph from the visualization graph. The
// unified graph can then be rendered in different formats (DOT, Mermaid).
func BuildDotGraph(g *Graph) *dot.Graph {
	graph := dot.NewGraph(dot.Directed)
	graph.Attr("rankdir", "LR")
	graph.Attr("label", g.Name)
	graph.Attr("labelloc", "t")
	graph.Attr("fontsize", "16")

	nodes := make(map[string]dot.Node, len(g.Nodes))
	for _, n := range g.Nodes {
		node := graph.Node(n.ID).
			Attr("label", n.Label).
			Attr("fontname", "helvetica")
		switch {
		case n.Source:
			node.Attr("shape", "ellipse").
				Attr("style", "filled").
				Attr("fillcolor", "lightgreen")
		case n.Kind == dbsp.OpTypeBilinear:
			node.Attr("shape", "box").
				Attr("style", "filled,rounded").
				Attr("fillcolor", "lightblue")
		case n.Kind == dbsp.OpTypeNonLinear:
			node.Attr("shape", "box").
				Attr("style", "filled,rounded").
				Attr("fillcolor", "lightyellow")
		default:
			node.Attr("shape", "box").
				Attr("style", "rounded")
		}
		nodes[n.ID] = node
	}

	for _, e := range g.Edges {
		from, okf := nodes[e.From]
		to, okt := nodes[e.To]
		if okf && okt {
			graph.Edge(from, to)
		}
	}
	return graph
}

// Summary returns a one-line-per-node text rendering, for logs.
func Summary(g *Graph) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d operators\n", g.Name, len(g.Nodes))
	for _, n := range g.Nodes {
		fmt.Fprintf(&b, "  %s [%s]\n", n.ID, n.Label)
	}
	return b.String()
}

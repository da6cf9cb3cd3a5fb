package visualize

import (
	"fmt"

	"github.com/emicklei/dot"
)

// MermaidGenerator generates Mermaid flowchart diagrams.
type MermaidGenerator struct{}

// Generate creates a Mermaid flowchart from the graph using the dot library.
func (m *MermaidGenerator) Generate(g *Graph) string {
	dotGraph := BuildDotGraph(g)

	mermaid := dot.MermaidFlowchart(dotGraph, dot.MermaidLeftToRight)

	// Wrap in a markdown code block.
	return fmt.Sprintf("```mermaid\n%s\n```\n", mermaid)
}

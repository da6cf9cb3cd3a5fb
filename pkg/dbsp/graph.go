package dbsp

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/go-logr/logr"

	"github.com/l7mp/reflow/pkg/zset"
)

// NodeID identifies a node in the shared graph: the canonical hash of the
// sub-plan it computes, scoped to the rule context it was compiled for.
// Query-level nodes use the empty context.
type NodeID struct {
	Ctx  string
	Hash uint64
}

func (id NodeID) String() string {
	if id.Ctx == "" {
		return fmt.Sprintf("n%016x", id.Hash)
	}
	return fmt.Sprintf("%s/n%016x", id.Ctx, id.Hash)
}

// SourceID derives the node id of an attribute or rule feed from its name.
func SourceID(ctx, name string) NodeID {
	return NodeID{Ctx: ctx, Hash: xxhash.Sum64String("source/" + name)}
}

// Node is one operator instance in the shared graph. Structurally identical
// sub-plans across queries collapse onto one node; refs counts its direct
// consumers plus external handles.
type Node struct {
	ID     NodeID
	Op     Operator
	Inputs []*Node

	// Integrated output at the current frontier. New consumers bootstrap
	// from it.
	out  *zset.ZSet
	refs int
}

// Out returns the node's integrated output collection.
func (n *Node) Out() *zset.ZSet { return n.out }

// Refs returns the current reference count.
func (n *Node) Refs() int { return n.refs }

// Graph is the shared operator graph. Not safe for concurrent use; the
// engine goroutine owns it.
type Graph struct {
	nodes map[NodeID]*Node
	log   logr.Logger
}

func NewGraph(log logr.Logger) *Graph {
	return &Graph{nodes: map[NodeID]*Node{}, log: log.WithName("graph")}
}

// Node looks up a node by id.
func (g *Graph) Node(id NodeID) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Len returns the number of live nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Ensure returns the node with the given id, creating it when absent. A
// created node retains each of its inputs; the caller holds the returned
// reference either way.
func (g *Graph) Ensure(id NodeID, op func() Operator, inputs []*Node) *Node {
	if n, ok := g.nodes[id]; ok {
		n.refs++
		return n
	}
	n := &Node{ID: id, Op: op(), Inputs: inputs, out: zset.New(), refs: 1}
	for _, in := range inputs {
		in.refs++
	}
	g.nodes[id] = n
	g.log.V(1).Info("node installed", "id", id.String(), "op", n.Op.Name(),
		"inputs", len(inputs))
	return n
}

// Retain adds a reference to the node.
func (g *Graph) Retain(n *Node) { n.refs++ }

// Release drops a reference; at zero the node is removed and its inputs
// released in turn. Returns the removed nodes.
func (g *Graph) Release(n *Node) []*Node {
	n.refs--
	if n.refs > 0 {
		return nil
	}
	delete(g.nodes, n.ID)
	g.log.V(1).Info("node torn down", "id", n.ID.String(), "op", n.Op.Name())
	removed := []*Node{n}
	for _, in := range n.Inputs {
		removed = append(removed, g.Release(in)...)
	}
	return removed
}

// Each visits every live node.
func (g *Graph) Each(fn func(*Node)) {
	for _, n := range g.nodes {
		fn(n)
	}
}

package dbsp

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/l7mp/reflow/pkg/data"
	"github.com/l7mp/reflow/pkg/zset"
)

// maxFixpointRounds caps semi-naive iteration as a safety net; a correctly
// stratified monotone component converges long before this.
const maxFixpointRounds = 100000

// NodeError ties an operator failure to the graph node it occurred at, so
// the session layer can isolate the queries depending on it.
type NodeError struct {
	ID  NodeID
	Err error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.ID.String(), e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// FeedbackArc closes a recursive cycle: deltas emitted at Output feed the
// rule's Source placeholder in the next semi-naive round.
type FeedbackArc struct {
	Rule   string
	Source *Node
	Output *Node
}

// Stratum is one evaluation phase: its nodes in topological order, plus the
// feedback arcs when the stratum hosts a recursive component.
type Stratum struct {
	Recursive bool
	Nodes     []*Node
	Feedback  []FeedbackArc
}

// Schedule orders strata bottom-up; a node appears in exactly one stratum.
type Schedule struct {
	Strata []Stratum
}

// Executor drives deltas through scheduled strata. Single-threaded; the
// engine goroutine owns it.
type Executor struct {
	log logr.Logger
}

func NewExecutor(log logr.Logger) *Executor {
	return &Executor{log: log.WithName("executor")}
}

// Step pushes the injected source deltas through the schedule. Non-recursive
// strata are evaluated once in topological order; recursive strata iterate
// semi-naive: after the first round only the previous round's feedback
// deltas circulate, external inputs are zeroed, and the stratum is done when
// a round emits nothing new. Every node's integrated output is updated and
// the accumulated per-node deltas are returned.
//
// An operator failure does not stop the step: the failing node emits nothing
// and evaluation continues, so nodes not reading from it still integrate the
// batch and their accumulated deltas stay valid. The first failure is
// returned as a NodeError alongside the accumulator; the caller is expected
// to tear down everything downstream of the failed node.
//
// Step also serves to bootstrap freshly installed nodes: run it over a
// schedule restricted to the fresh nodes, injecting the integrated outputs
// of their existing producers at the boundary. Fresh operator state
// processing full collections yields exactly the frontier snapshot, so a
// bootstrapped node is indistinguishable from one that saw every delta since
// the beginning.
func (e *Executor) Step(sched *Schedule, injected map[NodeID]*zset.ZSet) (map[NodeID]*zset.ZSet, error) {
	acc := map[NodeID]*zset.ZSet{}
	for id, d := range injected {
		if !d.IsZero() {
			acc[id] = d.Copy()
		}
	}

	var firstErr error
	for si := range sched.Strata {
		st := &sched.Strata[si]
		if !st.Recursive {
			round := map[NodeID]*zset.ZSet{}
			for id, d := range acc {
				round[id] = d
			}
			if err := e.evalRound(st.Nodes, round, acc); err != nil && firstErr == nil {
				firstErr = err
			}
			continue
		}

		// Round zero sees the external deltas; later rounds only the
		// feedback.
		round := map[NodeID]*zset.ZSet{}
		for id, d := range acc {
			round[id] = d
		}
		for n := 0; ; n++ {
			if n >= maxFixpointRounds {
				return acc, &data.Error{Category: data.ErrFatal,
					Message: fmt.Sprintf("fixpoint did not converge within %d rounds", maxFixpointRounds)}
			}
			if err := e.evalRound(st.Nodes, round, acc); err != nil && firstErr == nil {
				firstErr = err
			}
			next := map[NodeID]*zset.ZSet{}
			for _, arc := range st.Feedback {
				if d, ok := round[arc.Output.ID]; ok && !d.IsZero() {
					feed := next[arc.Source.ID]
					if feed == nil {
						feed = zset.New()
						next[arc.Source.ID] = feed
					}
					feed.Add(d)
				}
			}
			if len(next) == 0 {
				e.log.V(4).Info("fixpoint reached", "rounds", n+1)
				break
			}
			round = next
		}
	}
	return acc, firstErr
}

// evalRound evaluates the nodes once against the round's deltas, recording
// each node's output in both the round map and the accumulator, and folding
// it into the node's integrated state. A failing node is treated as emitting
// nothing; the round continues and the first failure is returned.
func (e *Executor) evalRound(nodes []*Node, round, acc map[NodeID]*zset.ZSet) error {
	var firstErr error
	for _, n := range nodes {
		if len(n.Inputs) == 0 {
			// Source node: its delta is injected, integrate it here.
			if d, ok := round[n.ID]; ok && !d.IsZero() {
				n.out.Add(d)
			}
			continue
		}
		inputs := make([]*zset.ZSet, len(n.Inputs))
		allZero := true
		for i, in := range n.Inputs {
			d := round[in.ID]
			if d == nil {
				d = zset.New()
			} else if !d.IsZero() {
				allZero = false
			}
			inputs[i] = d
		}
		if allZero {
			continue
		}
		out, err := n.Op.Process(inputs...)
		if err != nil {
			if firstErr == nil {
				firstErr = &NodeError{ID: n.ID, Err: err}
			}
			continue
		}
		if out.IsZero() {
			continue
		}
		n.out.Add(out)
		round[n.ID] = out
		if acc[n.ID] == nil {
			acc[n.ID] = zset.New()
		}
		acc[n.ID].Add(out)
		e.log.V(4).Info("delta", "node", n.ID.String(), "op", n.Op.Name(),
			"size", out.Size())
	}
	return firstErr
}

package dbsp

import (
	"fmt"

	"github.com/l7mp/reflow/pkg/data"
	"github.com/l7mp/reflow/pkg/zset"
)

// HyperJoinOp is the worst-case-optimal n-way join on one shared variable.
// Every input is pre-rotated so the join variable is tuple position 0; the
// output is the join value followed by each input's rest, in input order.
//
// Instead of cascading binary joins it iterates the candidate join values of
// each delta and intersects the per-relation posting lists for that value,
// emitting only fully matched bindings. Work is therefore proportional to
// the candidate values touched plus the true output size, never to an
// intermediate pairwise join.
type HyperJoinOp struct {
	BaseOp
	states []*tupleIndex
	stats  JoinStats
}

// JoinStats counts the work performed, for diagnostics and bound checks.
type JoinStats struct {
	// Candidates is the number of (delta, join value) pairs probed.
	Candidates int
	// Emitted is the number of output tuples produced before
	// consolidation.
	Emitted int
}

func NewHyperJoin(arity int) *HyperJoinOp {
	states := make([]*tupleIndex, arity)
	for i := range states {
		states[i] = newTupleIndex()
	}
	return &HyperJoinOp{
		BaseOp: NewBaseOp(fmt.Sprintf("⋈*_%d", arity), arity),
		states: states,
	}
}

func (op *HyperJoinOp) OpType() OperatorType { return OpTypeBilinear }

// Stats returns the accumulated work counters.
func (op *HyperJoinOp) Stats() JoinStats { return op.stats }

// ResetStats clears the work counters.
func (op *HyperJoinOp) ResetStats() { op.stats = JoinStats{} }

func (op *HyperJoinOp) Process(inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := op.validateInputs(inputs); err != nil {
		return nil, err
	}
	out := zset.New()

	// Delta term i joins Δ_i against updated states before i and old
	// states after i; updating state i after its term keeps exactly that
	// invariant in op.states.
	for i, delta := range inputs {
		di := newTupleIndex()
		delta.Each(func(t data.Tuple, mult int) {
			di.add(data.Tuple{t[0]}, t[1:], mult)
		})

		di.each(func(key data.Tuple, dg *zset.ZSet) {
			op.stats.Candidates++
			groups := make([]*zset.ZSet, op.Arity())
			groups[i] = dg
			for j := range op.states {
				if j == i {
					continue
				}
				g := op.states[j].group(key)
				if g == nil {
					return
				}
				groups[j] = g
			}
			op.emitCross(out, key, groups, 0, nil, 1)
		})

		delta.Each(func(t data.Tuple, mult int) {
			op.states[i].add(data.Tuple{t[0]}, t[1:], mult)
		})
	}
	return out, nil
}

// emitCross enumerates one rest tuple per input, concatenated in input
// order behind the join value.
func (op *HyperJoinOp) emitCross(out *zset.ZSet, key data.Tuple, groups []*zset.ZSet,
	idx int, acc data.Tuple, mult int) {
	if idx == len(groups) {
		op.stats.Emitted++
		out.AddTuple(concat(key, acc), mult)
		return
	}
	groups[idx].Each(func(rest data.Tuple, m int) {
		op.emitCross(out, key, groups, idx+1, concat(acc, rest), mult*m)
	})
}

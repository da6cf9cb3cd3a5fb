package dbsp

import (
	"fmt"

	"github.com/l7mp/reflow/pkg/data"
	"github.com/l7mp/reflow/pkg/zset"
)

// ProjectionOp reorders and restricts tuple positions. Linear and stateless,
// so the snapshot form is already incremental.
type ProjectionOp struct {
	BaseOp
	indices []int
}

// NewProjection creates a projection emitting input positions indices, in
// that order.
func NewProjection(indices []int) *ProjectionOp {
	return &ProjectionOp{
		BaseOp:  NewBaseOp(fmt.Sprintf("π%v", indices), 1),
		indices: indices,
	}
}

func (op *ProjectionOp) OpType() OperatorType { return OpTypeLinear }

func (op *ProjectionOp) Process(inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := op.validateInputs(inputs); err != nil {
		return nil, err
	}
	out := zset.New()
	var badTuple data.Tuple
	inputs[0].Each(func(t data.Tuple, mult int) {
		proj := make(data.Tuple, len(op.indices))
		for i, idx := range op.indices {
			if idx >= len(t) {
				badTuple = t
				return
			}
			proj[i] = t[idx]
		}
		out.AddTuple(proj, mult)
	})
	if badTuple != nil {
		return nil, fmt.Errorf("projection %v out of range for tuple %s", op.indices, badTuple)
	}
	return out, nil
}

// TuplePredicate decides whether a tuple passes a filter. A non-nil error
// marks a runtime type mismatch discovered on live data.
type TuplePredicate func(data.Tuple) (bool, error)

// SelectionOp keeps tuples satisfying a predicate. Linear and stateless.
type SelectionOp struct {
	BaseOp
	pred TuplePredicate
}

func NewSelection(name string, pred TuplePredicate) *SelectionOp {
	return &SelectionOp{
		BaseOp: NewBaseOp("σ_"+name, 1),
		pred:   pred,
	}
}

func (op *SelectionOp) OpType() OperatorType { return OpTypeLinear }

func (op *SelectionOp) Process(inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := op.validateInputs(inputs); err != nil {
		return nil, err
	}
	out := zset.New()
	var perr error
	inputs[0].Each(func(t data.Tuple, mult int) {
		if perr != nil {
			return
		}
		ok, err := op.pred(t)
		if err != nil {
			perr = err
			return
		}
		if ok {
			out.AddTuple(t, mult)
		}
	})
	if perr != nil {
		return nil, perr
	}
	return out, nil
}

// UnionOp sums its input deltas. Inputs are pre-projected onto the shared
// schema, so this is plain z-set addition.
type UnionOp struct {
	BaseOp
}

func NewUnion(arity int) *UnionOp {
	return &UnionOp{BaseOp: NewBaseOp(fmt.Sprintf("∪_%d", arity), arity)}
}

func (op *UnionOp) OpType() OperatorType { return OpTypeLinear }

func (op *UnionOp) Process(inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := op.validateInputs(inputs); err != nil {
		return nil, err
	}
	out := zset.New()
	for _, in := range inputs {
		out.Add(in)
	}
	return out, nil
}

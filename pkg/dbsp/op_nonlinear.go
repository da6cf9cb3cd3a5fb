package dbsp

import (
	"github.com/l7mp/reflow/pkg/data"
	"github.com/l7mp/reflow/pkg/zset"
)

// IncrementalDistinctOp maintains the set-semantics view of its input: the
// output delta is distinct(I + Δ) - distinct(I) where I is the integrated
// input. Nonlinear, so it must retain I.
type IncrementalDistinctOp struct {
	BaseOp
	integrated *zset.ZSet
}

func NewIncrementalDistinct() *IncrementalDistinctOp {
	return &IncrementalDistinctOp{
		BaseOp:     NewBaseOp("distinct", 1),
		integrated: zset.New(),
	}
}

func (op *IncrementalDistinctOp) OpType() OperatorType { return OpTypeNonLinear }

func (op *IncrementalDistinctOp) Process(inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := op.validateInputs(inputs); err != nil {
		return nil, err
	}
	out := zset.New()
	inputs[0].Each(func(t data.Tuple, mult int) {
		old := op.integrated.Mult(t)
		oldBit, newBit := 0, 0
		if old > 0 {
			oldBit = 1
		}
		if old+mult > 0 {
			newBit = 1
		}
		if d := newBit - oldBit; d != 0 {
			out.AddTuple(t, d)
		}
	})
	op.integrated.Add(inputs[0])
	return out, nil
}

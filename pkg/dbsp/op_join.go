package dbsp

import (
	"fmt"

	"github.com/l7mp/reflow/pkg/data"
	"github.com/l7mp/reflow/pkg/zset"
)

// IncrementalJoinOp is the bilinear binary equi-join. Both inputs are
// arranged by the shared key; a delta on either side probes the other side's
// retained state. The incremental form is the three-term expansion
//
//	Δ(L ⋈ R) = ΔL ⋈ R + L ⋈ ΔR + ΔL ⋈ ΔR
//
// with L and R the states before this step. Output tuples are key, left
// rest, right rest.
type IncrementalJoinOp struct {
	BaseOp
	leftKey   []int
	rightKey  []int
	leftRest  []int
	rightRest []int
	left      *tupleIndex
	right     *tupleIndex
}

// NewIncrementalJoin creates a binary join. leftKey and rightKey are the key
// positions in the respective input schemas; the widths fix the non-key rest
// positions.
func NewIncrementalJoin(leftKey, rightKey []int, leftWidth, rightWidth int) *IncrementalJoinOp {
	return &IncrementalJoinOp{
		BaseOp:    NewBaseOp(fmt.Sprintf("⋈%v", leftKey), 2),
		leftKey:   leftKey,
		rightKey:  rightKey,
		leftRest:  restIndices(leftWidth, leftKey),
		rightRest: restIndices(rightWidth, rightKey),
		left:      newTupleIndex(),
		right:     newTupleIndex(),
	}
}

func (op *IncrementalJoinOp) OpType() OperatorType { return OpTypeBilinear }

func (op *IncrementalJoinOp) Process(inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := op.validateInputs(inputs); err != nil {
		return nil, err
	}
	dl := newTupleIndex()
	dl.addZSet(inputs[0], op.leftKey, op.leftRest)
	dr := newTupleIndex()
	dr.addZSet(inputs[1], op.rightKey, op.rightRest)

	out := zset.New()
	// ΔL against old R, plus ΔL against ΔR.
	dl.each(func(key data.Tuple, lg *zset.ZSet) {
		if rg := op.right.group(key); rg != nil {
			emitJoin(out, key, lg, rg)
		}
		if rg := dr.group(key); rg != nil {
			emitJoin(out, key, lg, rg)
		}
	})
	// Old L against ΔR.
	dr.each(func(key data.Tuple, rg *zset.ZSet) {
		if lg := op.left.group(key); lg != nil {
			emitJoin(out, key, lg, rg)
		}
	})

	op.left.addZSet(inputs[0], op.leftKey, op.leftRest)
	op.right.addZSet(inputs[1], op.rightKey, op.rightRest)
	return out, nil
}

func emitJoin(out *zset.ZSet, key data.Tuple, lg, rg *zset.ZSet) {
	lg.Each(func(lt data.Tuple, lm int) {
		rg.Each(func(rt data.Tuple, rm int) {
			out.AddTuple(concat(key, lt, rt), lm*rm)
		})
	})
}

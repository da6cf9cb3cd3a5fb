package dbsp

import (
	"fmt"

	"github.com/l7mp/reflow/pkg/data"
	"github.com/l7mp/reflow/pkg/zset"
)

// IncrementalAntijoinOp emits left tuples whose key has no right match. The
// right side acts as a set of blocking keys; a key is blocked while its
// total positive right multiplicity is above zero. Retraction correct: when
// the last blocking tuple for a key goes away the retained left tuples of
// that key are re-emitted positively, and a fresh blocker retracts them.
type IncrementalAntijoinOp struct {
	BaseOp
	leftKey    []int
	rightKey   []int
	left       *tupleIndex
	rightCount map[string]int
	rightKeys  map[string]data.Tuple
}

func NewIncrementalAntijoin(leftKey, rightKey []int) *IncrementalAntijoinOp {
	return &IncrementalAntijoinOp{
		BaseOp:     NewBaseOp(fmt.Sprintf("▷%v", leftKey), 2),
		leftKey:    leftKey,
		rightKey:   rightKey,
		left:       newTupleIndex(),
		rightCount: map[string]int{},
		rightKeys:  map[string]data.Tuple{},
	}
}

func (op *IncrementalAntijoinOp) OpType() OperatorType { return OpTypeBilinear }

func (op *IncrementalAntijoinOp) Process(inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := op.validateInputs(inputs); err != nil {
		return nil, err
	}
	out := zset.New()

	// Apply the right delta first: blocked-state flips act on the left
	// state retained so far.
	flipped := map[string]int{}
	inputs[1].Each(func(t data.Tuple, mult int) {
		key := project(t, op.rightKey)
		kk := data.EncodeTuple(key)
		if _, seen := flipped[kk]; !seen {
			flipped[kk] = op.rightCount[kk]
			op.rightKeys[kk] = key.Clone()
		}
		op.rightCount[kk] += mult
	})
	for kk, oldCount := range flipped {
		newCount := op.rightCount[kk]
		if newCount == 0 {
			delete(op.rightCount, kk)
		}
		wasBlocked, isBlocked := oldCount > 0, newCount > 0
		if wasBlocked == isBlocked {
			continue
		}
		key := op.rightKeys[kk]
		if g := op.left.group(key); g != nil {
			sign := 1
			if isBlocked {
				sign = -1
			}
			g.Each(func(t data.Tuple, mult int) {
				out.AddTuple(t, sign*mult)
			})
		}
		if newCount == 0 {
			delete(op.rightKeys, kk)
		}
	}

	// Left delta passes through where the key is now unblocked. The index
	// retains whole left tuples so blocked-state flips replay them in
	// schema order.
	inputs[0].Each(func(t data.Tuple, mult int) {
		key := project(t, op.leftKey)
		if op.rightCount[data.EncodeTuple(key)] <= 0 {
			out.AddTuple(t, mult)
		}
		op.left.add(key, t, mult)
	})
	return out, nil
}

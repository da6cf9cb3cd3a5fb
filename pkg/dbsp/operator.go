// Package dbsp implements the incremental operator runtime: linear, bilinear
// and nonlinear operators over tuple z-sets, the shared computation graph
// they are wired into, and the executor driving deltas through the graph with
// semi-naive iteration for recursive strata.
package dbsp

import (
	"fmt"

	"github.com/l7mp/reflow/pkg/zset"
)

// OperatorType classifies operators by how they incrementalize.
type OperatorType int

const (
	// OpTypeLinear operators commute with differentiation, the snapshot
	// operator applied to a delta is already the incremental form.
	OpTypeLinear OperatorType = iota
	// OpTypeBilinear operators (joins) need the cross-term expansion over
	// retained input states.
	OpTypeBilinear
	// OpTypeNonLinear operators (distinct, aggregates) keep integrated
	// state and emit the difference of consecutive snapshots.
	OpTypeNonLinear
	// OpTypeStructural operators route or merge deltas without own
	// semantics.
	OpTypeStructural
)

// Operator is a computation node. Process consumes one delta per input and
// produces the output delta; stateful operators update their retained state
// as a side effect, so every delta must be processed exactly once.
type Operator interface {
	Process(inputs ...*zset.ZSet) (*zset.ZSet, error)
	Name() string
	Arity() int
	OpType() OperatorType
}

// BaseOp carries the name and arity common to all operators.
type BaseOp struct {
	name  string
	arity int
}

func NewBaseOp(name string, arity int) BaseOp {
	return BaseOp{name: name, arity: arity}
}

func (b *BaseOp) Name() string { return b.name }
func (b *BaseOp) Arity() int   { return b.arity }

func (b *BaseOp) validateInputs(inputs []*zset.ZSet) error {
	if len(inputs) != b.arity {
		return fmt.Errorf("operator %s expects %d inputs, got %d", b.name, b.arity, len(inputs))
	}
	return nil
}

// SourceOp is the identity operator at graph entry points: attribute feeds
// and rule placeholders. The executor injects its deltas directly.
type SourceOp struct {
	BaseOp
}

func NewSource(name string) *SourceOp {
	return &SourceOp{BaseOp: NewBaseOp(name, 1)}
}

func (op *SourceOp) OpType() OperatorType { return OpTypeStructural }

func (op *SourceOp) Process(inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := op.validateInputs(inputs); err != nil {
		return nil, err
	}
	return inputs[0].Copy(), nil
}

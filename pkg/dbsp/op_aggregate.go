package dbsp

import (
	"fmt"
	"sort"

	"github.com/l7mp/reflow/pkg/data"
	"github.com/l7mp/reflow/pkg/plan"
	"github.com/l7mp/reflow/pkg/zset"
)

// IncrementalAggregateOp groups its input by the leading key positions and
// reduces the trailing value position. Input tuples are pre-projected to
// (key..., value). Output is one tuple (key..., reduced) per non-empty
// group, re-emitted as retract-old/insert-new whenever the reduction
// changes.
//
// Count, sum and avg maintain running accumulators and apply deltas
// directly. Min and max keep the current extremum and rescan the group's
// value multiset only when the extremum itself is retracted; median,
// variance and collect-distinct recompute from the multiset on every touch.
// The rescan asymmetry is inherent to non-monotonic reducers, not an
// implementation shortcut.
type IncrementalAggregateOp struct {
	BaseOp
	fn     plan.AggregationFn
	keyLen int
	groups map[string]*groupState
}

type groupState struct {
	key data.Tuple
	// Value multiset with net multiplicities.
	vals map[string]valMult
	// Running accumulators.
	count     int
	sumInt    int64
	sumFloat  float64
	floatMult int
	// Cached extremum, invalid when dirty.
	minVal, maxVal data.Value
	extremaDirty   bool
	// Last emitted output tuple, nil before the first emission.
	emitted data.Tuple
}

type valMult struct {
	val  data.Value
	mult int
}

func NewIncrementalAggregate(fn plan.AggregationFn, keyLen int) *IncrementalAggregateOp {
	return &IncrementalAggregateOp{
		BaseOp: NewBaseOp(fmt.Sprintf("γ_%s", fn), 1),
		fn:     fn,
		keyLen: keyLen,
		groups: map[string]*groupState{},
	}
}

func (op *IncrementalAggregateOp) OpType() OperatorType { return OpTypeNonLinear }

func (op *IncrementalAggregateOp) Process(inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := op.validateInputs(inputs); err != nil {
		return nil, err
	}

	touched := map[string]*groupState{}
	var perr error
	inputs[0].Each(func(t data.Tuple, mult int) {
		if perr != nil {
			return
		}
		if len(t) != op.keyLen+1 {
			perr = fmt.Errorf("aggregate %s expects width %d, got tuple %s",
				op.Name(), op.keyLen+1, t)
			return
		}
		key, val := t[:op.keyLen], t[op.keyLen]
		kk := data.EncodeTuple(key)
		g := op.groups[kk]
		if g == nil {
			g = &groupState{key: key.Clone(), vals: map[string]valMult{}}
			op.groups[kk] = g
		}
		if err := g.apply(op.fn, val, mult); err != nil {
			perr = err
			return
		}
		touched[kk] = g
	})
	if perr != nil {
		return nil, &data.Error{Category: data.ErrRuntime, Message: perr.Error()}
	}

	out := zset.New()
	for kk, g := range touched {
		next, err := g.reduce(op.fn)
		if err != nil {
			return nil, &data.Error{Category: data.ErrRuntime, Message: err.Error()}
		}
		if g.emitted != nil {
			if next != nil && data.EncodeTuple(next) == data.EncodeTuple(g.emitted) {
				continue
			}
			out.AddTuple(g.emitted, -1)
		}
		if next != nil {
			out.AddTuple(next, 1)
		}
		g.emitted = next
		if g.count == 0 {
			delete(op.groups, kk)
		}
	}
	return out, nil
}

// apply folds one value delta into the group state.
func (g *groupState) apply(fn plan.AggregationFn, val data.Value, mult int) error {
	vk := val.Encode()
	vm := g.vals[vk]
	vm.val = val
	vm.mult += mult
	if vm.mult == 0 {
		delete(g.vals, vk)
	} else {
		g.vals[vk] = vm
	}
	g.count += mult

	switch fn {
	case plan.AggSum, plan.AggAvg, plan.AggVariance, plan.AggMedian:
		switch val.Kind() {
		case data.KindNumber:
			n, _ := val.Num()
			g.sumInt += n * int64(mult)
		case data.KindFloat:
			f, _ := val.Flt()
			g.sumFloat += f * float64(mult)
			g.floatMult += mult
		default:
			return fmt.Errorf("%s applied to non-numeric value %s", fn, val)
		}
	case plan.AggMin:
		if mult > 0 && (!g.minVal.IsValid() || val.Compare(g.minVal) < 0) {
			g.minVal = val
		} else if mult < 0 && g.minVal.IsValid() && val.Compare(g.minVal) == 0 {
			g.extremaDirty = true
		}
	case plan.AggMax:
		if mult > 0 && (!g.maxVal.IsValid() || val.Compare(g.maxVal) > 0) {
			g.maxVal = val
		} else if mult < 0 && g.maxVal.IsValid() && val.Compare(g.maxVal) == 0 {
			g.extremaDirty = true
		}
	}
	return nil
}

// reduce computes the group's output tuple, or nil for an empty group.
func (g *groupState) reduce(fn plan.AggregationFn) (data.Tuple, error) {
	if g.count <= 0 {
		if g.count < 0 {
			return nil, fmt.Errorf("group %s driven to negative multiplicity", g.key)
		}
		return nil, nil
	}

	var v data.Value
	switch fn {
	case plan.AggCount:
		v = data.Number(int64(g.count))
	case plan.AggSum:
		v = g.sum()
	case plan.AggAvg:
		s, _ := g.sum().Numeric()
		v = data.Float(s / float64(g.count))
	case plan.AggMin:
		g.refreshExtrema()
		v = g.minVal
	case plan.AggMax:
		g.refreshExtrema()
		v = g.maxVal
	case plan.AggMedian:
		v = g.median()
	case plan.AggVariance:
		v = g.variance()
	case plan.AggCollect:
		vs := make([]data.Value, 0, len(g.vals))
		for _, vm := range g.vals {
			if vm.mult > 0 {
				vs = append(vs, vm.val)
			}
		}
		data.SortValues(vs)
		v = data.List(vs...)
	default:
		return nil, fmt.Errorf("unknown aggregation function %q", fn)
	}
	return concat(g.key, data.Tuple{v}), nil
}

func (g *groupState) sum() data.Value {
	if g.floatMult != 0 {
		return data.Float(float64(g.sumInt) + g.sumFloat)
	}
	return data.Number(g.sumInt)
}

// refreshExtrema rescans the value multiset after an extremal retraction.
func (g *groupState) refreshExtrema() {
	if !g.extremaDirty {
		return
	}
	g.minVal, g.maxVal = data.Value{}, data.Value{}
	for _, vm := range g.vals {
		if vm.mult <= 0 {
			continue
		}
		if !g.minVal.IsValid() || vm.val.Compare(g.minVal) < 0 {
			g.minVal = vm.val
		}
		if !g.maxVal.IsValid() || vm.val.Compare(g.maxVal) > 0 {
			g.maxVal = vm.val
		}
	}
	g.extremaDirty = false
}

// sortedNumeric expands the multiset to a sorted numeric slice.
func (g *groupState) sortedNumeric() []float64 {
	out := make([]float64, 0, g.count)
	for _, vm := range g.vals {
		if vm.mult <= 0 {
			continue
		}
		f, _ := vm.val.Numeric()
		for i := 0; i < vm.mult; i++ {
			out = append(out, f)
		}
	}
	sort.Float64s(out)
	return out
}

func (g *groupState) median() data.Value {
	ns := g.sortedNumeric()
	mid := len(ns) / 2
	if len(ns)%2 == 1 {
		return data.Float(ns[mid])
	}
	return data.Float((ns[mid-1] + ns[mid]) / 2)
}

func (g *groupState) variance() data.Value {
	ns := g.sortedNumeric()
	mean := 0.0
	for _, f := range ns {
		mean += f
	}
	mean /= float64(len(ns))
	acc := 0.0
	for _, f := range ns {
		d := f - mean
		acc += d * d
	}
	return data.Float(acc / float64(len(ns)))
}

package dbsp

import (
	"github.com/l7mp/reflow/pkg/data"
	"github.com/l7mp/reflow/pkg/zset"
)

// tupleIndex arranges tuples by a key: for every key tuple it keeps the
// z-set of associated payload tuples. Empty groups are dropped eagerly so
// key presence means a non-empty group.
type tupleIndex struct {
	groups map[string]*zset.ZSet
	keys   map[string]data.Tuple
}

func newTupleIndex() *tupleIndex {
	return &tupleIndex{
		groups: map[string]*zset.ZSet{},
		keys:   map[string]data.Tuple{},
	}
}

func (x *tupleIndex) add(key, payload data.Tuple, mult int) {
	kk := data.EncodeTuple(key)
	g := x.groups[kk]
	if g == nil {
		g = zset.New()
		x.groups[kk] = g
		x.keys[kk] = key.Clone()
	}
	g.AddTuple(payload, mult)
	if g.IsZero() {
		delete(x.groups, kk)
		delete(x.keys, kk)
	}
}

// addZSet splits a keyed delta into the index. keyAt extracts the key, restAt
// the payload.
func (x *tupleIndex) addZSet(d *zset.ZSet, keyAt, restAt []int) {
	d.Each(func(t data.Tuple, mult int) {
		x.add(project(t, keyAt), project(t, restAt), mult)
	})
}

func (x *tupleIndex) group(key data.Tuple) *zset.ZSet {
	return x.groups[data.EncodeTuple(key)]
}

func (x *tupleIndex) has(key data.Tuple) bool {
	_, ok := x.groups[data.EncodeTuple(key)]
	return ok
}

func (x *tupleIndex) each(fn func(key data.Tuple, group *zset.ZSet)) {
	for kk, g := range x.groups {
		fn(x.keys[kk], g)
	}
}

func project(t data.Tuple, at []int) data.Tuple {
	out := make(data.Tuple, len(at))
	for i, idx := range at {
		out[i] = t[idx]
	}
	return out
}

func concat(parts ...data.Tuple) data.Tuple {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make(data.Tuple, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// restIndices returns the positions of a width-wide tuple not used as key,
// in order.
func restIndices(width int, key []int) []int {
	used := map[int]bool{}
	for _, k := range key {
		used[k] = true
	}
	var rest []int
	for i := 0; i < width; i++ {
		if !used[i] {
			rest = append(rest, i)
		}
	}
	return rest
}

package store

import (
	"fmt"
	"sort"

	"github.com/l7mp/reflow/pkg/data"
	"github.com/l7mp/reflow/pkg/zset"
)

// eavIndex is the consolidated per-attribute index at the frontier: a forward
// map by entity and a reverse map by encoded value, both holding net
// multiplicities.
type eavIndex struct {
	forward map[data.Eid]map[string]valCount
	reverse map[string]map[data.Eid]int
}

type valCount struct {
	val data.Value
	n   int
}

func newEAVIndex() *eavIndex {
	return &eavIndex{
		forward: map[data.Eid]map[string]valCount{},
		reverse: map[string]map[data.Eid]int{},
	}
}

func (x *eavIndex) add(e data.Eid, v data.Value, mult int) {
	key := v.Encode()

	vals := x.forward[e]
	if vals == nil {
		vals = map[string]valCount{}
		x.forward[e] = vals
	}
	vc := vals[key]
	vc.val = v
	vc.n += mult
	if vc.n == 0 {
		delete(vals, key)
		if len(vals) == 0 {
			delete(x.forward, e)
		}
	} else {
		vals[key] = vc
	}

	ents := x.reverse[key]
	if ents == nil {
		ents = map[data.Eid]int{}
		x.reverse[key] = ents
	}
	ents[e] += mult
	if ents[e] == 0 {
		delete(ents, e)
		if len(ents) == 0 {
			delete(x.reverse, key)
		}
	}
}

// count returns the net multiplicity of (e, v).
func (x *eavIndex) count(e data.Eid, v data.Value) int {
	return x.forward[e][v.Encode()].n
}

// value returns the single current value of e, for cardinality-one
// attributes.
func (x *eavIndex) value(e data.Eid) (data.Value, bool) {
	for _, vc := range x.forward[e] {
		if vc.n > 0 {
			return vc.val, true
		}
	}
	return data.Value{}, false
}

// collection materializes the index as a (entity, value) z-set.
func (x *eavIndex) collection() *zset.ZSet {
	out := zset.New()
	for e, vals := range x.forward {
		for _, vc := range vals {
			out.AddTuple(factTuple(e, vc.val), vc.n)
		}
	}
	return out
}

// Fact is one consolidated scan result.
type Fact struct {
	E    data.Eid
	V    data.Value
	Mult int
}

// Iterator is a restartable cursor over a consolidated scan snapshot.
type Iterator struct {
	facts []Fact
	pos   int
}

// Next returns the next fact, or false when exhausted.
func (it *Iterator) Next() (Fact, bool) {
	if it.pos >= len(it.facts) {
		return Fact{}, false
	}
	f := it.facts[it.pos]
	it.pos++
	return f, true
}

// Reset rewinds the iterator to the first fact.
func (it *Iterator) Reset() { it.pos = 0 }

// Len returns the number of facts in the snapshot.
func (it *Iterator) Len() int { return len(it.facts) }

// Scan returns a restartable iterator over the consolidated facts of an
// attribute as of time at, optionally restricted to one entity. The snapshot
// is taken eagerly, so later flushes do not disturb a running scan. Reading
// beyond the frontier is a conflict; reading further behind it than the
// attribute's slack allows fails because the history is compacted.
func (s *Store) Scan(name data.Aid, entity *data.Eid, at data.Time) (*Iterator, error) {
	attr, ok := s.attrs[name]
	if !ok {
		return nil, &data.Error{Category: data.ErrNotFound,
			Message: fmt.Sprintf("unknown attribute %q", name)}
	}
	if at > s.frontier {
		return nil, &data.Error{Category: data.ErrConflict,
			Message: fmt.Sprintf("scan at time %d beyond frontier %d", at, s.frontier)}
	}
	if uint64(s.frontier-at) > attr.cfg.Slack {
		return nil, &data.Error{Category: data.ErrNotFound,
			Message: fmt.Sprintf("history at time %d compacted, slack is %d behind frontier %d",
				at, attr.cfg.Slack, s.frontier)}
	}

	// Start from the frontier state, back out deltas newer than at.
	snap := attr.index.collection()
	for i := len(attr.history) - 1; i >= 0; i-- {
		le := attr.history[i]
		if le.time <= at {
			break
		}
		snap.Subtract(le.delta)
	}

	var facts []Fact
	snap.Each(func(tup data.Tuple, mult int) {
		e, _ := tup[0].Eid()
		if entity != nil && e != *entity {
			return
		}
		facts = append(facts, Fact{E: e, V: tup[1], Mult: mult})
	})
	sort.Slice(facts, func(i, j int) bool {
		if facts[i].E != facts[j].E {
			return facts[i].E < facts[j].E
		}
		return facts[i].V.Compare(facts[j].V) < 0
	})
	return &Iterator{facts: facts}, nil
}

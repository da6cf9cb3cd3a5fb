package data

import (
	"encoding/json"
	"fmt"
)

// Datom is an entity, attribute, value triple.
type Datom struct {
	E Eid   `json:"e"`
	A Aid   `json:"a"`
	V Value `json:"v"`
}

func (d Datom) String() string {
	return fmt.Sprintf("[#%d :%s %s]", d.E, d.A, d.V)
}

// TxData is transaction data. Conceptually a (Datom, diff) pair but kept
// intentionally flat for wire compatibility.
type TxData struct {
	Diff int   `json:"diff"`
	E    Eid   `json:"e"`
	A    Aid   `json:"a"`
	V    Value `json:"v"`
}

// Add returns an insertion for the given triple.
func Add(e Eid, a Aid, v Value) TxData { return TxData{Diff: 1, E: e, A: a, V: v} }

// Retract returns a retraction for the given triple.
func Retract(e Eid, a Aid, v Value) TxData { return TxData{Diff: -1, E: e, A: a, V: v} }

// Tuple is a flat record of values. Within a compiled relation, positions
// correspond to the relation's variable schema.
type Tuple []Value

// EncodeTuple returns a deterministic key encoding of the tuple, usable as a
// map key. Tuple identity is defined by this encoding.
func EncodeTuple(t Tuple) string {
	b := make([]byte, 0, 16*len(t))
	for _, v := range t {
		b = v.EncodeTo(b)
	}
	return string(b)
}

// Clone returns a copy of the tuple. Values are immutable, so a shallow
// element copy suffices.
func (t Tuple) Clone() Tuple {
	out := make(Tuple, len(t))
	copy(out, t)
	return out
}

func (t Tuple) String() string {
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Sprintf("%v", []Value(t))
	}
	return string(b)
}

// ResultDiff is a (tuple, time, diff) triple, as sent back to clients.
type ResultDiff struct {
	Tuple Tuple `json:"tuple"`
	Time  Time  `json:"time"`
	Diff  int   `json:"diff"`
}

// Binding maps plan variable names to values. Bindings are derived views of
// result tuples: the engine works positionally and materializes the map form
// only at the client boundary.
type Binding map[string]Value

// BindTuple pairs a tuple with its variable schema.
func BindTuple(vars []string, t Tuple) Binding {
	b := make(Binding, len(vars))
	for i, v := range vars {
		if i < len(t) {
			b[v] = t[i]
		}
	}
	return b
}

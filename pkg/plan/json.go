package plan

import (
	"encoding/json"
	"fmt"

	"github.com/l7mp/reflow/pkg/data"
)

// Wire format for plan trees: every node serializes to an object carrying its
// op tag plus the node's own fields, sub-plans nested in place. This is the
// form clients submit over the websocket transport.

type nodeJSON struct {
	Op string `json:"op"`

	E json.RawMessage `json:"e,omitempty"`
	A data.Aid        `json:"a,omitempty"`
	V json.RawMessage `json:"v,omitempty"`

	Left  json.RawMessage   `json:"left,omitempty"`
	Right json.RawMessage   `json:"right,omitempty"`
	On    Var               `json:"on,omitempty"`
	Input json.RawMessage   `json:"input,omitempty"`
	Plans []json.RawMessage `json:"inputs,omitempty"`

	Vars []Var `json:"vars,omitempty"`

	Pred Predicate `json:"pred,omitempty"`
	Lhs  *Operand  `json:"lhs,omitempty"`
	Rhs  *Operand  `json:"rhs,omitempty"`

	Fn    AggregationFn `json:"fn,omitempty"`
	Key   []Var         `json:"key,omitempty"`
	Value Var           `json:"value,omitempty"`

	Name string `json:"name,omitempty"`
}

// MarshalNode serializes a plan tree to its wire form.
func MarshalNode(n Node) ([]byte, error) {
	w := nodeJSON{Op: n.opName()}
	var err error
	switch t := n.(type) {
	case *Match:
		w.E, w.A, w.V = rawString(t.E), t.A, rawString(t.V)
	case *MatchEA:
		w.E, err = json.Marshal(t.E)
		w.A, w.V = t.A, rawString(t.V)
	case *MatchAV:
		w.E, w.A = rawString(t.E), t.A
		w.V, err = json.Marshal(t.V)
	case *Join:
		w.Left, w.Right, err = marshalPair(t.Left, t.Right)
	case *Antijoin:
		w.Left, w.Right, err = marshalPair(t.Left, t.Right)
	case *HyperJoin:
		w.On = t.On
		w.Plans, err = marshalList(t.Inputs)
	case *Union:
		w.Vars = t.UnionVars
		w.Plans, err = marshalList(t.Inputs)
	case *Project:
		w.Vars = t.ProjVars
		w.Input, err = MarshalNode(t.Input)
	case *Filter:
		w.Pred, w.Lhs, w.Rhs = t.Pred, &t.Left, &t.Right
		w.Input, err = MarshalNode(t.Input)
	case *Aggregate:
		w.Fn, w.Key, w.Value = t.Fn, t.Key, t.Value
		w.Input, err = MarshalNode(t.Input)
	case *RuleRef:
		w.Name, w.Vars = t.Name, t.RefVars
	default:
		err = fmt.Errorf("cannot serialize plan node %T", n)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalNode parses a plan tree from its wire form.
func UnmarshalNode(b []byte) (Node, error) {
	var w nodeJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, err
	}
	switch w.Op {
	case "match":
		n := &Match{A: w.A}
		if err := unmarshalBoth(w.E, &n.E, w.V, &n.V); err != nil {
			return nil, err
		}
		return n, nil
	case "match-ea":
		n := &MatchEA{A: w.A}
		if err := unmarshalBoth(w.E, &n.E, w.V, &n.V); err != nil {
			return nil, err
		}
		return n, nil
	case "match-av":
		n := &MatchAV{A: w.A}
		if err := unmarshalBoth(w.E, &n.E, w.V, &n.V); err != nil {
			return nil, err
		}
		return n, nil
	case "join":
		l, r, err := unmarshalPair(w.Left, w.Right)
		if err != nil {
			return nil, err
		}
		return &Join{Left: l, Right: r}, nil
	case "antijoin":
		l, r, err := unmarshalPair(w.Left, w.Right)
		if err != nil {
			return nil, err
		}
		return &Antijoin{Left: l, Right: r}, nil
	case "hyper-join":
		ins, err := unmarshalList(w.Plans)
		if err != nil {
			return nil, err
		}
		return &HyperJoin{On: w.On, Inputs: ins}, nil
	case "union":
		ins, err := unmarshalList(w.Plans)
		if err != nil {
			return nil, err
		}
		return &Union{UnionVars: w.Vars, Inputs: ins}, nil
	case "project":
		in, err := UnmarshalNode(w.Input)
		if err != nil {
			return nil, err
		}
		return &Project{ProjVars: w.Vars, Input: in}, nil
	case "filter":
		in, err := UnmarshalNode(w.Input)
		if err != nil {
			return nil, err
		}
		n := &Filter{Pred: w.Pred, Input: in}
		if w.Lhs != nil {
			n.Left = *w.Lhs
		}
		if w.Rhs != nil {
			n.Right = *w.Rhs
		}
		return n, nil
	case "aggregate":
		in, err := UnmarshalNode(w.Input)
		if err != nil {
			return nil, err
		}
		return &Aggregate{Fn: w.Fn, Key: w.Key, Value: w.Value, Input: in}, nil
	case "rule":
		return &RuleRef{Name: w.Name, RefVars: w.Vars}, nil
	default:
		return nil, fmt.Errorf("unknown plan op %q", w.Op)
	}
}

// MarshalJSON serializes the rule with its plan in wire form.
func (r Rule) MarshalJSON() ([]byte, error) {
	p, err := MarshalNode(r.Plan)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Name string          `json:"name"`
		Plan json.RawMessage `json:"plan"`
	}{Name: r.Name, Plan: p})
}

func (r *Rule) UnmarshalJSON(b []byte) error {
	var w struct {
		Name string          `json:"name"`
		Plan json.RawMessage `json:"plan"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	p, err := UnmarshalNode(w.Plan)
	if err != nil {
		return err
	}
	r.Name, r.Plan = w.Name, p
	return nil
}

func rawString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func marshalPair(l, r Node) (json.RawMessage, json.RawMessage, error) {
	lb, err := MarshalNode(l)
	if err != nil {
		return nil, nil, err
	}
	rb, err := MarshalNode(r)
	if err != nil {
		return nil, nil, err
	}
	return lb, rb, nil
}

func unmarshalPair(l, r json.RawMessage) (Node, Node, error) {
	ln, err := UnmarshalNode(l)
	if err != nil {
		return nil, nil, err
	}
	rn, err := UnmarshalNode(r)
	if err != nil {
		return nil, nil, err
	}
	return ln, rn, nil
}

func marshalList(ns []Node) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(ns))
	for _, n := range ns {
		b, err := MarshalNode(n)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func unmarshalList(bs []json.RawMessage) ([]Node, error) {
	out := make([]Node, 0, len(bs))
	for _, b := range bs {
		n, err := UnmarshalNode(b)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func unmarshalBoth(eb json.RawMessage, e any, vb json.RawMessage, v any) error {
	if err := json.Unmarshal(eb, e); err != nil {
		return err
	}
	return json.Unmarshal(vb, v)
}

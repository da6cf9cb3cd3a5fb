// Package plan defines the declarative query plan IR: the operator vocabulary
// clients submit, its variable schemas, canonical hashing for sub-plan
// sharing, and compile-time validation.
package plan

import (
	"fmt"

	"github.com/l7mp/reflow/pkg/data"
)

// Var is a query variable name, conventionally written "?x".
type Var = string

// Node is a query plan node. Every node declares its free variables in
// positional order; compiled relations use that order as their tuple schema.
type Node interface {
	// Vars lists the free variables of the node, in output order.
	Vars() []Var
	// Children returns the direct sub-plans.
	Children() []Node
	// opName returns the wire tag of the node.
	opName() string
}

// Rule is a named plan. Rules may reference themselves or other rules via
// RuleRef, forming a dependency graph.
type Rule struct {
	Name string `json:"name"`
	Plan Node   `json:"plan"`
}

// Match is a data pattern of the form [?e a ?v], binding both the entity and
// the value of an attribute.
type Match struct {
	E Var
	A data.Aid
	V Var
}

func (m *Match) Vars() []Var      { return []Var{m.E, m.V} }
func (m *Match) Children() []Node { return nil }
func (m *Match) opName() string   { return "match" }

// MatchEA is a data pattern of the form [e a ?v]: values of an attribute for
// a fixed entity.
type MatchEA struct {
	E data.Eid
	A data.Aid
	V Var
}

func (m *MatchEA) Vars() []Var      { return []Var{m.V} }
func (m *MatchEA) Children() []Node { return nil }
func (m *MatchEA) opName() string   { return "match-ea" }

// MatchAV is a data pattern of the form [?e a v]: entities holding a fixed
// value of an attribute.
type MatchAV struct {
	E Var
	A data.Aid
	V data.Value
}

func (m *MatchAV) Vars() []Var      { return []Var{m.E} }
func (m *MatchAV) Children() []Node { return nil }
func (m *MatchAV) opName() string   { return "match-av" }

// Join is a binary equi-join on the variables shared between its inputs. The
// output schema is the shared variables first, then the left-only and the
// right-only variables.
type Join struct {
	Left  Node
	Right Node
}

// SharedVars returns the join key: left variables also bound on the right,
// in left order.
func (j *Join) SharedVars() []Var {
	right := varSet(j.Right.Vars())
	var shared []Var
	for _, v := range j.Left.Vars() {
		if right[v] {
			shared = append(shared, v)
		}
	}
	return shared
}

func (j *Join) Vars() []Var {
	shared := j.SharedVars()
	in := varSet(shared)
	out := append([]Var{}, shared...)
	for _, v := range j.Left.Vars() {
		if !in[v] {
			in[v] = true
			out = append(out, v)
		}
	}
	for _, v := range j.Right.Vars() {
		if !in[v] {
			in[v] = true
			out = append(out, v)
		}
	}
	return out
}

func (j *Join) Children() []Node { return []Node{j.Left, j.Right} }
func (j *Join) opName() string   { return "join" }

// HyperJoin is a worst-case-optimal n-way join of k relations on one shared
// variable. The output schema is the join variable followed by each input's
// remaining variables in input order.
type HyperJoin struct {
	On     Var
	Inputs []Node
}

func (h *HyperJoin) Vars() []Var {
	out := []Var{h.On}
	for _, in := range h.Inputs {
		for _, v := range in.Vars() {
			if v != h.On {
				out = append(out, v)
			}
		}
	}
	return out
}

func (h *HyperJoin) Children() []Node { return h.Inputs }
func (h *HyperJoin) opName() string   { return "hyper-join" }

// Antijoin emits left bindings with no matching right binding on the shared
// variables. The output schema is the left schema.
type Antijoin struct {
	Left  Node
	Right Node
}

// SharedVars returns the antijoin key, in left order.
func (a *Antijoin) SharedVars() []Var {
	right := varSet(a.Right.Vars())
	var shared []Var
	for _, v := range a.Left.Vars() {
		if right[v] {
			shared = append(shared, v)
		}
	}
	return shared
}

func (a *Antijoin) Vars() []Var      { return a.Left.Vars() }
func (a *Antijoin) Children() []Node { return []Node{a.Left, a.Right} }
func (a *Antijoin) opName() string   { return "antijoin" }

// Union is the multiset union of its inputs, aligned on the declared
// variables.
type Union struct {
	UnionVars []Var
	Inputs    []Node
}

func (u *Union) Vars() []Var      { return u.UnionVars }
func (u *Union) Children() []Node { return u.Inputs }
func (u *Union) opName() string   { return "union" }

// Project restricts the input to the declared variables.
type Project struct {
	ProjVars []Var
	Input    Node
}

func (p *Project) Vars() []Var      { return p.ProjVars }
func (p *Project) Children() []Node { return []Node{p.Input} }
func (p *Project) opName() string   { return "project" }

// Predicate enumerates the built-in filter predicates.
type Predicate string

const (
	PredLT  Predicate = "<"
	PredLTE Predicate = "<="
	PredGT  Predicate = ">"
	PredGTE Predicate = ">="
	PredEQ  Predicate = "="
	PredNEQ Predicate = "!="
)

// Operand is a filter operand: either a variable or a constant. Exactly one
// side is set.
type Operand struct {
	Var   Var         `json:"var,omitempty"`
	Const *data.Value `json:"const,omitempty"`
}

// Filter keeps bindings satisfying a predicate over two operands.
type Filter struct {
	Pred  Predicate
	Left  Operand
	Right Operand
	Input Node
}

func (f *Filter) Vars() []Var      { return f.Input.Vars() }
func (f *Filter) Children() []Node { return []Node{f.Input} }
func (f *Filter) opName() string   { return "filter" }

// AggregationFn enumerates the supported reducers.
type AggregationFn string

const (
	AggCount    AggregationFn = "count"
	AggSum      AggregationFn = "sum"
	AggMin      AggregationFn = "min"
	AggMax      AggregationFn = "max"
	AggAvg      AggregationFn = "avg"
	AggMedian   AggregationFn = "median"
	AggVariance AggregationFn = "variance"
	AggCollect  AggregationFn = "collect-distinct"
)

// Aggregate groups the input by the key variables and reduces the value
// variable. The output schema is the key variables followed by the reduced
// value under the value variable's name.
type Aggregate struct {
	Fn    AggregationFn
	Key   []Var
	Value Var
	Input Node
}

func (a *Aggregate) Vars() []Var      { return append(append([]Var{}, a.Key...), a.Value) }
func (a *Aggregate) Children() []Node { return []Node{a.Input} }
func (a *Aggregate) opName() string   { return "aggregate" }

// RuleRef sources data from a named rule. Its variables rename the rule's
// schema positionally.
type RuleRef struct {
	Name    string
	RefVars []Var
}

func (r *RuleRef) Vars() []Var      { return r.RefVars }
func (r *RuleRef) Children() []Node { return nil }
func (r *RuleRef) opName() string   { return "rule" }

// Dependencies returns the names of all rules referenced under the node,
// deduplicated in first-visit order.
func Dependencies(n Node) []string {
	var names []string
	seen := map[string]bool{}
	var walk func(Node)
	walk = func(n Node) {
		if r, ok := n.(*RuleRef); ok {
			if !seen[r.Name] {
				seen[r.Name] = true
				names = append(names, r.Name)
			}
			return
		}
		for _, c := range n.Children() {
			walk(c)
		}
	}
	walk(n)
	return names
}

// Attributes returns the attribute names matched anywhere under the node.
func Attributes(n Node) []data.Aid {
	var aids []data.Aid
	seen := map[data.Aid]bool{}
	var walk func(Node)
	walk = func(n Node) {
		var a data.Aid
		switch m := n.(type) {
		case *Match:
			a = m.A
		case *MatchEA:
			a = m.A
		case *MatchAV:
			a = m.A
		}
		if a != "" && !seen[a] {
			seen[a] = true
			aids = append(aids, a)
		}
		for _, c := range n.Children() {
			walk(c)
		}
	}
	walk(n)
	return aids
}

// Sprint renders a plan as a compact s-expression for diagnostics and error
// messages.
func Sprint(n Node) string {
	switch t := n.(type) {
	case *Match:
		return fmt.Sprintf("(match %s :%s %s)", t.E, t.A, t.V)
	case *MatchEA:
		return fmt.Sprintf("(match #%d :%s %s)", t.E, t.A, t.V)
	case *MatchAV:
		return fmt.Sprintf("(match %s :%s %s)", t.E, t.A, t.V)
	case *RuleRef:
		return fmt.Sprintf("(rule %s %v)", t.Name, t.RefVars)
	case *Filter:
		return fmt.Sprintf("(filter %s %s)", t.Pred, Sprint(t.Input))
	case *Aggregate:
		return fmt.Sprintf("(%s %v %s %s)", t.Fn, t.Key, t.Value, Sprint(t.Input))
	case *Project:
		return fmt.Sprintf("(project %v %s)", t.ProjVars, Sprint(t.Input))
	default:
		s := "(" + n.opName()
		for _, c := range n.Children() {
			s += " " + Sprint(c)
		}
		return s + ")"
	}
}

func varSet(vs []Var) map[Var]bool {
	s := make(map[Var]bool, len(vs))
	for _, v := range vs {
		s[v] = true
	}
	return s
}

package plan

import (
	"github.com/l7mp/reflow/pkg/data"
)

// Context supplies the ambient state validation runs against: the rule table
// and the attribute catalog.
type Context interface {
	Rule(name string) (*Rule, bool)
	HasAttribute(a data.Aid) bool
}

// Validate type-checks a plan against the context. It reports the first
// problem found as a PlanError naming the offending sub-plan; a nil return
// means the plan is well-formed. Validation has no side effects.
func Validate(n Node, ctx Context) *PlanError {
	switch t := n.(type) {
	case *Match:
		if !ctx.HasAttribute(t.A) {
			return newPlanError(n, "unknown attribute %q", t.A)
		}
		if t.E == t.V {
			return newPlanError(n, "pattern binds variable %s twice", t.E)
		}
	case *MatchEA:
		if !ctx.HasAttribute(t.A) {
			return newPlanError(n, "unknown attribute %q", t.A)
		}
	case *MatchAV:
		if !ctx.HasAttribute(t.A) {
			return newPlanError(n, "unknown attribute %q", t.A)
		}
	case *Join:
		if len(t.SharedVars()) == 0 {
			return newPlanError(n, "join inputs share no variable")
		}
	case *HyperJoin:
		if len(t.Inputs) < 2 {
			return newPlanError(n, "hyper-join needs at least two inputs")
		}
		bound := map[Var]bool{}
		for _, in := range t.Inputs {
			vars := in.Vars()
			if !varSet(vars)[t.On] {
				return newPlanError(n, "hyper-join input does not bind join variable %s", t.On)
			}
			for _, v := range vars {
				if v == t.On {
					continue
				}
				if bound[v] {
					return newPlanError(n, "hyper-join inputs may share only the join variable, %s is bound twice", v)
				}
				bound[v] = true
			}
		}
	case *Union:
		if len(t.Inputs) == 0 {
			return newPlanError(n, "union has no inputs")
		}
		for _, in := range t.Inputs {
			have := varSet(in.Vars())
			for _, v := range t.UnionVars {
				if !have[v] {
					return newPlanError(n, "union input does not bind variable %s", v)
				}
			}
		}
	case *Project:
		have := varSet(t.Input.Vars())
		for _, v := range t.ProjVars {
			if !have[v] {
				return newPlanError(n, "unbound variable %s in projection", v)
			}
		}
	case *Filter:
		have := varSet(t.Input.Vars())
		for _, o := range []Operand{t.Left, t.Right} {
			if o.Const == nil && !have[o.Var] {
				return newPlanError(n, "unbound variable %s in filter", o.Var)
			}
			if o.Const == nil && o.Var == "" {
				return newPlanError(n, "filter operand is neither variable nor constant")
			}
		}
	case *Aggregate:
		have := varSet(t.Input.Vars())
		for _, v := range t.Key {
			if !have[v] {
				return newPlanError(n, "unbound variable %s in aggregate key", v)
			}
		}
		if !have[t.Value] {
			return newPlanError(n, "unbound variable %s in aggregate", t.Value)
		}
		for _, v := range t.Key {
			if v == t.Value {
				return newPlanError(n, "aggregate value %s cannot be part of the key", v)
			}
		}
	case *RuleRef:
		rule, ok := ctx.Rule(t.Name)
		if !ok {
			return newPlanError(n, "reference to undefined rule %q", t.Name)
		}
		if want := len(rule.Plan.Vars()); want != len(t.RefVars) {
			return newPlanError(n, "rule %q has arity %d, reference supplies %d variables",
				t.Name, want, len(t.RefVars))
		}
	}

	for _, c := range n.Children() {
		if err := Validate(c, ctx); err != nil {
			return err
		}
	}
	return nil
}

// DepEdge is a dependency of a rule on another rule. Negative marks edges
// crossing a non-monotonic operator (the right input of an antijoin, or any
// aggregation): a recursive cycle containing a negative edge is not
// stratifiable.
type DepEdge struct {
	From     string
	To       string
	Negative bool
}

// RuleDependencies collects the dependency edges contributed by one rule.
func RuleDependencies(r *Rule) []DepEdge {
	var edges []DepEdge
	var walk func(n Node, negative bool)
	walk = func(n Node, negative bool) {
		switch t := n.(type) {
		case *RuleRef:
			edges = append(edges, DepEdge{From: r.Name, To: t.Name, Negative: negative})
		case *Antijoin:
			walk(t.Left, negative)
			walk(t.Right, true)
		case *Aggregate:
			walk(t.Input, true)
		default:
			for _, c := range n.Children() {
				walk(c, negative)
			}
		}
	}
	walk(r.Plan, false)
	return edges
}

// Package compiler turns plan IR trees into wired operator subgraphs. The
// pass is structural with memoization keyed by the canonical sub-plan hash,
// so identical sub-plans across queries collapse onto one operator instance.
// Rule references bind to placeholder sources inside their own recursive
// component and directly to the rule's output node across strata.
package compiler

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/go-logr/logr"

	"github.com/l7mp/reflow/pkg/data"
	"github.com/l7mp/reflow/pkg/dbsp"
	"github.com/l7mp/reflow/pkg/fixpoint"
	"github.com/l7mp/reflow/pkg/plan"
)

// Catalog answers attribute-existence queries at compile time.
type Catalog interface {
	HasAttribute(data.Aid) bool
}

// CompiledQuery is the result of a successful compile: a handle onto the
// shared graph. The caller owns one reference to Output.
type CompiledQuery struct {
	Name string
	// Canonical hash of the normalized plan.
	Hash uint64
	// Output schema.
	Vars []plan.Var
	// Output node; its integrated state is the live result collection.
	Output *dbsp.Node
	// Nodes installed by this compile, in creation (topological) order.
	// Empty when the whole plan hit the memo.
	Fresh []*dbsp.Node
	// Fresh attribute sources to be seeded from the store.
	FreshAttrs map[dbsp.NodeID]data.Aid
	// Schedule over the fresh nodes for bootstrapping; nil when nothing
	// is fresh.
	Bootstrap *dbsp.Schedule
}

// Compiler owns the compile-time view of the shared graph: the registered
// rule table, per-rule node lists and the attribute sources.
type Compiler struct {
	graph *dbsp.Graph
	log   logr.Logger

	rules        map[string]*plan.Rule
	ruleHash     map[string]uint64
	ruleOut      map[string]*dbsp.Node
	placeholders map[string]*dbsp.Node
	attrSources  map[data.Aid]*dbsp.Node
	// Creation-ordered nodes per context: rule name, or "" for
	// query-level nodes.
	byCtx map[string][]*dbsp.Node

	// Per-compile scratch.
	fresh      []*dbsp.Node
	freshAttrs map[dbsp.NodeID]data.Aid
	refBind    map[string]*dbsp.Node
}

func New(graph *dbsp.Graph, log logr.Logger) *Compiler {
	return &Compiler{
		graph:        graph,
		log:          log.WithName("compiler"),
		rules:        map[string]*plan.Rule{},
		ruleHash:     map[string]uint64{},
		ruleOut:      map[string]*dbsp.Node{},
		placeholders: map[string]*dbsp.Node{},
		attrSources:  map[data.Aid]*dbsp.Node{},
		byCtx:        map[string][]*dbsp.Node{},
	}
}

// Rule returns a registered rule.
func (c *Compiler) Rule(name string) (*plan.Rule, bool) {
	r, ok := c.rules[name]
	return r, ok
}

// RuleOutput returns the output node of a compiled rule.
func (c *Compiler) RuleOutput(name string) (*dbsp.Node, bool) {
	n, ok := c.ruleOut[name]
	return n, ok
}

// CompileQuery validates and compiles a plan together with the rules it
// brings along. Validation is complete before any node is installed, so a
// failed compile installs nothing. The returned query owns one reference to
// its output node; compiling a structurally identical plan again returns the
// same node with its refcount bumped.
func (c *Compiler) CompileQuery(name string, p plan.Node, rules []*plan.Rule, cat Catalog) (*CompiledQuery, error) {
	p = normalize(p)

	// Admit the new rules into the table, rejecting redefinitions.
	added := []string{}
	for _, r := range rules {
		norm := &plan.Rule{Name: r.Name, Plan: normalize(r.Plan)}
		h := plan.Hash(norm.Plan)
		if prev, ok := c.ruleHash[r.Name]; ok {
			if prev != h {
				c.dropRules(added)
				return nil, &data.Error{Category: data.ErrConflict,
					Message: fmt.Sprintf("rule %q already defined with a different plan", r.Name)}
			}
			continue
		}
		c.rules[r.Name] = norm
		c.ruleHash[r.Name] = h
		added = append(added, r.Name)
	}

	vctx := &validateContext{rules: c.rules, cat: cat}
	if err := plan.Validate(p, vctx); err != nil {
		c.dropRules(added)
		return nil, err.AsError()
	}
	for _, rname := range added {
		if err := plan.Validate(c.rules[rname].Plan, vctx); err != nil {
			c.dropRules(added)
			return nil, err.AsError()
		}
	}
	depGraph := fixpoint.BuildGraph(c.rules)
	if err := depGraph.Validate(); err != nil {
		c.dropRules(added)
		return nil, err
	}

	// Construction is infallible from here on.
	c.fresh = nil
	c.freshAttrs = map[dbsp.NodeID]data.Aid{}

	reach := reachable(p, c.rules)
	comps := depGraph.Components()
	for _, comp := range comps {
		if !reach[comp.Rules[0]] {
			continue
		}
		c.compileComponent(comp)
	}

	c.refBind = map[string]*dbsp.Node{}
	for rname, out := range c.ruleOut {
		c.refBind[rname] = out
	}
	out, _ := c.compileNode("", p)

	cq := &CompiledQuery{
		Name:       name,
		Hash:       plan.Hash(p),
		Vars:       p.Vars(),
		Output:     out,
		Fresh:      c.fresh,
		FreshAttrs: c.freshAttrs,
	}
	if len(cq.Fresh) > 0 {
		cq.Bootstrap = c.schedule(freshOnly(cq.Fresh), comps)
	}
	c.fresh, c.freshAttrs, c.refBind = nil, nil, nil
	c.log.V(1).Info("query compiled", "name", name, "hash", fmt.Sprintf("%016x", cq.Hash),
		"fresh", len(cq.Fresh), "refs", out.Refs())
	return cq, nil
}

// Schedule builds the full evaluation schedule over every live node.
func (c *Compiler) Schedule() *dbsp.Schedule {
	return c.schedule(nil, fixpoint.BuildGraph(c.rules).Components())
}

// schedule assembles strata: attribute sources first, rule components in
// dependency order, query-level nodes last. When only is non-nil the
// schedule is restricted to those nodes (the bootstrap case).
func (c *Compiler) schedule(only map[dbsp.NodeID]bool, comps []fixpoint.Component) *dbsp.Schedule {
	keep := func(n *dbsp.Node) bool { return only == nil || only[n.ID] }

	sched := &dbsp.Schedule{}
	var sources []*dbsp.Node
	for _, n := range c.attrSources {
		if keep(n) {
			sources = append(sources, n)
		}
	}
	if len(sources) > 0 {
		sched.Strata = append(sched.Strata, dbsp.Stratum{Nodes: sources})
	}

	for _, comp := range comps {
		var nodes []*dbsp.Node
		var arcs []dbsp.FeedbackArc
		for _, rname := range comp.Rules {
			for _, n := range c.byCtx[rname] {
				if keep(n) {
					nodes = append(nodes, n)
				}
			}
			if comp.Recursive {
				src, ok1 := c.placeholders[rname]
				out, ok2 := c.ruleOut[rname]
				if ok1 && ok2 && keep(src) {
					arcs = append(arcs, dbsp.FeedbackArc{Rule: rname, Source: src, Output: out})
				}
			}
		}
		if len(nodes) > 0 {
			sched.Strata = append(sched.Strata, dbsp.Stratum{
				Recursive: comp.Recursive, Nodes: nodes, Feedback: arcs,
			})
		}
	}

	var top []*dbsp.Node
	for _, n := range c.byCtx[""] {
		if keep(n) {
			top = append(top, n)
		}
	}
	if len(top) > 0 {
		sched.Strata = append(sched.Strata, dbsp.Stratum{Nodes: top})
	}
	return sched
}

// compileComponent installs the rules of one component. Recursive components
// get a placeholder source per member before any body is compiled, so
// same-component references close onto the feedback arc.
func (c *Compiler) compileComponent(comp fixpoint.Component) {
	pending := false
	for _, rname := range comp.Rules {
		if _, done := c.ruleOut[rname]; !done {
			pending = true
		}
	}
	if !pending {
		return
	}

	c.refBind = map[string]*dbsp.Node{}
	for rname, out := range c.ruleOut {
		c.refBind[rname] = out
	}
	if comp.Recursive {
		for _, rname := range comp.Rules {
			ph := c.ensureNode(dbsp.SourceID(rname, "rule/"+rname), rname, nil,
				func() dbsp.Operator { return dbsp.NewSource("rule/" + rname) })
			c.placeholders[rname] = ph
			c.refBind[rname] = ph
		}
	}

	for _, rname := range comp.Rules {
		if _, done := c.ruleOut[rname]; done {
			continue
		}
		rule := c.rules[rname]
		body, _ := c.compileNode(rname, rule.Plan)
		// Set semantics on the rule output; with recursion this is
		// also what makes the fixpoint terminate.
		out := c.ensureNode(saltedID(rname, "out", plan.Hash(rule.Plan)), rname,
			[]*dbsp.Node{body}, func() dbsp.Operator { return dbsp.NewIncrementalDistinct() })
		c.graph.Release(body)
		c.ruleOut[rname] = out
		c.log.V(1).Info("rule compiled", "name", rname, "recursive", comp.Recursive)
	}
}

// compileNode compiles one plan node in a context, returning the operator
// node (one reference owned by the caller) and its variable schema.
func (c *Compiler) compileNode(ctx string, n plan.Node) (*dbsp.Node, []plan.Var) {
	switch t := n.(type) {
	case *plan.Match:
		return c.attrSource(t.A), []plan.Var{t.E, t.V}

	case *plan.MatchEA:
		src := c.attrSource(t.A)
		want := data.EidValue(t.E)
		h := plan.Hash(n)
		sel := c.ensureNode(saltedID(ctx, "sel", h), ctx, []*dbsp.Node{src},
			func() dbsp.Operator {
				return dbsp.NewSelection(fmt.Sprintf("e=%d", t.E), func(tup data.Tuple) (bool, error) {
					return tup[0].Equal(want), nil
				})
			})
		c.graph.Release(src)
		proj := c.ensureNode(dbsp.NodeID{Ctx: ctx, Hash: h}, ctx, []*dbsp.Node{sel},
			func() dbsp.Operator { return dbsp.NewProjection([]int{1}) })
		c.graph.Release(sel)
		return proj, []plan.Var{t.V}

	case *plan.MatchAV:
		src := c.attrSource(t.A)
		want := t.V
		h := plan.Hash(n)
		sel := c.ensureNode(saltedID(ctx, "sel", h), ctx, []*dbsp.Node{src},
			func() dbsp.Operator {
				return dbsp.NewSelection("v="+want.String(), func(tup data.Tuple) (bool, error) {
					return tup[1].Equal(want), nil
				})
			})
		c.graph.Release(src)
		proj := c.ensureNode(dbsp.NodeID{Ctx: ctx, Hash: h}, ctx, []*dbsp.Node{sel},
			func() dbsp.Operator { return dbsp.NewProjection([]int{0}) })
		c.graph.Release(sel)
		return proj, []plan.Var{t.E}

	case *plan.Join:
		left, ls := c.compileNode(ctx, t.Left)
		right, rs := c.compileNode(ctx, t.Right)
		shared := sharedVars(ls, rs)
		node := c.ensureNode(dbsp.NodeID{Ctx: ctx, Hash: plan.Hash(n)}, ctx,
			[]*dbsp.Node{left, right}, func() dbsp.Operator {
				return dbsp.NewIncrementalJoin(positions(ls, shared), positions(rs, shared),
					len(ls), len(rs))
			})
		c.graph.Release(left)
		c.graph.Release(right)
		return node, joinSchema(shared, ls, rs)

	case *plan.Antijoin:
		left, ls := c.compileNode(ctx, t.Left)
		right, rs := c.compileNode(ctx, t.Right)
		shared := sharedVars(ls, rs)
		node := c.ensureNode(dbsp.NodeID{Ctx: ctx, Hash: plan.Hash(n)}, ctx,
			[]*dbsp.Node{left, right}, func() dbsp.Operator {
				return dbsp.NewIncrementalAntijoin(positions(ls, shared), positions(rs, shared))
			})
		c.graph.Release(left)
		c.graph.Release(right)
		return node, ls

	case *plan.HyperJoin:
		h := plan.Hash(n)
		ins := make([]*dbsp.Node, len(t.Inputs))
		schema := []plan.Var{t.On}
		for i, inPlan := range t.Inputs {
			child, cs := c.compileNode(ctx, inPlan)
			// Rotate the join variable to position 0.
			rot := append([]int{indexOf(cs, t.On)}, positions(cs, varsExcept(cs, t.On))...)
			rotNode := c.ensureNode(saltedID(ctx, fmt.Sprintf("rot%d", i), h), ctx,
				[]*dbsp.Node{child}, func() dbsp.Operator { return dbsp.NewProjection(rot) })
			c.graph.Release(child)
			ins[i] = rotNode
			schema = append(schema, varsExcept(cs, t.On)...)
		}
		node := c.ensureNode(dbsp.NodeID{Ctx: ctx, Hash: h}, ctx, ins,
			func() dbsp.Operator { return dbsp.NewHyperJoin(len(ins)) })
		for _, in := range ins {
			c.graph.Release(in)
		}
		return node, schema

	case *plan.Union:
		h := plan.Hash(n)
		ins := make([]*dbsp.Node, len(t.Inputs))
		for i, inPlan := range t.Inputs {
			child, cs := c.compileNode(ctx, inPlan)
			proj := c.ensureNode(saltedID(ctx, fmt.Sprintf("arm%d", i), h), ctx,
				[]*dbsp.Node{child}, func() dbsp.Operator {
					return dbsp.NewProjection(positions(cs, t.UnionVars))
				})
			c.graph.Release(child)
			ins[i] = proj
		}
		node := c.ensureNode(dbsp.NodeID{Ctx: ctx, Hash: h}, ctx, ins,
			func() dbsp.Operator { return dbsp.NewUnion(len(ins)) })
		for _, in := range ins {
			c.graph.Release(in)
		}
		return node, t.UnionVars

	case *plan.Project:
		child, cs := c.compileNode(ctx, t.Input)
		node := c.ensureNode(dbsp.NodeID{Ctx: ctx, Hash: plan.Hash(n)}, ctx,
			[]*dbsp.Node{child}, func() dbsp.Operator {
				return dbsp.NewProjection(positions(cs, t.ProjVars))
			})
		c.graph.Release(child)
		return node, t.ProjVars

	case *plan.Filter:
		child, cs := c.compileNode(ctx, t.Input)
		pred := buildPredicate(t, cs)
		node := c.ensureNode(dbsp.NodeID{Ctx: ctx, Hash: plan.Hash(n)}, ctx,
			[]*dbsp.Node{child}, func() dbsp.Operator {
				return dbsp.NewSelection(string(t.Pred), pred)
			})
		c.graph.Release(child)
		return node, cs

	case *plan.Aggregate:
		child, cs := c.compileNode(ctx, t.Input)
		h := plan.Hash(n)
		keyed := c.ensureNode(saltedID(ctx, "keyed", h), ctx, []*dbsp.Node{child},
			func() dbsp.Operator {
				return dbsp.NewProjection(positions(cs, append(append([]plan.Var{}, t.Key...), t.Value)))
			})
		c.graph.Release(child)
		node := c.ensureNode(dbsp.NodeID{Ctx: ctx, Hash: h}, ctx, []*dbsp.Node{keyed},
			func() dbsp.Operator { return dbsp.NewIncrementalAggregate(t.Fn, len(t.Key)) })
		c.graph.Release(keyed)
		return node, n.Vars()

	case *plan.RuleRef:
		bound := c.refBind[t.Name]
		c.graph.Retain(bound)
		return bound, t.RefVars

	default:
		panic(fmt.Sprintf("cannot compile plan node %T", n))
	}
}

// ensureNode wraps graph.Ensure with fresh-node tracking. A memo hit only
// bumps the refcount.
func (c *Compiler) ensureNode(id dbsp.NodeID, ctx string, inputs []*dbsp.Node, op func() dbsp.Operator) *dbsp.Node {
	if n, ok := c.graph.Node(id); ok {
		c.graph.Retain(n)
		return n
	}
	n := c.graph.Ensure(id, op, inputs)
	c.fresh = append(c.fresh, n)
	c.byCtx[ctx] = append(c.byCtx[ctx], n)
	return n
}

// attrSource returns the shared source node of an attribute, creating and
// marking it for store seeding when first referenced.
func (c *Compiler) attrSource(a data.Aid) *dbsp.Node {
	if n, ok := c.attrSources[a]; ok {
		c.graph.Retain(n)
		return n
	}
	id := dbsp.SourceID("", string(a))
	n := c.graph.Ensure(id, func() dbsp.Operator { return dbsp.NewSource(string(a)) }, nil)
	c.attrSources[a] = n
	c.fresh = append(c.fresh, n)
	c.freshAttrs[id] = a
	return n
}

// AttrSource looks up the live source node of an attribute.
func (c *Compiler) AttrSource(a data.Aid) (*dbsp.Node, bool) {
	n, ok := c.attrSources[a]
	return n, ok
}

// Forget prunes compile-time bookkeeping for nodes removed from the graph
// and returns the names of rules whose subgraphs went away with them.
func (c *Compiler) Forget(removed []*dbsp.Node) []string {
	if len(removed) == 0 {
		return nil
	}
	gone := map[dbsp.NodeID]bool{}
	for _, n := range removed {
		gone[n.ID] = true
	}
	for ctx, nodes := range c.byCtx {
		kept := nodes[:0]
		for _, n := range nodes {
			if !gone[n.ID] {
				kept = append(kept, n)
			}
		}
		c.byCtx[ctx] = kept
	}
	for a, n := range c.attrSources {
		if gone[n.ID] {
			delete(c.attrSources, a)
		}
	}
	var rules []string
	for rname, n := range c.ruleOut {
		if gone[n.ID] {
			delete(c.ruleOut, rname)
			delete(c.rules, rname)
			delete(c.ruleHash, rname)
			rules = append(rules, rname)
		}
	}
	for rname, n := range c.placeholders {
		if gone[n.ID] {
			delete(c.placeholders, rname)
		}
	}
	return rules
}

// SweepRules releases rules no longer referenced by any consumer, repeating
// until stable so chains of rule dependencies unwind. Returns the removed
// nodes and the names of the swept rules.
func (c *Compiler) SweepRules() ([]*dbsp.Node, []string) {
	var removed []*dbsp.Node
	var swept []string
	for {
		changed := false
		for rname, out := range c.ruleOut {
			// The table holds one reference; more means a live
			// consumer, teardown is deferred until they are gone.
			if out.Refs() > 1 {
				continue
			}
			rm := c.graph.Release(out)
			if ph, ok := c.placeholders[rname]; ok {
				rm = append(rm, c.graph.Release(ph)...)
			}
			removed = append(removed, rm...)
			swept = append(swept, c.Forget(rm)...)
			changed = true
			break
		}
		if !changed {
			return removed, swept
		}
	}
}

// dropRules removes rules admitted earlier in a failed compile.
func (c *Compiler) dropRules(names []string) {
	for _, rname := range names {
		delete(c.rules, rname)
		delete(c.ruleHash, rname)
	}
}

type validateContext struct {
	rules map[string]*plan.Rule
	cat   Catalog
}

func (v *validateContext) Rule(name string) (*plan.Rule, bool) {
	r, ok := v.rules[name]
	return r, ok
}

func (v *validateContext) HasAttribute(a data.Aid) bool { return v.cat.HasAttribute(a) }

// reachable returns the rules transitively referenced by the plan.
func reachable(p plan.Node, rules map[string]*plan.Rule) map[string]bool {
	out := map[string]bool{}
	var visit func(names []string)
	visit = func(names []string) {
		for _, name := range names {
			if out[name] {
				continue
			}
			out[name] = true
			if r, ok := rules[name]; ok {
				visit(plan.Dependencies(r.Plan))
			}
		}
	}
	visit(plan.Dependencies(p))
	return out
}

func freshOnly(fresh []*dbsp.Node) map[dbsp.NodeID]bool {
	out := map[dbsp.NodeID]bool{}
	for _, n := range fresh {
		out[n.ID] = true
	}
	return out
}

func saltedID(ctx, tag string, h uint64) dbsp.NodeID {
	return dbsp.NodeID{Ctx: ctx, Hash: xxhash.Sum64String(fmt.Sprintf("%s/%016x", tag, h))}
}

func sharedVars(ls, rs []plan.Var) []plan.Var {
	rset := map[plan.Var]bool{}
	for _, v := range rs {
		rset[v] = true
	}
	var out []plan.Var
	for _, v := range ls {
		if rset[v] {
			out = append(out, v)
		}
	}
	return out
}

func joinSchema(shared, ls, rs []plan.Var) []plan.Var {
	seen := map[plan.Var]bool{}
	out := append([]plan.Var{}, shared...)
	for _, v := range shared {
		seen[v] = true
	}
	for _, v := range ls {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range rs {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func positions(schema []plan.Var, vars []plan.Var) []int {
	out := make([]int, len(vars))
	for i, v := range vars {
		out[i] = indexOf(schema, v)
	}
	return out
}

func indexOf(schema []plan.Var, v plan.Var) int {
	for i, s := range schema {
		if s == v {
			return i
		}
	}
	panic(fmt.Sprintf("variable %s not in schema %v", v, schema))
}

func varsExcept(schema []plan.Var, skip plan.Var) []plan.Var {
	var out []plan.Var
	for _, v := range schema {
		if v != skip {
			out = append(out, v)
		}
	}
	return out
}

// buildPredicate closes a filter over the operand positions in the input
// schema. Numeric values of different kinds compare numerically.
func buildPredicate(f *plan.Filter, schema []plan.Var) dbsp.TuplePredicate {
	resolve := func(o plan.Operand) func(data.Tuple) data.Value {
		if o.Const != nil {
			v := *o.Const
			return func(data.Tuple) data.Value { return v }
		}
		idx := indexOf(schema, o.Var)
		return func(t data.Tuple) data.Value { return t[idx] }
	}
	left, right := resolve(f.Left), resolve(f.Right)
	pred := f.Pred
	return func(t data.Tuple) (bool, error) {
		cmp := compareValues(left(t), right(t))
		switch pred {
		case plan.PredLT:
			return cmp < 0, nil
		case plan.PredLTE:
			return cmp <= 0, nil
		case plan.PredGT:
			return cmp > 0, nil
		case plan.PredGTE:
			return cmp >= 0, nil
		case plan.PredEQ:
			return cmp == 0, nil
		case plan.PredNEQ:
			return cmp != 0, nil
		}
		return false, &data.Error{Category: data.ErrRuntime,
			Message: fmt.Sprintf("unknown predicate %q", pred)}
	}
}

func compareValues(a, b data.Value) int {
	if a.Kind() != b.Kind() {
		af, aok := a.Numeric()
		bf, bok := b.Numeric()
		if aok && bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	return a.Compare(b)
}

// normalize rewrites left-deep chains of three or more binary joins that all
// share exactly one variable into the worst-case-optimal n-ary join, which
// bounds intermediate work by the true output size.
func normalize(n plan.Node) plan.Node {
	switch t := n.(type) {
	case *plan.Join:
		left, right := normalize(t.Left), normalize(t.Right)
		j := &plan.Join{Left: left, Right: right}
		if h, ok := rewriteHyper(j); ok {
			return h
		}
		return j
	case *plan.Antijoin:
		return &plan.Antijoin{Left: normalize(t.Left), Right: normalize(t.Right)}
	case *plan.HyperJoin:
		ins := make([]plan.Node, len(t.Inputs))
		for i, in := range t.Inputs {
			ins[i] = normalize(in)
		}
		return &plan.HyperJoin{On: t.On, Inputs: ins}
	case *plan.Union:
		ins := make([]plan.Node, len(t.Inputs))
		for i, in := range t.Inputs {
			ins[i] = normalize(in)
		}
		return &plan.Union{UnionVars: t.UnionVars, Inputs: ins}
	case *plan.Project:
		return &plan.Project{ProjVars: t.ProjVars, Input: normalize(t.Input)}
	case *plan.Filter:
		return &plan.Filter{Pred: t.Pred, Left: t.Left, Right: t.Right, Input: normalize(t.Input)}
	case *plan.Aggregate:
		return &plan.Aggregate{Fn: t.Fn, Key: t.Key, Value: t.Value, Input: normalize(t.Input)}
	default:
		return n
	}
}

func rewriteHyper(j *plan.Join) (plan.Node, bool) {
	clauses := flattenJoin(j)
	if len(clauses) < 3 {
		return nil, false
	}
	// All clauses must share exactly one variable, and no pair may share
	// anything else.
	counts := map[plan.Var]int{}
	for _, cl := range clauses {
		for _, v := range cl.Vars() {
			counts[v]++
		}
	}
	var on plan.Var
	for v, cnt := range counts {
		if cnt < 2 {
			continue
		}
		if cnt != len(clauses) || on != "" {
			return nil, false
		}
		on = v
	}
	if on == "" {
		return nil, false
	}
	return &plan.HyperJoin{On: on, Inputs: clauses}, true
}

func flattenJoin(n plan.Node) []plan.Node {
	if j, ok := n.(*plan.Join); ok {
		return append(flattenJoin(j.Left), flattenJoin(j.Right)...)
	}
	return []plan.Node{n}
}

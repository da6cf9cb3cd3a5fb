package plan_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/reflow/pkg/data"
	"github.com/l7mp/reflow/pkg/plan"
)

type testContext struct {
	rules map[string]*plan.Rule
	attrs map[data.Aid]bool
}

func (c *testContext) Rule(name string) (*plan.Rule, bool) {
	r, ok := c.rules[name]
	return r, ok
}

func (c *testContext) HasAttribute(a data.Aid) bool { return c.attrs[a] }

func ctxWith(attrs ...data.Aid) *testContext {
	c := &testContext{rules: map[string]*plan.Rule{}, attrs: map[data.Aid]bool{}}
	for _, a := range attrs {
		c.attrs[a] = true
	}
	return c
}

var _ = Describe("Schemas", func() {
	It("orders join output as shared, left rest, right rest", func() {
		j := &plan.Join{
			Left:  &plan.Match{E: "?a", A: ":edge", V: "?b"},
			Right: &plan.Match{E: "?b", A: ":edge", V: "?c"},
		}
		Expect(j.SharedVars()).To(Equal([]plan.Var{"?b"}))
		Expect(j.Vars()).To(Equal([]plan.Var{"?b", "?a", "?c"}))
	})

	It("puts the join variable first in a hyper-join schema", func() {
		h := &plan.HyperJoin{
			On: "?x",
			Inputs: []plan.Node{
				&plan.Match{E: "?a", A: ":edge", V: "?x"},
				&plan.Match{E: "?x", A: ":edge", V: "?c"},
			},
		}
		Expect(h.Vars()).To(Equal([]plan.Var{"?x", "?a", "?c"}))
	})

	It("keeps the left schema for antijoins", func() {
		a := &plan.Antijoin{
			Left:  &plan.Match{E: "?p", A: ":parent", V: "?c"},
			Right: &plan.Match{E: "?c", A: ":excluded", V: "?any"},
		}
		Expect(a.Vars()).To(Equal([]plan.Var{"?p", "?c"}))
		Expect(a.SharedVars()).To(Equal([]plan.Var{"?c"}))
	})

	It("appends the value variable to the aggregate key", func() {
		agg := &plan.Aggregate{
			Fn:    plan.AggCount,
			Key:   []plan.Var{"?dept"},
			Value: "?emp",
			Input: &plan.Match{E: "?emp", A: ":dept", V: "?dept"},
		}
		Expect(agg.Vars()).To(Equal([]plan.Var{"?dept", "?emp"}))
	})
})

var _ = Describe("Canonical hashing", func() {
	It("collapses alpha-equivalent plans", func() {
		p1 := &plan.Join{
			Left:  &plan.Match{E: "?a", A: ":edge", V: "?b"},
			Right: &plan.Match{E: "?b", A: ":edge", V: "?c"},
		}
		p2 := &plan.Join{
			Left:  &plan.Match{E: "?x", A: ":edge", V: "?y"},
			Right: &plan.Match{E: "?y", A: ":edge", V: "?z"},
		}
		Expect(plan.Hash(p1)).To(Equal(plan.Hash(p2)))
	})

	It("distinguishes plans with different sharing structure", func() {
		chain := &plan.Join{
			Left:  &plan.Match{E: "?a", A: ":edge", V: "?b"},
			Right: &plan.Match{E: "?b", A: ":edge", V: "?c"},
		}
		fan := &plan.Join{
			Left:  &plan.Match{E: "?a", A: ":edge", V: "?b"},
			Right: &plan.Match{E: "?a", A: ":edge", V: "?c"},
		}
		Expect(plan.Hash(chain)).NotTo(Equal(plan.Hash(fan)))
	})

	It("distinguishes attributes and constants", func() {
		m1 := &plan.MatchAV{E: "?e", A: ":age", V: data.Number(30)}
		m2 := &plan.MatchAV{E: "?e", A: ":age", V: data.Number(31)}
		m3 := &plan.MatchAV{E: "?e", A: ":size", V: data.Number(30)}
		Expect(plan.Hash(m1)).NotTo(Equal(plan.Hash(m2)))
		Expect(plan.Hash(m1)).NotTo(Equal(plan.Hash(m3)))
	})

	It("is stable across repeated calls", func() {
		p := &plan.Project{
			ProjVars: []plan.Var{"?e"},
			Input:    &plan.Match{E: "?e", A: ":name", V: "?n"},
		}
		Expect(plan.Hash(p)).To(Equal(plan.Hash(p)))
	})
})

var _ = Describe("Validation", func() {
	It("accepts a well-formed plan", func() {
		p := &plan.Project{
			ProjVars: []plan.Var{"?e"},
			Input: &plan.Join{
				Left:  &plan.Match{E: "?e", A: ":name", V: "?n"},
				Right: &plan.Match{E: "?e", A: ":age", V: "?a"},
			},
		}
		Expect(plan.Validate(p, ctxWith(":name", ":age"))).To(BeNil())
	})

	It("rejects unknown attributes", func() {
		p := &plan.Match{E: "?e", A: ":nope", V: "?v"}
		err := plan.Validate(p, ctxWith(":name"))
		Expect(err).NotTo(BeNil())
		Expect(err.Error()).To(ContainSubstring("unknown attribute"))
		Expect(err.AsError().Category).To(Equal(data.ErrPlan))
	})

	It("rejects projections of unbound variables", func() {
		p := &plan.Project{
			ProjVars: []plan.Var{"?missing"},
			Input:    &plan.Match{E: "?e", A: ":name", V: "?n"},
		}
		err := plan.Validate(p, ctxWith(":name"))
		Expect(err).NotTo(BeNil())
		Expect(err.Error()).To(ContainSubstring("unbound variable ?missing"))
	})

	It("rejects joins sharing no variable", func() {
		p := &plan.Join{
			Left:  &plan.Match{E: "?a", A: ":name", V: "?b"},
			Right: &plan.Match{E: "?c", A: ":name", V: "?d"},
		}
		err := plan.Validate(p, ctxWith(":name"))
		Expect(err).NotTo(BeNil())
		Expect(err.Error()).To(ContainSubstring("share no variable"))
	})

	It("rejects hyper-join inputs sharing a non-join variable", func() {
		p := &plan.HyperJoin{
			On: "?x",
			Inputs: []plan.Node{
				&plan.Match{E: "?x", A: ":edge", V: "?y"},
				&plan.Match{E: "?x", A: ":edge", V: "?y"},
			},
		}
		err := plan.Validate(p, ctxWith(":edge"))
		Expect(err).NotTo(BeNil())
		Expect(err.Error()).To(ContainSubstring("only the join variable"))
	})

	It("rejects references to undefined rules", func() {
		p := &plan.RuleRef{Name: "tc", RefVars: []plan.Var{"?a", "?b"}}
		err := plan.Validate(p, ctxWith())
		Expect(err).NotTo(BeNil())
		Expect(err.Error()).To(ContainSubstring("undefined rule"))
	})

	It("rejects rule references with the wrong arity", func() {
		ctx := ctxWith(":edge")
		ctx.rules["edge"] = &plan.Rule{
			Name: "edge",
			Plan: &plan.Match{E: "?a", A: ":edge", V: "?b"},
		}
		p := &plan.RuleRef{Name: "edge", RefVars: []plan.Var{"?a"}}
		err := plan.Validate(p, ctx)
		Expect(err).NotTo(BeNil())
		Expect(err.Error()).To(ContainSubstring("arity"))
	})

	It("rejects union inputs not covering the union variables", func() {
		p := &plan.Union{
			UnionVars: []plan.Var{"?a", "?b"},
			Inputs: []plan.Node{
				&plan.Match{E: "?a", A: ":edge", V: "?b"},
				&plan.MatchAV{E: "?a", A: ":edge", V: data.Number(1)},
			},
		}
		err := plan.Validate(p, ctxWith(":edge"))
		Expect(err).NotTo(BeNil())
		Expect(err.Error()).To(ContainSubstring("does not bind variable ?b"))
	})
})

var _ = Describe("Rule dependencies", func() {
	It("marks antijoin right and aggregate paths negative", func() {
		r := &plan.Rule{
			Name: "r",
			Plan: &plan.Antijoin{
				Left: &plan.Join{
					Left:  &plan.RuleRef{Name: "pos", RefVars: []plan.Var{"?a", "?b"}},
					Right: &plan.Match{E: "?b", A: ":edge", V: "?c"},
				},
				Right: &plan.RuleRef{Name: "neg", RefVars: []plan.Var{"?c"}},
			},
		}
		edges := plan.RuleDependencies(r)
		Expect(edges).To(ConsistOf(
			plan.DepEdge{From: "r", To: "pos", Negative: false},
			plan.DepEdge{From: "r", To: "neg", Negative: true},
		))

		agg := &plan.Rule{
			Name: "s",
			Plan: &plan.Aggregate{
				Fn:    plan.AggCount,
				Key:   []plan.Var{"?a"},
				Value: "?b",
				Input: &plan.RuleRef{Name: "r", RefVars: []plan.Var{"?a", "?b"}},
			},
		}
		Expect(plan.RuleDependencies(agg)).To(ConsistOf(
			plan.DepEdge{From: "s", To: "r", Negative: true},
		))
	})
})

var _ = Describe("Wire form", func() {
	It("round trips a nested plan", func() {
		r := plan.Rule{
			Name: "adults",
			Plan: &plan.Project{
				ProjVars: []plan.Var{"?e"},
				Input: &plan.Filter{
					Pred:  plan.PredGTE,
					Left:  plan.Operand{Var: "?age"},
					Right: plan.Operand{Const: valuePtr(data.Number(18))},
					Input: &plan.Match{E: "?e", A: ":age", V: "?age"},
				},
			},
		}
		b, err := json.Marshal(r)
		Expect(err).NotTo(HaveOccurred())

		var back plan.Rule
		Expect(json.Unmarshal(b, &back)).To(Succeed())
		Expect(back.Name).To(Equal("adults"))
		Expect(plan.Hash(back.Plan)).To(Equal(plan.Hash(r.Plan)))
		Expect(plan.Sprint(back.Plan)).To(Equal(plan.Sprint(r.Plan)))
	})

	It("round trips unions, hyper-joins and rule references", func() {
		p := &plan.Union{
			UnionVars: []plan.Var{"?x", "?y"},
			Inputs: []plan.Node{
				&plan.HyperJoin{
					On: "?x",
					Inputs: []plan.Node{
						&plan.Match{E: "?x", A: ":edge", V: "?y"},
						&plan.Match{E: "?z", A: ":edge", V: "?x"},
					},
				},
				&plan.RuleRef{Name: "base", RefVars: []plan.Var{"?x", "?y"}},
			},
		}
		b, err := plan.MarshalNode(p)
		Expect(err).NotTo(HaveOccurred())
		back, err := plan.UnmarshalNode(b)
		Expect(err).NotTo(HaveOccurred())
		Expect(plan.Hash(back)).To(Equal(plan.Hash(p)))
	})

	It("rejects unknown op tags", func() {
		_, err := plan.UnmarshalNode([]byte(`{"op":"teleport"}`))
		Expect(err).To(HaveOccurred())
	})
})

func valuePtr(v data.Value) *data.Value { return &v }

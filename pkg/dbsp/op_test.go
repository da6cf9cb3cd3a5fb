package dbsp_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/reflow/pkg/data"
	"github.com/l7mp/reflow/pkg/dbsp"
	"github.com/l7mp/reflow/pkg/plan"
	"github.com/l7mp/reflow/pkg/zset"
)

func tup(vs ...int64) data.Tuple {
	t := make(data.Tuple, len(vs))
	for i, v := range vs {
		t[i] = data.Number(v)
	}
	return t
}

func zsetOf(ts ...data.Tuple) *zset.ZSet {
	z := zset.New()
	for _, t := range ts {
		z.AddTuple(t, 1)
	}
	return z
}

var _ = Describe("Linear operators", func() {
	It("projects positions in order", func() {
		op := dbsp.NewProjection([]int{2, 0})
		out, err := op.Process(zsetOf(tup(1, 2, 3)))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Mult(tup(3, 1))).To(Equal(1))
	})

	It("propagates multiplicities through selection", func() {
		op := dbsp.NewSelection("pos", func(t data.Tuple) (bool, error) {
			n, _ := t[0].Num()
			return n > 0, nil
		})
		in := zset.New()
		in.AddTuple(tup(1), 2)
		in.AddTuple(tup(-1), 1)
		out, err := op.Process(in)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Mult(tup(1))).To(Equal(2))
		Expect(out.Mult(tup(-1))).To(Equal(0))
	})

	It("sums union inputs", func() {
		op := dbsp.NewUnion(2)
		out, err := op.Process(zsetOf(tup(1)), zsetOf(tup(1), tup(2)))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Mult(tup(1))).To(Equal(2))
		Expect(out.Mult(tup(2))).To(Equal(1))
	})
})

var _ = Describe("Incremental distinct", func() {
	It("emits only presence transitions", func() {
		op := dbsp.NewIncrementalDistinct()

		out, err := op.Process(zsetOf(tup(1), tup(1)))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Mult(tup(1))).To(Equal(1))

		// Already present, no transition.
		out, err = op.Process(zsetOf(tup(1)))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.IsZero()).To(BeTrue())

		// Dropping one of three copies keeps it present.
		neg := zset.New()
		neg.AddTuple(tup(1), -1)
		out, err = op.Process(neg)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.IsZero()).To(BeTrue())

		// Dropping the rest retracts.
		neg2 := zset.New()
		neg2.AddTuple(tup(1), -2)
		out, err = op.Process(neg2)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Mult(tup(1))).To(Equal(-1))
	})
})

var _ = Describe("Incremental binary join", func() {
	// Left (x, a) keyed on x, right (x, b) keyed on x.
	newJoin := func() *dbsp.IncrementalJoinOp {
		return dbsp.NewIncrementalJoin([]int{0}, []int{0}, 2, 2)
	}

	It("matches a delta against retained state", func() {
		op := newJoin()

		out, err := op.Process(zsetOf(tup(1, 10)), zset.New())
		Expect(err).NotTo(HaveOccurred())
		Expect(out.IsZero()).To(BeTrue())

		out, err = op.Process(zset.New(), zsetOf(tup(1, 20)))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Mult(tup(1, 10, 20))).To(Equal(1))
	})

	It("handles simultaneous deltas on both sides", func() {
		op := newJoin()
		out, err := op.Process(zsetOf(tup(1, 10)), zsetOf(tup(1, 20)))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Mult(tup(1, 10, 20))).To(Equal(1))
	})

	It("is equivalent to the batch join under any delta split", func() {
		left := []data.Tuple{tup(1, 10), tup(1, 11), tup(2, 20)}
		right := []data.Tuple{tup(1, 100), tup(2, 200), tup(3, 300)}

		batch := dbsp.NewIncrementalJoin([]int{0}, []int{0}, 2, 2)
		all, err := batch.Process(zsetOf(left...), zsetOf(right...))
		Expect(err).NotTo(HaveOccurred())

		inc := dbsp.NewIncrementalJoin([]int{0}, []int{0}, 2, 2)
		total := zset.New()
		for i := range left {
			var r *zset.ZSet
			if i < len(right) {
				r = zsetOf(right[i])
			} else {
				r = zset.New()
			}
			out, err := inc.Process(zsetOf(left[i]), r)
			Expect(err).NotTo(HaveOccurred())
			total.Add(out)
		}
		Expect(total.Entries()).To(Equal(all.Entries()))
	})

	It("retracts derived tuples when an input is retracted", func() {
		op := newJoin()
		_, err := op.Process(zsetOf(tup(1, 10)), zsetOf(tup(1, 20)))
		Expect(err).NotTo(HaveOccurred())

		neg := zset.New()
		neg.AddTuple(tup(1, 10), -1)
		out, err := op.Process(neg, zset.New())
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Mult(tup(1, 10, 20))).To(Equal(-1))
	})
})

var _ = Describe("Incremental antijoin", func() {
	// Left (x, a) keyed on x, right (x) keyed on x.
	newAnti := func() *dbsp.IncrementalAntijoinOp {
		return dbsp.NewIncrementalAntijoin([]int{0}, []int{0})
	}

	It("passes unblocked tuples and withholds blocked ones", func() {
		op := newAnti()
		out, err := op.Process(zsetOf(tup(1, 10), tup(2, 20)), zsetOf(tup(2)))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Mult(tup(1, 10))).To(Equal(1))
		Expect(out.Mult(tup(2, 20))).To(Equal(0))
	})

	It("re-admits on blocker retraction and retracts on re-insertion", func() {
		op := newAnti()
		out, err := op.Process(zsetOf(tup(1, 10)), zsetOf(tup(1)))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.IsZero()).To(BeTrue())

		neg := zset.New()
		neg.AddTuple(tup(1), -1)
		out, err = op.Process(zset.New(), neg)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Mult(tup(1, 10))).To(Equal(1))

		out, err = op.Process(zset.New(), zsetOf(tup(1)))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Mult(tup(1, 10))).To(Equal(-1))
	})

	It("ignores redundant blockers", func() {
		op := newAnti()
		_, err := op.Process(zsetOf(tup(1, 10)), zsetOf(tup(1)))
		Expect(err).NotTo(HaveOccurred())

		// Second blocker for the same key changes nothing; retracting
		// one of two does not re-admit.
		out, err := op.Process(zset.New(), zsetOf(tup(1)))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.IsZero()).To(BeTrue())

		neg := zset.New()
		neg.AddTuple(tup(1), -1)
		out, err = op.Process(zset.New(), neg)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.IsZero()).To(BeTrue())
	})
})

var _ = Describe("Incremental aggregation", func() {
	It("counts per group with retract-old insert-new", func() {
		op := dbsp.NewIncrementalAggregate(plan.AggCount, 1)

		out, err := op.Process(zsetOf(tup(1, 10), tup(1, 11)))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Mult(tup(1, 2))).To(Equal(1))

		out, err = op.Process(zsetOf(tup(1, 12)))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Mult(tup(1, 2))).To(Equal(-1))
		Expect(out.Mult(tup(1, 3))).To(Equal(1))
	})

	It("drops the group when it empties", func() {
		op := dbsp.NewIncrementalAggregate(plan.AggCount, 1)
		_, err := op.Process(zsetOf(tup(1, 10)))
		Expect(err).NotTo(HaveOccurred())

		neg := zset.New()
		neg.AddTuple(tup(1, 10), -1)
		out, err := op.Process(neg)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Mult(tup(1, 1))).To(Equal(-1))
		Expect(out.UniqueCount()).To(Equal(0))
	})

	It("sums and averages numeric values", func() {
		sum := dbsp.NewIncrementalAggregate(plan.AggSum, 1)
		out, err := sum.Process(zsetOf(tup(1, 10), tup(1, 20)))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Mult(tup(1, 30))).To(Equal(1))

		avg := dbsp.NewIncrementalAggregate(plan.AggAvg, 1)
		out, err = avg.Process(zsetOf(tup(1, 10), tup(1, 20)))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Mult(data.Tuple{data.Number(1), data.Float(15)})).To(Equal(1))
	})

	It("rescans the group when the extremum is retracted", func() {
		op := dbsp.NewIncrementalAggregate(plan.AggMin, 1)
		_, err := op.Process(zsetOf(tup(1, 5), tup(1, 7), tup(1, 9)))
		Expect(err).NotTo(HaveOccurred())

		neg := zset.New()
		neg.AddTuple(tup(1, 5), -1)
		out, err := op.Process(neg)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Mult(tup(1, 5))).To(Equal(-1))
		Expect(out.Mult(tup(1, 7))).To(Equal(1))
	})

	It("collects the distinct values sorted", func() {
		op := dbsp.NewIncrementalAggregate(plan.AggCollect, 1)
		out, err := op.Process(zsetOf(tup(1, 9), tup(1, 5), tup(1, 9)))
		Expect(err).NotTo(HaveOccurred())
		want := data.Tuple{data.Number(1), data.List(data.Number(5), data.Number(9))}
		Expect(out.Mult(want)).To(Equal(1))
	})

	It("reports a runtime error for non-numeric sums", func() {
		op := dbsp.NewIncrementalAggregate(plan.AggSum, 1)
		_, err := op.Process(zsetOf(data.Tuple{data.Number(1), data.String("x")}))
		Expect(err).To(HaveOccurred())
		de, ok := err.(*data.Error)
		Expect(ok).To(BeTrue())
		Expect(de.Category).To(Equal(data.ErrRuntime))
	})
})

var _ = Describe("Worst-case-optimal join", func() {
	It("joins three relations on the shared variable", func() {
		op := dbsp.NewHyperJoin(3)
		out, err := op.Process(
			zsetOf(tup(1, 10)),
			zsetOf(tup(1, 20)),
			zsetOf(tup(1, 30)),
		)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Mult(tup(1, 10, 20, 30))).To(Equal(1))
	})

	It("bounds work by the true output, not pairwise intermediates", func() {
		// A and B are dense on the join variable, C keeps only one
		// value: any pairwise A-B join materializes n tuples while the
		// true output has exactly one.
		const n = 1000
		a, b := zset.New(), zset.New()
		for i := int64(1); i <= n; i++ {
			a.AddTuple(tup(i, 100+i), 1)
			b.AddTuple(tup(i, 200+i), 1)
		}
		c := zsetOf(tup(1, 301))

		op := dbsp.NewHyperJoin(3)
		out, err := op.Process(a, b, c)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Size()).To(Equal(1))
		Expect(out.Mult(tup(1, 101, 201, 301))).To(Equal(1))

		stats := op.Stats()
		Expect(stats.Emitted).To(Equal(1))
		// Candidate probes stay linear in the input, far below the n
		// intermediate tuples a binary join order would build.
		Expect(stats.Candidates).To(BeNumerically("<=", 2*n+1))
	})

	It("retracts derived bindings incrementally", func() {
		op := dbsp.NewHyperJoin(3)
		_, err := op.Process(zsetOf(tup(1, 10)), zsetOf(tup(1, 20)), zsetOf(tup(1, 30)))
		Expect(err).NotTo(HaveOccurred())

		neg := zset.New()
		neg.AddTuple(tup(1, 20), -1)
		out, err := op.Process(zset.New(), neg, zset.New())
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Mult(tup(1, 10, 20, 30))).To(Equal(-1))
	})
})

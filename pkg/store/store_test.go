package store_test

import (
	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/reflow/pkg/data"
	"github.com/l7mp/reflow/pkg/store"
)

func newStore(attrs map[data.Aid]store.Config) *store.Store {
	s := store.New(logr.Discard())
	for name, cfg := range attrs {
		ExpectWithOffset(1, s.CreateAttribute(name, cfg)).To(Succeed())
	}
	return s
}

func categoryOf(err error) string {
	de, ok := err.(*data.Error)
	ExpectWithOffset(1, ok).To(BeTrue(), "expected a categorized error, got %v", err)
	return de.Category
}

var _ = Describe("Attribute catalog", func() {
	It("rejects redefinition", func() {
		s := newStore(map[data.Aid]store.Config{":name": {Semantics: store.Raw}})
		err := s.CreateAttribute(":name", store.Config{Semantics: store.Raw})
		Expect(err).To(HaveOccurred())
		Expect(categoryOf(err)).To(Equal(data.ErrConflict))
	})

	It("rejects transactions on unknown attributes", func() {
		s := newStore(nil)
		err := s.Apply([]data.TxData{data.Add(1, ":nope", data.String("x"))}, 1)
		Expect(err).To(HaveOccurred())
		Expect(categoryOf(err)).To(Equal(data.ErrNotFound))
	})

	It("defaults empty semantics to raw", func() {
		s := newStore(map[data.Aid]store.Config{":x": {}})
		Expect(s.HasAttribute(":x")).To(BeTrue())
	})
})

var _ = Describe("Frontier", func() {
	It("keeps staged batches invisible until AdvanceTo", func() {
		s := newStore(map[data.Aid]store.Config{":age": {Semantics: store.Raw}})
		Expect(s.Apply([]data.TxData{data.Add(1, ":age", data.Number(30))}, 5)).To(Succeed())

		deltas, err := s.AdvanceTo(4)
		Expect(err).NotTo(HaveOccurred())
		Expect(deltas).To(BeEmpty())

		deltas, err = s.AdvanceTo(5)
		Expect(err).NotTo(HaveOccurred())
		Expect(deltas).To(HaveKey(data.Aid(":age")))
		Expect(deltas[":age"].Size()).To(Equal(1))
		Expect(s.Frontier()).To(Equal(data.Time(5)))
	})

	It("treats a transaction below the frontier as fatal", func() {
		s := newStore(map[data.Aid]store.Config{":age": {Semantics: store.Raw}})
		_, err := s.AdvanceTo(10)
		Expect(err).NotTo(HaveOccurred())

		err = s.Apply([]data.TxData{data.Add(1, ":age", data.Number(1))}, 3)
		Expect(err).To(HaveOccurred())
		Expect(categoryOf(err)).To(Equal(data.ErrFatal))
	})

	It("consolidates multiple due batches into one delta", func() {
		s := newStore(map[data.Aid]store.Config{":age": {Semantics: store.Raw}})
		Expect(s.Apply([]data.TxData{data.Add(1, ":age", data.Number(30))}, 1)).To(Succeed())
		Expect(s.Apply([]data.TxData{data.Retract(1, ":age", data.Number(30))}, 2)).To(Succeed())

		deltas, err := s.AdvanceTo(2)
		Expect(err).NotTo(HaveOccurred())
		Expect(deltas).To(BeEmpty())
	})
})

var _ = Describe("Input semantics", func() {
	tup := func(e data.Eid, v data.Value) data.Tuple {
		return data.Tuple{data.EidValue(e), v}
	}

	It("replaces the prior value under cardinality-one", func() {
		s := newStore(map[data.Aid]store.Config{":name": {Semantics: store.CardinalityOne}})
		Expect(s.Apply([]data.TxData{data.Add(1, ":name", data.String("ann"))}, 1)).To(Succeed())
		_, err := s.AdvanceTo(1)
		Expect(err).NotTo(HaveOccurred())

		Expect(s.Apply([]data.TxData{data.Add(1, ":name", data.String("bob"))}, 2)).To(Succeed())
		deltas, err := s.AdvanceTo(2)
		Expect(err).NotTo(HaveOccurred())

		d := deltas[":name"]
		Expect(d.Mult(tup(1, data.String("ann")))).To(Equal(-1))
		Expect(d.Mult(tup(1, data.String("bob")))).To(Equal(1))

		coll, err := s.Collection(":name")
		Expect(err).NotTo(HaveOccurred())
		Expect(coll.Size()).To(Equal(1))
		Expect(coll.Mult(tup(1, data.String("bob")))).To(Equal(1))
	})

	It("ignores a repeated cardinality-one assertion of the same value", func() {
		s := newStore(map[data.Aid]store.Config{":name": {Semantics: store.CardinalityOne}})
		Expect(s.Apply([]data.TxData{data.Add(1, ":name", data.String("ann"))}, 1)).To(Succeed())
		_, err := s.AdvanceTo(1)
		Expect(err).NotTo(HaveOccurred())

		Expect(s.Apply([]data.TxData{data.Add(1, ":name", data.String("ann"))}, 2)).To(Succeed())
		deltas, err := s.AdvanceTo(2)
		Expect(err).NotTo(HaveOccurred())
		Expect(deltas).To(BeEmpty())
	})

	It("dedupes pairs under cardinality-many", func() {
		s := newStore(map[data.Aid]store.Config{":tag": {Semantics: store.CardinalityMany}})
		Expect(s.Apply([]data.TxData{
			data.Add(1, ":tag", data.String("red")),
		}, 1)).To(Succeed())
		_, err := s.AdvanceTo(1)
		Expect(err).NotTo(HaveOccurred())

		// A second assertion is absorbed, one retraction removes it.
		Expect(s.Apply([]data.TxData{data.Add(1, ":tag", data.String("red"))}, 2)).To(Succeed())
		deltas, err := s.AdvanceTo(2)
		Expect(err).NotTo(HaveOccurred())
		Expect(deltas).To(BeEmpty())

		Expect(s.Apply([]data.TxData{data.Retract(1, ":tag", data.String("red"))}, 3)).To(Succeed())
		deltas, err = s.AdvanceTo(3)
		Expect(err).NotTo(HaveOccurred())
		Expect(deltas[":tag"].Mult(tup(1, data.String("red")))).To(Equal(-1))

		coll, err := s.Collection(":tag")
		Expect(err).NotTo(HaveOccurred())
		Expect(coll.IsZero()).To(BeTrue())
	})

	It("keeps raw multiplicities as transacted", func() {
		s := newStore(map[data.Aid]store.Config{":hit": {Semantics: store.Raw}})
		Expect(s.Apply([]data.TxData{
			data.Add(1, ":hit", data.Number(1)),
			data.Add(1, ":hit", data.Number(1)),
		}, 1)).To(Succeed())
		deltas, err := s.AdvanceTo(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(deltas[":hit"].Mult(tup(1, data.Number(1)))).To(Equal(2))
	})
})

var _ = Describe("Scan", func() {
	It("returns a sorted, restartable snapshot", func() {
		s := newStore(map[data.Aid]store.Config{":edge": {Semantics: store.Raw}})
		Expect(s.Apply([]data.TxData{
			data.Add(2, ":edge", data.EidValue(3)),
			data.Add(1, ":edge", data.EidValue(2)),
		}, 1)).To(Succeed())
		_, err := s.AdvanceTo(1)
		Expect(err).NotTo(HaveOccurred())

		it, err := s.Scan(":edge", nil, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(it.Len()).To(Equal(2))

		f, ok := it.Next()
		Expect(ok).To(BeTrue())
		Expect(f.E).To(Equal(data.Eid(1)))
		f, ok = it.Next()
		Expect(ok).To(BeTrue())
		Expect(f.E).To(Equal(data.Eid(2)))
		_, ok = it.Next()
		Expect(ok).To(BeFalse())

		it.Reset()
		f, ok = it.Next()
		Expect(ok).To(BeTrue())
		Expect(f.E).To(Equal(data.Eid(1)))
	})

	It("filters by entity", func() {
		s := newStore(map[data.Aid]store.Config{":edge": {Semantics: store.Raw}})
		Expect(s.Apply([]data.TxData{
			data.Add(1, ":edge", data.EidValue(2)),
			data.Add(2, ":edge", data.EidValue(3)),
		}, 1)).To(Succeed())
		_, err := s.AdvanceTo(1)
		Expect(err).NotTo(HaveOccurred())

		e := data.Eid(2)
		it, err := s.Scan(":edge", &e, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(it.Len()).To(Equal(1))
		f, _ := it.Next()
		Expect(f.E).To(Equal(data.Eid(2)))
	})

	It("serves reads within the slack and rejects compacted times", func() {
		s := newStore(map[data.Aid]store.Config{":age": {Semantics: store.Raw, Slack: 2}})
		Expect(s.Apply([]data.TxData{data.Add(1, ":age", data.Number(30))}, 1)).To(Succeed())
		_, err := s.AdvanceTo(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Apply([]data.TxData{data.Add(2, ":age", data.Number(40))}, 3)).To(Succeed())
		_, err = s.AdvanceTo(3)
		Expect(err).NotTo(HaveOccurred())

		// At time 1 the second fact is not yet visible.
		it, err := s.Scan(":age", nil, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(it.Len()).To(Equal(1))

		// At the frontier both are.
		it, err = s.Scan(":age", nil, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(it.Len()).To(Equal(2))

		// Beyond the slack the history is gone.
		_, err = s.AdvanceTo(10)
		Expect(err).NotTo(HaveOccurred())
		_, err = s.Scan(":age", nil, 1)
		Expect(err).To(HaveOccurred())
		Expect(categoryOf(err)).To(Equal(data.ErrNotFound))
	})

	It("rejects scans beyond the frontier", func() {
		s := newStore(map[data.Aid]store.Config{":age": {Semantics: store.Raw}})
		_, err := s.Scan(":age", nil, 5)
		Expect(err).To(HaveOccurred())
		Expect(categoryOf(err)).To(Equal(data.ErrConflict))
	})
})

var _ = Describe("Collection", func() {
	It("materializes the consolidated state for bootstrap", func() {
		s := newStore(map[data.Aid]store.Config{":edge": {Semantics: store.Raw}})
		Expect(s.Apply([]data.TxData{
			data.Add(1, ":edge", data.EidValue(2)),
			data.Add(2, ":edge", data.EidValue(3)),
			data.Retract(1, ":edge", data.EidValue(2)),
		}, 1)).To(Succeed())
		_, err := s.AdvanceTo(1)
		Expect(err).NotTo(HaveOccurred())

		coll, err := s.Collection(":edge")
		Expect(err).NotTo(HaveOccurred())
		Expect(coll.Size()).To(Equal(1))
		Expect(coll.Mult(data.Tuple{data.EidValue(2), data.EidValue(3)})).To(Equal(1))
	})
})

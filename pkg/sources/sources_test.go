package sources_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/reflow/pkg/data"
	"github.com/l7mp/reflow/pkg/sources"
)

func writeFile(path, content string) {
	ExpectWithOffset(1, os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
}

var _ = Describe("File sources", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	It("pulls typed facts from a CSV file", func() {
		path := filepath.Join(dir, "facts.csv")
		writeFile(path, "# id, value\n1,alice\n2,42\n3,2.5\n4,true\n")

		src, err := sources.New(logr.Discard(), sources.Config{
			Attribute: ":name", Kind: "csv", Path: path,
		})
		Expect(err).NotTo(HaveOccurred())

		txs, err := src.Pull(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(txs).To(ConsistOf(
			data.Add(1, ":name", data.String("alice")),
			data.Add(2, ":name", data.Number(42)),
			data.Add(3, ":name", data.Float(2.5)),
			data.Add(4, ":name", data.Bool(true)),
		))
	})

	It("pulls tagged facts from a JSON file", func() {
		path := filepath.Join(dir, "facts.json")
		writeFile(path, `[{"e":1,"v":{"string":"alice"}},{"e":2,"v":{"eid":7}}]`)

		src, err := sources.New(logr.Discard(), sources.Config{
			Attribute: ":ref", Kind: "json", Path: path,
		})
		Expect(err).NotTo(HaveOccurred())

		txs, err := src.Pull(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(txs).To(ConsistOf(
			data.Add(1, ":ref", data.String("alice")),
			data.Add(2, ":ref", data.EidValue(7)),
		))
	})

	It("rejects unknown source kinds", func() {
		_, err := sources.New(logr.Discard(), sources.Config{Kind: "xml", Path: "x"})
		Expect(err).To(HaveOccurred())
	})

	It("appends result deltas to a JSON sink", func() {
		path := filepath.Join(dir, "out.jsonl")
		snk, err := sources.NewSink(logr.Discard(), sources.SinkConfig{
			Attribute: ":name", Kind: "json", Path: path,
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(snk.Push(context.Background(), []data.ResultDiff{
			{Tuple: data.Tuple{data.EidValue(1), data.String("alice")}, Time: 1, Diff: 1},
		})).To(Succeed())
		Expect(snk.Push(context.Background(), []data.ResultDiff{
			{Tuple: data.Tuple{data.EidValue(1), data.String("alice")}, Time: 2, Diff: -1},
		})).To(Succeed())

		b, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		lines := strings.Split(strings.TrimSpace(string(b)), "\n")
		Expect(lines).To(HaveLen(2))

		var d data.ResultDiff
		Expect(json.Unmarshal([]byte(lines[0]), &d)).To(Succeed())
		Expect(d).To(Equal(data.ResultDiff{
			Tuple: data.Tuple{data.EidValue(1), data.String("alice")}, Time: 1, Diff: 1,
		}))
		Expect(json.Unmarshal([]byte(lines[1]), &d)).To(Succeed())
		Expect(d.Diff).To(Equal(-1))
		Expect(d.Time).To(Equal(data.Time(2)))
	})

	It("appends result deltas to a CSV sink", func() {
		path := filepath.Join(dir, "out.csv")
		snk, err := sources.NewSink(logr.Discard(), sources.SinkConfig{
			Attribute: ":name", Kind: "csv", Path: path,
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(snk.Push(context.Background(), []data.ResultDiff{
			{Tuple: data.Tuple{data.EidValue(7), data.Number(42)}, Time: 3, Diff: 1},
		})).To(Succeed())

		b, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(strings.TrimSpace(string(b))).To(Equal("3,1,#7,42"))
	})

	It("rejects unknown sink kinds", func() {
		_, err := sources.NewSink(logr.Discard(), sources.SinkConfig{Kind: "xml", Path: "x"})
		Expect(err).To(HaveOccurred())
	})

	It("streams deltas as the file changes", func() {
		path := filepath.Join(dir, "facts.csv")
		writeFile(path, "1,alice\n2,bob\n")

		src, err := sources.New(logr.Discard(), sources.Config{
			Attribute: ":name", Kind: "csv", Path: path,
		})
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		DeferCleanup(cancel)
		out := make(chan []data.TxData, 16)
		go func() { _ = src.Watch(ctx, out) }()

		// The first batch is the full current set.
		var batch []data.TxData
		Eventually(out, "5s").Should(Receive(&batch))
		Expect(batch).To(ConsistOf(
			data.Add(1, ":name", data.String("alice")),
			data.Add(2, ":name", data.String("bob")),
		))

		// Dropping a row and adding another shows up as a delta.
		writeFile(path, "1,alice\n3,carol\n")
		Eventually(out, "5s").Should(Receive(&batch))
		Expect(batch).To(ConsistOf(
			data.Retract(2, ":name", data.String("bob")),
			data.Add(3, ":name", data.String("carol")),
		))

		// Removing the file retracts everything left.
		Expect(os.Remove(path)).To(Succeed())
		Eventually(out, "5s").Should(Receive(&batch))
		Expect(batch).To(ConsistOf(
			data.Retract(1, ":name", data.String("alice")),
			data.Retract(3, ":name", data.String("carol")),
		))
	})
})

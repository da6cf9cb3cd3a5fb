// Package store implements the attribute store: per-attribute indexed
// multisets of (entity, value) facts with a logical-time frontier. Batches
// apply at a future time and become visible, consolidated, when the frontier
// advances past them. Attributes carry input semantics enforced on flush and
// a trace slack bounding how far behind the frontier a scan may read.
package store

import (
	"fmt"
	"sort"

	"github.com/go-logr/logr"

	"github.com/l7mp/reflow/pkg/data"
	"github.com/l7mp/reflow/pkg/zset"
)

// Semantics controls how raw transaction tuples of an attribute are
// interpreted on flush.
type Semantics string

const (
	// Raw applies diffs exactly as transacted.
	Raw Semantics = "raw"
	// CardinalityOne keeps one value per entity: asserting a new value
	// retracts the previous one.
	CardinalityOne Semantics = "cardinality-one"
	// CardinalityMany keeps a set of values per entity: repeated
	// assertions of the same (entity, value) pair collapse to one.
	CardinalityMany Semantics = "cardinality-many"
)

// Config declares an attribute.
type Config struct {
	Semantics Semantics `json:"semantics" yaml:"semantics"`
	// Slack is the compaction lag: scans may read up to Slack time units
	// behind the frontier, older history is discarded.
	Slack uint64 `json:"slack,omitempty" yaml:"slack,omitempty"`
}

// Store holds all attributes. It is not safe for concurrent use; the engine
// goroutine owns it.
type Store struct {
	attrs    map[data.Aid]*attribute
	pending  []pendingBatch
	frontier data.Time
	log      logr.Logger
}

type pendingBatch struct {
	time data.Time
	txs  []data.TxData
}

type attribute struct {
	name  data.Aid
	cfg   Config
	index *eavIndex
	// Flushed per-time deltas, oldest first, pruned to cfg.Slack.
	history []logEntry
}

type logEntry struct {
	time  data.Time
	delta *zset.ZSet
}

// New creates an empty store.
func New(log logr.Logger) *Store {
	return &Store{
		attrs: map[data.Aid]*attribute{},
		log:   log.WithName("store"),
	}
}

// CreateAttribute registers an attribute. Redefining an existing attribute is
// a conflict.
func (s *Store) CreateAttribute(name data.Aid, cfg Config) error {
	if _, ok := s.attrs[name]; ok {
		return &data.Error{Category: data.ErrConflict,
			Message: fmt.Sprintf("attribute %q already exists", name)}
	}
	switch cfg.Semantics {
	case Raw, CardinalityOne, CardinalityMany:
	case "":
		cfg.Semantics = Raw
	default:
		return &data.Error{Category: data.ErrConflict,
			Message: fmt.Sprintf("unknown input semantics %q", cfg.Semantics)}
	}
	s.attrs[name] = &attribute{name: name, cfg: cfg, index: newEAVIndex()}
	s.log.V(1).Info("attribute created", "name", name, "semantics", cfg.Semantics,
		"slack", cfg.Slack)
	return nil
}

// HasAttribute reports whether the attribute is defined.
func (s *Store) HasAttribute(name data.Aid) bool {
	_, ok := s.attrs[name]
	return ok
}

// Attributes lists the defined attribute names, sorted.
func (s *Store) Attributes() []data.Aid {
	out := make([]data.Aid, 0, len(s.attrs))
	for a := range s.attrs {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Frontier returns the time up to which all changes are visible.
func (s *Store) Frontier() data.Time { return s.frontier }

// Apply stages a transaction batch at the given time. The batch becomes
// visible when AdvanceTo passes it. Applying below the frontier is a progress
// violation and returns a fatal error; the caller must not continue.
func (s *Store) Apply(txs []data.TxData, t data.Time) error {
	if t < s.frontier {
		return &data.Error{Category: data.ErrFatal,
			Message: fmt.Sprintf("transaction at time %d below frontier %d", t, s.frontier)}
	}
	for _, tx := range txs {
		if _, ok := s.attrs[tx.A]; !ok {
			return &data.Error{Category: data.ErrNotFound,
				Message: fmt.Sprintf("transaction on unknown attribute %q", tx.A)}
		}
		if tx.Diff == 0 {
			return &data.Error{Category: data.ErrConflict,
				Message: "transaction tuple with zero diff"}
		}
	}
	s.pending = append(s.pending, pendingBatch{time: t, txs: txs})
	s.log.V(4).Info("batch staged", "time", t, "tuples", len(txs))
	return nil
}

// AdvanceTo moves the frontier to t, flushing every staged batch at or below
// t into the indexes. It returns the per-attribute fact deltas that became
// visible, each tuple of the form (entity, value), consolidated across the
// flushed batches and adjusted for the attribute's input semantics.
func (s *Store) AdvanceTo(t data.Time) (map[data.Aid]*zset.ZSet, error) {
	if t < s.frontier {
		return nil, &data.Error{Category: data.ErrFatal,
			Message: fmt.Sprintf("frontier moved backwards, %d below %d", t, s.frontier)}
	}

	var due []pendingBatch
	rest := s.pending[:0]
	for _, b := range s.pending {
		if b.time <= t {
			due = append(due, b)
		} else {
			rest = append(rest, b)
		}
	}
	s.pending = rest
	sort.SliceStable(due, func(i, j int) bool { return due[i].time < due[j].time })

	deltas := map[data.Aid]*zset.ZSet{}
	for _, b := range due {
		perAttr := map[data.Aid]*zset.ZSet{}
		for _, tx := range b.txs {
			attr := s.attrs[tx.A]
			d := attr.flushOne(tx)
			if d.IsZero() {
				continue
			}
			if perAttr[tx.A] == nil {
				perAttr[tx.A] = zset.New()
			}
			perAttr[tx.A].Add(d)
		}
		for name, d := range perAttr {
			attr := s.attrs[name]
			attr.history = append(attr.history, logEntry{time: b.time, delta: d.Copy()})
			if deltas[name] == nil {
				deltas[name] = zset.New()
			}
			deltas[name].Add(d)
		}
	}

	s.frontier = t
	for _, attr := range s.attrs {
		attr.compact(t)
	}
	for name, d := range deltas {
		if d.IsZero() {
			delete(deltas, name)
			continue
		}
		s.log.V(4).Info("attribute delta", "name", name, "size", d.Size())
	}
	return deltas, nil
}

// flushOne applies a single transaction tuple to the attribute index under
// its input semantics and returns the resulting visible delta.
func (a *attribute) flushOne(tx data.TxData) *zset.ZSet {
	d := zset.New()
	switch a.cfg.Semantics {
	case Raw:
		d.AddTuple(factTuple(tx.E, tx.V), tx.Diff)

	case CardinalityOne:
		if tx.Diff > 0 {
			if prev, ok := a.index.value(tx.E); ok {
				if prev.Compare(tx.V) == 0 {
					return d
				}
				d.AddTuple(factTuple(tx.E, prev), -1)
			}
			d.AddTuple(factTuple(tx.E, tx.V), 1)
		} else {
			if prev, ok := a.index.value(tx.E); ok && prev.Compare(tx.V) == 0 {
				d.AddTuple(factTuple(tx.E, tx.V), -1)
			}
		}

	case CardinalityMany:
		n := a.index.count(tx.E, tx.V)
		if tx.Diff > 0 && n == 0 {
			d.AddTuple(factTuple(tx.E, tx.V), 1)
		} else if tx.Diff < 0 && n > 0 {
			d.AddTuple(factTuple(tx.E, tx.V), -1)
		}
	}

	d.Each(func(tup data.Tuple, mult int) {
		e, _ := tup[0].Eid()
		a.index.add(e, tup[1], mult)
	})
	return d
}

// compact drops history the slack no longer covers.
func (a *attribute) compact(frontier data.Time) {
	if uint64(frontier) <= a.cfg.Slack {
		return
	}
	bound := frontier - data.Time(a.cfg.Slack)
	i := 0
	for i < len(a.history) && a.history[i].time < bound {
		i++
	}
	a.history = a.history[i:]
}

// Collection returns the consolidated (entity, value) multiset of an
// attribute at the frontier. Used to bootstrap newly compiled queries.
func (s *Store) Collection(name data.Aid) (*zset.ZSet, error) {
	attr, ok := s.attrs[name]
	if !ok {
		return nil, &data.Error{Category: data.ErrNotFound,
			Message: fmt.Sprintf("unknown attribute %q", name)}
	}
	return attr.index.collection(), nil
}

func factTuple(e data.Eid, v data.Value) data.Tuple {
	return data.Tuple{data.EidValue(e), v}
}

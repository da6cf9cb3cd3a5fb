// Package zset implements Z-sets (multisets with signed integer
// multiplicities) over flat value tuples. Z-sets are the currency of the
// incremental operator runtime: a Z-set with mixed signs is a delta, one with
// only positive multiplicities is a consolidated collection.
package zset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/l7mp/reflow/pkg/data"
)

// ZSet maps tuples to multiplicities. Tuples are keyed by their deterministic
// encoding since slices are not comparable.
type ZSet struct {
	tuples map[string]data.Tuple
	counts map[string]int
}

// New creates an empty Z-set.
func New() *ZSet {
	return &ZSet{
		tuples: make(map[string]data.Tuple),
		counts: make(map[string]int),
	}
}

// Singleton creates a Z-set containing one tuple with multiplicity 1.
func Singleton(t data.Tuple) *ZSet {
	z := New()
	z.AddTuple(t, 1)
	return z
}

// FromTuples creates a Z-set from tuples, each with multiplicity 1.
func FromTuples(ts []data.Tuple) *ZSet {
	z := New()
	for _, t := range ts {
		z.AddTuple(t, 1)
	}
	return z
}

// AddTuple adds a tuple with the given multiplicity in place. Entries whose
// multiplicity reaches zero are removed, so the Z-set is always consolidated.
func (z *ZSet) AddTuple(t data.Tuple, count int) {
	if count == 0 {
		return
	}
	key := data.EncodeTuple(t)
	if _, ok := z.counts[key]; ok {
		z.counts[key] += count
	} else {
		z.tuples[key] = t
		z.counts[key] = count
	}
	if z.counts[key] == 0 {
		delete(z.counts, key)
		delete(z.tuples, key)
	}
}

// Add performs Z-set addition (union with multiplicity) in place.
func (z *ZSet) Add(other *ZSet) {
	if other == nil {
		return
	}
	for key, count := range other.counts {
		z.AddTuple(other.tuples[key], count)
	}
}

// Subtract performs Z-set subtraction in place.
func (z *ZSet) Subtract(other *ZSet) {
	if other == nil {
		return
	}
	for key, count := range other.counts {
		z.AddTuple(other.tuples[key], -count)
	}
}

// Plus returns a new Z-set holding z + other.
func (z *ZSet) Plus(other *ZSet) *ZSet {
	out := z.Copy()
	out.Add(other)
	return out
}

// Negate returns a new Z-set with all multiplicities negated.
func (z *ZSet) Negate() *ZSet {
	out := New()
	for key, count := range z.counts {
		out.tuples[key] = z.tuples[key]
		out.counts[key] = -count
	}
	return out
}

// Distinct converts to set semantics: every tuple with positive multiplicity
// appears once, negative multiplicities are dropped.
func (z *ZSet) Distinct() *ZSet {
	out := New()
	for key, count := range z.counts {
		if count > 0 {
			out.tuples[key] = z.tuples[key]
			out.counts[key] = 1
		}
	}
	return out
}

// Copy creates a copy of the Z-set. Tuples are shared; they are immutable by
// convention.
func (z *ZSet) Copy() *ZSet {
	out := &ZSet{
		tuples: make(map[string]data.Tuple, len(z.tuples)),
		counts: make(map[string]int, len(z.counts)),
	}
	for key, t := range z.tuples {
		out.tuples[key] = t
		out.counts[key] = z.counts[key]
	}
	return out
}

// Entry is a tuple with its multiplicity.
type Entry struct {
	Tuple data.Tuple
	Mult  int
}

// Entries returns all entries ordered by tuple encoding, for deterministic
// iteration.
func (z *ZSet) Entries() []Entry {
	keys := make([]string, 0, len(z.counts))
	for key := range z.counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]Entry, 0, len(keys))
	for _, key := range keys {
		out = append(out, Entry{Tuple: z.tuples[key], Mult: z.counts[key]})
	}
	return out
}

// Each calls fn for every entry. Iteration order is unspecified.
func (z *ZSet) Each(fn func(t data.Tuple, mult int)) {
	for key, count := range z.counts {
		fn(z.tuples[key], count)
	}
}

// Mult returns the multiplicity of a tuple (zero if absent).
func (z *ZSet) Mult(t data.Tuple) int {
	return z.counts[data.EncodeTuple(t)]
}

// Contains reports whether the tuple is present with positive multiplicity.
func (z *ZSet) Contains(t data.Tuple) bool {
	return z.Mult(t) > 0
}

// IsZero reports whether the Z-set is empty.
func (z *ZSet) IsZero() bool { return len(z.counts) == 0 }

// Size returns the number of tuples counting positive multiplicities.
func (z *ZSet) Size() int {
	total := 0
	for _, count := range z.counts {
		if count > 0 {
			total += count
		}
	}
	return total
}

// UniqueCount returns the number of distinct tuples with positive
// multiplicity.
func (z *ZSet) UniqueCount() int {
	n := 0
	for _, count := range z.counts {
		if count > 0 {
			n++
		}
	}
	return n
}

// Tuples returns the distinct tuples with positive multiplicity, ordered by
// encoding.
func (z *ZSet) Tuples() []data.Tuple {
	out := make([]data.Tuple, 0, len(z.counts))
	for _, e := range z.Entries() {
		if e.Mult > 0 {
			out = append(out, e.Tuple)
		}
	}
	return out
}

// String returns a debug representation.
func (z *ZSet) String() string {
	if z.IsZero() {
		return "∅"
	}
	parts := make([]string, 0, len(z.counts))
	for _, e := range z.Entries() {
		parts = append(parts, fmt.Sprintf("%s×%d", e.Tuple, e.Mult))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

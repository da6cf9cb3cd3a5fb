package plan

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Hash computes the canonical content hash of a plan. Variables are renamed
// to positional slots in first-occurrence order, so alpha-equivalent plans
// (identical up to variable naming) hash identically and collapse onto one
// compiled operator instance.
func Hash(n Node) uint64 {
	h := &canonicalHasher{
		digest: xxhash.New(),
		slots:  map[Var]int{},
	}
	h.walk(n)
	return h.digest.Sum64()
}

type canonicalHasher struct {
	digest *xxhash.Digest
	slots  map[Var]int
}

func (h *canonicalHasher) str(s string) {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(s)))
	h.digest.Write(l[:])
	h.digest.WriteString(s)
}

func (h *canonicalHasher) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	h.digest.Write(b[:])
}

func (h *canonicalHasher) slot(v Var) {
	s, ok := h.slots[v]
	if !ok {
		s = len(h.slots)
		h.slots[v] = s
	}
	h.u64(uint64(s))
}

func (h *canonicalHasher) walk(n Node) {
	h.str(n.opName())
	switch t := n.(type) {
	case *Match:
		h.str(t.A)
		h.slot(t.E)
		h.slot(t.V)
	case *MatchEA:
		h.str(t.A)
		h.u64(uint64(t.E))
		h.slot(t.V)
	case *MatchAV:
		h.str(t.A)
		h.str(t.V.Encode())
		h.slot(t.E)
	case *Join:
		h.walk(t.Left)
		h.walk(t.Right)
	case *HyperJoin:
		h.slot(t.On)
		h.u64(uint64(len(t.Inputs)))
		for _, in := range t.Inputs {
			h.walk(in)
		}
	case *Antijoin:
		h.walk(t.Left)
		h.walk(t.Right)
	case *Union:
		for _, v := range t.UnionVars {
			h.slot(v)
		}
		h.u64(uint64(len(t.Inputs)))
		for _, in := range t.Inputs {
			h.walk(in)
		}
	case *Project:
		for _, v := range t.ProjVars {
			h.slot(v)
		}
		h.walk(t.Input)
	case *Filter:
		h.str(string(t.Pred))
		h.operand(t.Left)
		h.operand(t.Right)
		h.walk(t.Input)
	case *Aggregate:
		h.str(string(t.Fn))
		for _, v := range t.Key {
			h.slot(v)
		}
		h.slot(t.Value)
		h.walk(t.Input)
	case *RuleRef:
		h.str(t.Name)
		for _, v := range t.RefVars {
			h.slot(v)
		}
	default:
		// Unknown node kinds must never hash-collide with known ones.
		h.str(fmt.Sprintf("%T", n))
	}
}

func (h *canonicalHasher) operand(o Operand) {
	if o.Const != nil {
		h.str("c")
		h.str(o.Const.Encode())
	} else {
		h.str("v")
		h.slot(o.Var)
	}
}

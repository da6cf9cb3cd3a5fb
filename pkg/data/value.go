// Package data defines the core vocabulary of the engine: entities,
// attributes, values, datoms and logical time.
package data

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Eid is a unique entity identifier.
type Eid uint64

// Aid is a unique attribute identifier.
type Aid = string

// Time is a totally ordered logical timestamp.
type Time uint64

// Kind enumerates the supported value types.
type Kind uint8

const (
	KindAid Kind = iota + 1
	KindString
	KindBool
	KindNumber
	KindFloat
	KindEid
	KindInstant
	KindUuid
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindAid:
		return "aid"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindFloat:
		return "float"
	case KindEid:
		return "eid"
	case KindInstant:
		return "instant"
	case KindUuid:
		return "uuid"
	case KindList:
		return "list"
	}
	return "invalid"
}

// Value is a tagged scalar union, the least common denominator for the types
// of records moved around by the engine. The zero Value is invalid.
type Value struct {
	kind Kind
	str  string
	num  int64
	f    float64
	b    bool
	u    uuid.UUID
	list []Value
}

func AidValue(a Aid) Value    { return Value{kind: KindAid, str: a} }
func String(s string) Value   { return Value{kind: KindString, str: s} }
func Bool(b bool) Value       { return Value{kind: KindBool, b: b} }
func Number(n int64) Value    { return Value{kind: KindNumber, num: n} }
func Float(f float64) Value   { return Value{kind: KindFloat, f: f} }
func EidValue(e Eid) Value    { return Value{kind: KindEid, num: int64(e)} }
func Instant(ms uint64) Value { return Value{kind: KindInstant, num: int64(ms)} }
func Uuid(u uuid.UUID) Value  { return Value{kind: KindUuid, u: u} }
func List(vs ...Value) Value  { return Value{kind: KindList, list: vs} }

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsValid() bool { return v.kind != 0 }

// Accessors return the payload and whether the value holds that kind.

func (v Value) Aid() (Aid, bool)        { return v.str, v.kind == KindAid }
func (v Value) Str() (string, bool)     { return v.str, v.kind == KindString }
func (v Value) Boolean() (bool, bool)   { return v.b, v.kind == KindBool }
func (v Value) Num() (int64, bool)      { return v.num, v.kind == KindNumber }
func (v Value) Flt() (float64, bool)    { return v.f, v.kind == KindFloat }
func (v Value) Eid() (Eid, bool)        { return Eid(v.num), v.kind == KindEid }
func (v Value) Inst() (uint64, bool)    { return uint64(v.num), v.kind == KindInstant }
func (v Value) Uuid() (uuid.UUID, bool) { return v.u, v.kind == KindUuid }
func (v Value) List() ([]Value, bool)   { return v.list, v.kind == KindList }

// Numeric returns the value as a float64 for arithmetic reducers.
func (v Value) Numeric() (float64, bool) {
	switch v.kind {
	case KindNumber, KindInstant:
		return float64(v.num), true
	case KindFloat:
		return v.f, true
	}
	return 0, false
}

// Compare imposes a total order on values: first by kind, then by payload.
func (v Value) Compare(o Value) int {
	if v.kind != o.kind {
		if v.kind < o.kind {
			return -1
		}
		return 1
	}
	switch v.kind {
	case KindAid, KindString:
		return strings.Compare(v.str, o.str)
	case KindBool:
		switch {
		case v.b == o.b:
			return 0
		case !v.b:
			return -1
		default:
			return 1
		}
	case KindNumber, KindEid, KindInstant:
		switch {
		case v.num == o.num:
			return 0
		case v.num < o.num:
			return -1
		default:
			return 1
		}
	case KindFloat:
		switch {
		case v.f == o.f:
			return 0
		case v.f < o.f:
			return -1
		default:
			return 1
		}
	case KindUuid:
		return strings.Compare(v.u.String(), o.u.String())
	case KindList:
		for i := 0; i < len(v.list) && i < len(o.list); i++ {
			if c := v.list[i].Compare(o.list[i]); c != 0 {
				return c
			}
		}
		return len(v.list) - len(o.list)
	}
	return 0
}

func (v Value) Equal(o Value) bool { return v.Compare(o) == 0 }

// EncodeTo appends a compact, order-preserving-per-kind key encoding used for
// multiset and index keys.
func (v Value) EncodeTo(b []byte) []byte {
	b = append(b, byte(v.kind))
	switch v.kind {
	case KindAid, KindString:
		b = binary.BigEndian.AppendUint32(b, uint32(len(v.str)))
		b = append(b, v.str...)
	case KindBool:
		if v.b {
			b = append(b, 1)
		} else {
			b = append(b, 0)
		}
	case KindNumber, KindEid, KindInstant:
		b = binary.BigEndian.AppendUint64(b, uint64(v.num))
	case KindFloat:
		b = binary.BigEndian.AppendUint64(b, math.Float64bits(v.f))
	case KindUuid:
		b = append(b, v.u[:]...)
	case KindList:
		b = binary.BigEndian.AppendUint32(b, uint32(len(v.list)))
		for _, e := range v.list {
			b = e.EncodeTo(b)
		}
	}
	return b
}

// Encode returns the key encoding as a string suitable for map keys.
func (v Value) Encode() string {
	return string(v.EncodeTo(make([]byte, 0, 16)))
}

func (v Value) String() string {
	switch v.kind {
	case KindAid:
		return ":" + v.str
	case KindString:
		return fmt.Sprintf("%q", v.str)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindNumber:
		return fmt.Sprintf("%d", v.num)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindEid:
		return fmt.Sprintf("#%d", v.num)
	case KindInstant:
		return fmt.Sprintf("@%d", v.num)
	case KindUuid:
		return v.u.String()
	case KindList:
		elems := make([]string, len(v.list))
		for i, e := range v.list {
			elems[i] = e.String()
		}
		return "[" + strings.Join(elems, " ") + "]"
	}
	return "<invalid>"
}

// valueJSON is the tagged wire representation of a value. Exactly one field
// is set.
type valueJSON struct {
	Aid     *string  `json:"aid,omitempty"`
	String  *string  `json:"string,omitempty"`
	Bool    *bool    `json:"bool,omitempty"`
	Number  *int64   `json:"number,omitempty"`
	Float   *float64 `json:"float,omitempty"`
	Eid     *uint64  `json:"eid,omitempty"`
	Instant *uint64  `json:"instant,omitempty"`
	Uuid    *string  `json:"uuid,omitempty"`
	List    []Value  `json:"list,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	var w valueJSON
	switch v.kind {
	case KindAid:
		w.Aid = &v.str
	case KindString:
		w.String = &v.str
	case KindBool:
		w.Bool = &v.b
	case KindNumber:
		w.Number = &v.num
	case KindFloat:
		w.Float = &v.f
	case KindEid:
		e := uint64(v.num)
		w.Eid = &e
	case KindInstant:
		i := uint64(v.num)
		w.Instant = &i
	case KindUuid:
		s := v.u.String()
		w.Uuid = &s
	case KindList:
		if v.list == nil {
			w.List = []Value{}
		} else {
			w.List = v.list
		}
	default:
		return nil, fmt.Errorf("cannot marshal invalid value")
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(b []byte) error {
	var w valueJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	switch {
	case w.Aid != nil:
		*v = AidValue(*w.Aid)
	case w.String != nil:
		*v = String(*w.String)
	case w.Bool != nil:
		*v = Bool(*w.Bool)
	case w.Number != nil:
		*v = Number(*w.Number)
	case w.Float != nil:
		*v = Float(*w.Float)
	case w.Eid != nil:
		*v = EidValue(Eid(*w.Eid))
	case w.Instant != nil:
		*v = Instant(*w.Instant)
	case w.Uuid != nil:
		u, err := uuid.Parse(*w.Uuid)
		if err != nil {
			return fmt.Errorf("invalid uuid value: %w", err)
		}
		*v = Uuid(u)
	case w.List != nil:
		*v = List(w.List...)
	default:
		return fmt.Errorf("value must carry exactly one type tag")
	}
	return nil
}

// SortValues sorts a value slice in place by the total order.
func SortValues(vs []Value) {
	sort.Slice(vs, func(i, j int) bool { return vs[i].Compare(vs[j]) < 0 })
}

// Package pvdata defines the narrow interfaces this client uses to talk to
// the (external, out of scope per spec.md §1) PV Data type system: structured
// payload construction, bitset change/overrun tracking, and serialization.
// Only a minimal concrete Scalar type is provided, sufficient for framing
// tests and for exercising Operation objects without a real schema library.
package pvdata

import "github.com/epics-pva/pvaclient-go/codec"

// FieldDesc is an opaque field/type descriptor as exchanged during
// introspection (spec.md §4.2 "Introspection registry"); the real type
// system defines its structure, this client only caches and forwards it.
type FieldDesc = any

// Serializable is implemented by any payload value this client puts on the
// wire or decodes off it — a PVStructure in the real type system, or the
// Scalar below for anything this module tests standalone.
type Serializable interface {
	// Encode appends this value's PVA wire encoding to buf.
	Encode(buf *codec.ByteBuffer) error
	// Decode reads this value's PVA wire encoding from buf, replacing its
	// contents.
	Decode(buf *codec.ByteBuffer) error
}

// BitSet tracks which top-level fields of a structure changed (or
// overran) between two monitor updates (spec.md §4.6, §8 "Back-pressure").
// A bit index corresponds to a field's position in the structure's
// introspection descriptor, matching the real PV Data BitSet semantics
// closely enough for this client's own bookkeeping.
type BitSet struct {
	words []uint64
}

func NewBitSet(nbits int) *BitSet {
	return &BitSet{words: make([]uint64, (nbits+63)/64)}
}

func (b *BitSet) Set(i int)   { b.grow(i); b.words[i/64] |= 1 << uint(i%64) }
func (b *BitSet) Clear(i int) { if i/64 < len(b.words) { b.words[i/64] &^= 1 << uint(i%64) } }
func (b *BitSet) Get(i int) bool {
	if i/64 >= len(b.words) {
		return false
	}
	return b.words[i/64]&(1<<uint(i%64)) != 0
}

func (b *BitSet) grow(i int) {
	need := i/64 + 1
	for len(b.words) < need {
		b.words = append(b.words, 0)
	}
}

// Or merges other's set bits into b in place — used to accumulate the
// overrun bitset across coalesced monitor updates (spec.md §4.6).
func (b *BitSet) Or(other *BitSet) {
	b.grow(len(other.words)*64 - 1)
	for i, w := range other.words {
		b.words[i] |= w
	}
}

func (b *BitSet) IsEmpty() bool {
	for _, w := range b.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// ScalarKind enumerates the subset of PV Data scalar types this module
// needs for its own tests and for the blocking get/put convenience API.
type ScalarKind byte

const (
	ScalarUnknown ScalarKind = iota
	ScalarDouble
	ScalarInt
	ScalarString
	ScalarBool
)

// Scalar is a minimal concrete Serializable sufficient for round-trip tests
// and for the blocking get/put convenience wrappers (spec.md §4.8); it is
// not a substitute for the real structured PV Data type system named out of
// scope in spec.md §1.
type Scalar struct {
	Kind   ScalarKind
	Double float64
	Int    int32
	Str    string
	Bool   bool
}

func (s *Scalar) Encode(buf *codec.ByteBuffer) error {
	if err := buf.PutByte(byte(s.Kind)); err != nil {
		return err
	}
	switch s.Kind {
	case ScalarDouble:
		bits := doubleBits(s.Double)
		return buf.PutUint64(bits)
	case ScalarInt:
		return buf.PutUint32(uint32(s.Int))
	case ScalarString:
		return buf.PutString(s.Str)
	case ScalarBool:
		v := byte(0)
		if s.Bool {
			v = 1
		}
		return buf.PutByte(v)
	default:
		return nil
	}
}

func (s *Scalar) Decode(buf *codec.ByteBuffer) error {
	kind, err := buf.GetByte()
	if err != nil {
		return err
	}
	s.Kind = ScalarKind(kind)
	switch s.Kind {
	case ScalarDouble:
		bits, err := buf.GetUint64()
		if err != nil {
			return err
		}
		s.Double = bitsDouble(bits)
	case ScalarInt:
		v, err := buf.GetUint32()
		if err != nil {
			return err
		}
		s.Int = int32(v)
	case ScalarString:
		v, err := buf.GetString()
		if err != nil {
			return err
		}
		s.Str = v
	case ScalarBool:
		v, err := buf.GetByte()
		if err != nil {
			return err
		}
		s.Bool = v != 0
	}
	return nil
}

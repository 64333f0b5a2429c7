package pvdata

import (
	"testing"

	"github.com/epics-pva/pvaclient-go/codec"
)

func TestScalarDoubleRoundTrip(t *testing.T) {
	s := &Scalar{Kind: ScalarDouble, Double: 1.23}
	buf := codec.NewByteBuffer(make([]byte, 32))
	if err := s.Encode(buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	buf.SetReadOffset(0)
	var out Scalar
	if err := out.Decode(buf); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Double != 1.23 {
		t.Fatalf("got %v, want 1.23", out.Double)
	}
}

func TestScalarStringRoundTrip(t *testing.T) {
	s := &Scalar{Kind: ScalarString, Str: "testScalar"}
	buf := codec.NewByteBuffer(make([]byte, 64))
	if err := s.Encode(buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	buf.SetReadOffset(0)
	var out Scalar
	if err := out.Decode(buf); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Str != "testScalar" {
		t.Fatalf("got %q, want testScalar", out.Str)
	}
}

func TestBitSetOrAccumulatesOverrun(t *testing.T) {
	a := NewBitSet(8)
	a.Set(1)
	b := NewBitSet(8)
	b.Set(3)
	a.Or(b)
	if !a.Get(1) || !a.Get(3) {
		t.Fatal("expected both bits set after Or")
	}
	if a.Get(2) {
		t.Fatal("bit 2 should not be set")
	}
}

func TestBitSetEmpty(t *testing.T) {
	b := NewBitSet(4)
	if !b.IsEmpty() {
		t.Fatal("freshly constructed bitset should be empty")
	}
	b.Set(0)
	if b.IsEmpty() {
		t.Fatal("expected non-empty after Set")
	}
}

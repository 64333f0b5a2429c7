package cos

import "testing"

func TestGenCIDUnique(t *testing.T) {
	seen := make(map[uint32]bool, 100)
	for i := 0; i < 100; i++ {
		id := GenCID()
		if seen[id] {
			t.Fatalf("duplicate CID generated: %d", id)
		}
		seen[id] = true
	}
}

func TestGenLabelUnique(t *testing.T) {
	InitIDGen(42)
	seen := make(map[string]bool, 100)
	for i := 0; i < 100; i++ {
		l := GenLabel()
		if seen[l] {
			t.Fatalf("duplicate label generated: %s", l)
		}
		seen[l] = true
	}
}

func TestHashAddrStable(t *testing.T) {
	a := HashAddr("10.0.0.1:5075", 0)
	b := HashAddr("10.0.0.1:5075", 0)
	if a != b {
		t.Fatalf("HashAddr not stable: %d != %d", a, b)
	}
	c := HashAddr("10.0.0.1:5075", 1)
	if a == c {
		t.Fatalf("HashAddr must differ across priority")
	}
}

package transport

import "testing"

func TestKeyDistinguishesPriority(t *testing.T) {
	a := key("host:5075", 0)
	b := key("host:5075", 1)
	if a == b {
		t.Fatalf("expected distinct keys for different priorities, got %d twice", a)
	}
}

func TestKeyStableForSameInput(t *testing.T) {
	a := key("host:5075", 3)
	b := key("host:5075", 3)
	if a != b {
		t.Fatalf("expected stable key, got %d vs %d", a, b)
	}
}

func TestConnectorCloseAllEmpty(t *testing.T) {
	c := NewConnector(HandshakeConfig{})
	c.CloseAll() // must not panic on an empty registry
}

package client

import (
	"testing"

	"github.com/epics-pva/pvaclient-go/registry"
)

func TestConnectRegistersChannelAndBeginsConnecting(t *testing.T) {
	p := newTestProvider(t)

	ch := p.Connect("test:scalar", 0)
	if ch.State() != Connecting {
		t.Fatalf("expected Connect to begin the CONNECTING transition, got %v", ch.State())
	}

	p.mu.Lock()
	_, tracked := p.channels[ch.CID()]
	p.mu.Unlock()
	if !tracked {
		t.Fatal("expected the provider to track the channel it created")
	}
}

func TestCloseDestroysChannelsAndIsIdempotent(t *testing.T) {
	p := newTestProvider(t)
	ch := p.Connect("test:scalar", 0)

	p.Close()
	if ch.State() != Destroyed {
		t.Fatalf("expected Close to destroy every channel it owns, got %v", ch.State())
	}

	p.Close() // must not panic or double-close background machinery
}

func TestMetricsReturnsASingleSharedCollector(t *testing.T) {
	p := newTestProvider(t)
	if p.Metrics() == nil {
		t.Fatal("expected a non-nil metrics collector")
	}
	if p.Metrics() != p.Metrics() {
		t.Fatal("expected Metrics() to return the same collector instance on every call")
	}
}

func TestClientFactoryStartStopRefcounts(t *testing.T) {
	registry.Clients.Unregister("pva") // isolate from any prior test's registration
	factoryMu.Lock()
	factoryRefs = 0
	factoryMu.Unlock()

	ClientFactoryStart()
	ClientFactoryStart() // nested caller, must not re-register
	if _, err := registry.Clients.Lookup("pva"); err != nil {
		t.Fatalf("expected \"pva\" to be registered, got %v", err)
	}

	ClientFactoryStop() // still one outstanding Start
	if _, err := registry.Clients.Lookup("pva"); err != nil {
		t.Fatal("expected \"pva\" to remain registered while a Start is still outstanding")
	}

	ClientFactoryStop() // refcount reaches zero
	if _, err := registry.Clients.Lookup("pva"); err == nil {
		t.Fatal("expected \"pva\" to be unregistered once every Start has a matching Stop")
	}
}

package search

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/epics-pva/pvaclient-go/hk"
)

type fakeTarget struct {
	cid     uint32
	name    string
	mu      sync.Mutex
	founds  []*net.UDPAddr
}

func (f *fakeTarget) CID() uint32  { return f.cid }
func (f *fakeTarget) Name() string { return f.name }
func (f *fakeTarget) OnFound(a *net.UDPAddr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.founds = append(f.founds, a)
}
func (f *fakeTarget) foundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.founds)
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	hkr := hk.New()
	go hkr.Run()
	hkr.WaitStarted()
	t.Cleanup(hkr.Stop)

	m, err := NewManager("127.0.0.1:0", nil, hkr)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func TestManagerRegisterAndMatch(t *testing.T) {
	m := newTestManager(t)
	target := &fakeTarget{cid: 7, name: "testScalar"}
	m.Register(target)

	responder := &net.UDPAddr{IP: net.ParseIP("192.168.1.5"), Port: 5075}
	m.matchOne(7, responder)

	if target.foundCount() != 1 {
		t.Fatalf("expected exactly one OnFound call, got %d", target.foundCount())
	}
	m.mu.Lock()
	_, stillPending := m.byCID[7]
	m.mu.Unlock()
	if stillPending {
		t.Fatal("expected CID to be removed from pending set after match")
	}
}

func TestManagerDuplicateResponseIgnored(t *testing.T) {
	m := newTestManager(t)
	target := &fakeTarget{cid: 9, name: "testArray"}
	m.Register(target)

	first := &net.UDPAddr{IP: net.ParseIP("192.168.1.5"), Port: 5075}
	second := &net.UDPAddr{IP: net.ParseIP("192.168.1.9"), Port: 5075}
	m.matchOne(9, first)
	m.matchOne(9, second)

	if target.foundCount() != 1 {
		t.Fatalf("expected OnFound called exactly once (tie-break keeps first responder), got %d", target.foundCount())
	}
}

func TestManagerUnregisterRemovesPending(t *testing.T) {
	m := newTestManager(t)
	target := &fakeTarget{cid: 11, name: "testScalar"}
	m.Register(target)
	m.Unregister(11)

	m.mu.Lock()
	_, pending := m.byCID[11]
	m.mu.Unlock()
	if pending {
		t.Fatal("expected CID to be gone after Unregister")
	}
}

func TestBackoffDelayCapsOut(t *testing.T) {
	d := backoffDelay(maxBackoffLevel + 10)
	if d != 30*time.Second {
		t.Fatalf("expected back-off to cap at 30s, got %v", d)
	}
}

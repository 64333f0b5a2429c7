package client

import (
	"testing"
	"time"

	"github.com/epics-pva/pvaclient-go/codec"
	"github.com/epics-pva/pvaclient-go/pvdata"
)

func encodeMonitorUpdate(t *testing.T, changedBits, overrunBits []int, value string) []byte {
	t.Helper()
	buf := codec.NewByteBuffer(make([]byte, 128))
	if err := buf.PutByte(0); err != nil { // status OK
		t.Fatal(err)
	}
	putBitSet(t, buf, changedBits)
	putBitSet(t, buf, overrunBits)
	if err := buf.PutByte(byte(3)); err != nil { // pvdata.ScalarString
		t.Fatal(err)
	}
	if err := buf.PutString(value); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func putBitSet(t *testing.T, buf *codec.ByteBuffer, bits []int) {
	t.Helper()
	n := 0
	for _, b := range bits {
		if b+1 > n {
			n = b + 1
		}
	}
	if err := buf.PutByte(byte(n)); err != nil {
		t.Fatal(err)
	}
	set := make(map[int]bool, len(bits))
	for _, b := range bits {
		set[b] = true
	}
	for i := 0; i < n; i++ {
		v := byte(0)
		if set[i] {
			v = 1
		}
		if err := buf.PutByte(v); err != nil {
			t.Fatal(err)
		}
	}
}

func newTestMonitor(t *testing.T, queueSize int) (*Channel, *Monitor, chan struct{}) {
	t.Helper()
	p := newTestProvider(t)
	ch := newTestChannel(p, "test:scalar")
	notified := make(chan struct{}, 16)
	m := ch.Monitor(MonitorOptions{QueueSize: queueSize}, func() { notified <- struct{}{} })
	return ch, m, notified
}

func TestMonitorQueuesUpdatesUpToCapacity(t *testing.T) {
	_, m, notified := newTestMonitor(t, 2)

	m.onResponse(encodeMonitorUpdate(t, []int{0}, nil, "a"))
	m.onResponse(encodeMonitorUpdate(t, []int{0}, nil, "b"))

	for i := 0; i < 2; i++ {
		select {
		case <-notified:
		case <-time.After(time.Second):
			t.Fatalf("expected 2 notifications for 2 queued elements, got %d", i)
		}
	}

	el, ok := m.Poll()
	if !ok {
		t.Fatal("expected a queued element")
	}
	if el.Value == nil {
		t.Fatal("expected a decoded value")
	}
}

func TestMonitorBackPressureCoalescesIntoLastSlot(t *testing.T) {
	_, m, _ := newTestMonitor(t, 1)

	m.onResponse(encodeMonitorUpdate(t, []int{0}, nil, "first"))
	m.onResponse(encodeMonitorUpdate(t, []int{1}, []int{2}, "second")) // queue full (size 1): must coalesce, not grow

	m.mu.Lock()
	qlen := len(m.queue)
	overrun := m.queue[0].Overrun
	changed := m.queue[0].Changed
	value := m.queue[0].Value
	m.mu.Unlock()

	if qlen != 1 {
		t.Fatalf("expected queue to stay at capacity 1, got %d", qlen)
	}
	// bit 0: the discarded first update's Changed, folded into Overrun.
	// bit 2: this round's own explicit overrun bit, merged in directly.
	// bit 1 (this round's Changed) must NOT appear in Overrun — it is
	// fully represented by the retained Changed/Value below, nothing lost.
	if !overrun.Get(0) || !overrun.Get(2) || overrun.Get(1) {
		t.Fatalf("expected Overrun={0,2}, got bits 0=%v 1=%v 2=%v", overrun.Get(0), overrun.Get(1), overrun.Get(2))
	}
	if !changed.Get(1) || changed.Get(0) {
		t.Fatal("expected Changed to reflect only the latest (coalesced) update's delta")
	}
	scalar, ok := value.(*pvdata.Scalar)
	if !ok {
		t.Fatalf("expected a *pvdata.Scalar value, got %T", value)
	}
	if scalar.Str != "second" {
		t.Fatalf("expected the retained element's Value to hold the latest coalesced update, got %q", scalar.Str)
	}
}

func TestMonitorUnlistenCompletesOnlyOnceQueueDrains(t *testing.T) {
	_, m, notified := newTestMonitor(t, 2)

	m.onResponse(encodeMonitorUpdate(t, []int{0}, nil, "a"))
	<-notified // drain the queue-arrival notification

	buf := codec.NewByteBuffer([]byte{0xFF})
	m.onResponse(buf.Bytes())
	if m.Complete() {
		t.Fatal("must not be complete while the queue still holds an unpolled element")
	}

	if _, ok := m.Poll(); !ok {
		t.Fatal("expected the queued element")
	}
	m.Release()
	if !m.Complete() {
		t.Fatal("expected completion once UNLISTEN was received and the queue drained")
	}
}

func TestMonitorOnChannelDisconnectResetsAndKeepsSubscription(t *testing.T) {
	ch, m, notified := newTestMonitor(t, 2)

	m.onResponse(encodeMonitorUpdate(t, []int{0}, nil, "a"))
	<-notified

	m.onChannelDisconnect(ErrConnectionClosed)
	<-notified

	if m.LastDisconnectError() != ErrConnectionClosed {
		t.Fatalf("expected stored disconnect error, got %v", m.LastDisconnectError())
	}
	if _, ok := m.Poll(); ok {
		t.Fatal("expected the queue to have been dropped on disconnect")
	}
	if _, stillOwned := ch.monitors[m.ioid]; !stillOwned {
		t.Fatal("monitor must remain registered on its channel across a disconnect so it can resubmit")
	}
}

func TestMonitorCancelIsIdempotent(t *testing.T) {
	ch, m, _ := newTestMonitor(t, 2)

	m.Cancel()
	m.Cancel() // must not panic or double-unregister

	if _, stillOwned := ch.monitors[m.ioid]; stillOwned {
		t.Fatal("expected monitor unregistered from its channel after cancel")
	}
}

package client

import (
	"testing"
	"time"

	"github.com/epics-pva/pvaclient-go/codec"
)

// Since these operations never bind a transport, GetSync/PutSync time out
// deterministically — exercising the "timeout elapses -> cancel -> Timeout
// error" path of spec.md §4.8 without a live server.
func TestGetSyncTimesOutAndCancels(t *testing.T) {
	p := newTestProvider(t)
	ch := newTestChannel(p, "test:scalar")

	start := time.Now()
	_, err := ch.GetSync("", 20*time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("expected wait to honor the requested timeout")
	}

	if len(ch.ops) != 0 {
		t.Fatal("expected the timed-out operation to be cancelled and detached")
	}
}

func TestGetSyncDeliversSuccessBeforeTimeout(t *testing.T) {
	p := newTestProvider(t)
	ch := newTestChannel(p, "test:scalar")

	done := make(chan struct{})
	go func() {
		defer close(done)
		val, err := ch.GetSync("", time.Second)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if val == nil {
			t.Error("expected a decoded value")
		}
	}()

	// Drive the in-flight operation's completion by hand, standing in for a
	// server reply arriving on the transport.
	time.Sleep(5 * time.Millisecond)
	op := ch.soleOp()
	if op == nil {
		t.Fatal("expected one pending operation")
	}
	buf := codec.NewByteBuffer(make([]byte, 32))
	_ = buf.PutByte(codec.SubGet) // GET's data-phase subcommand, not the INIT ack
	_ = buf.PutByte(0)            // status OK
	_ = buf.PutByte(3)            // pvdata.ScalarString
	_ = buf.PutString("ok")
	op.onResponse(buf.Bytes())

	<-done
}

func TestPutSyncWithNilValueFailsFast(t *testing.T) {
	p := newTestProvider(t)
	ch := newTestChannel(p, "test:scalar")

	err := ch.PutSync(nil, "", time.Second)
	if _, ok := err.(*UsageError); !ok {
		t.Fatalf("expected UsageError, got %v", err)
	}
}

func TestMonitorSyncWaitTimesOut(t *testing.T) {
	p := newTestProvider(t)
	ch := newTestChannel(p, "test:scalar")

	ms := ch.NewMonitorSync(MonitorOptions{}, nil)
	_, err := ms.Wait(20 * time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestMonitorSyncWakeSurfacesAsCancelled(t *testing.T) {
	p := newTestProvider(t)
	ch := newTestChannel(p, "test:scalar")

	ms := ch.NewMonitorSync(MonitorOptions{}, nil)
	go func() {
		time.Sleep(5 * time.Millisecond)
		ms.Wake()
	}()

	_, err := ms.Wait(time.Second)
	if err != ErrCancelled {
		t.Fatalf("expected a Wake to surface as ErrCancelled, got %v", err)
	}
}

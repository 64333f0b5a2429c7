package client

import (
	"testing"

	"github.com/epics-pva/pvaclient-go/codec"
	"github.com/epics-pva/pvaclient-go/pvdata"
)

func TestOpCommandMapping(t *testing.T) {
	cases := map[OpKind]byte{
		OpGet:      codec.AppGet,
		OpPut:      codec.AppPut,
		OpPutGet:   codec.AppPutGet,
		OpRpc:      codec.AppRpc,
		OpProcess:  codec.AppProcess,
		OpGetField: codec.AppGetField,
	}
	for kind, want := range cases {
		if got := opCommand(kind); got != want {
			t.Errorf("opCommand(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestGetFieldOneShotSuccess(t *testing.T) {
	p := newTestProvider(t)
	ch := newTestChannel(p, "test:scalar")

	var gotEvent Event
	op := ch.GetField("value", func(ev Event) { gotEvent = ev })

	buf := codec.NewByteBuffer(make([]byte, 64))
	_ = buf.PutByte(0) // status OK
	_ = buf.PutString("value")
	op.onResponse(buf.Bytes())

	if gotEvent.Kind != EventSuccess {
		t.Fatalf("expected EventSuccess, got %v (err=%v)", gotEvent.Kind, gotEvent.Err)
	}
	sc, ok := gotEvent.Value.(*pvdata.Scalar)
	if !ok || sc.Str != "value" {
		t.Fatalf("expected decoded field name %q, got %+v", "value", gotEvent.Value)
	}
	if _, pending := ch.ops[op.ioid]; pending {
		t.Fatal("expected operation detached from channel after terminal event")
	}
}

func TestGetFieldOneShotFailure(t *testing.T) {
	p := newTestProvider(t)
	ch := newTestChannel(p, "test:scalar")

	var gotEvent Event
	op := ch.GetField("missing", func(ev Event) { gotEvent = ev })

	buf := codec.NewByteBuffer(make([]byte, 64))
	_ = buf.PutByte(1) // status != 0
	_ = buf.PutString("no such field")
	op.onResponse(buf.Bytes())

	if gotEvent.Kind != EventFail {
		t.Fatalf("expected EventFail, got %v", gotEvent.Kind)
	}
	re, ok := gotEvent.Err.(*RemoteError)
	if !ok || re.Message != "no such field" {
		t.Fatalf("expected RemoteError carrying server message, got %v", gotEvent.Err)
	}
}

func TestGetInitFailureSurfacesRemoteError(t *testing.T) {
	p := newTestProvider(t)
	ch := newTestChannel(p, "test:scalar")

	var gotEvent Event
	op := ch.Get("", func(ev Event) { gotEvent = ev })

	buf := codec.NewByteBuffer(make([]byte, 64))
	_ = buf.PutByte(codec.SubInit)
	_ = buf.PutByte(1) // status != 0
	_ = buf.PutString("no access")
	op.onResponse(buf.Bytes())

	if gotEvent.Kind != EventFail {
		t.Fatalf("expected EventFail, got %v", gotEvent.Kind)
	}
	re, ok := gotEvent.Err.(*RemoteError)
	if !ok || re.Message != "no access" {
		t.Fatalf("expected RemoteError carrying server message, got %v", gotEvent.Err)
	}
}

func TestPutWithNilValueIsUsageError(t *testing.T) {
	p := newTestProvider(t)
	ch := newTestChannel(p, "test:scalar")

	var gotEvent Event
	ch.Put(nil, "", func(ev Event) { gotEvent = ev })

	if gotEvent.Kind != EventFail {
		t.Fatalf("expected EventFail for nil put value, got %v", gotEvent.Kind)
	}
	if _, ok := gotEvent.Err.(*UsageError); !ok {
		t.Fatalf("expected UsageError, got %T: %v", gotEvent.Err, gotEvent.Err)
	}
}

func TestCancelIsIdempotentAndTerminal(t *testing.T) {
	p := newTestProvider(t)
	ch := newTestChannel(p, "test:scalar")

	events := make([]Event, 0, 2)
	op := ch.Get("", func(ev Event) { events = append(events, ev) })

	op.cancel()
	op.cancel() // must be a no-op, not a second callback

	if len(events) != 1 || events[0].Kind != EventCancel {
		t.Fatalf("expected exactly one EventCancel, got %+v", events)
	}
}

func TestOnChannelDisconnectIsNotTerminal(t *testing.T) {
	p := newTestProvider(t)
	ch := newTestChannel(p, "test:scalar")

	var last Event
	op := ch.Get("", func(ev Event) { last = ev })

	op.onChannelDisconnect(ErrConnectionClosed)
	if last.Kind != EventDisconnect {
		t.Fatalf("expected EventDisconnect, got %v", last.Kind)
	}

	op.mu.Lock()
	terminal := op.terminal
	op.mu.Unlock()
	if terminal {
		t.Fatal("a channel disconnect must not mark the operation terminal — spec.md §4: operations resubmit, they are not auto-destroyed")
	}
	if _, stillOwned := ch.ops[op.ioid]; !stillOwned {
		t.Fatal("operation must remain registered on its channel across a disconnect so it can resubmit")
	}
}

package client

import (
	"sync"

	"github.com/epics-pva/pvaclient-go/codec"
	"github.com/epics-pva/pvaclient-go/transport"
)

// responder is whatever is registered under an IOID in an OpTable: an
// Operation for GET/PUT/PUTGET/RPC/PROCESS/GET_FIELD, a Monitor for MONITOR,
// or the lightweight create-channel adapter Channel.sendCreateChannel
// registers (CHANNEL_CREATE is itself an IOID-keyed
// Operation kind per spec.md §3, §4.7: "entries 10-20 handle data responses
// that look up IOID in the per-transport map").
type responder interface {
	onResponse(payload []byte)
}

// disconnectNotified is implemented by responders that need to hear about a
// transport disconnect independently of the Channel-level notification
// (Operations; the create-channel adapter does not, since Channel.
// ChannelDisconnect already covers its own re-registration).
type disconnectNotified interface {
	onChannelDisconnect(err error)
}

// OpTable is the per-transport IOID table (spec.md §4.6, §4.7): one table
// per physical TCP transport, shared by every channel bound to it, mapping
// a client-side IOID to the responder awaiting its reply. It installs
// itself into the transport's fixed dispatch table entries 10-20 (except
// 18, which the transport package itself owns as unsolicited messages).
type OpTable struct {
	t *transport.TCPTransport

	mu     sync.Mutex
	byIOID map[uint32]responder
}

func newOpTable(t *transport.TCPTransport) *OpTable {
	ot := &OpTable{t: t, byIOID: make(map[uint32]responder, 16)}
	ot.install()
	return ot
}

func (ot *OpTable) install() {
	handler := func(_ codec.Header, payload []byte) error {
		return ot.dispatch(payload)
	}
	for _, cmd := range []byte{
		codec.AppCreateChannel, codec.AppDestroyChannel, codec.AppGet, codec.AppPut,
		codec.AppPutGet, codec.AppRpc, codec.AppArray, codec.AppGetField, codec.AppMonitor,
		codec.AppProcess,
	} {
		ot.t.SetHandler(cmd, handler)
	}
}

// dispatch reads the leading 4-byte IOID common to every op-response
// payload and routes the remainder to the matching responder.
func (ot *OpTable) dispatch(payload []byte) error {
	if len(payload) < 4 {
		return nil
	}
	buf := codec.NewByteBuffer(payload)
	ioid, err := buf.GetUint32()
	if err != nil {
		return err
	}
	ot.mu.Lock()
	r, ok := ot.byIOID[ioid]
	ot.mu.Unlock()
	if !ok {
		return nil // stale or cancelled IOID; response silently dropped
	}
	rest, _ := buf.GetBytes(buf.ReadRemaining())
	r.onResponse(rest)
	return nil
}

func (ot *OpTable) register(ioid uint32, r responder) {
	ot.mu.Lock()
	ot.byIOID[ioid] = r
	ot.mu.Unlock()
}

func (ot *OpTable) unregister(ioid uint32) {
	ot.mu.Lock()
	delete(ot.byIOID, ioid)
	ot.mu.Unlock()
}

// disconnectAll marks every still-registered operation disconnected
// (spec.md §4: "Disconnect of the bound transport marks all operations
// with that IOID table as disconnected ... operations are not
// auto-destroyed").
func (ot *OpTable) disconnectAll(err error) {
	ot.mu.Lock()
	rs := make([]responder, 0, len(ot.byIOID))
	for _, r := range ot.byIOID {
		rs = append(rs, r)
	}
	ot.byIOID = make(map[uint32]responder, 16)
	ot.mu.Unlock()
	for _, r := range rs {
		if dn, ok := r.(disconnectNotified); ok {
			dn.onChannelDisconnect(err)
		}
	}
}

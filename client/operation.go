package client

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/epics-pva/pvaclient-go/cmn/cos"
	"github.com/epics-pva/pvaclient-go/codec"
	"github.com/epics-pva/pvaclient-go/pvdata"
	"github.com/epics-pva/pvaclient-go/transport"
)

// OpKind is an Operation's request kind (spec.md §3).
type OpKind int

const (
	OpGet OpKind = iota
	OpPut
	OpPutGet
	OpRpc
	OpMonitor // Monitor (monitor.go) implements its own responder, never as a plain Operation
	OpGetField
	OpProcess
	OpChannelCreate  // handled by Channel.sendCreateChannel/createResponder, not by Operation
	OpChannelDestroy // handled by Channel.destroy's best-effort DESTROY_CHANNEL send
)

func (k OpKind) String() string {
	switch k {
	case OpGet:
		return "get"
	case OpPut:
		return "put"
	case OpPutGet:
		return "put-get"
	case OpRpc:
		return "rpc"
	case OpMonitor:
		return "monitor"
	case OpGetField:
		return "get-field"
	case OpProcess:
		return "process"
	case OpChannelCreate:
		return "channel-create"
	case OpChannelDestroy:
		return "channel-destroy"
	default:
		return "unknown"
	}
}

// EventKind distinguishes the terminal (and, for Disconnect, non-terminal)
// notifications an Operation delivers to its callback (spec.md §7, §8: "at
// most one terminal callback is delivered").
type EventKind int

const (
	EventSuccess EventKind = iota
	EventFail
	EventCancel
	EventDisconnect
)

// Event is what an Operation's callback receives. Value is populated only
// on EventSuccess for operations that carry a result (Get, Rpc, PutGet,
// GetField); Process and Put deliver no Value.
type Event struct {
	Kind  EventKind
	Value pvdata.Serializable
	Err   error
}

type opState int

const (
	opInitial opState = iota
	opInitSent
	opReady
	opGetSent
	opPutSent
	opProcessSent
	opDestroyed
)

// Operation is a pending GET/PUT/PUTGET/RPC/PROCESS/GET_FIELD request
// (spec.md §4.6). Monitor is deliberately not built on top of Operation —
// its queueing and pipeline-acknowledgement logic don't fit this struct's
// two-phase INIT/data state machine, so it implements responder directly
// (monitor.go).
type Operation struct {
	kind OpKind
	ioid uint32
	ch   *Channel

	fieldRequest string              // the pvRequest string (GetField: the requested sub-field path)
	putValue     pvdata.Serializable // Put/PutGet's value to write
	rpcArgs      pvdata.Serializable // Rpc's argument structure

	mu       sync.Mutex
	state    opState
	terminal bool
	cancelled bool
	cb       func(Event)
}

func newOperation(ch *Channel, kind OpKind, cb func(Event)) *Operation {
	ch.provider.metrics.OpStarted(kind.String())
	return &Operation{kind: kind, ioid: cos.GenIOID(), ch: ch, cb: cb, state: opInitial}
}

func opCommand(kind OpKind) byte {
	switch kind {
	case OpGet:
		return codec.AppGet
	case OpPut:
		return codec.AppPut
	case OpPutGet:
		return codec.AppPutGet
	case OpRpc:
		return codec.AppRpc
	case OpProcess:
		return codec.AppProcess
	case OpGetField:
		return codec.AppGetField
	default:
		return codec.AppGet
	}
}

// opSecondSubcommand returns the subcommand sent after a successful INIT
// response, or 0 for kinds with no second phase (GetField is one-shot).
func opSecondSubcommand(kind OpKind) byte {
	switch kind {
	case OpGet:
		return codec.SubGet
	case OpPut, OpPutGet:
		return codec.SubGetPut
	case OpProcess:
		return codec.SubProcess
	default:
		return 0 // Rpc's second phase carries its argument structure, no distinguishing bit
	}
}

func newResultValue(kind OpKind) pvdata.Serializable {
	switch kind {
	case OpGet, OpPutGet, OpRpc, OpGetField:
		return &pvdata.Scalar{}
	default:
		return nil
	}
}

// start (re)sends this operation's request on whatever transport the owning
// channel is currently bound to. It is a no-op if the channel isn't bound
// yet — resubmit calls it again once CREATE_CHANNEL_RESPONSE OK arrives.
func (op *Operation) start() {
	op.mu.Lock()
	if op.terminal || op.state == opDestroyed {
		op.mu.Unlock()
		return
	}
	if (op.kind == OpPut || op.kind == OpPutGet) && op.putValue == nil {
		op.mu.Unlock()
		// spec.md §9: a distinct UsageError rather than silently putting an
		// empty payload on the wire (the source's putValue overloads swallow
		// this case instead). Checked before a transport is even required, so
		// it surfaces whether or not the channel is connected yet.
		op.fail(&UsageError{Detail: "put with no value"})
		return
	}
	op.mu.Unlock()

	t := op.ch.boundTransport()
	ot := op.ch.opTableSnapshot()
	if t == nil || ot == nil {
		return
	}

	op.mu.Lock()
	if op.terminal || op.state == opDestroyed {
		op.mu.Unlock()
		return
	}
	oneShot := op.kind == OpGetField
	op.state = opInitSent
	op.mu.Unlock()

	ot.register(op.ioid, op)

	err := t.Enqueue(transport.SenderFunc(func(w *codec.MessageWriter) (bool, error) {
		if err := w.StartMessage(opCommand(op.kind), false); err != nil {
			return false, err
		}
		buf := w.Buffer()
		if err := buf.PutUint32(op.ioid); err != nil {
			return false, err
		}
		sub := codec.SubInit
		if oneShot {
			sub = 0
		}
		if err := buf.PutByte(sub); err != nil {
			return false, err
		}
		if err := buf.PutString(op.fieldRequest); err != nil {
			return false, err
		}
		return false, w.EndMessage()
	}))
	if err != nil {
		op.fail(errors.Wrap(err, "operation: INIT send failed"))
	}
}

// resubmit re-issues this operation after a (re)connect, per spec.md §4.5
// row "CREATE_CHANNEL_RESPONSE OK": "resubscribe operations".
func (op *Operation) resubmit() { op.start() }

func (op *Operation) sendSecondPhase() {
	t := op.ch.boundTransport()
	if t == nil {
		return
	}
	op.mu.Lock()
	switch op.kind {
	case OpGet:
		op.state = opGetSent
	case OpPut, OpPutGet:
		op.state = opPutSent
	case OpProcess:
		op.state = opProcessSent
	default:
		op.state = opGetSent
	}
	op.mu.Unlock()

	// PUT/PUTGET values and RPC arguments are caller-supplied and unbounded,
	// so this phase goes through SendSegmented (spec.md §4.1) rather than the
	// fixed StartMessage/Buffer/EndMessage triplet the INIT/DESTROY sends use.
	err := t.Enqueue(transport.SenderFunc(func(w *codec.MessageWriter) (bool, error) {
		return false, w.SendSegmented(opCommand(op.kind), func(buf *codec.ByteBuffer) error {
			if err := buf.PutUint32(op.ioid); err != nil {
				return err
			}
			if err := buf.PutByte(opSecondSubcommand(op.kind)); err != nil {
				return err
			}
			switch op.kind {
			case OpPut, OpPutGet:
				if op.putValue != nil {
					if err := op.putValue.Encode(buf); err != nil {
						return err
					}
					op.cacheIntrospection(t, op.putValue, false)
				}
			case OpRpc:
				if op.rpcArgs != nil {
					if err := op.rpcArgs.Encode(buf); err != nil {
						return err
					}
					op.cacheIntrospection(t, op.rpcArgs, false)
				}
			}
			return nil
		})
	}))
	if err != nil {
		op.fail(errors.Wrap(err, "operation: send failed"))
	}
}

// onResponse implements responder. payload has already had its leading
// IOID stripped by OpTable.dispatch: subcommand(1) status(1) [data...].
func (op *Operation) onResponse(payload []byte) {
	buf := codec.NewByteBuffer(payload)

	if op.kind == OpGetField {
		status, err := buf.GetByte()
		if err != nil {
			op.fail(err)
			return
		}
		if status != 0 {
			op.fail(&RemoteError{Message: readRemoteMessage(buf)})
			return
		}
		name, _ := buf.GetString()
		op.deliverSuccess(&pvdata.Scalar{Kind: pvdata.ScalarString, Str: name})
		return
	}

	sub, err := buf.GetByte()
	if err != nil {
		op.fail(err)
		return
	}
	status, err := buf.GetByte()
	if err != nil {
		op.fail(err)
		return
	}

	if sub == codec.SubInit {
		if status != 0 {
			op.fail(&RemoteError{Message: readRemoteMessage(buf)})
			return
		}
		op.mu.Lock()
		op.state = opReady
		op.mu.Unlock()
		op.sendSecondPhase()
		return
	}

	if status != 0 {
		op.fail(&RemoteError{Message: readRemoteMessage(buf)})
		return
	}
	result := newResultValue(op.kind)
	if result != nil {
		if err := result.Decode(buf); err != nil {
			op.fail(err)
			return
		}
		op.cacheIntrospection(op.ch.boundTransport(), result, true)
	}
	op.deliverSuccess(result)
}

// cacheIntrospection records v's scalar kind in t's introspection registry
// (spec.md §3, §4.2): the incoming cache for decoded GET/PUTGET/RPC/
// GET_FIELD results, the outgoing cache for PUT/PUTGET/RPC payloads this
// side sends. Keyed off the Scalar's own kind byte since this client's
// minimal pvdata layer has no richer field-descriptor ID to assign.
func (op *Operation) cacheIntrospection(t *transport.TCPTransport, v pvdata.Serializable, incoming bool) {
	if t == nil {
		return
	}
	sc, ok := v.(*pvdata.Scalar)
	if !ok {
		return
	}
	if incoming {
		t.IntroIn().PutAt(int16(sc.Kind), v)
	} else {
		t.IntroOut().PutAt(int16(sc.Kind), v)
	}
}

func readRemoteMessage(buf *codec.ByteBuffer) string {
	msg, err := buf.GetString()
	if err != nil {
		return ""
	}
	return msg
}

func (op *Operation) deliverSuccess(v pvdata.Serializable) {
	if !op.markTerminal() {
		return
	}
	op.detach()
	op.ch.provider.metrics.OpSucceeded(op.kind.String())
	op.invoke(Event{Kind: EventSuccess, Value: v})
}

func (op *Operation) fail(err error) {
	if !op.markTerminal() {
		return
	}
	op.detach()
	op.ch.provider.metrics.OpFailed(op.kind.String())
	op.invoke(Event{Kind: EventFail, Err: err})
}

func (op *Operation) markTerminal() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.terminal {
		return false
	}
	op.terminal = true
	op.state = opDestroyed
	return true
}

func (op *Operation) detach() {
	op.ch.unregisterOp(op.ioid)
	if ot := op.ch.opTableSnapshot(); ot != nil {
		ot.unregister(op.ioid)
	}
}

func (op *Operation) invoke(ev Event) {
	if op.cb != nil {
		op.cb(ev)
	}
}

// cancel implements spec.md §5 "cancel ... is immediate locally ... sends a
// DESTROY_REQUEST best-effort". Idempotent: a second call is a no-op.
func (op *Operation) cancel() {
	op.mu.Lock()
	if op.terminal {
		op.mu.Unlock()
		return
	}
	op.cancelled = true
	op.terminal = true
	prevState := op.state
	op.state = opDestroyed
	op.mu.Unlock()

	op.detach()

	if prevState != opInitial {
		if t := op.ch.boundTransport(); t != nil {
			_ = t.Enqueue(transport.SenderFunc(func(w *codec.MessageWriter) (bool, error) {
				if err := w.StartMessage(opCommand(op.kind), false); err != nil {
					return false, err
				}
				buf := w.Buffer()
				if err := buf.PutUint32(op.ioid); err != nil {
					return false, err
				}
				if err := buf.PutByte(codec.SubDestroy); err != nil {
					return false, err
				}
				return false, w.EndMessage()
			}))
		}
	}
	op.invoke(Event{Kind: EventCancel})
}

// onChannelDisconnect implements disconnectNotified: the owning channel's
// transport dropped. Per spec.md §4: "operations are not auto-destroyed" —
// this operation stays registered on its channel and resubmit()s once the
// channel reconnects.
func (op *Operation) onChannelDisconnect(err error) {
	op.mu.Lock()
	if op.terminal {
		op.mu.Unlock()
		return
	}
	op.state = opInitial
	op.mu.Unlock()
	op.invoke(Event{Kind: EventDisconnect, Err: err})
}

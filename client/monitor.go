package client

import (
	"sync"

	"github.com/epics-pva/pvaclient-go/cmn/cos"
	"github.com/epics-pva/pvaclient-go/cmn/debug"
	"github.com/epics-pva/pvaclient-go/cmn/nlog"
	"github.com/epics-pva/pvaclient-go/codec"
	"github.com/epics-pva/pvaclient-go/pvdata"
	"github.com/epics-pva/pvaclient-go/transport"
)

const (
	defaultQueueSize        = 2
	defaultPipelineResumePct = 50
)

// MonitorElement is one queued subscription update (spec.md §4.6): the
// changed-bitset and current value, plus an overrun-bitset accumulating
// any changes that had to be coalesced into this slot because the queue
// was full when they arrived.
type MonitorElement struct {
	Changed *pvdata.BitSet
	Overrun *pvdata.BitSet
	Value   pvdata.Serializable
}

type monitorState int

const (
	monInitial monitorState = iota
	monInitSent
	monActive
	monComplete // UNLISTEN received and queue drained
	monDestroyed
)

// Monitor is a subscription operation (spec.md §4.6): the most elaborate
// operation kind, with its own element queue and pipeline-acknowledgement
// flow control, so unlike Get/Put/Rpc/Process it implements responder
// directly instead of going through Operation's generic two-phase
// request/response state machine.
type Monitor struct {
	ch   *Channel
	ioid uint32

	pvRequest         string
	queueSize         int
	pipelineResumePct int
	cb                func()

	mu               sync.Mutex
	state            monitorState
	queue            []MonitorElement
	released         int // elements released since the last resume signal
	unlistenReceived bool
	terminal         bool
	disconnectErr    error
}

// MonitorOptions mirrors the pvRequest knobs spec.md §4.6 and SPEC_FULL.md
// §C.6 name for a subscription.
type MonitorOptions struct {
	PVRequest         string
	QueueSize         int // default 2
	PipelineResumePct int // default 50
}

// Monitor subscribes to a channel (spec.md §6 "channel.monitor(cb|event,
// pvRequest) → Monitor | MonitorSync"). cb is invoked (with no lock held)
// whenever Poll would return a new element, on disconnect, and once when
// the subscription completes after UNLISTEN.
func (c *Channel) Monitor(opts MonitorOptions, cb func()) *Monitor {
	qs := opts.QueueSize
	if qs <= 0 {
		qs = defaultQueueSize
	}
	pct := opts.PipelineResumePct
	if pct <= 0 {
		pct = defaultPipelineResumePct
	}
	m := &Monitor{
		ch:                c,
		ioid:              cos.GenIOID(),
		pvRequest:         opts.PVRequest,
		queueSize:         qs,
		pipelineResumePct: pct,
		cb:                cb,
		queue:             make([]MonitorElement, 0, qs),
	}
	c.provider.metrics.OpStarted(OpMonitor.String())
	c.registerMonitor(m)
	m.start()
	return m
}

func (m *Monitor) start() {
	t := m.ch.boundTransport()
	ot := m.ch.opTableSnapshot()
	if t == nil || ot == nil {
		return
	}
	m.mu.Lock()
	if m.terminal {
		m.mu.Unlock()
		return
	}
	m.state = monInitSent
	m.mu.Unlock()

	ot.register(m.ioid, m)
	err := t.Enqueue(transport.SenderFunc(func(w *codec.MessageWriter) (bool, error) {
		if err := w.StartMessage(codec.AppMonitor, false); err != nil {
			return false, err
		}
		buf := w.Buffer()
		if err := buf.PutUint32(m.ioid); err != nil {
			return false, err
		}
		if err := buf.PutByte(codec.SubInit); err != nil {
			return false, err
		}
		return false, w.EndMessage()
	}))
	if err != nil {
		nlog.Warningf("monitor %d: INIT send failed: %v", m.ioid, err)
		return
	}
	m.sendStart()
}

func (m *Monitor) sendStart() {
	t := m.ch.boundTransport()
	if t == nil {
		return
	}
	err := t.Enqueue(transport.SenderFunc(func(w *codec.MessageWriter) (bool, error) {
		if err := w.StartMessage(codec.AppMonitor, false); err != nil {
			return false, err
		}
		buf := w.Buffer()
		if err := buf.PutUint32(m.ioid); err != nil {
			return false, err
		}
		if err := buf.PutByte(codec.SubStart); err != nil {
			return false, err
		}
		return false, w.EndMessage()
	}))
	if err != nil {
		nlog.Warningf("monitor %d: START send failed: %v", m.ioid, err)
		return
	}
	m.mu.Lock()
	m.state = monActive
	m.mu.Unlock()
}

// onResponse implements responder. Every monitor update is: status(1)
// changed-bitset-len(1) changed-bits... overrun-bitset-len(1)
// overrun-bits... value (Scalar). A status byte of 0xFF with no further
// payload signals UNLISTEN.
func (m *Monitor) onResponse(payload []byte) {
	buf := codec.NewByteBuffer(payload)
	status, err := buf.GetByte()
	if err != nil {
		return
	}
	if status == 0xFF {
		m.onUnlisten()
		return
	}

	changed, err := decodeBitSet(buf)
	if err != nil {
		return
	}
	overrun, err := decodeBitSet(buf)
	if err != nil {
		return
	}
	var val pvdata.Scalar
	if err := val.Decode(buf); err != nil {
		return
	}
	// Cache this update's field shape in the incoming introspection
	// registry (spec.md §3, §4.2), same as Operation does for GET/PUTGET/RPC.
	if t := m.ch.boundTransport(); t != nil {
		t.IntroIn().PutAt(int16(val.Kind), &val)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminal {
		return
	}
	if len(m.queue) >= m.queueSize {
		// Back-pressure: OR the overrun into the last slot instead of
		// dropping it or growing the queue (spec.md §4.6, §8). The slot's
		// previously retained Changed delta is itself now superseded, so it
		// folds into Overrun; Changed and Value are replaced by this
		// update's — spec.md §5: "coalesced updates preserve the latest
		// structural values but accumulate overrun bits."
		last := &m.queue[len(m.queue)-1]
		last.Overrun.Or(last.Changed)
		last.Overrun.Or(overrun)
		last.Changed = changed
		last.Value = &val
		m.ch.provider.metrics.IncMonitorOverrun()
		return
	}
	m.queue = append(m.queue, MonitorElement{Changed: changed, Overrun: overrun, Value: &val})
	m.ch.provider.metrics.SetMonitorQueueDepth(m.ioid, len(m.queue))
	m.notify()
}

func decodeBitSet(buf *codec.ByteBuffer) (*pvdata.BitSet, error) {
	n, err := buf.GetByte()
	if err != nil {
		return nil, err
	}
	bs := pvdata.NewBitSet(int(n))
	for i := 0; i < int(n); i++ {
		b, err := buf.GetByte()
		if err != nil {
			return nil, err
		}
		if b != 0 {
			bs.Set(i)
		}
	}
	return bs, nil
}

func (m *Monitor) notify() {
	if m.cb != nil {
		go m.cb()
	}
}

func (m *Monitor) onUnlisten() {
	m.mu.Lock()
	m.unlistenReceived = true
	drained := len(m.queue) == 0
	if drained {
		m.state = monComplete
	}
	m.mu.Unlock()
	if drained {
		m.notify()
	}
}

// Poll removes and returns the front element, or ok=false if the queue is
// empty (spec.md §4.6 "poll removes the front element and transfers
// ownership").
func (m *Monitor) Poll() (el MonitorElement, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return MonitorElement{}, false
	}
	el = m.queue[0]
	m.queue = m.queue[1:]
	m.ch.provider.metrics.SetMonitorQueueDepth(m.ioid, len(m.queue))
	return el, true
}

// Release returns a previously polled element to the free list, tracked
// here only as a resume-threshold counter since this client doesn't pool
// MonitorElement allocations. Crossing pipelineResumePct of the queue
// capacity emits a pipeline-acknowledgement resume signal to the server
// (spec.md §4.6).
func (m *Monitor) Release() {
	m.mu.Lock()
	m.released++
	resume := m.released*100 >= m.pipelineResumePct*m.queueSize
	if resume {
		m.released = 0
	}
	complete := m.unlistenReceived && len(m.queue) == 0 && m.state != monComplete
	if complete {
		m.state = monComplete
	}
	m.mu.Unlock()
	if resume {
		m.sendResume()
	}
	if complete {
		m.notify()
	}
}

func (m *Monitor) sendResume() {
	t := m.ch.boundTransport()
	if t == nil {
		return
	}
	err := t.Enqueue(transport.SenderFunc(func(w *codec.MessageWriter) (bool, error) {
		if err := w.StartMessage(codec.AppMonitor, false); err != nil {
			return false, err
		}
		buf := w.Buffer()
		if err := buf.PutUint32(m.ioid); err != nil {
			return false, err
		}
		if err := buf.PutByte(codec.SubResume); err != nil {
			return false, err
		}
		return false, w.EndMessage()
	}))
	if err != nil {
		nlog.Warningf("monitor %d: resume send failed: %v", m.ioid, err)
	}
}

// Complete reports whether UNLISTEN has been received and the queue has
// drained (spec.md §4.6).
func (m *Monitor) Complete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == monComplete
}

// LastDisconnectError returns the error from the most recent
// onChannelDisconnect, or nil if none occurred since the last (re)connect.
func (m *Monitor) LastDisconnectError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnectErr
}

// Cancel implements spec.md §5: immediate locally, drains the element
// queue, and sends a best-effort DESTROY_REQUEST.
func (m *Monitor) Cancel() {
	m.mu.Lock()
	if m.terminal {
		m.mu.Unlock()
		return
	}
	m.terminal = true
	prevState := m.state
	m.queue = nil
	m.mu.Unlock()

	m.ch.provider.metrics.ClearMonitorQueueDepth(m.ioid)
	m.ch.unregisterMonitor(m.ioid)
	if ot := m.ch.opTableSnapshot(); ot != nil {
		ot.unregister(m.ioid)
	}
	if prevState == monActive || prevState == monInitSent {
		if t := m.ch.boundTransport(); t != nil {
			_ = t.Enqueue(transport.SenderFunc(func(w *codec.MessageWriter) (bool, error) {
				if err := w.StartMessage(codec.AppMonitor, false); err != nil {
					return false, err
				}
				buf := w.Buffer()
				if err := buf.PutUint32(m.ioid); err != nil {
					return false, err
				}
				if err := buf.PutByte(codec.SubDestroy); err != nil {
					return false, err
				}
				return false, w.EndMessage()
			}))
		}
	}
	debug.Infof("monitor %d cancelled in state %d", m.ioid, prevState)
}

// onChannelDisconnect implements disconnectNotified (spec.md §8 scenario 3:
// "Disconnect mid-monitor ... after server recovery, subscription
// auto-resubscribes"). The element queue is dropped; a fresh subscription
// starts from INIT once the channel reconnects.
func (m *Monitor) onChannelDisconnect(err error) {
	m.mu.Lock()
	if m.terminal {
		m.mu.Unlock()
		return
	}
	m.state = monInitial
	m.queue = nil
	m.unlistenReceived = false
	m.disconnectErr = err
	m.mu.Unlock()
	m.notify()
}

// resubmit implements the same reconnect hook Operation uses, invoked by
// Channel.onCreateChannelResponse for every still-registered subscription.
func (m *Monitor) resubmit() { m.start() }

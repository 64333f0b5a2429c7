package client

import (
	"net"
	"strconv"
	"sync"

	"github.com/epics-pva/pvaclient-go/cmn/cos"
	"github.com/epics-pva/pvaclient-go/cmn/debug"
	"github.com/epics-pva/pvaclient-go/cmn/nlog"
	"github.com/epics-pva/pvaclient-go/codec"
	"github.com/epics-pva/pvaclient-go/transport"
)

func nextCID() uint32 { return cos.GenCID() }

// State is a Channel's position in the spec.md §4.5 state machine.
type State int

const (
	NeverConnected State = iota
	Connecting
	Connected
	Disconnected
	Destroyed
)

func (s State) String() string {
	switch s {
	case NeverConnected:
		return "never-connected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// ConnectListener is notified on every CONNECTED/DISCONNECTED transition
// (spec.md §6 "addConnectListener").
type ConnectListener func(connected bool)

// Channel is a named logical connection to server-resident data (spec.md
// §3). It holds the connect-listener closures given to it, and whatever
// state they capture, strongly for its whole lifetime.
type Channel struct {
	name     string
	cid      uint32
	priority int

	provider *Provider

	mu        sync.Mutex
	state     State
	sid       uint32
	sidValid  bool // invariant I2: sid defined iff state == Connected
	transport *transport.TCPTransport
	opTable   *OpTable
	createIOID uint32 // IOID of the in-flight CHANNEL_CREATE op, valid while state == Connecting and bound
	ops       map[uint32]*Operation // pending ops owned by this channel, keyed by IOID
	monitors  map[uint32]*Monitor    // pending subscriptions owned by this channel, keyed by IOID
	listeners []ConnectListener
}

func newChannel(p *Provider, name string, priority int) *Channel {
	return &Channel{
		name:     name,
		cid:      nextCID(),
		priority: priority,
		provider: p,
		state:    NeverConnected,
		ops:      make(map[uint32]*Operation, 4),
		monitors: make(map[uint32]*Monitor, 2),
	}
}

func (c *Channel) Name() string  { return c.name }
func (c *Channel) CID() uint32   { return c.cid }
func (c *Channel) OwnerID() string { return strconv.FormatUint(uint64(c.cid), 10) }

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AddConnectListener registers l for every later CONNECTED/DISCONNECTED
// transition (spec.md §6). There is no way to remove a listener; it stays
// registered for the channel's lifetime.
func (c *Channel) AddConnectListener(l ConnectListener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// connect drives NEVER_CONNECTED -> CONNECTING by registering with the
// provider's SearchManager (spec.md §4.5 row 1).
func (c *Channel) connect() {
	c.mu.Lock()
	if c.state != NeverConnected && c.state != Disconnected {
		c.mu.Unlock()
		return
	}
	c.state = Connecting
	c.mu.Unlock()

	c.provider.search.Register(c)
}

// OnFound implements search.Target: a SEARCH_RESPONSE matched this
// channel's CID (spec.md §4.5 row 2) — acquire the transport and send
// CREATE_CHANNEL.
func (c *Channel) OnFound(responder *net.UDPAddr) {
	c.mu.Lock()
	if c.state != Connecting {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	t, ot, err := c.provider.bindTransport(responder.String(), c.priority)
	if err != nil {
		nlog.Warningf("channel %s: transport bind to %s failed: %v", c.name, responder, err)
		c.provider.search.Register(c) // re-register, spec.md §4.5 "CREATE_CHANNEL_RESPONSE fail" path applies just as well here
		return
	}

	c.mu.Lock()
	// duplicate-name detection (spec.md §4.5): a second SEARCH_RESPONSE for
	// the same CID naming a transport we already matched is a warning, not
	// a rebind.
	if c.transport != nil && c.transport == t {
		c.mu.Unlock()
		nlog.Warningf("channel %s: duplicate SEARCH_RESPONSE from already-bound responder %s", c.name, responder)
		return
	}
	c.transport = t
	c.opTable = ot
	c.mu.Unlock()

	t.AddOwner(c)
	c.sendCreateChannel()
}

// createResponder routes the CHANNEL_CREATE response (an IOID-keyed
// Operation kind per spec.md §3) back to the owning Channel without pulling
// in the full Operation machinery used by GET/PUT/RPC/MONITOR.
type createResponder struct{ c *Channel }

func (r *createResponder) onResponse(payload []byte) { r.c.onCreateChannelResponse(payload) }

func (c *Channel) sendCreateChannel() {
	t := c.boundTransport()
	ot := c.opTableSnapshot()
	if t == nil || ot == nil {
		return
	}
	ioid := cos.GenIOID()
	c.mu.Lock()
	c.createIOID = ioid
	c.mu.Unlock()
	ot.register(ioid, &createResponder{c: c})

	err := t.Enqueue(transport.SenderFunc(func(w *codec.MessageWriter) (bool, error) {
		if err := w.StartMessage(codec.AppCreateChannel, false); err != nil {
			return false, err
		}
		buf := w.Buffer()
		if err := buf.PutUint32(ioid); err != nil {
			return false, err
		}
		if err := buf.PutUint32(c.cid); err != nil {
			return false, err
		}
		if err := buf.PutString(c.name); err != nil {
			return false, err
		}
		return false, w.EndMessage()
	}))
	if err != nil {
		nlog.Warningf("channel %s: CREATE_CHANNEL send failed: %v", c.name, err)
	}
}

func (c *Channel) opTableSnapshot() *OpTable {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opTable
}

func (c *Channel) boundTransport() *transport.TCPTransport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

// onCreateChannelResponse handles the CREATE_CHANNEL reply (spec.md §4.5
// rows 3-4). The leading IOID has already been consumed by OpTable.dispatch
// to route us here; payload is: cid(4) status(1) [sid(4) on OK].
func (c *Channel) onCreateChannelResponse(payload []byte) error {
	buf := codec.NewByteBuffer(payload)
	if _, err := buf.GetUint32(); err != nil { // echoed cid, already routed to us
		return err
	}
	status, err := buf.GetByte()
	if err != nil {
		return err
	}

	c.mu.Lock()
	ioid := c.createIOID
	ot := c.opTable
	c.mu.Unlock()
	if ot != nil {
		ot.unregister(ioid)
	}

	if status != 0 {
		c.mu.Lock()
		c.state = Connecting
		t := c.transport
		c.transport = nil
		c.mu.Unlock()
		if t != nil {
			if n := t.RemoveOwner(c.OwnerID()); n == 0 {
				c.provider.connector.Release(t)
			}
		}
		c.provider.search.Register(c)
		return nil
	}
	sid, err := buf.GetUint32()
	if err != nil {
		return err
	}
	c.mu.Lock()
	debug.Assert(c.state == Connecting, "channel: CREATE_CHANNEL_RESPONSE OK while not CONNECTING", c.name, c.state)
	c.sid = sid
	c.sidValid = true
	c.state = Connected
	ops := make([]*Operation, 0, len(c.ops))
	for _, op := range c.ops {
		ops = append(ops, op)
	}
	mons := make([]*Monitor, 0, len(c.monitors))
	for _, m := range c.monitors {
		mons = append(mons, m)
	}
	c.mu.Unlock()

	for _, op := range ops {
		op.resubmit()
	}
	for _, m := range mons {
		m.resubmit()
	}
	c.notifyListeners(true)
	return nil
}

// ChannelDisconnect implements transport.Owner (spec.md §4.5 "transport
// disconnect" row): notify pending operations, drop the SID, and re-enter
// CONNECTING via a fresh search registration unless destroyed.
func (c *Channel) ChannelDisconnect(err error) {
	c.mu.Lock()
	if c.state == Destroyed {
		c.mu.Unlock()
		return
	}
	c.state = Disconnected
	c.sidValid = false
	c.sid = 0
	c.transport = nil
	c.opTable = nil
	ops := make([]*Operation, 0, len(c.ops))
	for _, op := range c.ops {
		ops = append(ops, op)
	}
	mons := make([]*Monitor, 0, len(c.monitors))
	for _, m := range c.monitors {
		mons = append(mons, m)
	}
	c.mu.Unlock()

	for _, op := range ops {
		op.onChannelDisconnect(err)
	}
	for _, m := range mons {
		m.onChannelDisconnect(err)
	}
	c.notifyListeners(false)

	c.mu.Lock()
	destroyed := c.state == Destroyed
	c.mu.Unlock()
	if !destroyed {
		c.connect()
	}
}

func (c *Channel) notifyListeners(connected bool) {
	c.mu.Lock()
	ls := append([]ConnectListener(nil), c.listeners...)
	c.mu.Unlock()
	for _, l := range ls {
		l(connected)
	}
}

// destroy implements spec.md §4.5's universal "* -> DESTROYED" row: cancel
// all pending operations, unregister from search, release the transport.
func (c *Channel) destroy() {
	c.mu.Lock()
	if c.state == Destroyed {
		c.mu.Unlock()
		return
	}
	prevState := c.state
	c.state = Destroyed
	t := c.transport
	ot := c.opTable
	ioid := c.createIOID
	c.transport = nil
	ops := make([]*Operation, 0, len(c.ops))
	for _, op := range c.ops {
		ops = append(ops, op)
	}
	mons := make([]*Monitor, 0, len(c.monitors))
	for _, m := range c.monitors {
		mons = append(mons, m)
	}
	c.mu.Unlock()

	if prevState == Connecting || prevState == NeverConnected {
		c.provider.search.Unregister(c.cid)
	}
	if prevState == Connecting && ot != nil {
		ot.unregister(ioid) // drop in-flight CREATE_CHANNEL response, if any
	}
	for _, m := range mons {
		m.Cancel()
	}
	for _, op := range ops {
		op.cancel()
	}
	if t != nil && prevState == Connected {
		c.sendDestroyChannel(t)
	}
	if t != nil {
		if n := t.RemoveOwner(c.OwnerID()); n == 0 {
			c.provider.connector.Release(t)
		}
	}
}

// sendDestroyChannel is a best-effort DESTROY_CHANNEL (spec.md §3 Operation
// kind CHANNEL_DESTROY): it lets the server release the channel's SID
// promptly rather than waiting out the transport's liveness timeout. Its
// own response, if any arrives, is uninteresting — the channel is already
// gone locally — so it is fire-and-forget with no OpTable registration.
func (c *Channel) sendDestroyChannel(t *transport.TCPTransport) {
	c.mu.Lock()
	sid := c.sid
	c.mu.Unlock()
	err := t.Enqueue(transport.SenderFunc(func(w *codec.MessageWriter) (bool, error) {
		if err := w.StartMessage(codec.AppDestroyChannel, false); err != nil {
			return false, err
		}
		buf := w.Buffer()
		if err := buf.PutUint32(sid); err != nil {
			return false, err
		}
		if err := buf.PutUint32(c.cid); err != nil {
			return false, err
		}
		return false, w.EndMessage()
	}))
	if err != nil {
		nlog.Warningf("channel %s: DESTROY_CHANNEL send failed: %v", c.name, err)
	}
}

func (c *Channel) registerOp(op *Operation) {
	c.mu.Lock()
	c.ops[op.ioid] = op
	c.mu.Unlock()
}

func (c *Channel) unregisterOp(ioid uint32) {
	c.mu.Lock()
	delete(c.ops, ioid)
	c.mu.Unlock()
}

func (c *Channel) registerMonitor(m *Monitor) {
	c.mu.Lock()
	c.monitors[m.ioid] = m
	c.mu.Unlock()
}

func (c *Channel) unregisterMonitor(ioid uint32) {
	c.mu.Lock()
	delete(c.monitors, ioid)
	c.mu.Unlock()
}

// AccessRights is a fixed provisional value (§C.2): the original's
// Channel::getAccessRights is TODO'd server-side; per spec.md §9 Open
// Questions we do not fabricate semantics beyond this placeholder.
type AccessRights int

const (
	AccessNone AccessRights = iota
	AccessRead
	AccessReadWrite
)

func (c *Channel) AccessRights() AccessRights { return AccessReadWrite }

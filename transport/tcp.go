package transport

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/epics-pva/pvaclient-go/cmn/cos"
	"github.com/epics-pva/pvaclient-go/cmn/debug"
	"github.com/epics-pva/pvaclient-go/cmn/mono"
	"github.com/epics-pva/pvaclient-go/codec"
	"github.com/epics-pva/pvaclient-go/hk"
)

var errUnresponsive = errors.New("transport: unresponsive (heartbeat timeout)")

const (
	dfltSendBuf = 16 * 1024
	dfltRecvBuf = 16 * 1024

	dfltHeartbeatInterval = 15 * time.Second
	dfltConnTimeout        = 30 * time.Second
)

// HandshakeConfig parametrizes the client-side connection handshake
// (spec.md §4.2) and the heartbeat sub-state machine.
type HandshakeConfig struct {
	SecurityPlugin    string // e.g. "anonymous"
	RecvBufferSize    int32
	HeartbeatInterval time.Duration
	ConnTimeout       time.Duration
	MaxPayload        int // segmentation threshold

	// Hkr, if set, schedules the heartbeat liveness tick (spec.md §4.2) on
	// this housekeeper. A nil Hkr leaves the transport without liveness
	// detection — only used by tests that never need it.
	Hkr *hk.Housekeeper
}

func (c *HandshakeConfig) setDefaults() {
	if c.SecurityPlugin == "" {
		c.SecurityPlugin = "anonymous"
	}
	if c.RecvBufferSize <= 0 {
		c.RecvBufferSize = dfltRecvBuf
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = dfltHeartbeatInterval
	}
	if c.ConnTimeout <= 0 {
		c.ConnTimeout = dfltConnTimeout
	}
	if c.MaxPayload <= 0 {
		c.MaxPayload = dfltSendBuf - codec.HeaderSize
	}
}

// TCPTransport is one client-side virtual circuit (spec.md §3, §4.2):
// shared by every channel bound to the same (remote-address, priority)
// pair (invariant T1) and reference-counted by its owning channels. It holds
// each owning channel strongly in its owners map until RemoveOwner drops it.
type TCPTransport struct {
	conn   net.Conn
	remote string
	prio   int
	cfg    HandshakeConfig
	label  string // short human-readable correlation label for log lines (spec.md §3)

	// send side — touched only by the send goroutine, plus StartMessage's
	// Flush callback which writes to conn.
	sendCh chan Sender
	wMu    sync.Mutex // declared but not locked anywhere

	// handshake / verified-flag lock (spec.md §5: "one for the
	// verified-flag handshake")
	hsMu      sync.Mutex
	verified  bool
	verifiedCh chan error // closed (nil error) once, or sent an error once

	// receive side — touched only by the receive goroutine
	order   binary.ByteOrder
	reasm   codec.Reassembler
	dispatch [codec.DispatchTableSize]Handler

	// introspection registry lock domain (spec.md §5)
	introIn  *IntrospectionRegistry
	introOut *IntrospectionRegistry

	lastAlive int64 // mono.NanoTime, atomic via sync/atomic on the int64

	hkr    *hk.Housekeeper // heartbeat liveness tick registration (spec.md §4.2), nil if unused
	hkName string

	ownersMu sync.Mutex
	owners   map[string]Owner
	refs     int

	closeHooksMu sync.Mutex
	closeHooks   []func(error) // passive observers (e.g. the provider's OpTable cache), not refcounted owners

	closeOnce sync.Once
	closedCh  chan struct{}
	closeErr  error

	eg errgroup.Group // supervises the receive/send goroutine pair's teardown
}

// Dial opens a new TCP transport to remote and runs the client-side
// connection handshake (spec.md §4.2). It is the caller's (connector's)
// job to enforce invariant T1 — Dial itself always creates a fresh
// connection.
func Dial(remote string, priority int, cfg HandshakeConfig) (*TCPTransport, error) {
	cfg.setDefaults()
	conn, err := net.DialTimeout("tcp", remote, cfg.ConnTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "transport: dial %s", remote)
	}
	t := &TCPTransport{
		conn:       conn,
		remote:     remote,
		prio:       priority,
		cfg:        cfg,
		label:      cos.GenLabel(),
		sendCh:     make(chan Sender, 64),
		verifiedCh: make(chan error, 1),
		order:      binary.LittleEndian,
		introIn:    NewIntrospectionRegistry(),
		introOut:   NewIntrospectionRegistry(),
		owners:     make(map[string]Owner, 4),
		closedCh:   make(chan struct{}),
	}
	t.touchAlive()
	t.installMetaHandlers()

	if cfg.Hkr != nil {
		t.hkr = cfg.Hkr
		t.hkName = fmt.Sprintf("heartbeat:%p", t)
		t.hkr.Reg(t.hkName, t.heartbeatTick, cfg.HeartbeatInterval)
	}

	t.eg.Go(func() error { t.recvLoop(); return nil })
	t.eg.Go(func() error { t.sendLoop(); return nil })

	select {
	case err := <-t.verifiedCh:
		if err != nil {
			t.Close(err)
			return nil, err
		}
	case <-time.After(cfg.ConnTimeout):
		err := errors.New("transport: handshake timed out")
		t.Close(err)
		return nil, err
	}
	return t, nil
}

func (t *TCPTransport) RemoteAddr() string { return t.remote }

// IntroIn is the per-connection cache of field descriptors seen in
// messages received from the peer (spec.md §3, §4.2).
func (t *TCPTransport) IntroIn() *IntrospectionRegistry { return t.introIn }

// IntroOut is the per-connection cache of field descriptors this side has
// sent to the peer (spec.md §3, §4.2).
func (t *TCPTransport) IntroOut() *IntrospectionRegistry { return t.introOut }

// Conn exposes the underlying connection for read-only diagnostics (e.g.
// metrics.Collector's TCP_INFO scrape); callers must not write to or close
// it directly.
func (t *TCPTransport) Conn() net.Conn { return t.conn }
func (t *TCPTransport) Priority() int      { return t.prio }
func (t *TCPTransport) Verified() bool {
	t.hsMu.Lock()
	defer t.hsMu.Unlock()
	return t.verified
}

func (t *TCPTransport) touchAlive() { setAlive(&t.lastAlive, mono.NanoTime()) }

// Unresponsive reports whether the heartbeat has lapsed past connTimeout
// (spec.md §4.2, glossary "Responsive/Unresponsive").
func (t *TCPTransport) Unresponsive() bool {
	last := loadAlive(&t.lastAlive)
	return mono.NanoTime()-last > t.cfg.ConnTimeout.Nanoseconds()
}

// heartbeatTick is the hk.F registered against cfg.Hkr in Dial: every
// HeartbeatInterval it checks lastAlive against connTimeout and, on lapse,
// declares the transport unresponsive and raises a synthetic disconnect to
// every owner (spec.md §4.2) by closing it with errUnresponsive.
func (t *TCPTransport) heartbeatTick() time.Duration {
	select {
	case <-t.closedCh:
		return 0
	default:
	}
	if t.Unresponsive() {
		t.fail(errUnresponsive)
		return 0
	}
	return t.cfg.HeartbeatInterval
}

// SetHandler registers the application-command handler for IOID-keyed
// operation commands (spec.md §4.7, table entries 10-20). Commands 0-9 are
// owned by the transport's own meta handshake/search plumbing and may not
// be overridden.
func (t *TCPTransport) SetHandler(cmd byte, h Handler) {
	debug.Assert(int(cmd) >= codec.AppCreateChannel && int(cmd) < codec.DispatchTableSize, "cmd out of IOID range", cmd)
	t.dispatch[cmd] = h
}

// AddOwner registers a channel as an owner of this shared transport,
// bumping its reference count (invariant T1).
func (t *TCPTransport) AddOwner(o Owner) {
	t.ownersMu.Lock()
	defer t.ownersMu.Unlock()
	if _, ok := t.owners[o.OwnerID()]; !ok {
		t.owners[o.OwnerID()] = o
		t.refs++
	}
}

// RemoveOwner releases one reference; the caller (channel) is responsible
// for closing the transport once it believes refcount has dropped to zero,
// typically via the connector's registry.
func (t *TCPTransport) RemoveOwner(id string) (remaining int) {
	t.ownersMu.Lock()
	defer t.ownersMu.Unlock()
	if _, ok := t.owners[id]; ok {
		delete(t.owners, id)
		t.refs--
	}
	return t.refs
}

func (t *TCPTransport) RefCount() int {
	t.ownersMu.Lock()
	defer t.ownersMu.Unlock()
	return t.refs
}

// AddCloseHook registers a passive observer notified once when the
// transport closes, alongside but independent of the refcounted Owner
// disconnect notifications — used by the provider to drop its per-transport
// OpTable cache entry without participating in invariant T1/T2 refcounting.
func (t *TCPTransport) AddCloseHook(f func(error)) {
	t.closeHooksMu.Lock()
	defer t.closeHooksMu.Unlock()
	t.closeHooks = append(t.closeHooks, f)
}

// Enqueue posts a Sender onto the FIFO send queue (spec.md §4.2); the
// queue guarantees FIFO ordering across contending senders (spec.md §5).
func (t *TCPTransport) Enqueue(s Sender) error {
	select {
	case <-t.closedCh:
		return errors.New("transport: closed")
	default:
	}
	select {
	case t.sendCh <- s:
		return nil
	case <-t.closedCh:
		return errors.New("transport: closed")
	}
}

// Close shuts the transport down and posts a synthetic disconnect to every
// owner exactly once (invariant T2).
func (t *TCPTransport) Close(err error) {
	t.closeOnce.Do(func() {
		if err == nil {
			err = errors.New("transport: closed")
		}
		t.closeErr = err
		close(t.closedCh)
		t.conn.Close()
		if t.hkr != nil {
			t.hkr.Unreg(t.hkName)
		}
		t.disconnectAll(err)

		t.closeHooksMu.Lock()
		hooks := t.closeHooks
		t.closeHooksMu.Unlock()
		for _, h := range hooks {
			h(err)
		}
	})
}

func (t *TCPTransport) disconnectAll(err error) {
	t.ownersMu.Lock()
	owners := make([]Owner, 0, len(t.owners))
	for _, o := range t.owners {
		owners = append(owners, o)
	}
	t.ownersMu.Unlock()

	// spec.md §5: callbacks invoked with no internal lock held
	for _, o := range owners {
		o.ChannelDisconnect(err)
	}
}

func (t *TCPTransport) Wait() { _ = t.eg.Wait() }

// logName is the identifier nlog lines use for this transport: the remote
// address plus a short correlation label, so interleaved log output from
// concurrent transports to the same address can still be told apart.
func (t *TCPTransport) logName() string { return t.remote + " " + t.label }

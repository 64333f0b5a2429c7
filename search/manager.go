package search

import (
	"net"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/epics-pva/pvaclient-go/cmn/debug"
	"github.com/epics-pva/pvaclient-go/cmn/nlog"
	"github.com/epics-pva/pvaclient-go/codec"
	"github.com/epics-pva/pvaclient-go/hk"
	"github.com/epics-pva/pvaclient-go/transport"
)

// Target is the handle a Channel registers with the Manager. The manager
// holds each Target strongly in its pending set until the CID is matched or
// Unregister is called; dropping a Channel does not unregister it.
type Target interface {
	CID() uint32
	Name() string
	// OnFound is invoked at most once per registration, from the goroutine
	// that delivered the SEARCH_RESPONSE (the UDP receive loop), with
	// internal locks released (spec.md §5 callback rule).
	OnFound(responder *net.UDPAddr)
}

const (
	maxBackoffLevel  = 6                       // cap (spec.md §4.4 "up to a cap")
	baseInterval     = 200 * time.Millisecond  // level-0 retry spacing
	maxChannelsPerPDU = 64                     // "up to N channel CIDs each"
)

type entry struct {
	target Target
	level  int
	due    time.Time
}

// Manager is the SearchManager of spec.md §4.4. One Manager owns one UDP
// socket and emits batched SEARCH_REQUEST datagrams on a back-off schedule
// per priority bucket.
type Manager struct {
	udp  *transport.UDPTransport
	hkr  *hk.Housekeeper
	name string // hk registration name, so multiple Managers can coexist

	mu       sync.Mutex
	byCID    map[uint32]*entry
	buckets  map[int]map[uint32]struct{} // backoff level -> set of CIDs at that level
	bound    map[uint32]*net.UDPAddr     // CIDs already matched, kept for the duplicate-response tie-break
	roundSeq map[uint32]uint32           // allocated by NewManager; not read or written anywhere else

	onRound func() // optional: notified once per tick that actually sent a datagram
}

// SetOnRound installs a callback invoked once per search round that sends
// at least one SEARCH_REQUEST datagram (e.g. metrics.Collector.IncSearchRound).
func (m *Manager) SetOnRound(f func()) {
	m.mu.Lock()
	m.onRound = f
	m.mu.Unlock()
}

// NewManager binds a UDP socket for search traffic and registers its
// periodic tick with hkr. sends are the configured search targets (direct
// addresses and/or broadcast addresses, spec.md §4.3).
func NewManager(bindAddr string, sends []transport.SendAddr, hkr *hk.Housekeeper) (*Manager, error) {
	m := &Manager{
		hkr:      hkr,
		name:     "search:" + bindAddr,
		byCID:    make(map[uint32]*entry, 32),
		buckets:  make(map[int]map[uint32]struct{}, maxBackoffLevel+1),
		bound:    make(map[uint32]*net.UDPAddr, 32),
		roundSeq: make(map[uint32]uint32, 32),
	}
	udp, err := transport.NewUDPTransport(bindAddr, sends, m.onDatagram)
	if err != nil {
		return nil, err
	}
	m.udp = udp
	for lvl := 0; lvl <= maxBackoffLevel; lvl++ {
		m.buckets[lvl] = make(map[uint32]struct{})
	}
	hkr.Reg(m.name, m.tick, baseInterval)
	return m, nil
}

// Register enters target into the pending-search set at back-off level 0.
func (m *Manager) Register(t Target) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cid := t.CID()
	if _, ok := m.byCID[cid]; ok {
		debug.Assert(false, "search: duplicate CID registration", cid)
		return
	}
	e := &entry{target: t, level: 0, due: time.Now()}
	m.byCID[cid] = e
	m.buckets[0][cid] = struct{}{}
	delete(m.bound, cid)
}

// Unregister drops cid from the pending set, if present; a no-op otherwise
// (already matched, or never registered).
func (m *Manager) Unregister(cid uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byCID[cid]
	if !ok {
		return
	}
	delete(m.buckets[e.level], cid)
	delete(m.byCID, cid)
}

// Warmup issues a best-effort echo (command 0, framed as an application
// message like search traffic) to every configured send address before the first real search round, to pre-warm ARP/routing state
// (§C.5, grounded on the original's blockingUDPConnector echo probe). Errors
// are logged, never returned: a failed warmup must not block search.
func (m *Manager) Warmup() {
	if err := m.udp.Send(codec.CmdEcho, nil); err != nil {
		nlog.Warningf("search: warmup echo failed: %v", err)
	}
}

// tick fires from the housekeeper: for each due back-off bucket, batch its
// CIDs into one or more SEARCH_REQUEST datagrams, then bump each entry's
// back-off level (capped) and due time.
func (m *Manager) tick() time.Duration {
	now := time.Now()

	m.mu.Lock()
	due := make([]*entry, 0, 32)
	for _, e := range m.byCID {
		if !e.due.After(now) {
			due = append(due, e)
		}
	}
	m.mu.Unlock()

	if len(due) == 0 {
		return baseInterval
	}

	for start := 0; start < len(due); start += maxChannelsPerPDU {
		end := start + maxChannelsPerPDU
		if end > len(due) {
			end = len(due)
		}
		batch := due[start:end]
		seqID := xid.New().String()
		req := request{seqID: hashSeq(seqID), mustReply: true}
		for _, e := range batch {
			req.channels = append(req.channels, channelRef{cid: e.target.CID(), name: e.target.Name()})
		}
		if err := m.udp.Send(codec.CmdSearchRequest, encodeRequest(req)); err != nil {
			nlog.Warningf("search: send failed: %v", err)
		}
	}

	m.mu.Lock()
	onRound := m.onRound
	m.mu.Unlock()
	if onRound != nil {
		onRound()
	}

	m.mu.Lock()
	for _, e := range due {
		cid := e.target.CID()
		delete(m.buckets[e.level], cid)
		if e.level < maxBackoffLevel {
			e.level++
		}
		m.buckets[e.level][cid] = struct{}{}
		e.due = now.Add(backoffDelay(e.level))
	}
	m.mu.Unlock()

	return baseInterval
}

func backoffDelay(level int) time.Duration {
	d := baseInterval
	for i := 0; i < level; i++ {
		d *= 2
	}
	const cap_ = 30 * time.Second
	if d > cap_ {
		return cap_
	}
	return d
}

// hashSeq folds an xid string down to the 32-bit sequence-id field the wire
// format carries; collisions only affect duplicate-response de-duplication
// quality, never correctness (matching is keyed by CID, not by seqID).
func hashSeq(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

func (m *Manager) onDatagram(src *net.UDPAddr, h codec.Header, payload []byte) {
	if h.Command != codec.CmdSearchResponse {
		return
	}
	resp, err := decodeResponse(payload)
	if err != nil {
		nlog.Warningf("search: malformed response from %s: %v", src, err)
		return
	}
	for _, cid := range resp.cids {
		m.matchOne(cid, resp.from)
	}
}

// matchOne applies spec.md §4.4's tie-break rule: the first responder for a
// CID is bound; any later responder for the same CID is logged and ignored.
func (m *Manager) matchOne(cid uint32, from *net.UDPAddr) {
	m.mu.Lock()
	if prior, already := m.bound[cid]; already {
		m.mu.Unlock()
		nlog.Warningf("search: duplicate SEARCH_RESPONSE for cid=%d from %s, already bound to %s", cid, from, prior)
		return
	}
	e, ok := m.byCID[cid]
	if !ok {
		m.mu.Unlock()
		return // not pending (already connected, or never ours)
	}
	delete(m.buckets[e.level], cid)
	delete(m.byCID, cid)
	m.bound[cid] = from
	m.mu.Unlock()

	// spec.md §5: invoke the callback with no internal lock held.
	e.target.OnFound(from)
}

func (m *Manager) Close() {
	m.hkr.Unreg(m.name)
	m.udp.Close()
}

package transport

import (
	"net"
	"sync"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/epics-pva/pvaclient-go/cmn/nlog"
	"github.com/epics-pva/pvaclient-go/codec"
)

// SendAddr is one configured UDP destination. Broadcast is set by whoever
// builds the list; it is not derived from the OS interface list, and Send
// treats broadcast and unicast destinations alike.
type SendAddr struct {
	Addr      string
	Broadcast bool
}

// UDPRecv is invoked once per inbound datagram that was not silently
// dropped by the ignore list.
type UDPRecv func(src *net.UDPAddr, h codec.Header, payload []byte)

// IgnoreSet is a fast probabilistic pre-filter in front of an exact
// ignore-list, so the hot receive path skips a real compare against every
// configured ignore entry for addresses that obviously aren't in the set
// (spec.md §4.3 "ignored-source list").
type IgnoreSet struct {
	mu     sync.RWMutex
	filter *cuckoo.Filter
	exact  map[string]struct{}
}

func NewIgnoreSet() *IgnoreSet {
	return &IgnoreSet{filter: cuckoo.NewFilter(1024), exact: make(map[string]struct{})}
}

func (s *IgnoreSet) Add(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exact[addr] = struct{}{}
	s.filter.InsertUnique([]byte(addr))
}

func (s *IgnoreSet) Remove(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.exact, addr)
	s.filter.Delete([]byte(addr))
}

func (s *IgnoreSet) Contains(addr string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.filter.Lookup([]byte(addr)) {
		return false
	}
	_, ok := s.exact[addr]
	return ok
}

// UDPTransport is a single bound UDP socket used either for the search
// manager's ephemeral-port traffic or the well-known-port beacon listener
// (spec.md §4.3).
type UDPTransport struct {
	conn    *net.UDPConn
	bind    *net.UDPAddr
	sends   []SendAddr
	ignore  *IgnoreSet
	recv    UDPRecv
	closeCh chan struct{}
	once    sync.Once
}

func NewUDPTransport(bindAddr string, sends []SendAddr, recv UDPRecv) (*UDPTransport, error) {
	addr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	t := &UDPTransport{
		conn:    conn,
		bind:    addr,
		sends:   sends,
		ignore:  NewIgnoreSet(),
		recv:    recv,
		closeCh: make(chan struct{}),
	}
	go t.recvLoop()
	return t, nil
}

func (t *UDPTransport) LocalAddr() net.Addr { return t.conn.LocalAddr() }
func (t *UDPTransport) Ignore() *IgnoreSet  { return t.ignore }

// MaxUDPPayload is a datagram size budget under the 64KiB hard ceiling and
// the ~1500-byte MTU of typical LANs. Nothing enforces it: Send neither
// checks nor splits a payload against it.
const MaxUDPPayload = 1400

// Send transmits an application message (e.g. SEARCH_REQUEST) to every
// configured destination.
func (t *UDPTransport) Send(command byte, payload []byte) error {
	buf := codec.NewByteBuffer(make([]byte, codec.HeaderSize+len(payload)))
	hdr := make([]byte, codec.HeaderSize)
	codec.EncodeHeader(hdr, codec.ProtocolRevision, 0, command, uint32(len(payload)), buf.Order())
	_ = buf.PutBytes(hdr)
	_ = buf.PutBytes(payload)

	var firstErr error
	for _, dst := range t.sends {
		addr, err := net.ResolveUDPAddr("udp", dst.Addr)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if _, err := t.conn.WriteToUDP(buf.Bytes(), addr); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (t *UDPTransport) recvLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, src, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.closeCh:
				return
			default:
				nlog.Warningf("udp %s: read error: %v", t.bind, err)
				return
			}
		}
		if t.ignore.Contains(src.IP.String()) {
			continue
		}
		if n < codec.HeaderSize {
			continue
		}
		h, err := codec.DecodeHeader(buf[:n])
		if err != nil {
			nlog.Warningf("udp %s: %v", t.bind, err)
			continue
		}
		payload := buf[codec.HeaderSize:n]
		if int(h.PayloadSize) > len(payload) {
			continue
		}
		t.recv(src, h, payload[:h.PayloadSize])
	}
}

func (t *UDPTransport) Close() {
	t.once.Do(func() {
		close(t.closeCh)
		t.conn.Close()
	})
}

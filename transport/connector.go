package transport

import (
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/epics-pva/pvaclient-go/cmn/cos"
	"github.com/epics-pva/pvaclient-go/cmn/nlog"
)

// Connector owns the shared-transport registry: exactly one TCPTransport
// per (remote-address, priority) pair, reference-counted by its channel
// owners (invariant T1). Concurrent Acquire calls for the same key dedupe
// through a singleflight group so only one dial happens even when many
// channels resolve to the same server at once.
type Connector struct {
	cfg HandshakeConfig

	mu    sync.Mutex
	byKey map[uint64]*TCPTransport
	sf    singleflight.Group
}

func NewConnector(cfg HandshakeConfig) *Connector {
	return &Connector{cfg: cfg, byKey: make(map[uint64]*TCPTransport, 8)}
}

// key folds (remote, priority) down to the 64-bit transport-registry key
// invariant T1 buckets virtual circuits by (spec.md §3).
func key(remote string, priority int) uint64 { return cos.HashAddr(remote, priority) }

// Acquire returns the shared transport for (remote, priority), dialing a
// new one if none exists or the existing one has since closed. The caller
// (a Channel) must call AddOwner itself once it decides to bind, and
// Release when it unbinds.
func (c *Connector) Acquire(remote string, priority int) (*TCPTransport, error) {
	k := key(remote, priority)

	c.mu.Lock()
	if t, ok := c.byKey[k]; ok && !t.isClosed() {
		c.mu.Unlock()
		return t, nil
	}
	c.mu.Unlock()

	v, err, _ := c.sf.Do(strconv.FormatUint(k, 36), func() (any, error) {
		c.mu.Lock()
		if t, ok := c.byKey[k]; ok && !t.isClosed() {
			c.mu.Unlock()
			return t, nil
		}
		c.mu.Unlock()

		t, err := Dial(remote, priority, c.cfg)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.byKey[k] = t
		c.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*TCPTransport), nil
}

// Release drops the (remote,priority) registry entry once the transport's
// owner refcount has reached zero; safe to call redundantly.
func (c *Connector) Release(t *TCPTransport) {
	c.mu.Lock()
	k := key(t.remote, t.prio)
	if cur, ok := c.byKey[k]; ok && cur == t && t.RefCount() == 0 {
		delete(c.byKey, k)
	}
	c.mu.Unlock()
	if t.RefCount() == 0 {
		t.Close(nil)
	}
}

func (c *Connector) CloseAll() {
	c.mu.Lock()
	all := make([]*TCPTransport, 0, len(c.byKey))
	for _, t := range c.byKey {
		all = append(all, t)
	}
	c.byKey = make(map[uint64]*TCPTransport)
	c.mu.Unlock()
	for _, t := range all {
		t.Close(nil)
	}
	nlog.Infof("connector: closed %d transport(s)", len(all))
}

func (t *TCPTransport) isClosed() bool {
	select {
	case <-t.closedCh:
		return true
	default:
		return false
	}
}

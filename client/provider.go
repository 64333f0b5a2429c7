package client

import (
	"sync"

	"github.com/epics-pva/pvaclient-go/hk"
	"github.com/epics-pva/pvaclient-go/metrics"
	"github.com/epics-pva/pvaclient-go/registry"
	"github.com/epics-pva/pvaclient-go/search"
	"github.com/epics-pva/pvaclient-go/transport"
)

// Provider is the pvAccess client provider (spec.md §6 "ClientProvider(name,
// config) → provider"): it owns the search manager, the transport
// connector, the per-transport OpTable cache, and every Channel it created.
type Provider struct {
	name string
	cfg  Config

	hkr       *hk.Housekeeper
	search    *search.Manager
	connector *transport.Connector
	metrics   *metrics.Collector

	mu       sync.Mutex
	opTables map[*transport.TCPTransport]*OpTable
	channels map[uint32]*Channel
	closed   bool
}

// NewProvider starts a provider's background machinery: a housekeeper
// goroutine, a bound search-manager UDP socket, and an (initially empty)
// transport connector. It does not block on any network I/O beyond the UDP
// bind.
func NewProvider(name string, cfg Config) (*Provider, error) {
	cfg = ResolveConfig(cfg)

	hkr := hk.New()
	go hkr.Run()
	hkr.WaitStarted()

	sm, err := search.NewManager("0.0.0.0:0", cfg.searchTargets(), hkr)
	if err != nil {
		hkr.Stop()
		return nil, err
	}
	sm.Warmup() // §C.5: best-effort echo to pre-warm routing state

	collector := metrics.NewCollector()
	sm.SetOnRound(collector.IncSearchRound)

	connector := transport.NewConnector(transport.HandshakeConfig{
		ConnTimeout:       cfg.ConnTmo,
		HeartbeatInterval: cfg.BeaconPeriod,
		RecvBufferSize:    int32(cfg.MaxArrayBytes),
		Hkr:               hkr,
	})

	return &Provider{
		name:      name,
		cfg:       cfg,
		hkr:       hkr,
		search:    sm,
		connector: connector,
		metrics:   collector,
		opTables:  make(map[*transport.TCPTransport]*OpTable, 8),
		channels:  make(map[uint32]*Channel, 16),
	}, nil
}

func (p *Provider) Name() string { return p.name }

// Metrics returns this provider's prometheus.Collector (metrics/collector.go);
// the caller registers it with whatever prometheus.Registry it uses.
func (p *Provider) Metrics() *metrics.Collector { return p.metrics }

// Connect creates a Channel and begins its NEVER_CONNECTED -> CONNECTING
// transition (spec.md §6 "provider.connect(channelName, options) →
// ClientChannel").
func (p *Provider) Connect(channelName string, priority int) *Channel {
	ch := newChannel(p, channelName, priority)
	p.mu.Lock()
	p.channels[ch.CID()] = ch
	p.mu.Unlock()
	ch.connect()
	return ch
}

// bindTransport acquires (or reuses) the shared TCP transport for
// (remote, priority) and the OpTable installed on it, creating the OpTable
// the first time any channel binds to a fresh transport (spec.md §4.2,
// §4.7: "one table per physical transport, shared by every channel bound to
// it").
func (p *Provider) bindTransport(remote string, priority int) (*transport.TCPTransport, *OpTable, error) {
	t, err := p.connector.Acquire(remote, priority)
	if err != nil {
		return nil, nil, err
	}

	p.mu.Lock()
	ot, ok := p.opTables[t]
	if !ok {
		ot = newOpTable(t)
		p.opTables[t] = ot
		p.mu.Unlock()
		p.metrics.IncReconnect(remote)
		p.metrics.TrackTransport(t)
		t.AddCloseHook(func(closeErr error) {
			p.dropOpTable(t)
			ot.disconnectAll(closeErr)
		})
	} else {
		p.mu.Unlock()
	}
	return t, ot, nil
}

func (p *Provider) dropOpTable(t *transport.TCPTransport) {
	p.mu.Lock()
	delete(p.opTables, t)
	p.mu.Unlock()
}

// Close destroys every channel this provider created and tears down its
// search manager, connector, and housekeeper. Idempotent.
func (p *Provider) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	chans := make([]*Channel, 0, len(p.channels))
	for _, ch := range p.channels {
		chans = append(chans, ch)
	}
	p.mu.Unlock()

	for _, ch := range chans {
		ch.destroy()
	}
	p.search.Close()
	p.connector.CloseAll()
	p.hkr.Stop()
}

// clientFactory ref-counts repeated ClientFactoryStart/Stop calls so
// multiple independent callers in one process can each bracket their own
// usage without tearing down the shared "pva" registration underneath one
// another (§C.1, grounded on the original's clientFactory.cpp start/stop
// idempotence).
var (
	factoryMu   sync.Mutex
	factoryRefs int
)

// ClientFactoryStart registers the "pva" client provider factory in
// registry.Clients on the first call; subsequent calls just bump a
// refcount and are a no-op otherwise.
func ClientFactoryStart() {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factoryRefs++
	if factoryRefs > 1 {
		return
	}
	registry.Clients.Register("pva", func(name string, config any) (any, error) {
		cfg, _ := config.(Config)
		return NewProvider(name, cfg)
	})
}

// ClientFactoryStop reverses one ClientFactoryStart call; the "pva"
// registration is removed only once the refcount reaches zero.
func ClientFactoryStop() {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if factoryRefs == 0 {
		return
	}
	factoryRefs--
	if factoryRefs == 0 {
		registry.Clients.Unregister("pva")
	}
}

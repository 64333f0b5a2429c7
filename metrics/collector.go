// Package metrics exposes the client's internal counters and the live
// TCP-level diagnostics of transport/diag_linux.go as a single
// prometheus.Collector, in the collector-struct style of the exporter
// packages in the runZeroInc examples (pkg/exporter/exporter.go): a fixed
// set of *prometheus.Desc built once, Collect() walking whatever dynamic
// state (tracked transports, in-flight monitors) exists at scrape time.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/epics-pva/pvaclient-go/transport"
)

// Collector aggregates counters a Provider feeds it (reconnects, search
// rounds, operation outcomes, monitor overruns/queue depth) with the live
// per-transport TCP diagnostics read on each scrape.
type Collector struct {
	mu         sync.Mutex
	transports map[*transport.TCPTransport]string // -> remote address label

	reconnects      *prometheus.CounterVec
	searchRounds    prometheus.Counter
	opsStarted      *prometheus.CounterVec
	opsSucceeded    *prometheus.CounterVec
	opsFailed       *prometheus.CounterVec
	monitorOverruns prometheus.Counter

	queueDepthMu sync.Mutex
	queueDepth   map[uint32]int // monitor IOID -> queued element count

	rttDesc        *prometheus.Desc
	retransmitDesc *prometheus.Desc
	unackedDesc    *prometheus.Desc
	queueDepthDesc *prometheus.Desc
}

// NewCollector builds an unregistered Collector; the caller registers it
// with whatever prometheus.Registry it uses (spec.md/SPEC_FULL.md carry no
// opinion on the HTTP exposition side of this — that's left to the caller,
// same as the runZeroInc exporter packages this is grounded on).
func NewCollector() *Collector {
	return &Collector{
		transports: make(map[*transport.TCPTransport]string, 8),
		queueDepth: make(map[uint32]int, 8),

		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pvaclient",
			Name:      "transport_reconnects_total",
			Help:      "Number of times a fresh TCP transport was dialed for a (remote, priority) pair.",
		}, []string{"remote"}),
		searchRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pvaclient",
			Name:      "search_rounds_total",
			Help:      "Number of UDP search broadcast rounds sent.",
		}),
		opsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pvaclient",
			Name:      "operations_started_total",
			Help:      "Operations started, by kind.",
		}, []string{"kind"}),
		opsSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pvaclient",
			Name:      "operations_succeeded_total",
			Help:      "Operations completed successfully, by kind.",
		}, []string{"kind"}),
		opsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pvaclient",
			Name:      "operations_failed_total",
			Help:      "Operations that completed with an error, by kind.",
		}, []string{"kind"}),
		monitorOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pvaclient",
			Name:      "monitor_overruns_total",
			Help:      "Monitor updates coalesced into an existing queue slot because the queue was full.",
		}),
		rttDesc: prometheus.NewDesc("pvaclient_transport_rtt_micros", "Smoothed round-trip time, microseconds.", []string{"remote"}, nil),
		retransmitDesc: prometheus.NewDesc("pvaclient_transport_retransmits", "TCP retransmit count.", []string{"remote"}, nil),
		unackedDesc:    prometheus.NewDesc("pvaclient_transport_unacked_segments", "Unacknowledged TCP segments.", []string{"remote"}, nil),
		queueDepthDesc: prometheus.NewDesc("pvaclient_monitor_queue_depth", "Queued-but-unpolled monitor elements.", []string{"ioid"}, nil),
	}
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	c.reconnects.Describe(descs)
	descs <- c.searchRounds.Desc()
	c.opsStarted.Describe(descs)
	c.opsSucceeded.Describe(descs)
	c.opsFailed.Describe(descs)
	descs <- c.monitorOverruns.Desc()
	descs <- c.rttDesc
	descs <- c.retransmitDesc
	descs <- c.unackedDesc
	descs <- c.queueDepthDesc
}

func (c *Collector) Collect(out chan<- prometheus.Metric) {
	c.reconnects.Collect(out)
	out <- c.searchRounds
	c.opsStarted.Collect(out)
	c.opsSucceeded.Collect(out)
	c.opsFailed.Collect(out)
	out <- c.monitorOverruns

	c.mu.Lock()
	tracked := make(map[*transport.TCPTransport]string, len(c.transports))
	for t, remote := range c.transports {
		tracked[t] = remote
	}
	c.mu.Unlock()
	for t, remote := range tracked {
		diag, err := transport.ReadLiveDiag(t.Conn())
		if err != nil {
			continue
		}
		out <- prometheus.MustNewConstMetric(c.rttDesc, prometheus.GaugeValue, float64(diag.RTTMicros), remote)
		out <- prometheus.MustNewConstMetric(c.retransmitDesc, prometheus.GaugeValue, float64(diag.Retransmits), remote)
		out <- prometheus.MustNewConstMetric(c.unackedDesc, prometheus.GaugeValue, float64(diag.UnackedSegments), remote)
	}

	c.queueDepthMu.Lock()
	depths := make(map[uint32]int, len(c.queueDepth))
	for ioid, n := range c.queueDepth {
		depths[ioid] = n
	}
	c.queueDepthMu.Unlock()
	for ioid, n := range depths {
		out <- prometheus.MustNewConstMetric(c.queueDepthDesc, prometheus.GaugeValue, float64(n), strconv.FormatUint(uint64(ioid), 10))
	}
}

// TrackTransport adds t to the set diagnosed on each scrape and registers a
// close hook that untracks it, so a closed transport drops off without the
// caller having to remember to clean up.
func (c *Collector) TrackTransport(t *transport.TCPTransport) {
	c.mu.Lock()
	c.transports[t] = t.RemoteAddr()
	c.mu.Unlock()
	t.AddCloseHook(func(error) { c.untrackTransport(t) })
}

func (c *Collector) untrackTransport(t *transport.TCPTransport) {
	c.mu.Lock()
	delete(c.transports, t)
	c.mu.Unlock()
}

func (c *Collector) IncReconnect(remote string) { c.reconnects.WithLabelValues(remote).Inc() }
func (c *Collector) IncSearchRound()            { c.searchRounds.Inc() }

func (c *Collector) OpStarted(kind string)   { c.opsStarted.WithLabelValues(kind).Inc() }
func (c *Collector) OpSucceeded(kind string) { c.opsSucceeded.WithLabelValues(kind).Inc() }
func (c *Collector) OpFailed(kind string)    { c.opsFailed.WithLabelValues(kind).Inc() }

func (c *Collector) IncMonitorOverrun() { c.monitorOverruns.Inc() }

// SetMonitorQueueDepth records the current queue length for a monitor,
// keyed by IOID; 0 (or ClearMonitorQueueDepth) removes it from the
// pvaclient_monitor_queue_depth series once the subscription ends.
func (c *Collector) SetMonitorQueueDepth(ioid uint32, depth int) {
	c.queueDepthMu.Lock()
	if depth == 0 {
		delete(c.queueDepth, ioid)
	} else {
		c.queueDepth[ioid] = depth
	}
	c.queueDepthMu.Unlock()
}

func (c *Collector) ClearMonitorQueueDepth(ioid uint32) {
	c.queueDepthMu.Lock()
	delete(c.queueDepth, ioid)
	c.queueDepthMu.Unlock()
}

// Package metrics holds the prometheus collectors of the node. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "dlt"

// Metrics represents the set of collectors updated by the node.
type Metrics struct {
	Registry *prometheus.Registry

	received  *prometheus.CounterVec
	sent      *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	committed prometheus.Counter
	height    prometheus.Gauge
	pool      prometheus.Gauge
	peers     prometheus.Gauge
	syncState prometheus.Gauge
	requests  *prometheus.CounterVec
	errors    prometheus.Counter
	panics    prometheus.Counter
}

// New constructs the collectors and registers them, together with the
// process and Go runtime collectors, into a new registry.
func New() (*Metrics, error) {
	m := Metrics{
		Registry: prometheus.NewRegistry(),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "messages_received_total",
			Help:      "Messages received from peers by code.",
		}, []string{"code"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "messages_sent_total",
			Help:      "Messages sent to peers by code and result.",
		}, []string{"code", "result"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped before processing by reason.",
		}, []string{"reason"}),
		committed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "blocks_committed_total",
			Help:      "Blocks appended to the chain.",
		}),
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "height",
			Help:      "Height of the chain tip.",
		}),
		pool: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "txpool",
			Name:      "transactions",
			Help:      "Transactions held by the pool.",
		}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "peers",
			Help:      "Known peers.",
		}),
		syncState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "blocksync",
			Name:      "state",
			Help:      "Current synchronization phase, 0 when idle.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "web",
			Name:      "requests_total",
			Help:      "Web requests by method and status.",
		}, []string{"method", "status"}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "web",
			Name:      "errors_total",
			Help:      "Web requests that failed.",
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panics_total",
			Help:      "Recovered panics.",
		}),
	}

	cs := []prometheus.Collector{
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
		m.received, m.sent, m.dropped,
		m.committed, m.height, m.pool, m.peers, m.syncState,
		m.requests, m.errors, m.panics,
	}
	for _, c := range cs {
		if err := m.Registry.Register(c); err != nil {
			return nil, err
		}
	}

	return &m, nil
}

// MessageReceived counts an inbound message.
func (m *Metrics) MessageReceived(code string) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(code).Inc()
}

// MessageSent counts an outbound message.
func (m *Metrics) MessageSent(code string, err error) {
	if m == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sent.WithLabelValues(code, result).Inc()
}

// MessageDropped counts a message discarded before processing.
func (m *Metrics) MessageDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// BlockCommitted records a block appended to the chain.
func (m *Metrics) BlockCommitted(height uint64) {
	if m == nil {
		return
	}
	m.committed.Inc()
	m.height.Set(float64(height))
}

// SetHeight records the height of the tip.
func (m *Metrics) SetHeight(height uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
}

// SetPoolSize records the number of pooled transactions.
func (m *Metrics) SetPoolSize(n int) {
	if m == nil {
		return
	}
	m.pool.Set(float64(n))
}

// SetPeers records the number of known peers.
func (m *Metrics) SetPeers(n int) {
	if m == nil {
		return
	}
	m.peers.Set(float64(n))
}

// SetSyncState records the synchronization phase.
func (m *Metrics) SetSyncState(state int) {
	if m == nil {
		return
	}
	m.syncState.Set(float64(state))
}

// Request counts a web request.
func (m *Metrics) Request(method string, status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// Error counts a failed web request.
func (m *Metrics) Error() {
	if m == nil {
		return
	}
	m.errors.Inc()
}

// Panic counts a recovered panic.
func (m *Metrics) Panic() {
	if m == nil {
		return
	}
	m.panics.Inc()
}

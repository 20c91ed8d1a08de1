// Package metrics exposes link, bus, and mailbox counters as a
// Prometheus collector, following the Describe/Collect shape of the
// teacher's pkg/exporter.TCPInfoCollector: one hand-written
// *prometheus.Desc struct field per metric, since there is no wire struct
// here wide enough to warrant the struct-tag/codegen approach
// pkg/prom-metrics-gen applies to TCPInfo.
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector aggregates bus-wide counters and implements link.Recorder
// so a bus can attach it directly to a Link via SetRecorder. It is also
// a prometheus.Collector and can be registered with a registry.
type Collector struct {
	mu sync.Mutex

	framesSent          uint64
	datagramsLost       uint64
	redundancyDegraded  uint64
	wkcMismatch         uint64
	mailboxTimeout      uint64
	alStateCode         uint8
	alStateTransitions  map[uint8]uint64

	framesSentDesc         *prometheus.Desc
	datagramsLostDesc      *prometheus.Desc
	redundancyDegradedDesc *prometheus.Desc
	wkcMismatchDesc        *prometheus.Desc
	mailboxTimeoutDesc     *prometheus.Desc
	alStateDesc            *prometheus.Desc
	alTransitionsDesc       *prometheus.Desc
}

// New builds a Collector. constLabels is applied to every exposed
// metric, matching NewTCPInfoCollector's constLabels parameter — useful
// for tagging a process with a bus name or interface.
func New(constLabels prometheus.Labels) *Collector {
	return &Collector{
		alStateTransitions: make(map[uint8]uint64),

		framesSentDesc: prometheus.NewDesc(
			"kickcat_frames_sent_total",
			"Ethernet frames transmitted on the link.",
			nil, constLabels,
		),
		datagramsLostDesc: prometheus.NewDesc(
			"kickcat_datagrams_lost_total",
			"Datagrams that never returned a working counter before their deadline.",
			nil, constLabels,
		),
		redundancyDegradedDesc: prometheus.NewDesc(
			"kickcat_redundancy_degraded_total",
			"Degraded-redundancy episodes entered: working counters had to be summed from the nominal and redundant copies of a frame.",
			nil, constLabels,
		),
		wkcMismatchDesc: prometheus.NewDesc(
			"kickcat_wkc_mismatch_total",
			"Datagrams whose working counter did not match the value expected for them.",
			nil, constLabels,
		),
		mailboxTimeoutDesc: prometheus.NewDesc(
			"kickcat_mailbox_timeout_total",
			"Mailbox requests that expired waiting for a slave response.",
			nil, constLabels,
		),
		alStateDesc: prometheus.NewDesc(
			"kickcat_al_state",
			"Current AL status register state code of the bus (1=INIT, 2=PREOP, 4=SAFEOP, 8=OP, 3=BOOT, 0x10 set on ERROR_ACK).",
			nil, constLabels,
		),
		alTransitionsDesc: prometheus.NewDesc(
			"kickcat_al_state_transitions_total",
			"Transitions into each AL state, by state code.",
			[]string{"state"}, constLabels,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.framesSentDesc
	descs <- c.datagramsLostDesc
	descs <- c.redundancyDegradedDesc
	descs <- c.wkcMismatchDesc
	descs <- c.mailboxTimeoutDesc
	descs <- c.alStateDesc
	descs <- c.alTransitionsDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	metrics <- prometheus.MustNewConstMetric(c.framesSentDesc, prometheus.CounterValue, float64(c.framesSent))
	metrics <- prometheus.MustNewConstMetric(c.datagramsLostDesc, prometheus.CounterValue, float64(c.datagramsLost))
	metrics <- prometheus.MustNewConstMetric(c.redundancyDegradedDesc, prometheus.CounterValue, float64(c.redundancyDegraded))
	metrics <- prometheus.MustNewConstMetric(c.wkcMismatchDesc, prometheus.CounterValue, float64(c.wkcMismatch))
	metrics <- prometheus.MustNewConstMetric(c.mailboxTimeoutDesc, prometheus.CounterValue, float64(c.mailboxTimeout))
	metrics <- prometheus.MustNewConstMetric(c.alStateDesc, prometheus.GaugeValue, float64(c.alStateCode))
	for state, n := range c.alStateTransitions {
		metrics <- prometheus.MustNewConstMetric(c.alTransitionsDesc, prometheus.CounterValue, float64(n), stateLabel(state))
	}
}

// ObserveFramesSent implements link.Recorder.
func (c *Collector) ObserveFramesSent(n int) {
	atomic.AddUint64(&c.framesSent, uint64(n))
}

// ObserveDatagramLost implements link.Recorder.
func (c *Collector) ObserveDatagramLost() {
	atomic.AddUint64(&c.datagramsLost, 1)
}

// ObserveRedundancyDegraded implements link.Recorder.
func (c *Collector) ObserveRedundancyDegraded() {
	atomic.AddUint64(&c.redundancyDegraded, 1)
}

// ObserveWKCMismatch records a datagram whose returned working counter
// didn't match what the bus expected.
func (c *Collector) ObserveWKCMismatch() {
	atomic.AddUint64(&c.wkcMismatch, 1)
}

// ObserveMailboxTimeout records a mailbox request that expired waiting
// for a slave response.
func (c *Collector) ObserveMailboxTimeout() {
	atomic.AddUint64(&c.mailboxTimeout, 1)
}

// SetALState records the bus's current AL status register state code
// and counts the transition.
func (c *Collector) SetALState(code uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alStateCode = code
	c.alStateTransitions[code]++
}

func stateLabel(code uint8) string {
	switch code & 0x0F {
	case 1:
		return "INIT"
	case 2:
		return "PREOP"
	case 3:
		return "BOOT"
	case 4:
		return "SAFEOP"
	case 8:
		return "OP"
	default:
		return "UNKNOWN"
	}
}

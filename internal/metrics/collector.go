package dmtpmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "godmtp"
	subsystem = "dmtp"
)

// Label names for DMTP metrics.
const (
	labelMode   = "mode"
	labelReason = "reason"
	labelCode   = "code"
)

// -------------------------------------------------------------------------
// Collector — Prometheus DMTP Metrics
// -------------------------------------------------------------------------

// Collector holds all DMTP Prometheus metrics.
//
// Metrics are designed for fleet-scale monitoring:
//   - Session gauges track currently open device sessions per mode.
//   - Packet counters track RX/TX volumes per mode.
//   - Event counters record stored and rejected event rates.
//   - NAK counters flag misbehaving devices by error code.
type Collector struct {
	// Sessions tracks the number of currently open device sessions,
	// labeled by transport mode (simplex/duplex).
	Sessions *prometheus.GaugeVec

	// PacketsReceived counts client packets received per mode.
	PacketsReceived *prometheus.CounterVec

	// PacketsSent counts server packets transmitted per mode.
	PacketsSent *prometheus.CounterVec

	// EventsStored counts decoded events persisted through the store.
	EventsStored *prometheus.CounterVec

	// NaksSent counts NAK replies by error code, for alerting on
	// device misbehavior and template drift.
	NaksSent *prometheus.CounterVec

	// ConnectionsAdmitted counts sessions admitted by the policy gate.
	ConnectionsAdmitted *prometheus.CounterVec

	// ConnectionsRejected counts sessions rejected by the policy gate,
	// labeled with the rejection reason (inactive/rate/quota).
	ConnectionsRejected *prometheus.CounterVec

	// EventsRejected counts events refused by the quota check.
	EventsRejected *prometheus.CounterVec
}

// NewCollector creates a Collector with all DMTP metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
//
// All metrics are created with the "godmtp_dmtp_" prefix
// (namespace_subsystem) to avoid collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Sessions,
		c.PacketsReceived,
		c.PacketsSent,
		c.EventsStored,
		c.NaksSent,
		c.ConnectionsAdmitted,
		c.ConnectionsRejected,
		c.EventsRejected,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	modeLabels := []string{labelMode}
	rejectLabels := []string{labelMode, labelReason}

	return &Collector{
		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions",
			Help:      "Number of currently open device sessions.",
		}, modeLabels),

		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_received_total",
			Help:      "Total client packets received.",
		}, modeLabels),

		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_sent_total",
			Help:      "Total server packets transmitted.",
		}, modeLabels),

		EventsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_stored_total",
			Help:      "Total decoded events persisted to the store.",
		}, modeLabels),

		NaksSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "naks_sent_total",
			Help:      "Total NAK replies sent, by error code.",
		}, []string{labelCode}),

		ConnectionsAdmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connections_admitted_total",
			Help:      "Total sessions admitted by the policy gate.",
		}, modeLabels),

		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connections_rejected_total",
			Help:      "Total sessions rejected by the policy gate.",
		}, rejectLabels),

		EventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_rejected_total",
			Help:      "Total events refused by the quota check.",
		}, []string{labelReason}),
	}
}

// -------------------------------------------------------------------------
// Session Lifecycle
// -------------------------------------------------------------------------

// RegisterSession increments the open sessions gauge for the mode.
// Called when a transport accepts a device session.
func (c *Collector) RegisterSession(mode string) {
	c.Sessions.WithLabelValues(mode).Inc()
}

// UnregisterSession decrements the open sessions gauge for the mode.
// Called when a device session ends.
func (c *Collector) UnregisterSession(mode string) {
	c.Sessions.WithLabelValues(mode).Dec()
}

// -------------------------------------------------------------------------
// Packet and Event Counters
// -------------------------------------------------------------------------

// IncPacketsReceived increments the received packets counter for the mode.
func (c *Collector) IncPacketsReceived(mode string) {
	c.PacketsReceived.WithLabelValues(mode).Inc()
}

// IncPacketsSent increments the transmitted packets counter for the mode.
func (c *Collector) IncPacketsSent(mode string) {
	c.PacketsSent.WithLabelValues(mode).Inc()
}

// IncEventsStored increments the stored events counter for the mode.
func (c *Collector) IncEventsStored(mode string) {
	c.EventsStored.WithLabelValues(mode).Inc()
}

// IncNaksSent increments the NAK counter for the given error code.
func (c *Collector) IncNaksSent(code string) {
	c.NaksSent.WithLabelValues(code).Inc()
}

// -------------------------------------------------------------------------
// Policy Gate Decisions
// -------------------------------------------------------------------------

// ConnectionAdmitted increments the admitted sessions counter.
func (c *Collector) ConnectionAdmitted(mode string) {
	c.ConnectionsAdmitted.WithLabelValues(mode).Inc()
}

// ConnectionRejected increments the rejected sessions counter with the
// rejection reason.
func (c *Collector) ConnectionRejected(mode, reason string) {
	c.ConnectionsRejected.WithLabelValues(mode, reason).Inc()
}

// EventRejected increments the rejected events counter.
func (c *Collector) EventRejected(reason string) {
	c.EventsRejected.WithLabelValues(reason).Inc()
}

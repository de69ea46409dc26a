package dmtpmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	dmtpmetrics "github.com/dantte-lp/godmtp/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := dmtpmetrics.NewCollector(reg)

	if c.Sessions == nil {
		t.Error("Sessions is nil")
	}
	if c.PacketsReceived == nil {
		t.Error("PacketsReceived is nil")
	}
	if c.PacketsSent == nil {
		t.Error("PacketsSent is nil")
	}
	if c.EventsStored == nil {
		t.Error("EventsStored is nil")
	}
	if c.NaksSent == nil {
		t.Error("NaksSent is nil")
	}
	if c.ConnectionsAdmitted == nil {
		t.Error("ConnectionsAdmitted is nil")
	}
	if c.ConnectionsRejected == nil {
		t.Error("ConnectionsRejected is nil")
	}
	if c.EventsRejected == nil {
		t.Error("EventsRejected is nil")
	}

	// Verify all metrics are registered by gathering them.
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	// No data yet, so families may be empty -- but registration must not panic.
	_ = families
}

func TestRegisterUnregisterSession(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := dmtpmetrics.NewCollector(reg)

	// Register a duplex session -- gauge should go to 1.
	c.RegisterSession("duplex")

	val := gaugeValue(t, c.Sessions, "duplex")
	if val != 1 {
		t.Errorf("after RegisterSession: sessions gauge = %v, want 1", val)
	}

	// Register a simplex session as well.
	c.RegisterSession("simplex")

	val = gaugeValue(t, c.Sessions, "simplex")
	if val != 1 {
		t.Errorf("after simplex RegisterSession: gauge = %v, want 1", val)
	}

	// Unregister duplex -- gauge should go back to 0.
	c.UnregisterSession("duplex")

	val = gaugeValue(t, c.Sessions, "duplex")
	if val != 0 {
		t.Errorf("after UnregisterSession: sessions gauge = %v, want 0", val)
	}

	// simplex should still be 1.
	val = gaugeValue(t, c.Sessions, "simplex")
	if val != 1 {
		t.Errorf("simplex gauge = %v, want 1 (should be unaffected)", val)
	}
}

func TestPacketCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := dmtpmetrics.NewCollector(reg)

	// Increment received counter 3 times.
	c.IncPacketsReceived("duplex")
	c.IncPacketsReceived("duplex")
	c.IncPacketsReceived("duplex")

	val := counterValue(t, c.PacketsReceived, "duplex")
	if val != 3 {
		t.Errorf("PacketsReceived = %v, want 3", val)
	}

	// Increment sent counter 2 times.
	c.IncPacketsSent("duplex")
	c.IncPacketsSent("duplex")

	val = counterValue(t, c.PacketsSent, "duplex")
	if val != 2 {
		t.Errorf("PacketsSent = %v, want 2", val)
	}

	// Stored events and NAKs once each.
	c.IncEventsStored("simplex")
	c.IncNaksSent("formatNotRecognized")

	val = counterValue(t, c.EventsStored, "simplex")
	if val != 1 {
		t.Errorf("EventsStored = %v, want 1", val)
	}

	val = counterValue(t, c.NaksSent, "formatNotRecognized")
	if val != 1 {
		t.Errorf("NaksSent = %v, want 1", val)
	}
}

func TestGateDecisionCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := dmtpmetrics.NewCollector(reg)

	c.ConnectionAdmitted("duplex")

	val := counterValue(t, c.ConnectionsAdmitted, "duplex")
	if val != 1 {
		t.Errorf("ConnectionsAdmitted = %v, want 1", val)
	}

	// Rejections keyed by mode and reason independently.
	c.ConnectionRejected("duplex", "rate")
	c.ConnectionRejected("duplex", "rate")
	c.ConnectionRejected("duplex", "inactive")

	val = counterValue(t, c.ConnectionsRejected, "duplex", "rate")
	if val != 2 {
		t.Errorf("ConnectionsRejected(rate) = %v, want 2", val)
	}

	val = counterValue(t, c.ConnectionsRejected, "duplex", "inactive")
	if val != 1 {
		t.Errorf("ConnectionsRejected(inactive) = %v, want 1", val)
	}

	c.EventRejected("quota")
	c.EventRejected("quota")

	val = counterValue(t, c.EventsRejected, "quota")
	if val != 2 {
		t.Errorf("EventsRejected = %v, want 2", val)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// gaugeValue reads the current value of a GaugeVec with the given labels.
func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

// counterValue reads the current value of a CounterVec with the given labels.
func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}

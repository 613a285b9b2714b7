package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestRecordEnrollIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RecordEnroll("enroll-completed")
	m.RecordEnroll("enroll-completed")
	m.RecordEnroll("enroll-data-full")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	got := counterValue(t, families, "fprintd_enroll_attempts_total", "result", "enroll-completed")
	if got != 2 {
		t.Fatalf("expected 2 completed enrolls, got %v", got)
	}
}

func TestSetClaimedTogglesGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SetClaimed("0", true)
	m.SetClaimed("0", false)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	got := gaugeValue(t, families, "fprintd_devices_claimed", "device", "0")
	if got != 0 {
		t.Fatalf("expected claimed gauge to be 0 after release, got %v", got)
	}
}

func TestNilMetricsMethodsAreNoOps(t *testing.T) {
	var m *Metrics
	m.RecordEnroll("x")
	m.RecordVerify("x")
	m.SetClaimed("0", true)
	m.RecordGC()
}

func counterValue(t *testing.T, families []*dto.MetricFamily, name, label, value string) float64 {
	t.Helper()
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.Metric {
			for _, lp := range m.Label {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.Counter.GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{%s=%q} not found", name, label, value)
	return 0
}

func gaugeValue(t *testing.T, families []*dto.MetricFamily, name, label, value string) float64 {
	t.Helper()
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.Metric {
			for _, lp := range m.Label {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.Gauge.GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{%s=%q} not found", name, label, value)
	return 0
}

// Package metrics exposes Prometheus counters/gauges for the daemon's
// core operations, grounded on dittofs's DelegationMetrics: a
// nil-safe metrics struct, registered once at startup, with one Record*
// method per event the rest of the daemon reports.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is nil-safe: every method is a no-op on a nil *Metrics, so
// wiring it through internal/device is optional for callers that don't
// pass one in.
type Metrics struct {
	enrollTotal  *prometheus.CounterVec
	verifyTotal  *prometheus.CounterVec
	claimedGauge *prometheus.GaugeVec
	gcTotal      prometheus.Counter
}

// New creates and, if reg is non-nil, registers the daemon's metrics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		enrollTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fprintd",
			Name:      "enroll_attempts_total",
			Help:      "Total number of enroll attempts, labeled by outcome.",
		}, []string{"result"}),
		verifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fprintd",
			Name:      "verify_attempts_total",
			Help:      "Total number of verify/identify attempts, labeled by outcome.",
		}, []string{"result"}),
		claimedGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fprintd",
			Name:      "devices_claimed",
			Help:      "Whether a device is currently claimed (1) or not (0), by device id.",
		}, []string{"device"}),
		gcTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fprintd",
			Name:      "device_gc_runs_total",
			Help:      "Total number of on-device garbage collection passes triggered by DATA_FULL.",
		}),
	}
	if reg != nil {
		m.enrollTotal = registerOrReuse(reg, m.enrollTotal).(*prometheus.CounterVec)
		m.verifyTotal = registerOrReuse(reg, m.verifyTotal).(*prometheus.CounterVec)
		m.claimedGauge = registerOrReuse(reg, m.claimedGauge).(*prometheus.GaugeVec)
		m.gcTotal = registerOrReuse(reg, m.gcTotal).(prometheus.Counter)
	}
	return m
}

func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

func (m *Metrics) RecordEnroll(result string) {
	if m == nil {
		return
	}
	m.enrollTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordVerify(result string) {
	if m == nil {
		return
	}
	m.verifyTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SetClaimed(deviceID string, claimed bool) {
	if m == nil {
		return
	}
	v := 0.0
	if claimed {
		v = 1.0
	}
	m.claimedGauge.WithLabelValues(deviceID).Set(v)
}

func (m *Metrics) RecordGC() {
	if m == nil {
		return
	}
	m.gcTotal.Inc()
}

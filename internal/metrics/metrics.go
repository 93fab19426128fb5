// Package metrics exposes the bridge's Prometheus collectors. Metrics
// satisfies the observer interfaces of serialmon, dispatch, telemetry and
// bridge.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "telemetry_bridge"

type Metrics struct {
	serialLines      *prometheus.CounterVec
	serialReconnects prometheus.Counter
	recordsQueued    prometheus.Counter
	recordsDropped   prometheus.Counter
	recordsFailed    prometheus.Counter
	cycles           prometheus.Counter
	cycleDuration    prometheus.Histogram
	queryFailures    *prometheus.CounterVec
	publishes        *prometheus.CounterVec
	writeBacks       *prometheus.CounterVec
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		serialLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serial_lines_total",
			Help:      "Non-empty device lines read, by kind.",
		}, []string{"kind"}),
		serialReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serial_reconnects_total",
			Help:      "Serial port reopen attempts after a failure.",
		}),
		recordsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dispatched_total",
			Help:      "Sensor records accepted by the worker queue.",
		}),
		recordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Sensor records dropped because the worker queue was full.",
		}),
		recordsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_failed_total",
			Help:      "Sensor records the store write rejected.",
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed bridge cycles.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one bridge cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		queryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_failures_total",
			Help:      "Failed store queries, by source.",
		}, []string{"source"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Telemetry publish outcomes.",
		}, []string{"result"}),
		writeBacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_backs_total",
			Help:      "Derived-value writes to the store, by field and result.",
		}, []string{"field", "result"}),
	}

	reg.MustRegister(
		m.serialLines, m.serialReconnects,
		m.recordsQueued, m.recordsDropped, m.recordsFailed,
		m.cycles, m.cycleDuration, m.queryFailures,
		m.publishes, m.writeBacks,
	)
	return m
}

func (m *Metrics) Line(kind string) { m.serialLines.WithLabelValues(kind).Inc() }
func (m *Metrics) Reconnect()       { m.serialReconnects.Inc() }

func (m *Metrics) Dispatched() { m.recordsQueued.Inc() }
func (m *Metrics) Dropped()    { m.recordsDropped.Inc() }
func (m *Metrics) Failed()     { m.recordsFailed.Inc() }

func (m *Metrics) CycleCompleted(d time.Duration) {
	m.cycles.Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) QueryFailed(source string) { m.queryFailures.WithLabelValues(source).Inc() }

func (m *Metrics) Published(result string) { m.publishes.WithLabelValues(result).Inc() }

func (m *Metrics) WroteBack(field string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.writeBacks.WithLabelValues(field, result).Inc()
}

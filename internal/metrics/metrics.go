// Package metrics provides Prometheus metrics for the UDP relay.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "udprelay"
)

// Drop reasons used as the "reason" label of PacketsDropped.
const (
	DropTxQueueFull = "tx_queue_full"
	DropRxQueueFull = "rx_queue_full"
	DropOversized   = "oversized"
	DropSendFailed  = "send_failed"
	DropRelayRetry  = "relay_retries_exhausted"
)

// Queue names used as the "queue" label of QueueDepth.
const (
	QueueTx = "tx"
	QueueRx = "rx"
)

// Metrics contains all Prometheus metrics for an engine and its relay.
// All Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Engine lifecycle
	EngineRunning prometheus.Gauge
	EngineStarts  prometheus.Counter

	// Datagram traffic
	PacketsSent     prometheus.Counter
	PacketsReceived prometheus.Counter
	BytesSent       prometheus.Counter
	BytesReceived   prometheus.Counter
	PacketsDropped  *prometheus.CounterVec

	// Loop behaviour
	QueueDepth *prometheus.GaugeVec
	IdleSleeps prometheus.Counter

	// Relay pump
	RelayForwarded *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide metrics registered with the default registry.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetricsWithRegistry(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// NewMetricsWithRegistry creates a Metrics instance registered with reg.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EngineRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_running",
			Help:      "1 while the engine loop is running",
		}),
		EngineStarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_starts_total",
			Help:      "Total number of successful engine starts",
		}),

		PacketsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Total datagrams written to the socket",
		}),
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Total datagrams accepted into the inbound queue",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total payload bytes written to the socket",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total payload bytes accepted into the inbound queue",
		}),
		PacketsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_dropped_total",
			Help:      "Total datagrams dropped by reason",
		}, []string{"reason"}),

		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Pending datagrams per queue",
		}, []string{"queue"}),
		IdleSleeps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_idle_sleeps_total",
			Help:      "Loop iterations that neither sent nor received and slept for the grace interval",
		}),

		RelayForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_forwarded_total",
			Help:      "Datagrams handled by the relay pump by mode",
		}, []string{"mode"}),
	}
}

// RecordStart records a successful engine start.
func (m *Metrics) RecordStart() {
	if m == nil {
		return
	}
	m.EngineStarts.Inc()
	m.EngineRunning.Set(1)
}

// RecordStop records the engine loop exiting.
func (m *Metrics) RecordStop() {
	if m == nil {
		return
	}
	m.EngineRunning.Set(0)
}

// RecordSent records a datagram written to the socket.
func (m *Metrics) RecordSent(bytes int) {
	if m == nil {
		return
	}
	m.PacketsSent.Inc()
	m.BytesSent.Add(float64(bytes))
}

// RecordReceived records a datagram accepted into the inbound queue.
func (m *Metrics) RecordReceived(bytes int) {
	if m == nil {
		return
	}
	m.PacketsReceived.Inc()
	m.BytesReceived.Add(float64(bytes))
}

// RecordDrop records a dropped datagram.
func (m *Metrics) RecordDrop(reason string) {
	if m == nil {
		return
	}
	m.PacketsDropped.WithLabelValues(reason).Inc()
}

// SetQueueDepth updates the depth gauge of a queue.
func (m *Metrics) SetQueueDepth(queue string, depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordIdleSleep records one grace-interval sleep of the loop.
func (m *Metrics) RecordIdleSleep() {
	if m == nil {
		return
	}
	m.IdleSleeps.Inc()
}

// RecordRelayed records a datagram handled by the relay pump.
func (m *Metrics) RecordRelayed(mode string) {
	if m == nil {
		return
	}
	m.RelayForwarded.WithLabelValues(mode).Inc()
}

// Package metrics exposes Prometheus collectors for bridge traffic and heap bookkeeping.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/woxQAQ/jsbridge/pkg/protocol"
)

const namespace = "jsbridge"

// Message directions.
const (
	Sent     = "sent"
	Received = "received"
)

// Heap anomaly kinds.
const (
	AnomalyDoubleRelease = "double_release"
	AnomalyReserved      = "reserved"
	AnomalyDesync        = "desync"
)

// Metrics holds the collectors for one bridge.
type Metrics struct {
	MessagesTotal    *prometheus.CounterVec
	MessageBytes     *prometheus.HistogramVec
	FlushesTotal     prometheus.Counter
	BatchOps         prometheus.Histogram
	HeapIDsLive      prometheus.Gauge
	CallbacksLive    prometheus.Gauge
	HeapAnomalyTotal *prometheus.CounterVec
}

// New registers the bridge collectors with reg. A nil reg uses a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "IPC messages by direction and type.",
		}, []string{"direction", "type"}),
		MessageBytes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_bytes",
			Help:      "Size of IPC message payloads.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 8),
		}, []string{"direction"}),
		FlushesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Batches sent and awaited.",
		}),
		BatchOps: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_ops",
			Help:      "Operations carried per flushed batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		HeapIDsLive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "heap_ids_live",
			Help:      "Dynamically allocated heap ids not yet released.",
		}),
		CallbacksLive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "callbacks_live",
			Help:      "Native closures registered for the script side.",
		}),
		HeapAnomalyTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heap_anomalies_total",
			Help:      "Heap bookkeeping violations by kind.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) ObserveMessage(direction string, t protocol.MessageType, size int) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(direction, t.String()).Inc()
	m.MessageBytes.WithLabelValues(direction).Observe(float64(size))
}

func (m *Metrics) ObserveFlush(ops int) {
	if m == nil {
		return
	}
	m.FlushesTotal.Inc()
	m.BatchOps.Observe(float64(ops))
}

func (m *Metrics) SetHeapLive(n int) {
	if m == nil {
		return
	}
	m.HeapIDsLive.Set(float64(n))
}

func (m *Metrics) SetCallbacksLive(n int) {
	if m == nil {
		return
	}
	m.CallbacksLive.Set(float64(n))
}

func (m *Metrics) HeapAnomaly(kind string) {
	if m == nil {
		return
	}
	m.HeapAnomalyTotal.WithLabelValues(kind).Inc()
}

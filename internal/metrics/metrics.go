// Package metrics holds the Prometheus collectors of the real-time layer.
// Every helper is nil-safe so components can run without instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "meshdash"

// Metrics groups the collectors registered for one process.
type Metrics struct {
	ConnectionState    *prometheus.GaugeVec
	ConnectAttempts    prometheus.Counter
	ReconnectScheduled prometheus.Counter
	ReconnectExhausted prometheus.Counter
	FramesReceived     prometheus.Counter
	FramesDropped      *prometheus.CounterVec
	DeliveryLatency    prometheus.Histogram
	BusEmitted         *prometheus.CounterVec
	BusHandlerPanics   *prometheus.CounterVec
	RecorderDropped    *prometheus.CounterVec
	RecorderSaved      prometheus.Counter
}

// New registers the collectors on reg. A nil reg uses a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		ConnectionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current real-time connection state (1 for the active state)",
		}, []string{"state"}),
		ConnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Total number of transport open attempts",
		}),
		ReconnectScheduled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_scheduled_total",
			Help:      "Total number of reconnects scheduled by the backoff policy",
		}),
		ReconnectExhausted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_exhausted_total",
			Help:      "Total number of times the reconnect budget ran out",
		}),
		FramesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total number of inbound frames decoded into messages",
		}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total number of inbound frames dropped by reason",
		}, []string{"reason"}),
		DeliveryLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_latency_seconds",
			Help:      "Delay between mesh reception (rx_time) and local delivery",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}),
		BusEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_emitted_total",
			Help:      "Total number of events emitted on the event bus by tag",
		}, []string{"tag"}),
		BusHandlerPanics: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_handler_panics_total",
			Help:      "Total number of recovered event handler panics by tag",
		}, []string{"tag"}),
		RecorderDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorder_dropped_total",
			Help:      "Total number of messages the history recorder dropped by reason",
		}, []string{"reason"}),
		RecorderSaved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorder_saved_total",
			Help:      "Total number of messages persisted by the history recorder",
		}),
	}
}

// SetConnectionState marks current as the only active state.
func (m *Metrics) SetConnectionState(current string, all ...string) {
	if m == nil {
		return
	}
	for _, s := range all {
		m.ConnectionState.WithLabelValues(s).Set(0)
	}
	m.ConnectionState.WithLabelValues(current).Set(1)
}

func (m *Metrics) IncConnectAttempt() {
	if m == nil {
		return
	}
	m.ConnectAttempts.Inc()
}

func (m *Metrics) IncReconnectScheduled() {
	if m == nil {
		return
	}
	m.ReconnectScheduled.Inc()
}

func (m *Metrics) IncReconnectExhausted() {
	if m == nil {
		return
	}
	m.ReconnectExhausted.Inc()
}

func (m *Metrics) IncFrameReceived() {
	if m == nil {
		return
	}
	m.FramesReceived.Inc()
}

// IncFrameDropped records a dropped inbound frame with a concrete reason.
func (m *Metrics) IncFrameDropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(labelOrUnknown(reason)).Inc()
}

// ObserveDeliveryLatency records how long a message took from the mesh to
// this process. Zero or future reception times are ignored.
func (m *Metrics) ObserveDeliveryLatency(rxTime, now time.Time) {
	if m == nil || rxTime.IsZero() || now.Before(rxTime) {
		return
	}
	m.DeliveryLatency.Observe(now.Sub(rxTime).Seconds())
}

func (m *Metrics) IncBusEmitted(tag string) {
	if m == nil {
		return
	}
	m.BusEmitted.WithLabelValues(labelOrUnknown(tag)).Inc()
}

func (m *Metrics) IncBusHandlerPanic(tag string) {
	if m == nil {
		return
	}
	m.BusHandlerPanics.WithLabelValues(labelOrUnknown(tag)).Inc()
}

func (m *Metrics) IncRecorderDropped(reason string) {
	if m == nil {
		return
	}
	m.RecorderDropped.WithLabelValues(labelOrUnknown(reason)).Inc()
}

func (m *Metrics) AddRecorderSaved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecorderSaved.Add(float64(n))
}

func labelOrUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

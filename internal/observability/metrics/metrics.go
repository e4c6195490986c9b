package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ChatMetrics exposes counters/histograms for chat sessions and dispatch.
type ChatMetrics struct {
	messagesTotal   *prometheus.CounterVec
	backendOpsTotal *prometheus.CounterVec
	stageLatency    *prometheus.HistogramVec
	activeSessions  prometheus.Gauge
	supersededTotal prometheus.Counter
}

func NewChatMetrics(reg prometheus.Registerer) *ChatMetrics {
	m := &ChatMetrics{
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patientpal",
			Subsystem: "chat",
			Name:      "messages_total",
			Help:      "Handled chat messages by outcome",
		}, []string{"outcome"}),
		backendOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patientpal",
			Subsystem: "chat",
			Name:      "backend_operations_total",
			Help:      "Appointment operations sent to the provider",
		}, []string{"operation", "status"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "patientpal",
			Subsystem: "chat",
			Name:      "stage_latency_seconds",
			Help:      "Latency of classification, dispatch and storage stages",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "patientpal",
			Subsystem: "chat",
			Name:      "active_sessions",
			Help:      "Currently connected chat sessions",
		}),
		supersededTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "patientpal",
			Subsystem: "chat",
			Name:      "superseded_sessions_total",
			Help:      "Sessions closed because the same user connected again",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.messagesTotal, m.backendOpsTotal, m.stageLatency, m.activeSessions, m.supersededTotal)
	return m
}

func (m *ChatMetrics) ObserveMessage(outcome string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(outcome).Inc()
}

func (m *ChatMetrics) ObserveBackendOperation(operation, status string) {
	if m == nil {
		return
	}
	m.backendOpsTotal.WithLabelValues(operation, status).Inc()
}

func (m *ChatMetrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *ChatMetrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *ChatMetrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *ChatMetrics) SessionSuperseded() {
	if m == nil {
		return
	}
	m.supersededTotal.Inc()
}

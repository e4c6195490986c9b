package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestChatMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewChatMetrics(reg)
	m.ObserveMessage("resolved")
	m.ObserveMessage("resolved")
	m.ObserveBackendOperation("CANCEL_APPOINTMENT", "timeout")
	m.ObserveStage("classify", 120*time.Millisecond)
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.SessionSuperseded()

	if got := testutil.ToFloat64(m.messagesTotal.WithLabelValues("resolved")); got != 2 {
		t.Fatalf("expected 2 resolved messages, got %v", got)
	}
	if got := testutil.ToFloat64(m.backendOpsTotal.WithLabelValues("CANCEL_APPOINTMENT", "timeout")); got != 1 {
		t.Fatalf("expected 1 backend timeout, got %v", got)
	}
	if got := testutil.ToFloat64(m.activeSessions); got != 1 {
		t.Fatalf("expected 1 active session, got %v", got)
	}
	if got := testutil.CollectAndCount(m.stageLatency); got != 1 {
		t.Fatalf("expected 1 latency series, got %d", got)
	}
}

func TestChatMetricsDefaultRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	prev := prometheus.DefaultRegisterer
	prometheus.DefaultRegisterer = reg
	defer func() { prometheus.DefaultRegisterer = prev }()

	m := NewChatMetrics(nil)
	m.ObserveMessage("unrecognized")
}

func TestChatMetricsNilSafe(t *testing.T) {
	var m *ChatMetrics
	m.ObserveMessage("resolved")
	m.ObserveBackendOperation("op", "ok")
	m.ObserveStage("classify", time.Second)
	m.SessionOpened()
	m.SessionClosed()
	m.SessionSuperseded()
}

func TestChatMetricsStageHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewChatMetrics(reg)
	m.ObserveStage("dispatch", 50*time.Millisecond)
	m.ObserveStage("dispatch", 150*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var family *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "patientpal_chat_stage_latency_seconds" {
			family = f
		}
	}
	if family == nil {
		t.Fatalf("stage latency family not exported")
	}
	metric := family.GetMetric()[0]
	if !hasLabel(metric, "stage", "dispatch") {
		t.Fatalf("expected stage=dispatch label, got %v", metric.GetLabel())
	}
	if got := metric.GetHistogram().GetSampleCount(); got != 2 {
		t.Fatalf("expected 2 samples, got %d", got)
	}
}

func hasLabel(metric *dto.Metric, name, value string) bool {
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

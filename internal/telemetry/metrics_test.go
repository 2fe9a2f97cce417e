package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveCall("chunk", "ok", 120*time.Millisecond)
	m.ObserveCall("chunk", "transient", time.Second)
	m.ObserveAsk("whole", "ok", 3, 2, 4)
	m.ObserveCache(true)
	m.ObserveCache(false)
	m.ObserveRequest("GET", "/health", 200, time.Millisecond)

	if got := testutil.ToFloat64(m.CompletionCalls.WithLabelValues("chunk", "ok")); got != 1 {
		t.Errorf("ok calls = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ChunksDispatched); got != 3 {
		t.Errorf("dispatched = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.ChunksDropped); got != 2 {
		t.Errorf("dropped = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/health", "2xx")); got != 1 {
		t.Errorf("requests = %v, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected registered metric families")
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCall("merge", "ok", time.Second)
	m.ObserveAsk("stream", "ok", 1, 0, 1)
	m.ObserveRequest("POST", "/x", 500, time.Second)
	m.ObserveIngest("completed")
	m.SetIngestQueue(3)
	m.ObserveCache(true)
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{200: "2xx", 204: "2xx", 302: "3xx", 404: "4xx", 429: "4xx", 502: "5xx"}
	for code, want := range tests {
		if got := statusClass(code); got != want {
			t.Errorf("statusClass(%d) = %q, want %q", code, got, want)
		}
	}
}

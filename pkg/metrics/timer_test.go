package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func histogramSampleCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestNewTimerStartsNow(t *testing.T) {
	timer := NewTimer()
	if timer.start.IsZero() {
		t.Fatal("NewTimer() start time is zero")
	}
	if time.Since(timer.start) > time.Second {
		t.Error("NewTimer() start time is not recent")
	}
}

// TestTimerObserveDurationRecordsWorkloadCycle exercises Timer the way
// pkg/workload's reconciler actually uses it: time one reconciliation pass
// and record it to the real WorkloadReconciliationDuration histogram.
func TestTimerObserveDurationRecordsWorkloadCycle(t *testing.T) {
	before := histogramSampleCount(t, WorkloadReconciliationDuration)

	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	timer.ObserveDuration(WorkloadReconciliationDuration)

	if after := histogramSampleCount(t, WorkloadReconciliationDuration); after != before+1 {
		t.Errorf("WorkloadReconciliationDuration sample count = %d, want %d", after, before+1)
	}
}

// TestTimerObserveDurationVecRecordsHandlerLatency records through Timer into
// the same HandlerLatency vec, keyed by subject, that pkg/handlers observes
// directly for each request.
func TestTimerObserveDurationVecRecordsHandlerLatency(t *testing.T) {
	const subject = "avena.ping"

	obs := HandlerLatency.WithLabelValues(subject)
	hist, ok := obs.(prometheus.Histogram)
	if !ok {
		t.Fatal("HandlerLatency.WithLabelValues did not return a prometheus.Histogram")
	}
	before := histogramSampleCount(t, hist)

	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	timer.ObserveDurationVec(HandlerLatency, subject)

	if after := histogramSampleCount(t, hist); after != before+1 {
		t.Errorf("HandlerLatency[%s] sample count = %d, want %d", subject, after, before+1)
	}
}

// TestTimerDurationMonotonic mirrors how mesh.Reconciler and workload.Reconciler
// both defer timer.ObserveDuration after doing real work in between: Duration
// must keep growing across that work, not freeze at creation time.
func TestTimerDurationMonotonic(t *testing.T) {
	timer := NewTimer()

	first := timer.Duration()
	time.Sleep(10 * time.Millisecond)
	second := timer.Duration()

	if second <= first {
		t.Errorf("Duration() did not advance: first=%v, second=%v", first, second)
	}
}

package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNilSafeHelpersBeforeInit(t *testing.T) {
	// Helpers must be callable before Init registers anything. This test
	// relies on running before the others in the file touch Init.
	RecordReveal()
	RecordRevealError()
	RecordSessionStarted()
	RecordJump("small")
	RecordMessageRecorded()
	RecordMessageImported()
	ObserveBackfill(25)
	SetActiveSessions(1)
	SetPendingReveals(3)
}

func TestInitRegistersMetrics(t *testing.T) {
	Init()

	if RevealsTotal == nil {
		t.Error("RevealsTotal not initialized")
	}
	if JumpsTotal == nil {
		t.Error("JumpsTotal not initialized")
	}
	if BackfillBatchSize == nil {
		t.Error("BackfillBatchSize histogram not initialized")
	}
	if LogLoadDuration == nil {
		t.Error("LogLoadDuration histogram not initialized")
	}
	if ActiveSessionsGauge == nil || PendingRevealsGauge == nil {
		t.Error("gauges not initialized")
	}

	// Init is guarded; a second call must not re-register
	Init()
}

func TestRecordJumpKinds(t *testing.T) {
	Init()

	RecordJump("small")
	RecordJump("large")
	RecordJump("large")

	metric := &dto.Metric{}
	if err := JumpsTotal.WithLabelValues("large").Write(metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if metric.Counter == nil || *metric.Counter.Value < 2 {
		t.Errorf("large jump counter = %+v, want >= 2", metric.Counter)
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	Init()

	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})
	prometheus.MustRegister(testHistogram)
	defer prometheus.Unregister(testHistogram)

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})

	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if duration < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", duration)
	}

	metric := &dto.Metric{}
	if err := testHistogram.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram == nil || *metric.Histogram.SampleCount == 0 {
		t.Error("TimeFunc did not record observation in histogram")
	}
}

func TestObserveBackfillBuckets(t *testing.T) {
	Init()

	// the interesting sizes for jump backfills
	for _, n := range []int{0, 1, 5, 25, 100} {
		ObserveBackfill(n)
	}
}

// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	RevealsTotal      prometheus.Counter
	RevealErrorsTotal prometheus.Counter
	SessionsStarted   prometheus.Counter
	JumpsTotal        *prometheus.CounterVec // label: kind=small|large
	MessagesRecorded  prometheus.Counter
	MessagesImported  prometheus.Counter

	// Histograms
	BackfillBatchSize prometheus.Observer
	LogLoadDuration   prometheus.Observer

	// Gauges
	ActiveSessionsGauge prometheus.Gauge
	PendingRevealsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		RevealsTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "replay_reveals_total", Help: "Number of events revealed to sinks"})
		RevealErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "replay_reveal_errors_total", Help: "Number of sink reveal failures (skipped events)"})
		SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "replay_sessions_started_total", Help: "Number of replay sessions started"})
		JumpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "replay_jumps_total", Help: "Number of classified playback jumps"}, []string{"kind"})
		MessagesRecorded = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_recorded_total", Help: "Number of live chat messages persisted by the recorder"})
		MessagesImported = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_imported_total", Help: "Number of chat messages inserted by the importer"})
		BackfillBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{Name: "replay_backfill_batch_size", Help: "Events revealed per jump backfill", Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100}})
		LogLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_log_load_duration_seconds", Help: "Chat log load duration seconds", Buckets: prometheus.DefBuckets})
		ActiveSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "replay_active_sessions", Help: "Replay sessions currently tracking"})
		PendingRevealsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "replay_pending_reveals", Help: "Staggered reveals scheduled but not yet fired"})
	})
}

// The helpers below are nil-safe so packages can record metrics without
// caring whether Init ran (it does not in most tests).

// RecordReveal counts one successful reveal.
func RecordReveal() {
	if RevealsTotal != nil {
		RevealsTotal.Inc()
	}
}

// RecordRevealError counts one skipped event due to a sink failure.
func RecordRevealError() {
	if RevealErrorsTotal != nil {
		RevealErrorsTotal.Inc()
	}
}

// RecordSessionStarted counts one session start.
func RecordSessionStarted() {
	if SessionsStarted != nil {
		SessionsStarted.Inc()
	}
}

// RecordJump counts one classified jump; kind is "small" or "large".
func RecordJump(kind string) {
	if JumpsTotal != nil {
		JumpsTotal.WithLabelValues(kind).Inc()
	}
}

// RecordMessageRecorded counts one live message persisted.
func RecordMessageRecorded() {
	if MessagesRecorded != nil {
		MessagesRecorded.Inc()
	}
}

// RecordMessageImported counts one imported message insert.
func RecordMessageImported() {
	if MessagesImported != nil {
		MessagesImported.Inc()
	}
}

// ObserveBackfill records the size of a jump backfill batch.
func ObserveBackfill(n int) {
	if BackfillBatchSize != nil {
		BackfillBatchSize.Observe(float64(n))
	}
}

// SetActiveSessions records the number of tracking sessions.
func SetActiveSessions(n int) {
	if ActiveSessionsGauge != nil {
		ActiveSessionsGauge.Set(float64(n))
	}
}

// SetPendingReveals records the current pending stagger count.
func SetPendingReveals(n int) {
	if PendingRevealsGauge != nil {
		PendingRevealsGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}

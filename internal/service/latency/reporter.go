// Package latency measures the time from end of speech to final output.
package latency

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"speech-tone-service/internal/observability/logging"
	"speech-tone-service/internal/observability/metrics"
)

// FinalStage is the label reported for finalized utterances.
const FinalStage = "Final Tone Stage"

// Reporter computes and reports end-of-speech latency. Timestamps are
// milliseconds since the Unix epoch.
type Reporter struct {
	now     func() time.Time
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) { r.now = now }
}

// WithLogger overrides the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Reporter) { r.logger = l }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reporter) { r.metrics = m }
}

// NewReporter creates a Reporter.
func NewReporter(opts ...Option) *Reporter {
	r := &Reporter{
		now:     time.Now,
		logger:  logging.WithComponent("latency"),
		metrics: metrics.DefaultMetrics,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NowMillis returns the current wall-clock time in milliseconds.
func (r *Reporter) NowMillis() float64 {
	return float64(r.now().UnixNano()) / float64(time.Millisecond)
}

// ElapsedMillis returns the milliseconds elapsed since endOfSpeech.
func (r *Reporter) ElapsedMillis(endOfSpeech float64) float64 {
	return r.NowMillis() - endOfSpeech
}

// Report writes one latency line and records it. It never fails.
func (r *Reporter) Report(label string, ms float64) {
	r.logger.Info().
		Str("stage", label).
		Float64("latencyMs", ms).
		Msg(fmt.Sprintf("[LATENCY] %s: %.2f ms", label, ms))

	if label == FinalStage {
		r.metrics.RecordFinalLatency(ms)
	}
}

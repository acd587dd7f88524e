package latency

import (
	"bytes"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"speech-tone-service/internal/observability/metrics"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestReporter_ElapsedMillis(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_250)
	r := NewReporter(WithClock(fixedClock(now)), WithMetrics(metrics.NewMetrics(prometheus.NewRegistry())))

	tests := []struct {
		name string
		ts   float64
		want float64
	}{
		{"quarter second ago", 1_700_000_000_000, 250},
		{"same instant", 1_700_000_000_250, 0},
		{"future timestamp", 1_700_000_000_300, -50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.ElapsedMillis(tt.ts); math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("ElapsedMillis(%v) = %v, want %v", tt.ts, got, tt.want)
			}
		})
	}
}

func TestReporter_Report(t *testing.T) {
	var buf bytes.Buffer
	m := metrics.NewMetrics(prometheus.NewRegistry())
	r := NewReporter(WithLogger(zerolog.New(&buf)), WithMetrics(m))

	r.Report(FinalStage, 123.456)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if want := "[LATENCY] Final Tone Stage: 123.46 ms"; entry["message"] != want {
		t.Errorf("message = %q, want %q", entry["message"], want)
	}
	if entry["stage"] != FinalStage {
		t.Errorf("stage = %v, want %q", entry["stage"], FinalStage)
	}
	if entry["latencyMs"] != 123.456 {
		t.Errorf("latencyMs = %v, want 123.456", entry["latencyMs"])
	}
	if n := testutil.CollectAndCount(m.FinalLatency); n != 1 {
		t.Errorf("expected latency histogram to be collected, got %d series", n)
	}
}

func TestReporter_ReportOtherLabelOnlyLogs(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(WithLogger(zerolog.New(&buf)), WithMetrics(metrics.NewMetrics(prometheus.NewRegistry())))

	r.Report("Preview Stage", 1)

	if !bytes.Contains(buf.Bytes(), []byte("[LATENCY] Preview Stage: 1.00 ms")) {
		t.Errorf("unexpected log output: %q", buf.String())
	}
}

package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"speech-tone-service/internal/models"
	"speech-tone-service/internal/observability/metrics"
	"speech-tone-service/internal/service/latency"
	"speech-tone-service/internal/service/session"
	"speech-tone-service/internal/tone"
)

type harness struct {
	orch  *Orchestrator
	store *session.Store
	logs  *bytes.Buffer
	spans *tracetest.InMemoryExporter
	nowMs float64
}

func newHarness(t *testing.T, mode tone.Mode, limits session.Limits) *harness {
	t.Helper()

	engine, err := tone.NewDefaultEngine()
	if err != nil {
		t.Fatalf("NewDefaultEngine: %v", err)
	}

	m := metrics.NewMetrics(prometheus.NewRegistry())
	store := session.NewStore(limits, session.WithMetrics(m))

	now := time.UnixMilli(1_700_000_001_000)
	logs := &bytes.Buffer{}
	reporter := latency.NewReporter(
		latency.WithClock(func() time.Time { return now }),
		latency.WithLogger(zerolog.New(logs)),
		latency.WithMetrics(m),
	)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orch, err := New(engine, mode, store, reporter,
		WithMetrics(m),
		WithTracerProvider(tp),
		WithLogger(zerolog.Nop()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &harness{
		orch:  orch,
		store: store,
		logs:  logs,
		spans: exp,
		nowMs: float64(now.UnixMilli()),
	}
}

// feed handles every message and returns the outputs produced.
func (h *harness) feed(t *testing.T, msgs ...models.Message) []models.Message {
	t.Helper()
	var out []models.Message
	for _, msg := range msgs {
		if res, ok := h.orch.Handle(context.Background(), msg); ok {
			out = append(out, res)
		}
	}
	return out
}

func lastFinal(t *testing.T, out []models.Message) models.Message {
	t.Helper()
	if len(out) == 0 {
		t.Fatal("expected output, got none")
	}
	final := out[len(out)-1]
	if final.Event != models.EventFinal {
		t.Fatalf("expected FINAL as last output, got %s", final.Event)
	}
	return final
}

func TestNew_RejectsInvalidMode(t *testing.T) {
	engine, err := tone.NewDefaultEngine()
	if err != nil {
		t.Fatalf("NewDefaultEngine: %v", err)
	}
	store := session.NewStore(session.DefaultLimits())

	_, err = New(engine, tone.Mode(42), store, latency.NewReporter())
	if !errors.Is(err, ErrInvalidMode) {
		t.Errorf("expected ErrInvalidMode, got %v", err)
	}

	if _, err := New(nil, tone.ModeNeutral, store, latency.NewReporter()); err == nil {
		t.Error("expected error for nil engine")
	}
}

func TestHandle_FormalScenario(t *testing.T) {
	h := newHarness(t, tone.ModeFormal, session.DefaultLimits())
	ts := h.nowMs - 120

	out := h.feed(t,
		models.Fragment("u1", 0, "I'm gonna join"),
		models.Fragment("u1", 1, "later thanks"),
		models.SessionEnd("u1", models.Timestamp(ts)),
	)

	final := lastFinal(t, out)
	if want := "I am going to join later thank you."; final.Text != want {
		t.Errorf("final text = %q, want %q", final.Text, want)
	}
	if final.ChunkIndex != 0 || !final.IsFinal {
		t.Errorf("unexpected final envelope: %+v", final)
	}
	if final.EndOfSpeechTime == nil || *final.EndOfSpeechTime != ts {
		t.Errorf("expected timestamp %v carried through, got %v", ts, final.EndOfSpeechTime)
	}
	if !strings.Contains(h.logs.String(), "[LATENCY] Final Tone Stage: 120.00 ms") {
		t.Errorf("expected latency line, got %q", h.logs.String())
	}
}

func TestHandle_ConciseScenario(t *testing.T) {
	h := newHarness(t, tone.ModeConcise, session.DefaultLimits())

	out := h.feed(t,
		models.Fragment("u2", 0, "I really really appreciate it"),
		models.SessionEnd("u2", models.Timestamp(h.nowMs)),
	)

	if got := lastFinal(t, out).Text; got != "I appreciate it." {
		t.Errorf("final text = %q, want %q", got, "I appreciate it.")
	}
}

func TestHandle_NeutralOutOfOrder(t *testing.T) {
	h := newHarness(t, tone.ModeNeutral, session.DefaultLimits())

	h.feed(t,
		models.Fragment("u3", 1, "world"),
		models.Fragment("u3", 0, "hello"),
	)
	if got := h.store.Assemble("u3"); got != "hello world" {
		t.Errorf("assembled = %q, want %q", got, "hello world")
	}

	out := h.feed(t, models.SessionEnd("u3", nil))
	if got := lastFinal(t, out).Text; got != "hello world." {
		t.Errorf("final text = %q, want %q", got, "hello world.")
	}
}

func TestHandle_UnknownEventCreatesNoSession(t *testing.T) {
	h := newHarness(t, tone.ModeNeutral, session.DefaultLimits())

	for _, kind := range []models.EventKind{"END_ASR", models.EventPreview, models.EventFinal, ""} {
		msg := models.Message{ID: "u9", ChunkIndex: 0, Text: "noise", Event: kind}
		if out := h.feed(t, msg); len(out) != 0 {
			t.Errorf("event %q: expected no output, got %v", kind, out)
		}
	}
	if _, ok := h.store.Get("u9"); ok {
		t.Error("expected no session for u9")
	}
}

func TestHandle_EmptySession(t *testing.T) {
	h := newHarness(t, tone.ModeFormal, session.DefaultLimits())

	out := h.feed(t, models.SessionEnd("u5", models.Timestamp(h.nowMs)))

	final := lastFinal(t, out)
	if final.Text != "" {
		t.Errorf("expected empty final text, got %q", final.Text)
	}
	if h.store.Len() != 0 {
		t.Errorf("expected store to be empty, got %d", h.store.Len())
	}
}

func TestHandle_Preview(t *testing.T) {
	h := newHarness(t, tone.ModeFormal, session.DefaultLimits())

	out := h.feed(t, models.Fragment("u1", 3, "I'm  very   tired"))

	if len(out) != 1 {
		t.Fatalf("expected one preview, got %d", len(out))
	}
	p := out[0]
	if p.Event != models.EventPreview || p.ID != "u1" || p.ChunkIndex != 3 {
		t.Errorf("unexpected preview envelope: %+v", p)
	}
	if p.IsFinal || p.EndOfSpeechTime != nil {
		t.Errorf("preview must not be final or carry a timestamp: %+v", p)
	}
	if p.Text != "I am tired" {
		t.Errorf("preview text = %q, want %q", p.Text, "I am tired")
	}
}

func TestHandle_PreviewMayDifferFromFinal(t *testing.T) {
	h := newHarness(t, tone.ModeConcise, session.DefaultLimits())

	out := h.feed(t,
		models.Fragment("u1", 0, "it was kind"),
		models.Fragment("u1", 1, "of late"),
		models.SessionEnd("u1", nil),
	)

	if len(out) != 3 {
		t.Fatalf("expected 3 outputs, got %d", len(out))
	}
	if out[0].Text != "it was kind" || out[1].Text != "of late" {
		t.Errorf("previews should not see the split hedge: %q, %q", out[0].Text, out[1].Text)
	}
	if got := out[2].Text; got != "it was late." {
		t.Errorf("final text = %q, want %q", got, "it was late.")
	}
}

func TestHandle_OrderInvariance(t *testing.T) {
	fragments := []models.Message{
		models.Fragment("u", 0, "I'm"),
		models.Fragment("u", 1, "gonna"),
		models.Fragment("u", 2, "call you"),
		models.Fragment("u", 3, "tomorrow thanks"),
	}

	var want string
	for i, perm := range permutations(len(fragments)) {
		h := newHarness(t, tone.ModeFormal, session.DefaultLimits())
		for _, idx := range perm {
			h.feed(t, fragments[idx])
		}
		got := lastFinal(t, h.feed(t, models.SessionEnd("u", nil))).Text
		if i == 0 {
			want = got
			continue
		}
		if got != want {
			t.Errorf("permutation %v: got %q, want %q", perm, got, want)
		}
	}
	if want != "I am going to call you tomorrow thank you." {
		t.Errorf("unexpected final text %q", want)
	}
}

func TestHandle_ExactlyOnceFinalization(t *testing.T) {
	h := newHarness(t, tone.ModeNeutral, session.DefaultLimits())

	h.feed(t, models.Fragment("x", 0, "hello"))
	out := h.feed(t, models.SessionEnd("x", nil))
	if got := lastFinal(t, out).Text; got != "hello." {
		t.Errorf("final text = %q", got)
	}
	if _, ok := h.store.Get("x"); ok {
		t.Fatal("session must be removed after FINAL")
	}

	// A repeated SESSION_END starts a fresh, empty utterance.
	out = h.feed(t, models.SessionEnd("x", nil))
	if got := lastFinal(t, out).Text; got != "" {
		t.Errorf("expected empty final for fresh session, got %q", got)
	}
	if h.store.Len() != 0 {
		t.Errorf("expected no live sessions, got %d", h.store.Len())
	}
}

func TestHandle_ConcurrentDuplicateSessionEnd(t *testing.T) {
	h := newHarness(t, tone.ModeNeutral, session.DefaultLimits())
	h.feed(t, models.Fragment("dup", 0, "once"))

	// The first SESSION_END marks the session; a second one arriving before
	// removal must produce nothing.
	if err := h.store.MarkEnded("dup", nil); err != nil {
		t.Fatalf("MarkEnded: %v", err)
	}
	if out := h.feed(t, models.SessionEnd("dup", nil)); len(out) != 0 {
		t.Errorf("expected no output for duplicate end, got %v", out)
	}
}

func TestHandle_Independence(t *testing.T) {
	h := newHarness(t, tone.ModeNeutral, session.DefaultLimits())

	out := h.feed(t,
		models.Fragment("a", 0, "alpha"),
		models.Fragment("b", 1, "two"),
		models.Fragment("a", 1, "beta"),
		models.SessionEnd("a", nil),
		models.Fragment("b", 0, "one"),
		models.SessionEnd("b", nil),
	)

	finals := map[string]string{}
	for _, m := range out {
		if m.Event == models.EventFinal {
			finals[m.ID] = m.Text
		}
	}
	if finals["a"] != "alpha beta." {
		t.Errorf("a: got %q", finals["a"])
	}
	if finals["b"] != "one two." {
		t.Errorf("b: got %q", finals["b"])
	}
}

func TestHandle_ConcurrentUtterances(t *testing.T) {
	h := newHarness(t, tone.ModeNeutral, session.DefaultLimits())
	const n = 40

	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("utt-%d", i)
			ctx := context.Background()
			h.orch.Handle(ctx, models.Fragment(id, 1, fmt.Sprintf("second-%d", i)))
			h.orch.Handle(ctx, models.Fragment(id, 0, fmt.Sprintf("first-%d", i)))
			final, _ := h.orch.Handle(ctx, models.SessionEnd(id, nil))
			results[i] = final.Text
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		if want := fmt.Sprintf("first-%d second-%d.", i, i); got != want {
			t.Errorf("utterance %d: got %q, want %q", i, got, want)
		}
	}
	if h.store.Len() != 0 {
		t.Errorf("expected all sessions removed, got %d", h.store.Len())
	}
}

func TestHandle_MissingTimestamp(t *testing.T) {
	h := newHarness(t, tone.ModeNeutral, session.DefaultLimits())

	out := h.feed(t,
		models.Fragment("u", 0, "hi"),
		models.SessionEnd("u", nil),
	)

	if final := lastFinal(t, out); final.EndOfSpeechTime != nil {
		t.Errorf("expected nil timestamp, got %v", *final.EndOfSpeechTime)
	}
	if h.logs.Len() != 0 {
		t.Errorf("expected no latency report, got %q", h.logs.String())
	}
}

func TestHandle_RejectedFragment(t *testing.T) {
	h := newHarness(t, tone.ModeNeutral, session.Limits{MaxFragments: 1})

	out := h.feed(t,
		models.Fragment("u", 0, "kept"),
		models.Fragment("u", 1, "dropped"),
	)
	if len(out) != 1 {
		t.Errorf("expected only the first preview, got %d outputs", len(out))
	}
	if got := lastFinal(t, h.feed(t, models.SessionEnd("u", nil))).Text; got != "kept." {
		t.Errorf("final text = %q, want %q", got, "kept.")
	}
}

func TestHandle_FinalizeSpan(t *testing.T) {
	h := newHarness(t, tone.ModeCasual, session.DefaultLimits())

	h.feed(t,
		models.Fragment("traced", 0, "thank you"),
		models.SessionEnd("traced", models.Timestamp(h.nowMs)),
	)

	spans := h.spans.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "tone.finalize" {
		t.Errorf("span name = %q, want tone.finalize", spans[0].Name)
	}
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["utterance.id"] != "traced" {
		t.Errorf("utterance.id = %q", attrs["utterance.id"])
	}
	if attrs["tone.mode"] != "casual" {
		t.Errorf("tone.mode = %q", attrs["tone.mode"])
	}
	if attrs["utterance.fragments"] != "1" {
		t.Errorf("utterance.fragments = %q", attrs["utterance.fragments"])
	}
}

func TestPunctuate(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"hello", "hello."},
		{"hello.", "hello."},
		{"really?", "really?"},
		{"wow!", "wow!"},
		{"trailing,", "trailing,."},
	}

	for _, tt := range tests {
		if got := Punctuate(tt.in); got != tt.want {
			t.Errorf("Punctuate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// permutations returns every ordering of 0..n-1.
func permutations(n int) [][]int {
	if n == 0 {
		return [][]int{{}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			q := make([]int, 0, n)
			q = append(q, p[:i]...)
			q = append(q, n-1)
			q = append(q, p[i:]...)
			out = append(out, q)
		}
	}
	return out
}

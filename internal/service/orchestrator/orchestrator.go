// Package orchestrator routes incoming messages to the session store and the
// tone engine and produces the preview and final outputs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"speech-tone-service/internal/models"
	"speech-tone-service/internal/observability/logging"
	"speech-tone-service/internal/observability/metrics"
	"speech-tone-service/internal/service/latency"
	"speech-tone-service/internal/service/session"
	"speech-tone-service/internal/tone"
)

const scopeName = "speech-tone-service/internal/service/orchestrator"

// ErrInvalidMode is returned by New for a mode outside the tone.Mode enum.
var ErrInvalidMode = errors.New("orchestrator: invalid tone mode")

// Orchestrator is safe for concurrent use; distinct utterances never block
// each other.
type Orchestrator struct {
	engine   *tone.Engine
	mode     tone.Mode
	store    *session.Store
	reporter *latency.Reporter
	tracer   trace.Tracer
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) { o.tracer = tp.Tracer(scopeName) }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger overrides the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator. The mode is fixed for its lifetime.
func New(engine *tone.Engine, mode tone.Mode, store *session.Store, reporter *latency.Reporter, opts ...Option) (*Orchestrator, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMode, mode)
	}
	if engine == nil || store == nil || reporter == nil {
		return nil, errors.New("orchestrator: engine, store and reporter are required")
	}

	o := &Orchestrator{
		engine:   engine,
		mode:     mode,
		store:    store,
		reporter: reporter,
		tracer:   otel.Tracer(scopeName),
		metrics:  metrics.DefaultMetrics,
		logger:   logging.WithComponent("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Mode returns the configured tone mode.
func (o *Orchestrator) Mode() tone.Mode {
	return o.mode
}

// Store returns the session store.
func (o *Orchestrator) Store() *session.Store {
	return o.store
}

// Handle processes one message and returns the output it produces, if any.
// FRAGMENT yields a PREVIEW, SESSION_END yields the FINAL, and every other
// event yields nothing without touching any session.
func (o *Orchestrator) Handle(ctx context.Context, msg models.Message) (models.Message, bool) {
	switch msg.Event {
	case models.EventFragment:
		return o.handleFragment(msg)
	case models.EventSessionEnd:
		return o.finalize(ctx, msg)
	default:
		o.metrics.RecordUnknownEvent(string(msg.Event))
		o.logger.Debug().
			Str("utteranceId", msg.ID).
			Str("event", string(msg.Event)).
			Msg("Ignoring unhandled event")
		return models.Message{}, false
	}
}

// handleFragment buffers the fragment and rewrites it alone. The preview may
// differ from the eventual FINAL, since rules that span fragment boundaries
// only apply to the assembled text.
func (o *Orchestrator) handleFragment(msg models.Message) (models.Message, bool) {
	if err := o.store.PutFragment(msg.ID, msg.ChunkIndex, msg.Text); err != nil {
		reason := rejectReason(err)
		o.metrics.RecordFragmentRejected(reason)
		o.logger.Warn().
			Err(err).
			Str("utteranceId", msg.ID).
			Int("chunkIndex", msg.ChunkIndex).
			Str("reason", reason).
			Msg("Fragment rejected")
		return models.Message{}, false
	}
	o.metrics.RecordFragment()

	preview := models.Message{
		ID:         msg.ID,
		ChunkIndex: msg.ChunkIndex,
		Text:       o.engine.Rewrite(msg.Text, o.mode),
		Event:      models.EventPreview,
	}
	o.metrics.RecordPreview()
	return preview, true
}

func (o *Orchestrator) finalize(ctx context.Context, msg models.Message) (models.Message, bool) {
	_, span := o.tracer.Start(ctx, "tone.finalize", trace.WithAttributes(
		attribute.String("utterance.id", msg.ID),
		attribute.String("tone.mode", o.mode.String()),
	))
	defer span.End()

	log := logging.WithUtterance(msg.ID)

	if err := o.store.MarkEnded(msg.ID, msg.EndOfSpeechTime); err != nil {
		// Another SESSION_END for this session is already finalizing it.
		span.AddEvent("duplicate session end")
		log.Warn().Err(err).Msg("Duplicate SESSION_END ignored")
		return models.Message{}, false
	}

	// The ended session holds the recorded completion timestamp.
	var (
		fragments   int
		endOfSpeech *float64
	)
	if sess, ok := o.store.Get(msg.ID); ok {
		fragments = sess.FragmentCount()
		if ts, ok := sess.EndOfSpeech(); ok {
			endOfSpeech = &ts
		}
	}
	text := Punctuate(o.engine.Rewrite(o.store.Assemble(msg.ID), o.mode))
	span.SetAttributes(attribute.Int("utterance.fragments", fragments))

	if endOfSpeech != nil {
		ms := o.reporter.ElapsedMillis(*endOfSpeech)
		span.SetAttributes(attribute.Float64("latency.ms", ms))
		o.reporter.Report(latency.FinalStage, ms)
	}

	final := models.Message{
		ID:              msg.ID,
		ChunkIndex:      0,
		Text:            text,
		Event:           models.EventFinal,
		IsFinal:         true,
		EndOfSpeechTime: endOfSpeech,
	}

	o.store.Remove(msg.ID)
	o.metrics.RecordFinal()

	log.Debug().
		Int("fragments", fragments).
		Str("mode", o.mode.String()).
		Msg("Utterance finalized")
	return final, true
}

// Punctuate appends a period to non-empty text that does not already end
// with '.', '!' or '?'.
func Punctuate(text string) string {
	if text == "" || strings.HasSuffix(text, ".") || strings.HasSuffix(text, "!") || strings.HasSuffix(text, "?") {
		return text
	}
	return text + "."
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionEnded):
		return "session_ended"
	case errors.Is(err, session.ErrFragmentLimit):
		return "fragment_limit"
	default:
		return "unknown"
	}
}

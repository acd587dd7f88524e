package events

import (
	"context"
	"errors"

	"speech-tone-service/internal/models"
	"speech-tone-service/internal/observability/logging"
)

type teeSink []Sink

// Tee returns a Sink that publishes to every sink in order and joins
// their errors.
func Tee(sinks ...Sink) Sink {
	return teeSink(sinks)
}

func (t teeSink) Publish(ctx context.Context, msg models.Message) error {
	var errs []error
	for _, s := range t {
		if err := s.Publish(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type tapHandler struct {
	next Handler
	sink Sink
}

// Tap returns a Handler that also hands every output of h to sink.
// Sink errors are logged and never change the returned output.
func Tap(h Handler, sink Sink) Handler {
	return &tapHandler{next: h, sink: sink}
}

func (t *tapHandler) Handle(ctx context.Context, msg models.Message) (models.Message, bool) {
	out, ok := t.next.Handle(ctx, msg)
	if !ok {
		return out, ok
	}
	if err := t.sink.Publish(ctx, out); err != nil {
		log := logging.WithUtterance(out.ID)
		log.Warn().
			Err(err).
			Str("event", string(out.Event)).
			Msg("Failed to forward output")
	}
	return out, true
}

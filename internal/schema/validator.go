// Package schema validates wire messages at the service boundary.
package schema

import (
	"errors"
	"fmt"

	"speech-tone-service/internal/models"
)

var (
	ErrMissingID         = errors.New("missing utterance id")
	ErrInvalidChunkIndex = errors.New("invalid chunk index")
	ErrMissingEvent      = errors.New("missing event")
)

// Validator checks inbound messages before they reach the orchestrator.
// Unknown event kinds pass validation; the orchestrator ignores them.
type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate returns nil when msg is well formed.
func (v *Validator) Validate(msg models.Message) error {
	if msg.ID == "" {
		return ErrMissingID
	}
	if msg.Event == "" {
		return ErrMissingEvent
	}
	if msg.ChunkIndex < models.NoChunk {
		return fmt.Errorf("%w: %d", ErrInvalidChunkIndex, msg.ChunkIndex)
	}
	if msg.Event == models.EventFragment && msg.ChunkIndex < 0 {
		return fmt.Errorf("%w: fragment with index %d", ErrInvalidChunkIndex, msg.ChunkIndex)
	}
	return nil
}

// Reason maps a validation error to a short metric label.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMissingID):
		return "missing_id"
	case errors.Is(err, ErrInvalidChunkIndex):
		return "invalid_chunk_index"
	case errors.Is(err, ErrMissingEvent):
		return "missing_event"
	default:
		return "malformed"
	}
}

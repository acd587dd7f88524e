// Package models defines the message exchanged between pipeline stages.
package models

// EventKind is the protocol tag carried by every Message.
type EventKind string

const (
	// EventFragment carries one chunk of an utterance's text.
	EventFragment EventKind = "FRAGMENT"
	// EventSessionEnd terminates an utterance and carries the end-of-speech time.
	EventSessionEnd EventKind = "SESSION_END"
	// EventPreview is a per-fragment rewrite emitted while an utterance streams.
	EventPreview EventKind = "PREVIEW"
	// EventFinal is the single assembled and rewritten output per utterance.
	EventFinal EventKind = "FINAL"
)

// NoChunk is the chunk index used by events without fragment payload.
const NoChunk = -1

// stageAliases maps the stage-qualified tags used by upstream stages onto
// the canonical kinds.
var stageAliases = map[string]EventKind{
	"PART":         EventFragment,
	"END_GRAMMAR":  EventSessionEnd,
	"PREVIEW_TONE": EventPreview,
	"END_TONE":     EventFinal,
}

// ParseEventKind canonicalizes a wire tag. Unrecognized tags are returned
// verbatim so the caller can treat them as unknown events.
func ParseEventKind(tag string) EventKind {
	if k, ok := stageAliases[tag]; ok {
		return k
	}
	return EventKind(tag)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *EventKind) UnmarshalText(b []byte) error {
	*k = ParseEventKind(string(b))
	return nil
}

// Known reports whether k is one of the four canonical kinds.
func (k EventKind) Known() bool {
	switch k {
	case EventFragment, EventSessionEnd, EventPreview, EventFinal:
		return true
	}
	return false
}

// Message is the canonical unit exchanged at every stage boundary.
// It is treated as an immutable value.
type Message struct {
	ID              string    `json:"id"`
	ChunkIndex      int       `json:"chunk_index"`
	Text            string    `json:"text"`
	Event           EventKind `json:"event"`
	IsFinal         bool      `json:"is_final"`
	EndOfSpeechTime *float64  `json:"end_of_speech_time"`
}

// Fragment builds a FRAGMENT message.
func Fragment(id string, chunkIndex int, text string) Message {
	return Message{ID: id, ChunkIndex: chunkIndex, Text: text, Event: EventFragment}
}

// SessionEnd builds a SESSION_END message. endOfSpeech may be nil.
func SessionEnd(id string, endOfSpeech *float64) Message {
	return Message{
		ID:              id,
		ChunkIndex:      NoChunk,
		Event:           EventSessionEnd,
		IsFinal:         true,
		EndOfSpeechTime: endOfSpeech,
	}
}

// Timestamp returns a pointer to ms, for populating EndOfSpeechTime.
func Timestamp(ms float64) *float64 {
	return &ms
}

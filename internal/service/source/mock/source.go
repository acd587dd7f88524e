// Package mock simulates the grammar stage upstream of the tone service.
// It produces realistic utterance streams: numbered fragments followed by
// exactly one SESSION_END stamped with the end-of-speech time.
package mock

import (
	"context"
	"sync"
	"time"

	"speech-tone-service/internal/models"
)

// SimulatedUtterance is one utterance as the grammar stage would emit it.
type SimulatedUtterance struct {
	Fragments []string // Punctuated fragments in chunk order
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Fragments: []string{"I really want to.", "Thank you for coming.", "This is really important."},
	},
	{
		Fragments: []string{"I'm gonna cancel", "my subscription thanks."},
	},
	{
		Fragments: []string{"Yeah I think that's", "kind of what I need."},
	},
	{
		Fragments: []string{"I've been waiting", "for over an hour", "and it's very frustrating."},
	},
	{
		Fragments: []string{"Can you help me with my account?"},
	},
}

// Source hands out simulated utterances, cycling through its list.
type Source struct {
	mu         sync.Mutex
	utterances []SimulatedUtterance
	next       int
	delay      time.Duration
	now        func() time.Time
}

// Option configures a Source.
type Option func(*Source)

// WithUtterances replaces the default utterances.
func WithUtterances(u []SimulatedUtterance) Option {
	return func(s *Source) { s.utterances = u }
}

// WithDelay sets the pause between streamed messages.
func WithDelay(d time.Duration) Option {
	return func(s *Source) { s.delay = d }
}

// WithClock overrides the clock used for end-of-speech timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

// New creates a Source.
func New(opts ...Option) *Source {
	s := &Source{
		utterances: DefaultUtterances,
		delay:      50 * time.Millisecond,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next returns the next simulated utterance.
func (s *Source) Next() SimulatedUtterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.utterances) == 0 {
		return SimulatedUtterance{}
	}
	u := s.utterances[s.next%len(s.utterances)]
	s.next++
	return u
}

// Messages renders u as the message stream for utterance id. The
// SESSION_END carries endOfSpeech, which may be nil.
func Messages(id string, u SimulatedUtterance, endOfSpeech *float64) []models.Message {
	msgs := make([]models.Message, 0, len(u.Fragments)+1)
	for i, text := range u.Fragments {
		msgs = append(msgs, models.Fragment(id, i, text))
	}
	return append(msgs, models.SessionEnd(id, endOfSpeech))
}

// Utterance returns the next utterance's stream for id, stamping the
// SESSION_END with the current time in milliseconds.
func (s *Source) Utterance(id string) []models.Message {
	u := s.Next()
	eos := float64(s.now().UnixNano()) / float64(time.Millisecond)
	return Messages(id, u, &eos)
}

// Stream emits the next utterance for id one message at a time, pausing
// between messages. The end-of-speech time is taken when the last fragment
// has been emitted. It stops on the first emit error or when ctx is done.
func (s *Source) Stream(ctx context.Context, id string, emit func(models.Message) error) error {
	u := s.Next()
	for i, text := range u.Fragments {
		if err := s.wait(ctx); err != nil {
			return err
		}
		if err := emit(models.Fragment(id, i, text)); err != nil {
			return err
		}
	}

	eos := float64(s.now().UnixNano()) / float64(time.Millisecond)
	if err := s.wait(ctx); err != nil {
		return err
	}
	return emit(models.SessionEnd(id, &eos))
}

func (s *Source) wait(ctx context.Context) error {
	if s.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

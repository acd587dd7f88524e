// Package session buffers utterance fragments until the utterance ends.
package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// State represents the lifecycle state of a session.
type State int

const (
	// StateBuffering - Session accepts fragments.
	StateBuffering State = iota
	// StateEnded - SESSION_END observed; waiting for the store to remove it.
	StateEnded
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateBuffering:
		return "BUFFERING"
	case StateEnded:
		return "ENDED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Errors for invalid state transitions.
var (
	ErrSessionEnded  = errors.New("session has ended")
	ErrAlreadyEnded  = errors.New("session end already recorded")
	ErrFragmentLimit = errors.New("session fragment limit exceeded")
)

// Session holds the fragments of one utterance.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	BUFFERING ──MarkEnded()──→ ENDED ──Store.Remove()──→ (gone)
//	    │
//	    └── PutFragment() ──→ multiple times
//
// Rules:
//   - BUFFERING: fragments are inserted or overwritten by chunk index
//   - ENDED: fragments are rejected, a second end is rejected
type Session struct {
	mu           sync.Mutex
	id           string
	state        State
	fragments    map[int]string
	endOfSpeech  *float64
	maxFragments int
	createdAt    time.Time
	lastActivity time.Time
}

func newSession(id string, maxFragments int, now time.Time) *Session {
	return &Session{
		id:           id,
		state:        StateBuffering,
		fragments:    make(map[int]string),
		maxFragments: maxFragments,
		createdAt:    now,
		lastActivity: now,
	}
}

// ID returns the utterance ID.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ended reports whether SESSION_END has been recorded.
func (s *Session) Ended() bool {
	return s.State() == StateEnded
}

// EndOfSpeech returns the recorded completion timestamp, if any.
func (s *Session) EndOfSpeech() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endOfSpeech == nil {
		return 0, false
	}
	return *s.endOfSpeech, true
}

// FragmentCount returns the number of distinct chunk indices buffered.
func (s *Session) FragmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fragments)
}

// PutFragment inserts or overwrites the fragment at chunkIndex.
// Overwrites never count against the fragment limit.
func (s *Session) PutFragment(chunkIndex int, text string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateEnded {
		return ErrSessionEnded
	}
	if _, exists := s.fragments[chunkIndex]; !exists && s.maxFragments > 0 && len(s.fragments) >= s.maxFragments {
		return fmt.Errorf("%w: %d", ErrFragmentLimit, s.maxFragments)
	}
	s.fragments[chunkIndex] = text
	s.lastActivity = now
	return nil
}

// MarkEnded transitions to ENDED and records the completion timestamp.
// A nil endOfSpeech is kept as nil.
func (s *Session) MarkEnded(endOfSpeech *float64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateEnded {
		return ErrAlreadyEnded
	}
	s.state = StateEnded
	if endOfSpeech != nil {
		ts := *endOfSpeech
		s.endOfSpeech = &ts
	}
	s.lastActivity = now
	return nil
}

// Assemble joins fragment texts by ascending chunk index with single
// spaces. Returns "" when nothing is buffered.
func (s *Session) Assemble() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.fragments) == 0 {
		return ""
	}
	indices := make([]int, 0, len(s.fragments))
	for i := range s.fragments {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	parts := make([]string, 0, len(indices))
	for _, i := range indices {
		parts = append(parts, s.fragments[i])
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"speech-tone-service/internal/observability/metrics"
)

// Limits defines safety guardrails for buffered sessions.
type Limits struct {
	MaxFragments int           // Max distinct chunk indices per session, 0 = unlimited
	MaxAge       time.Duration // Idle age after which the janitor evicts a session, 0 = never
}

// DefaultLimits returns the default limits. Eviction is off so that a
// session is only ever freed by its SESSION_END.
func DefaultLimits() Limits {
	return Limits{
		MaxFragments: 500,
		MaxAge:       0,
	}
}

// Store owns every live session, keyed by utterance ID.
//
// The map lock is held only for lookup, insertion and removal; mutation of a
// session happens under that session's own lock, so distinct utterances
// never wait on each other.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	limits   Limits
	now      func() time.Time
	metrics  *metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for activity tracking.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates an empty store.
func NewStore(limits Limits, opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		limits:   limits,
		now:      time.Now,
		metrics:  metrics.DefaultMetrics,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Limits returns the configured limits.
func (s *Store) Limits() Limits {
	return s.limits
}

// GetOrCreate returns the live session for id, creating and registering an
// empty one when none exists. It is the only place sessions are created.
func (s *Store) GetOrCreate(id string) *Session {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	sess = newSession(id, s.limits.MaxFragments, s.now())
	s.sessions[id] = sess
	s.metrics.RecordSessionCreated()
	return sess
}

// Get returns the live session for id without creating one.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// PutFragment inserts or overwrites a fragment, creating the session on
// first reference.
func (s *Store) PutFragment(id string, chunkIndex int, text string) error {
	return s.GetOrCreate(id).PutFragment(chunkIndex, text, s.now())
}

// MarkEnded records SESSION_END for id. The session stays registered until
// Remove is called.
func (s *Store) MarkEnded(id string, endOfSpeech *float64) error {
	return s.GetOrCreate(id).MarkEnded(endOfSpeech, s.now())
}

// Assemble returns the ordered, space-joined text of id's fragments, or ""
// when the session does not exist or holds no fragments.
func (s *Store) Assemble(id string) string {
	sess, ok := s.Get(id)
	if !ok {
		return ""
	}
	return sess.Assemble()
}

// Remove frees the session for id. Returns false when there was none.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	s.metrics.RecordSessionRemoved()
	return true
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// EvictIdle removes buffering sessions idle for longer than maxAge and
// returns their IDs in sorted order. Ended sessions are left to their
// finalizer.
func (s *Store) EvictIdle(maxAge time.Duration) []string {
	if maxAge <= 0 {
		return nil
	}
	now := s.now()

	s.mu.RLock()
	var expired []*Session
	for _, sess := range s.sessions {
		if sess.Ended() {
			continue
		}
		if now.Sub(sess.idleSince()) > maxAge {
			expired = append(expired, sess)
		}
	}
	s.mu.RUnlock()

	if len(expired) == 0 {
		return nil
	}

	ids := make([]string, 0, len(expired))
	s.mu.Lock()
	for _, sess := range expired {
		if s.sessions[sess.id] == sess {
			delete(s.sessions, sess.id)
			ids = append(ids, sess.id)
		}
	}
	s.mu.Unlock()

	sort.Strings(ids)
	s.metrics.RecordSessionsEvicted(len(ids))
	return ids
}

// RunJanitor evicts idle sessions every interval until ctx is done.
// It returns immediately when maxAge is not positive.
func (s *Store) RunJanitor(ctx context.Context, interval, maxAge time.Duration) {
	if maxAge <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", interval).
		Dur("maxAge", maxAge).
		Msg("Session janitor started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Session janitor stopping")
			return
		case <-ticker.C:
			if ids := s.EvictIdle(maxAge); len(ids) > 0 {
				log.Warn().
					Strs("utteranceIds", ids).
					Dur("maxAge", maxAge).
					Msg("Evicted idle sessions without SESSION_END")
			}
		}
	}
}

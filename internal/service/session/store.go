package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rufuslabs/rufus/backend/internal/model/conv"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionLimit    = errors.New("session limit reached")
)

// entry pairs a session with its own mutex so concurrent requests against
// the same session serialize while unrelated sessions proceed in parallel.
type entry struct {
	mu       sync.Mutex
	session  conv.Session
	lastSeen time.Time
}

// Store is the process-wide table of active conversations. The outer
// RWMutex only guards the map itself; turn history is mutated under the
// per-session lock via Update.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*entry
	maxSessions int
}

// NewStore bootstraps the in-memory session table. maxSessions <= 0 means
// unbounded.
func NewStore(maxSessions int) *Store {
	return &Store{
		sessions:    make(map[string]*entry),
		maxSessions: maxSessions,
	}
}

// Create provisions a fresh session with an empty turn history.
func (s *Store) Create(_ context.Context, profile string) (conv.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxSessions > 0 && len(s.sessions) >= s.maxSessions {
		return conv.Session{}, ErrSessionLimit
	}

	session := conv.Session{
		ID:        uuid.NewString(),
		Profile:   profile,
		CreatedAt: time.Now().UTC(),
	}
	s.sessions[session.ID] = &entry{session: session, lastSeen: session.CreatedAt}

	return session, nil
}

// Get returns a snapshot of the named session.
func (s *Store) Get(_ context.Context, sessionID string) (conv.Session, error) {
	e, err := s.lookup(sessionID)
	if err != nil {
		return conv.Session{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshot(e.session), nil
}

// Update runs fn while holding the session's lock. fn receives the live
// session and may append turns; requests racing on the same session id
// execute strictly one after another.
func (s *Store) Update(_ context.Context, sessionID string, fn func(*conv.Session) error) error {
	e, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := fn(&e.session); err != nil {
		return err
	}
	e.lastSeen = time.Now().UTC()
	return nil
}

// PruneIdle drops sessions whose last activity is older than ttl and
// reports how many were evicted. Eviction policy is owned by the caller;
// the store itself never expires anything.
func (s *Store) PruneIdle(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}

	cutoff := time.Now().UTC().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, e := range s.sessions {
		// lastSeen is written under the entry lock by Update, so it must
		// be read under the same lock while the pruner races live turns.
		e.mu.Lock()
		stale := e.lastSeen.Before(cutoff)
		e.mu.Unlock()

		if stale {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted
}

// Len reports the number of active sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) lookup(sessionID string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

func snapshot(session conv.Session) conv.Session {
	copied := session
	copied.Turns = append([]conv.Turn(nil), session.Turns...)
	return copied
}

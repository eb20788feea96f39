package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/agentrun/pkg/domain"
)

// Store implements ports.SessionStore in memory.
// Safe for concurrent use.
type Store struct {
	snapshots map[string]*domain.Session
	traces    map[string][]domain.Event
	mu        sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		snapshots: make(map[string]*domain.Session),
		traces:    make(map[string][]domain.Event),
	}
}

// WriteSnapshot stores a deep copy of the session, similar to serialization.
func (s *Store) WriteSnapshot(ctx context.Context, sessionID string, session *domain.Session) error {
	cp := session.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[sessionID] = cp
	return nil
}

// Load retrieves a copy of the snapshot so callers can't mutate store state by pointer.
func (s *Store) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.snapshots[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session.Snapshot(), nil
}

// AppendEvent adds a copy of the event to the session trace.
func (s *Store) AppendEvent(ctx context.Context, sessionID string, event domain.Event) error {
	cp := event.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces[sessionID] = append(s.traces[sessionID], cp)
	return nil
}

// LoadTrace returns a copy of the session trace.
func (s *Store) LoadTrace(ctx context.Context, sessionID string) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trace := make([]domain.Event, len(s.traces[sessionID]))
	for i, e := range s.traces[sessionID] {
		trace[i] = e.Clone()
	}
	return trace, nil
}

// Delete removes the snapshot and the trace.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, sessionID)
	delete(s.traces, sessionID)
	return nil
}

// List returns known sessions, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{}, len(s.snapshots))
	for id := range s.snapshots {
		seen[id] = struct{}{}
	}
	for id := range s.traces {
		seen[id] = struct{}{}
	}
	sessions := make([]string, 0, len(seen))
	for id := range seen {
		sessions = append(sessions, id)
	}
	sort.Strings(sessions)
	return sessions, nil
}

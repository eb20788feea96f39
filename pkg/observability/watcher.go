package observability

import (
	"context"
	"sync"
	"time"

	"github.com/aretw0/introspection"

	"github.com/aretw0/agentrun/pkg/domain"
)

// SessionComponent is the component type reported by session watchers.
const SessionComponent = "session"

var (
	_ introspection.TypedWatcher[*domain.Session] = (*SessionWatcher)(nil)
	_ introspection.Component                     = (*SessionWatcher)(nil)
)

// SessionWatcher exposes one session of a Hub as an introspection watcher.
// Each Watch call folds its own subscription into session snapshots.
type SessionWatcher struct {
	hub       *Hub
	sessionID string

	mu   sync.Mutex
	last *domain.Session
}

// Watcher returns a watcher for one session.
func (h *Hub) Watcher(sessionID string) *SessionWatcher {
	return &SessionWatcher{hub: h, sessionID: sessionID}
}

// ComponentType implements introspection.Component.
func (w *SessionWatcher) ComponentType() string { return SessionComponent }

// State returns the latest session seen by Watch, or the current one from the hub source.
// The result is a copy.
func (w *SessionWatcher) State() *domain.Session {
	w.mu.Lock()
	last := w.last
	w.mu.Unlock()
	if last != nil {
		return last.Snapshot()
	}
	return w.hub.current(w.sessionID)
}

// Watch streams a StateChange for the initial full state and for every traced event.
// The channel closes when ctx ends, the hub closes or the subscription is disconnected.
func (w *SessionWatcher) Watch(ctx context.Context) <-chan introspection.StateChange[*domain.Session] {
	out := make(chan introspection.StateChange[*domain.Session], w.hub.queueSize)
	sub := w.hub.Subscribe(w.sessionID)

	go func() {
		defer close(out)
		defer sub.Close()

		var current *domain.Session
		for {
			var msg Message
			var ok bool
			select {
			case <-ctx.Done():
				return
			case msg, ok = <-sub.C:
				if !ok {
					return
				}
			}

			next, at := w.fold(current, msg)
			if next == nil {
				continue
			}
			change := introspection.StateChange[*domain.Session]{
				ComponentID:   w.sessionID,
				ComponentType: SessionComponent,
				OldState:      current.Snapshot(),
				NewState:      next.Snapshot(),
				Timestamp:     at,
			}
			current = next
			w.mu.Lock()
			w.last = next.Snapshot()
			w.mu.Unlock()

			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// fold applies one hub message to the session. It returns nil for messages that
// carry no new event. A gap in the trace (dropped by the overflow policy) is
// healed from the hub source.
func (w *SessionWatcher) fold(current *domain.Session, msg Message) (*domain.Session, time.Time) {
	switch msg.Type {
	case MessageFullState:
		agentPath := ""
		if src := w.hub.current(w.sessionID); src != nil {
			agentPath = src.AgentPath
		}
		return domain.Replay(w.sessionID, agentPath, msg.History), time.Now().UTC()
	case MessageTrace:
		if msg.Event == nil {
			return nil, time.Time{}
		}
		if current == nil || msg.Event.Seq != len(current.History)+1 {
			if msg.Event.Seq <= lenHistory(current) {
				return nil, time.Time{}
			}
			return w.hub.current(w.sessionID), msg.Event.Timestamp
		}
		next := current.Snapshot()
		next.Apply(msg.Event.Clone())
		return next, msg.Event.Timestamp
	}
	return nil, time.Time{}
}

func lenHistory(s *domain.Session) int {
	if s == nil {
		return 0
	}
	return len(s.History)
}

// current reads the session through the source, outside h.mu.
func (h *Hub) current(sessionID string) *domain.Session {
	h.mu.Lock()
	source := h.source
	h.mu.Unlock()
	if source != nil {
		if s, ok := source(sessionID); ok && s != nil {
			return s
		}
	}
	return domain.NewSession(sessionID, "", time.Time{})
}

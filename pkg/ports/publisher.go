package ports

import "github.com/aretw0/agentrun/pkg/domain"

// Publisher receives every recorded event and the state that resulted from it.
// Implementations must not block: they are called while the session is locked.
type Publisher interface {
	PublishEvent(sessionID string, event domain.Event)
	PublishState(sessionID string, session *domain.Session)
}

// NopPublisher discards everything.
type NopPublisher struct{}

func (NopPublisher) PublishEvent(string, domain.Event)     {}
func (NopPublisher) PublishState(string, *domain.Session) {}

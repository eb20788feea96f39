package ports

import (
	"context"

	"github.com/aretw0/agentrun/pkg/domain"
)

// SessionStore persists sessions as a full-state snapshot plus an append-only trace.
// The two are written independently so the trace can rebuild a session whose
// snapshot is missing or stale.
type SessionStore interface {
	// Load retrieves the snapshot for a session.
	// Returns domain.ErrSessionNotFound if no snapshot exists.
	Load(ctx context.Context, sessionID string) (*domain.Session, error)

	// WriteSnapshot overwrites the snapshot. Readers never observe a partial write.
	WriteSnapshot(ctx context.Context, sessionID string, session *domain.Session) error

	// AppendEvent adds one event to the end of the trace. Existing records are never rewritten.
	AppendEvent(ctx context.Context, sessionID string, event domain.Event) error

	// LoadTrace returns the trace in append order. A session without trace yields an empty slice.
	LoadTrace(ctx context.Context, sessionID string) ([]domain.Event, error)

	// Delete removes both the snapshot and the trace.
	Delete(ctx context.Context, sessionID string) error

	// List returns the IDs of all sessions with a snapshot or a trace.
	List(ctx context.Context) ([]string, error)
}

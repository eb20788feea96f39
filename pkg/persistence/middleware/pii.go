package middleware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aretw0/agentrun/pkg/domain"
	"github.com/aretw0/agentrun/pkg/ports"
)

// Mask replaces redacted values in persisted records.
const Mask = "***"

type piiMiddleware struct {
	next     ports.SessionStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks values under keys matching the patterns,
// in the blackboard, node data and trace. Only the persisted copy is masked: a session
// resumed from such a store sees the mask instead of the original value.
func NewPIIMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		patterns[i] = re
	}
	return func(next ports.SessionStore) ports.SessionStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *piiMiddleware) WriteSnapshot(ctx context.Context, sessionID string, session *domain.Session) error {
	// Snapshot deep-copies, so the live session is never touched.
	cloned := session.Snapshot()
	m.maskMap(cloned.SharedContext)
	m.maskMap(cloned.NodeOutputs)
	for i := range cloned.History {
		m.maskEvent(&cloned.History[i])
	}
	if cloned.Completion != nil {
		m.maskMap(cloned.Completion.FinalOutput)
	}
	return m.next.WriteSnapshot(ctx, sessionID, cloned)
}

func (m *piiMiddleware) AppendEvent(ctx context.Context, sessionID string, event domain.Event) error {
	cloned := event.Clone()
	m.maskEvent(&cloned)
	return m.next.AppendEvent(ctx, sessionID, cloned)
}

func (m *piiMiddleware) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	return m.next.Load(ctx, sessionID)
}

func (m *piiMiddleware) LoadTrace(ctx context.Context, sessionID string) ([]domain.Event, error) {
	return m.next.LoadTrace(ctx, sessionID)
}

func (m *piiMiddleware) Delete(ctx context.Context, sessionID string) error {
	return m.next.Delete(ctx, sessionID)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

// Helpers

func (m *piiMiddleware) maskEvent(e *domain.Event) {
	if e.Key != "" && m.matches(e.Key) {
		if e.Value != nil {
			e.Value = Mask
		}
	} else {
		e.Value = m.maskValue(e.Value)
	}
	m.maskMap(e.Input)
	m.maskMap(e.Output)
	m.maskMap(e.Data)
}

func (m *piiMiddleware) maskMap(data map[string]any) {
	for k, v := range data {
		if m.matches(k) {
			data[k] = Mask
			continue
		}
		data[k] = m.maskValue(v)
	}
}

// maskValue recurses into nested maps and lists.
func (m *piiMiddleware) maskValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m.maskMap(t)
	case []any:
		for i := range t {
			t[i] = m.maskValue(t[i])
		}
	}
	return v
}

func (m *piiMiddleware) matches(key string) bool {
	for _, p := range m.patterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}

package cli

import (
	"context"
	"fmt"

	"github.com/aretw0/agentrun"
	"github.com/aretw0/agentrun/internal/presentation/graph"
	"github.com/aretw0/agentrun/pkg/adapters/loam"
	"github.com/aretw0/agentrun/pkg/domain"
	"github.com/aretw0/agentrun/pkg/limits"
	"github.com/aretw0/agentrun/pkg/session"
)

// Inspect returns the state of a stored session without making it live.
func Inspect(ctx context.Context, rt *agentrun.Runtime, sessionID string) (domain.StateView, error) {
	s, err := rt.Manager.Peek(ctx, sessionID)
	if err != nil {
		return domain.StateView{}, fmt.Errorf("error loading session '%s': %w", sessionID, err)
	}
	return domain.NewStateView(s), nil
}

// Trace returns the history of a stored session.
func Trace(ctx context.Context, rt *agentrun.Runtime, sessionID string) (domain.TraceView, error) {
	s, err := rt.Manager.Peek(ctx, sessionID)
	if err != nil {
		return domain.TraceView{}, fmt.Errorf("error loading session '%s': %w", sessionID, err)
	}
	return domain.TraceView{SessionID: s.SessionID, Trace: s.History, Count: len(s.History)}, nil
}

// Graph renders the agent graph of a session with its visits painted on it.
// The session's own agent directory is used, falling back to the configured one.
func Graph(ctx context.Context, rt *agentrun.Runtime, sessionID string) (string, error) {
	s, err := rt.Manager.Peek(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("error loading session '%s': %w", sessionID, err)
	}
	agentPath := s.AgentPath
	if agentPath == "" {
		agentPath = rt.Config.AgentPath
	}

	definition, bounds, err := readDefinition(ctx, agentPath)
	if err != nil {
		return "", err
	}
	return graph.Render(definition, graph.OverlayFor(s, bounds)), nil
}

// Limits parses the iteration bounds declared by an agent directory.
func Limits(ctx context.Context, agentPath string) (limits.Limits, error) {
	_, bounds, err := readDefinition(ctx, agentPath)
	return bounds, err
}

func readDefinition(ctx context.Context, agentPath string) (string, limits.Limits, error) {
	if agentPath == "" {
		return "", limits.Limits{}, nil
	}
	lib, err := loam.Open(agentPath)
	if err != nil {
		return "", limits.Limits{}, fmt.Errorf("error opening agent '%s': %w", agentPath, err)
	}
	text, _, err := lib.Definition(ctx)
	if err != nil {
		return "", limits.Limits{}, err
	}
	bounds, err := session.LoadLimits(ctx, lib)
	return text, bounds, err
}

// Remove deletes sessions, reporting each one to report. It returns the number of failures.
func Remove(ctx context.Context, rt *agentrun.Runtime, sessionIDs []string, report func(id string, err error)) int {
	failed := 0
	for _, id := range sessionIDs {
		err := rt.Manager.Delete(ctx, id)
		if err != nil {
			failed++
		}
		report(id, err)
	}
	return failed
}

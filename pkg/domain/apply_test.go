package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/aretw0/agentrun/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestApply_Enter(t *testing.T) {
	s := domain.NewSession("s1", "/agents/demo", t0)

	e := s.Apply(domain.Event{
		Timestamp: t0,
		Action:    domain.ActionEnter,
		Node:      "review",
		Iteration: 1,
		Input:     map[string]any{"doc": "a"},
	})

	assert.Equal(t, 1, e.Seq)
	assert.Equal(t, "review", s.CurrentNode)
	assert.Equal(t, 1, s.IterationCounts["review"])
	assert.Equal(t, map[string]any{"doc": "a"}, s.SharedContext["review_input"])
	assert.Equal(t, domain.StatusRunning, s.Status)
	assert.Len(t, s.History, 1)
}

func TestApply_PauseAndResume(t *testing.T) {
	s := domain.NewSession("s1", "", t0)
	s.Apply(domain.Event{Action: domain.ActionEnter, Node: "ask", Iteration: 1})
	s.Apply(domain.Event{Action: domain.ActionHumanInput, Node: "ask", Prompt: "ok?"})
	assert.Equal(t, domain.StatusPaused, s.Status)

	s.Apply(domain.Event{Action: domain.ActionEnter, Node: "next", Iteration: 1})
	assert.Equal(t, domain.StatusRunning, s.Status)
}

func TestApply_CompletionIsTerminal(t *testing.T) {
	s := domain.NewSession("s1", "", t0)
	s.Apply(domain.Event{
		Timestamp: t0,
		Action:    domain.ActionCompleteExecution,
		Status:    domain.CompletionSuccess,
		Output:    map[string]any{"ok": true},
	})
	require.NotNil(t, s.Completion)
	assert.Equal(t, domain.CompletionSuccess, s.Completion.Status)

	// Apply never rejects, but it must not leave the terminal state.
	s.Apply(domain.Event{Action: domain.ActionEnter, Node: "x", Iteration: 1})
	assert.Equal(t, domain.StatusCompleted, s.Status)
}

func TestApply_AuditOnlyActions(t *testing.T) {
	s := domain.NewSession("s1", "", t0)
	s.Apply(domain.Event{Action: domain.ActionIterationLimit, Node: "n", Iteration: 2, Max: 2})
	s.Apply(domain.Event{Action: domain.ActionSharedContextGet, Key: "k"})
	s.Apply(domain.Event{Action: domain.ActionSubagentSpawn, Path: "/sub"})

	assert.Equal(t, domain.StatusInitialized, s.Status)
	assert.Empty(t, s.CurrentNode)
	assert.Empty(t, s.IterationCounts)
	assert.Empty(t, s.SharedContext)
	assert.Len(t, s.History, 3)
}

func TestReplay_MatchesLiveSession(t *testing.T) {
	live := domain.NewSession("s1", "/a", t0)
	live.Apply(domain.Event{Timestamp: t0, Action: domain.ActionEnter, Node: "draft", Iteration: 1})
	live.Apply(domain.Event{Timestamp: t0, Action: domain.ActionComplete, Node: "draft", Output: map[string]any{"text": "hi"}})
	live.Apply(domain.Event{Timestamp: t0, Action: domain.ActionRoute, From: "draft", To: "review", Data: map[string]any{"text": "hi"}})
	live.Apply(domain.Event{Timestamp: t0, Action: domain.ActionEnter, Node: "review", Iteration: 1})
	live.Apply(domain.Event{Timestamp: t0, Action: domain.ActionSharedContextSet, Key: "x", Value: map[string]any{"a": 1.0}})

	// Round-trip through JSON so the trace looks like what a store returns.
	raw, err := json.Marshal(live.History)
	require.NoError(t, err)
	var trace []domain.Event
	require.NoError(t, json.Unmarshal(raw, &trace))

	got := domain.Replay("s1", "/a", trace)
	assert.Equal(t, live.CurrentNode, got.CurrentNode)
	assert.Equal(t, live.IterationCounts, got.IterationCounts)
	assert.Equal(t, live.SharedContext, got.SharedContext)
	assert.Equal(t, live.Status, got.Status)
	assert.Len(t, got.History, 5)
	assert.True(t, got.StartTime.Equal(t0))
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	s := domain.NewSession("s1", "", t0)
	s.Apply(domain.Event{Action: domain.ActionSharedContextSet, Key: "cfg", Value: map[string]any{"a": 1}})

	cp := s.Snapshot()
	cp.SharedContext["cfg"].(map[string]any)["a"] = 2
	cp.IterationCounts["x"] = 9

	assert.Equal(t, 1, s.SharedContext["cfg"].(map[string]any)["a"])
	assert.NotContains(t, s.IterationCounts, "x")
}

func TestNormalize_FillsMissingFields(t *testing.T) {
	var s domain.Session
	require.NoError(t, json.Unmarshal([]byte(`{"session_id":"old","current_node":"a"}`), &s))
	s.Normalize()

	assert.Equal(t, domain.StatusInitialized, s.Status)
	assert.NotNil(t, s.IterationCounts)
	assert.NotNil(t, s.SharedContext)
	assert.NotNil(t, s.NodeOutputs)
	assert.NotNil(t, s.History)
}

func TestComputeStats(t *testing.T) {
	s := domain.NewSession("s1", "", t0)
	s.Apply(domain.Event{Action: domain.ActionEnter, Node: "a", Iteration: 1})
	s.Apply(domain.Event{Action: domain.ActionRoute, From: "a", To: "b"})
	s.Apply(domain.Event{Action: domain.ActionEnter, Node: "b", Iteration: 1})
	s.Apply(domain.Event{Action: domain.ActionRoute, From: "b", To: "a"})
	s.Apply(domain.Event{Action: domain.ActionEnter, Node: "a", Iteration: 2})

	stats := domain.ComputeStats(s)
	assert.Equal(t, 5, stats.Events)
	assert.Equal(t, 3, stats.NodesVisited)
	assert.Equal(t, 2, stats.UniqueNodes)
	assert.Equal(t, 2, stats.Routes)
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, stats.Iterations)
}

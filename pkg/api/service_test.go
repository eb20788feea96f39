package api_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/agentrun/pkg/adapters/memory"
	"github.com/aretw0/agentrun/pkg/api"
	"github.com/aretw0/agentrun/pkg/domain"
	"github.com/aretw0/agentrun/pkg/ports"
	"github.com/aretw0/agentrun/pkg/session"
)

const definition = "```mermaid\nflowchart TD\n  draft[\"Draft @max_iterations: 2\"] --> review\n```"

func newAgentDir(t *testing.T, config string) string {
	t.Helper()
	dir := t.TempDir()
	if config != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "agent-config.yaml"), []byte(config), 0644))
	}
	return dir
}

func newService(t *testing.T, lib *memory.Library) *api.Service {
	t.Helper()
	var opts []session.Option
	if lib != nil {
		opts = append(opts, session.WithLibraries(func(string) (ports.Library, error) { return lib, nil }))
	}
	return api.NewService(session.NewManager(memory.NewStore(), opts...))
}

func TestService_Init(t *testing.T) {
	lib := memory.NewLibrary(nil).WithDefinition(definition)
	svc := newService(t, lib)
	ctx := context.Background()
	dir := newAgentDir(t, "name: writer\nversion: \"2.0\"\n")

	res, err := svc.Init(ctx, api.InitRequest{AgentPath: dir})
	require.NoError(t, err)

	assert.Equal(t, api.InitStatusInitialized, res.Status)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, dir, res.AgentPath)
	require.NotNil(t, res.ConfigName)
	assert.Equal(t, "writer", *res.ConfigName)
	require.NotNil(t, res.ConfigVersion)
	assert.Equal(t, "2.0", *res.ConfigVersion)
	assert.Equal(t, map[string]int{"draft": 2}, res.MaxIterationNodes.Map())
	assert.Equal(t, res.SessionID, svc.CurrentSession())

	again, err := svc.Init(ctx, api.InitRequest{AgentPath: dir, SessionID: res.SessionID})
	require.NoError(t, err)
	assert.Equal(t, api.InitStatusResumed, again.Status)
	assert.Equal(t, res.SessionID, again.SessionID)
}

func TestService_InitWithoutConfig(t *testing.T) {
	svc := newService(t, nil)

	res, err := svc.Init(context.Background(), api.InitRequest{AgentPath: newAgentDir(t, "")})
	require.NoError(t, err)
	assert.Nil(t, res.ConfigName)
	assert.Nil(t, res.ConfigVersion)
	assert.Zero(t, res.MaxIterationNodes.Len())
}

func TestService_InitErrors(t *testing.T) {
	svc := newService(t, nil)
	ctx := context.Background()

	_, err := svc.Init(ctx, api.InitRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = svc.Init(ctx, api.InitRequest{AgentPath: filepath.Join(t.TempDir(), "missing")})
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)

	file := filepath.Join(t.TempDir(), "agent.md")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	_, err = svc.Init(ctx, api.InitRequest{AgentPath: file})
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)

	assert.Empty(t, svc.CurrentSession(), "a failed init selects no session")
}

func TestService_RequiresInit(t *testing.T) {
	svc := newService(t, nil)
	ctx := context.Background()

	for _, op := range api.Operations() {
		if op == api.OpAgentInit {
			continue
		}
		_, err := svc.Call(ctx, op, map[string]any{"node_id": "a", "key": "k"})
		assert.ErrorIs(t, err, domain.ErrUninitializedSession, op)
	}

	_, err := svc.GetState(ctx, api.SessionRequest{SessionID: "unknown"})
	assert.ErrorIs(t, err, domain.ErrUninitializedSession)
}

func TestService_CallWalkthrough(t *testing.T) {
	lib := memory.NewLibrary(map[string]string{"draft": "Write a first draft."}).WithDefinition(definition)
	svc := newService(t, lib)
	ctx := context.Background()

	_, err := svc.Call(ctx, api.OpAgentInit, map[string]any{"agent_path": newAgentDir(t, "")})
	require.NoError(t, err)

	out, err := svc.Call(ctx, api.OpNodeEnter, map[string]any{
		"node_id":    "draft",
		"input_data": map[string]any{"topic": "go"},
	})
	require.NoError(t, err)
	enter := out.(domain.EnterResult)
	assert.Equal(t, domain.EnterStatusEntered, enter.Status)
	assert.True(t, enter.HasInstructions)

	out, err = svc.Call(ctx, api.OpNodeComplete, map[string]any{
		"node_id":     "draft",
		"output_data": map[string]any{"text": "hello", "words": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"text", "words"}, out.(domain.CompleteResult).OutputKeys)

	out, err = svc.Call(ctx, api.OpRouteDecision, map[string]any{
		"from_node":    "draft",
		"to_node":      "review",
		"rationale":    "draft is done",
		"data_to_pass": map[string]any{"text": "hello"},
	})
	require.NoError(t, err)
	route := out.(domain.RouteResult)
	assert.Equal(t, "unconditional", route.Condition)

	_, err = svc.Call(ctx, api.OpSetSharedContext, map[string]any{"key": "tone", "value": "dry"})
	require.NoError(t, err)

	out, err = svc.Call(ctx, api.OpGetSharedContext, map[string]any{"key": "tone"})
	require.NoError(t, err)
	got := out.(domain.ContextResult)
	assert.True(t, got.Found)
	assert.Equal(t, "dry", got.Value)

	out, err = svc.Call(ctx, api.OpRequestHumanInput, map[string]any{
		"prompt":  "Ship it?",
		"options": []any{"yes", "no"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"yes", "no"}, out.(domain.HumanInputResult).Options)

	out, err = svc.Call(ctx, api.OpGetExecutionState, nil)
	require.NoError(t, err)
	state := out.(domain.StateView)
	assert.Equal(t, domain.StatusPaused, state.Status)
	assert.Equal(t, 6, state.EventCount)

	out, err = svc.Call(ctx, api.OpCompleteExecution, map[string]any{
		"final_output": map[string]any{"text": "hello"},
		"status":       "success",
		"summary":      "done",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out.(domain.CompletionResult).Stats.NodesVisited)

	out, err = svc.Call(ctx, api.OpGetExecutionTrace, map[string]any{})
	require.NoError(t, err)
	trace := out.(domain.TraceView)
	assert.Equal(t, 7, trace.Count)
	assert.Equal(t, domain.ActionCompleteExecution, trace.Trace[6].Action)
}

func TestService_SessionsAreIndependent(t *testing.T) {
	svc := newService(t, nil)
	ctx := context.Background()
	dir := newAgentDir(t, "")

	first, err := svc.Init(ctx, api.InitRequest{AgentPath: dir, SessionID: "one"})
	require.NoError(t, err)
	second, err := svc.Init(ctx, api.InitRequest{AgentPath: dir, SessionID: "two"})
	require.NoError(t, err)
	assert.Equal(t, "two", svc.CurrentSession())

	_, err = svc.Enter(ctx, api.EnterRequest{SessionID: first.SessionID, NodeID: "a"})
	require.NoError(t, err)
	_, err = svc.Enter(ctx, api.EnterRequest{NodeID: "b"})
	require.NoError(t, err)

	one, err := svc.GetState(ctx, api.SessionRequest{SessionID: "one"})
	require.NoError(t, err)
	two, err := svc.GetState(ctx, api.SessionRequest{SessionID: second.SessionID})
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, one.NodesVisited)
	assert.Equal(t, []string{"b"}, two.NodesVisited)
}

func TestService_SpawnSubagentResolvesPath(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	lib := memory.NewLibrary(nil).WithPrompt(filepath.Join(wd, "sub", "critic"), "You critique drafts.")
	svc := newService(t, lib)
	ctx := context.Background()

	_, err = svc.Init(ctx, api.InitRequest{AgentPath: newAgentDir(t, "")})
	require.NoError(t, err)

	res, err := svc.SpawnSubagent(ctx, api.SpawnSubagentRequest{AgentPath: "sub/critic"})
	require.NoError(t, err)
	assert.Equal(t, domain.SubagentReady, res.Status)
	assert.Equal(t, filepath.Join(wd, "sub", "critic"), res.AgentPath)
	assert.Equal(t, 20, res.SystemPromptChars)
}

func TestService_CallErrors(t *testing.T) {
	svc := newService(t, nil)
	ctx := context.Background()

	_, err := svc.Call(ctx, "teleport", nil)
	assert.ErrorIs(t, err, api.ErrUnknownOperation)

	_, err = svc.Init(ctx, api.InitRequest{AgentPath: newAgentDir(t, "")})
	require.NoError(t, err)

	_, err = svc.Call(ctx, api.OpNodeEnter, map[string]any{"node_id": map[string]any{"nested": true}})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = svc.Call(ctx, api.OpCompleteExecution, map[string]any{"status": "maybe"})
	assert.ErrorIs(t, err, domain.ErrInvalidCompletionStatus)
}

func TestDecode_WeakTyping(t *testing.T) {
	var req api.EnterRequest
	require.NoError(t, api.Decode(map[string]any{"node_id": 42, "reason": true}, &req))
	assert.Equal(t, "42", req.NodeID)
	assert.Equal(t, "1", req.Reason)
}

func TestService_SetContextHonorsSchema(t *testing.T) {
	svc := newService(t, nil)
	ctx := context.Background()
	dir := newAgentDir(t, "name: typed\ncontext_schema:\n  retries: int\n  plan: \"[string]\"\n")

	_, err := svc.Init(ctx, api.InitRequest{AgentPath: dir})
	require.NoError(t, err)

	_, err = svc.SetContext(ctx, api.SetContextRequest{Key: "retries", Value: float64(3)})
	require.NoError(t, err)
	_, err = svc.Call(ctx, api.OpSetSharedContext, map[string]any{"key": "plan", "value": []any{"a", "b"}})
	require.NoError(t, err)
	_, err = svc.SetContext(ctx, api.SetContextRequest{Key: "free", Value: map[string]any{"x": 1}})
	require.NoError(t, err, "undeclared keys are untyped")

	_, err = svc.SetContext(ctx, api.SetContextRequest{Key: "retries", Value: "three"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.ErrorContains(t, err, `key "retries"`)

	state, err := svc.GetState(ctx, api.SessionRequest{})
	require.NoError(t, err)
	assert.Equal(t, 3, state.EventCount, "a rejected write records nothing")
}

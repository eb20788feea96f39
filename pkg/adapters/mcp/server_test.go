package mcp_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/agentrun/pkg/adapters/memory"
	mcpadapter "github.com/aretw0/agentrun/pkg/adapters/mcp"
	"github.com/aretw0/agentrun/pkg/api"
	"github.com/aretw0/agentrun/pkg/session"
)

func newClient(t *testing.T) *client.Client {
	t.Helper()
	svc := api.NewService(session.NewManager(memory.NewStore()))
	srv := mcpadapter.NewServer(svc, "test")

	c, err := client.NewInProcessClient(srv.MCPServer())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	init := mcp.InitializeRequest{}
	init.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	init.Params.ClientInfo = mcp.Implementation{Name: "test-client", Version: "1.0.0"}
	res, err := c.Initialize(ctx, init)
	require.NoError(t, err)
	require.Equal(t, mcpadapter.ServerName, res.ServerInfo.Name)
	return c
}

// callTool invokes a tool and decodes its JSON text payload.
func callTool(t *testing.T, c *client.Client, name string, args map[string]any) (map[string]any, bool) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := c.CallTool(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)

	text := mcp.GetTextFromContent(res.Content[0])
	if res.IsError {
		return map[string]any{"error": text}, true
	}
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &out), text)
	return out, false
}

func TestServer_ListsEveryOperation(t *testing.T) {
	c := newClient(t)

	tools, err := c.ListTools(context.Background(), mcp.ListToolsRequest{})
	require.NoError(t, err)

	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, api.Operations(), names)
}

func TestServer_ToolFlow(t *testing.T) {
	c := newClient(t)

	out, isErr := callTool(t, c, api.OpAgentInit, map[string]any{"agent_path": t.TempDir(), "session_id": "mcp-1"})
	require.False(t, isErr, out)
	assert.Equal(t, "initialized", out["status"])
	assert.Equal(t, "mcp-1", out["session_id"])

	out, isErr = callTool(t, c, api.OpNodeEnter, map[string]any{"node_id": "plan", "input_data": map[string]any{"goal": "ship"}})
	require.False(t, isErr, out)
	assert.Equal(t, "entered", out["status"])
	assert.Equal(t, float64(1), out["iteration"])
	assert.Nil(t, out["instructions"], "no library means no instructions")

	out, isErr = callTool(t, c, api.OpSetSharedContext, map[string]any{"key": "plan", "value": []any{"a", "b"}})
	require.False(t, isErr, out)

	out, isErr = callTool(t, c, api.OpGetSharedContext, map[string]any{"key": "plan"})
	require.False(t, isErr, out)
	assert.Equal(t, true, out["found"])
	assert.Equal(t, []any{"a", "b"}, out["value"])

	out, isErr = callTool(t, c, api.OpGetSharedContext, map[string]any{"key": "missing"})
	require.False(t, isErr, out)
	assert.Equal(t, false, out["found"])

	out, isErr = callTool(t, c, api.OpGetExecutionTrace, map[string]any{"session_id": "mcp-1"})
	require.False(t, isErr, out)
	assert.Equal(t, float64(4), out["count"])
}

func TestServer_ErrorsAreToolErrors(t *testing.T) {
	c := newClient(t)

	out, isErr := callTool(t, c, api.OpNodeEnter, map[string]any{"node_id": "a"})
	assert.True(t, isErr)
	assert.Contains(t, out["error"], "agent_init")

	out, isErr = callTool(t, c, api.OpAgentInit, map[string]any{"agent_path": "/definitely/not/here"})
	assert.True(t, isErr)
	assert.Contains(t, out["error"], "agent directory not found")
}

func TestServer_StateResource(t *testing.T) {
	c := newClient(t)
	_, isErr := callTool(t, c, api.OpAgentInit, map[string]any{"agent_path": t.TempDir(), "session_id": "res-1"})
	require.False(t, isErr)

	req := mcp.ReadResourceRequest{}
	req.Params.URI = mcpadapter.StateResourceURI
	res, err := c.ReadResource(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)

	text, ok := res.Contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	var state map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &state))
	assert.Equal(t, "res-1", state["session_id"])
	assert.Equal(t, "initialized", state["status"])
}

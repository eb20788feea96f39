package dsl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/agentrun/pkg/limits"
)

func TestBuilder_SimpleFlow(t *testing.T) {
	b := New()
	b.Add("draft").Label("Draft").Max(3).
		Instructions("Write the first version.").
		Go("review")
	b.Add("review").
		Instructions("Check the draft.").
		Branch("needs work", "draft").
		Go("publish")
	b.Add("publish")
	b.Prompt("/agents/critic", "You are a strict critic.")

	want := "flowchart TD\n" +
		"  draft[\"Draft @max_iterations: 3\"]\n" +
		"  review\n" +
		"  publish\n" +
		"  draft --> review\n" +
		"  review -->|needs work| draft\n" +
		"  review --> publish\n"
	assert.Equal(t, want, b.Mermaid())

	lib, err := b.Build()
	require.NoError(t, err)
	ctx := context.Background()

	def, ok, err := lib.Definition(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]int{"draft": 3}, limits.Parse(def).Map())

	text, ok, err := lib.Instructions(ctx, "review")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Check the draft.", text)

	_, ok, err = lib.Instructions(ctx, "publish")
	require.NoError(t, err)
	assert.False(t, ok)

	prompt, ok, err := lib.Prompt(ctx, "/agents/critic")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "You are a strict critic.", prompt)
}

func TestBuilder_BoundWithoutLabel(t *testing.T) {
	b := New().Direction("LR")
	b.Add("loop").Max(1).Go("loop")

	assert.Equal(t, "flowchart LR\n  loop[\"loop @max_iterations: 1\"]\n  loop --> loop\n", b.Mermaid())
	assert.Equal(t, map[string]int{"loop": 1}, limits.Parse(b.Document()).Map())
}

func TestBuilder_AddReturnsExisting(t *testing.T) {
	b := New()
	b.Add("a").Go("b")
	b.Add("b")
	b.Add("a").Terminal()

	assert.Equal(t, "flowchart TD\n  a\n  b\n", b.Mermaid())
}

func TestBuilder_Escaping(t *testing.T) {
	b := New()
	b.Add("a").Label(`Say "hi"`).Branch("x|y", "a")

	assert.Contains(t, b.Mermaid(), `a["Say #quot;hi#quot;"]`)
	assert.Contains(t, b.Mermaid(), "a -->|x#124;y| a")
}

func TestBuilder_Validation(t *testing.T) {
	_, err := New().Build()
	assert.EqualError(t, err, "graph has no nodes")

	b := New()
	b.Add("bad id").Go("ghost")
	b.Add("neg").Max(-1)
	_, err = b.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `node "bad id": id must be`)
	assert.Contains(t, err.Error(), `transition to unknown node "ghost"`)
	assert.Contains(t, err.Error(), `node "neg": max iterations must be positive`)
}

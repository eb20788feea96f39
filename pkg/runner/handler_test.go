package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextHandler_Decode(t *testing.T) {
	h := NewTextHandler(nil)

	tests := []struct {
		line string
		want Request
	}{
		{"get_execution_state", Request{Op: "get_execution_state", Args: map[string]any{}}},
		{`node_enter node_id=draft reason="first pass"`, Request{Op: "node_enter", Args: map[string]any{"node_id": "draft", "reason": "first pass"}}},
		{`set_shared_context key=n value=3`, Request{Op: "set_shared_context", Args: map[string]any{"key": "n", "value": float64(3)}}},
		{`set_shared_context key=q value="say \"hi\""`, Request{Op: "set_shared_context", Args: map[string]any{"key": "q", "value": `say "hi"`}}},
		{`route_decision {"from_node":"a","to_node":"b"}`, Request{Op: "route_decision", Args: map[string]any{"from_node": "a", "to_node": "b"}}},
	}
	for _, tt := range tests {
		got, err := h.Decode(tt.line)
		require.NoError(t, err, tt.line)
		assert.Equal(t, tt.want, got, tt.line)
	}

	for _, line := range []string{"", "   ", "# comment"} {
		_, err := h.Decode(line)
		assert.ErrorIs(t, err, ErrSkip)
	}

	_, err := h.Decode(`node_enter node_id`)
	assert.ErrorContains(t, err, "not key=value")
	_, err = h.Decode(`node_enter reason="open`)
	assert.ErrorContains(t, err, "unterminated quote")
	_, err = h.Decode(`node_enter {bad`)
	assert.ErrorContains(t, err, "invalid arguments")
}

func TestJSONHandler_Decode(t *testing.T) {
	h := NewJSONHandler(nil)

	req, err := h.Decode(`{"id":"a","op":"node_enter","args":{"node_id":"x"}}`)
	require.NoError(t, err)
	assert.Equal(t, Request{ID: "a", Op: "node_enter", Args: map[string]any{"node_id": "x"}}, req)

	_, err = h.Decode(`{"id":"a"}`)
	assert.ErrorContains(t, err, "no op")
	assert.Empty(t, h.Prompt())
}

func TestSanitizeInput(t *testing.T) {
	got, err := SanitizeInput("a\x1b[31mb\tc\x00", 0)
	require.NoError(t, err)
	assert.Equal(t, "a[31mb\tc", got)

	_, err = SanitizeInput("toolong", 3)
	assert.ErrorIs(t, err, ErrInputTooLarge)

	_, err = SanitizeInput("\xff", 0)
	assert.ErrorIs(t, err, ErrInvalidUTF8)

	t.Setenv(EnvMaxInputSize, "2")
	_, err = SanitizeInput("abc", 0)
	assert.ErrorIs(t, err, ErrInputTooLarge)
}

func TestMultiInterceptor(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	count := func(ctx context.Context, req Request) error { calls++; return nil }
	fail := func(ctx context.Context, req Request) error { return boom }

	err := MultiInterceptor(count, fail, count)(context.Background(), Request{Op: "x"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)

	assert.NoError(t, MultiInterceptor(AutoApprove(), Allow("x"))(context.Background(), Request{Op: "x"}))
	assert.ErrorIs(t, Allow("y")(context.Background(), Request{Op: "x"}), ErrDenied)
}

func TestTextHandler_ResolveInput(t *testing.T) {
	h := NewTextHandler(nil)

	pipe := strings.NewReader("get_execution_state\n")
	assert.Same(t, pipe, h.ResolveInput(pipe), "non-terminal readers are kept")

	f, err := os.Create(filepath.Join(t.TempDir(), "requests.txt"))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, f, h.ResolveInput(f), "regular files are not terminals")

	var _ InputResolver = h
}

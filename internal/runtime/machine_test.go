package runtime_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/aretw0/agentrun/internal/runtime"
	"github.com/aretw0/agentrun/pkg/adapters/memory"
	"github.com/aretw0/agentrun/pkg/domain"
	"github.com/aretw0/agentrun/pkg/limits"
	"github.com/aretw0/agentrun/pkg/observability"
	"github.com/aretw0/agentrun/pkg/schema"
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newMachine(t *testing.T, opts ...runtime.Option) (*runtime.Machine, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	base := []runtime.Option{
		runtime.WithStore(store),
		runtime.WithClock(func() time.Time { return fixedNow }),
	}
	m := runtime.NewMachine(domain.NewSession("s1", "/agents/demo", fixedNow), append(base, opts...)...)
	return m, store
}

func TestMachine_IterationBound(t *testing.T) {
	ctx := context.Background()
	m, _ := newMachine(t, runtime.WithLimits(limits.FromMap(map[string]int{"review": 2})))

	res, err := m.Enter(ctx, runtime.EnterRequest{NodeID: "review"})
	require.NoError(t, err)
	assert.Equal(t, domain.EnterStatusEntered, res.Status)
	assert.Equal(t, 1, res.Iteration)
	require.NotNil(t, res.MaxIterations)
	assert.Equal(t, 2, *res.MaxIterations)

	res, err = m.Enter(ctx, runtime.EnterRequest{NodeID: "review"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Iteration)

	res, err = m.Enter(ctx, runtime.EnterRequest{NodeID: "review", Reason: "one more pass"})
	require.NoError(t, err, "a bound hit is a result, not an error")
	assert.True(t, res.Rejected())
	assert.Equal(t, domain.EnterStatusLimitReached, res.Status)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 2, *res.MaxIterations)
	assert.Contains(t, res.Message, "Take the exit path")

	state := m.State()
	require.NotNil(t, state.CurrentNode)
	assert.Equal(t, "review", *state.CurrentNode)
	assert.Equal(t, 2, state.IterationCounts["review"])

	trace := m.Trace()
	require.Equal(t, 3, trace.Count)
	last := trace.Trace[2]
	assert.Equal(t, domain.ActionIterationLimit, last.Action)
	assert.Equal(t, 2, last.Max)
}

func TestMachine_UnboundedNode(t *testing.T) {
	ctx := context.Background()
	m, _ := newMachine(t)

	for i := 1; i <= 10; i++ {
		res, err := m.Enter(ctx, runtime.EnterRequest{NodeID: "loop"})
		require.NoError(t, err)
		assert.Equal(t, i, res.Iteration)
		assert.Nil(t, res.MaxIterations)
	}
}

func TestMachine_OneEventPerOperation(t *testing.T) {
	ctx := context.Background()
	m, store := newMachine(t)

	ops := []func() error{
		func() error { _, err := m.Enter(ctx, runtime.EnterRequest{NodeID: "a"}); return err },
		func() error { _, err := m.Complete(ctx, "a", map[string]any{"x": 1}); return err },
		func() error {
			_, err := m.Route(ctx, runtime.RouteRequest{From: "a", To: "b", Rationale: "done"})
			return err
		},
		func() error { _, err := m.SetContext(ctx, "k", "v"); return err },
		func() error { _, err := m.GetContext(ctx, "k"); return err },
		func() error { _, err := m.RequestHumanInput(ctx, "ok?", nil); return err },
		func() error { _, err := m.SpawnSubagent(ctx, "agents/sub", nil); return err },
		func() error {
			_, err := m.CompleteExecution(ctx, nil, domain.CompletionSuccess, "")
			return err
		},
	}
	for i, op := range ops {
		require.NoError(t, op())
		assert.Equal(t, i+1, m.State().EventCount)
	}

	// Reads never append.
	m.State()
	m.Trace()
	assert.Equal(t, len(ops), m.Trace().Count)

	for i, e := range m.Trace().Trace {
		assert.Equal(t, i+1, e.Seq)
		assert.Equal(t, fixedNow, e.Timestamp)
	}

	persisted, err := store.LoadTrace(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, persisted, len(ops))

	snapshot, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, snapshot.History, len(ops))
	assert.Equal(t, domain.StatusCompleted, snapshot.Status)
}

func TestMachine_ContextFoundSemantics(t *testing.T) {
	ctx := context.Background()
	m, _ := newMachine(t)

	_, err := m.SetContext(ctx, "x", map[string]any{"a": 1})
	require.NoError(t, err)
	_, err = m.SetContext(ctx, "nil", nil)
	require.NoError(t, err)

	got, err := m.GetContext(ctx, "x")
	require.NoError(t, err)
	assert.True(t, got.Found)
	assert.Equal(t, map[string]any{"a": 1}, got.Value)

	missing, err := m.GetContext(ctx, "y")
	require.NoError(t, err)
	assert.False(t, missing.Found)
	assert.Nil(t, missing.Value)

	stored, err := m.GetContext(ctx, "nil")
	require.NoError(t, err)
	assert.True(t, stored.Found, "a stored null must be distinguishable from a missing key")
	assert.Nil(t, stored.Value)

	trace := m.Trace().Trace
	last := trace[len(trace)-1]
	assert.Equal(t, domain.ActionSharedContextGet, last.Action)
	require.NotNil(t, last.Found)
	assert.True(t, *last.Found)
}

func TestMachine_StagingKeys(t *testing.T) {
	ctx := context.Background()
	m, _ := newMachine(t)

	_, err := m.Route(ctx, runtime.RouteRequest{From: "draft", To: "review", Rationale: "ready", Data: map[string]any{"doc": "v1"}})
	require.NoError(t, err)
	_, err = m.Enter(ctx, runtime.EnterRequest{NodeID: "draft", Input: map[string]any{"topic": "go"}})
	require.NoError(t, err)
	res, err := m.Complete(ctx, "draft", map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, res.OutputKeys)

	snap := m.Snapshot()
	assert.Equal(t, map[string]any{"doc": "v1"}, snap.SharedContext["review_input"])
	assert.Equal(t, map[string]any{"topic": "go"}, snap.SharedContext["draft_input"])
	assert.Equal(t, map[string]any{"b": 2, "a": 1}, snap.SharedContext["draft_output"])
	assert.Equal(t, map[string]any{"b": 2, "a": 1}, snap.NodeOutputs["draft"])
	assert.Equal(t, "draft", snap.CurrentNode, "route never moves the current node")
}

func TestMachine_RouteResult(t *testing.T) {
	m, _ := newMachine(t)

	res, err := m.Route(context.Background(), runtime.RouteRequest{From: "a", To: "b"})
	require.NoError(t, err)
	assert.Equal(t, "routed", res.Status)
	assert.Equal(t, "unconditional", res.Condition)
	assert.Equal(t, `Call node_enter("b") to proceed.`, res.NextStep)
}

func TestMachine_PauseAndResume(t *testing.T) {
	ctx := context.Background()
	m, _ := newMachine(t)

	_, err := m.Enter(ctx, runtime.EnterRequest{NodeID: "ask"})
	require.NoError(t, err)

	res, err := m.RequestHumanInput(ctx, "Approve?", []string{"yes", "no"})
	require.NoError(t, err)
	assert.Equal(t, "paused_for_human", res.Status)
	assert.Equal(t, []string{"yes", "no"}, res.Options)
	assert.Equal(t, domain.StatusPaused, m.State().Status)

	last := m.Trace().Trace[1]
	assert.Equal(t, "ask", last.Node)
	assert.Equal(t, "Approve?", last.Prompt)

	_, err = m.Enter(ctx, runtime.EnterRequest{NodeID: "apply"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, m.State().Status)
}

func TestMachine_Instructions(t *testing.T) {
	long := strings.Repeat("x", 400)
	lib := memory.NewLibrary(map[string]string{
		"code-review": "Review carefully.",
		"long":        long,
	})
	m, _ := newMachine(t, runtime.WithLibrary(lib))
	ctx := context.Background()

	res, err := m.Enter(ctx, runtime.EnterRequest{NodeID: "code_review"})
	require.NoError(t, err)
	assert.True(t, res.HasInstructions)
	require.NotNil(t, res.Instructions)
	assert.Equal(t, "Review carefully.", *res.Instructions)
	assert.Equal(t, "Review carefully.", *res.InstructionsPreview)

	res, err = m.Enter(ctx, runtime.EnterRequest{NodeID: "long"})
	require.NoError(t, err)
	assert.Equal(t, 301, len([]rune(*res.InstructionsPreview)))
	assert.True(t, strings.HasSuffix(*res.InstructionsPreview, "…"))
	assert.Len(t, *res.Instructions, 400)

	res, err = m.Enter(ctx, runtime.EnterRequest{NodeID: "unknown"})
	require.NoError(t, err)
	assert.False(t, res.HasInstructions)
	assert.Nil(t, res.Instructions)
	assert.Nil(t, res.InstructionsPreview)

	trace := m.Trace().Trace
	require.NotNil(t, trace[0].Instructions)
	assert.Nil(t, trace[2].Instructions)
}

func TestMachine_SpawnSubagent(t *testing.T) {
	lib := memory.NewLibrary(nil).WithPrompt("agents/summarizer", "Summarize.")
	m, _ := newMachine(t, runtime.WithLibrary(lib))
	ctx := context.Background()

	res, err := m.SpawnSubagent(ctx, "agents/summarizer", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, domain.SubagentReady, res.Status)
	assert.True(t, res.HasSystemPrompt)
	assert.Equal(t, 10, res.SystemPromptChars)
	assert.Equal(t, map[string]any{"text": "hi"}, res.InputData)

	res, err = m.SpawnSubagent(ctx, "agents/missing", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SubagentNoSystemPrompt, res.Status)
	assert.False(t, res.HasSystemPrompt)
	assert.Empty(t, res.InputData)

	assert.Equal(t, 2, m.State().EventCount)
	assert.Empty(t, m.State().NodesVisited, "sub-agents never create nested state")
}

func TestMachine_CompleteExecution(t *testing.T) {
	ctx := context.Background()
	m, _ := newMachine(t)

	for _, n := range []string{"a", "b", "a"} {
		_, err := m.Enter(ctx, runtime.EnterRequest{NodeID: n})
		require.NoError(t, err)
	}
	_, err := m.Route(ctx, runtime.RouteRequest{From: "a", To: "end"})
	require.NoError(t, err)

	_, err = m.CompleteExecution(ctx, nil, "done", "")
	assert.ErrorIs(t, err, domain.ErrInvalidCompletionStatus)

	res, err := m.CompleteExecution(ctx, map[string]any{"answer": 42}, domain.CompletionPartial, "ran out of budget")
	require.NoError(t, err)
	assert.Equal(t, "completed", res.Status)
	assert.Equal(t, domain.CompletionPartial, res.CompletionStatus)
	require.NotNil(t, res.Summary)
	assert.Equal(t, "ran out of budget", *res.Summary)
	assert.Equal(t, domain.Stats{
		Events:       5,
		NodesVisited: 3,
		UniqueNodes:  2,
		Routes:       1,
		Iterations:   map[string]int{"a": 2, "b": 1},
	}, res.Stats)

	state := m.State()
	assert.Equal(t, domain.StatusCompleted, state.Status)
	require.NotNil(t, state.Completion)
	assert.Equal(t, domain.CompletionPartial, state.Completion.Status)
}

func TestMachine_RejectsMutationsAfterCompletion(t *testing.T) {
	ctx := context.Background()
	m, _ := newMachine(t)

	_, err := m.SetContext(ctx, "k", "v")
	require.NoError(t, err)
	_, err = m.CompleteExecution(ctx, nil, domain.CompletionSuccess, "")
	require.NoError(t, err)
	before := m.State().EventCount

	_, err = m.Enter(ctx, runtime.EnterRequest{NodeID: "a"})
	assert.ErrorIs(t, err, domain.ErrSessionCompleted)
	_, err = m.Complete(ctx, "a", nil)
	assert.ErrorIs(t, err, domain.ErrSessionCompleted)
	_, err = m.SetContext(ctx, "k", "w")
	assert.ErrorIs(t, err, domain.ErrSessionCompleted)
	_, err = m.CompleteExecution(ctx, nil, domain.CompletionSuccess, "")
	assert.ErrorIs(t, err, domain.ErrSessionCompleted)
	assert.Equal(t, before, m.State().EventCount)

	// Reads stay available.
	got, err := m.GetContext(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got.Value)
}

func TestMachine_InvalidArguments(t *testing.T) {
	ctx := context.Background()
	m, _ := newMachine(t)

	_, err := m.Enter(ctx, runtime.EnterRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = m.Route(ctx, runtime.RouteRequest{From: "a"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = m.SetContext(ctx, "", 1)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = m.SpawnSubagent(ctx, "", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Zero(t, m.State().EventCount)
}

func TestMachine_ContextSchema(t *testing.T) {
	ctx := context.Background()
	m, _ := newMachine(t, runtime.WithContextSchema(schema.Schema{
		"retries": schema.Int(),
		"plan":    schema.Slice(schema.String()),
	}))

	_, err := m.SetContext(ctx, "retries", float64(2))
	require.NoError(t, err)
	_, err = m.SetContext(ctx, "notes", map[string]any{"free": true})
	require.NoError(t, err)

	_, err = m.SetContext(ctx, "plan", []any{"a", 1})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.ErrorContains(t, err, `key "plan"`)
	assert.Equal(t, 2, m.State().EventCount)
}

type brokenStore struct {
	*memory.Store
}

func (brokenStore) AppendEvent(context.Context, string, domain.Event) error {
	return errors.New("disk full")
}

func (brokenStore) WriteSnapshot(context.Context, string, *domain.Session) error {
	return errors.New("disk full")
}

func TestMachine_PersistenceFailureIsSwallowed(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	m := runtime.NewMachine(
		domain.NewSession("s1", "", fixedNow),
		runtime.WithStore(brokenStore{memory.NewStore()}),
		runtime.WithMetrics(metrics),
	)

	res, err := m.Enter(context.Background(), runtime.EnterRequest{NodeID: "a"})
	require.NoError(t, err)
	assert.Equal(t, domain.EnterStatusEntered, res.Status)
	assert.Equal(t, 1, m.State().EventCount)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PersistenceFailures.WithLabelValues("append")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PersistenceFailures.WithLabelValues("snapshot")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Operations.WithLabelValues("node_enter", "ok")))
}

func TestMachine_PublishesAfterPersisting(t *testing.T) {
	hub := observability.NewHub()
	defer hub.Close()
	m, store := newMachine(t, runtime.WithPublisher(hub))
	hub.SetSource(func(string) (*domain.Session, bool) { return m.Snapshot(), true })

	sub := hub.Subscribe("s1")
	defer sub.Close()
	first := <-sub.C
	assert.Equal(t, observability.MessageFullState, first.Type)

	_, err := m.Enter(context.Background(), runtime.EnterRequest{NodeID: "a"})
	require.NoError(t, err)

	msg := <-sub.C
	require.Equal(t, observability.MessageTrace, msg.Type)
	persisted, err := store.LoadTrace(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, persisted, 1, "observers never see an event that was not written first")

	msg = <-sub.C
	assert.Equal(t, observability.MessageState, msg.Type)
	assert.Equal(t, "a", msg.State.CurrentNode)
}

func TestMachine_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	m, _ := newMachine(t, runtime.WithTracer(provider.Tracer(runtime.TracerName)))
	ctx := context.Background()

	_, err := m.Enter(ctx, runtime.EnterRequest{NodeID: "a"})
	require.NoError(t, err)
	_, err = m.SetContext(ctx, "", nil)
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "agentrun.enter", spans[0].Name())
	assert.Equal(t, "agentrun.set_context", spans[1].Name())
	assert.Equal(t, "Error", spans[1].Status().Code.String())
}

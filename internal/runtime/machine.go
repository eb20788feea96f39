package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aretw0/agentrun/internal/logging"
	"github.com/aretw0/agentrun/pkg/domain"
	"github.com/aretw0/agentrun/pkg/limits"
	"github.com/aretw0/agentrun/pkg/observability"
	"github.com/aretw0/agentrun/pkg/ports"
	"github.com/aretw0/agentrun/pkg/schema"
)

// TracerName is the instrumentation scope of the spans emitted by the Machine.
const TracerName = "github.com/aretw0/agentrun"

// Machine is the execution state machine of one session.
// It owns the authoritative in-memory Session; every mutation is applied in memory,
// then written through the store (append, then snapshot), then published.
type Machine struct {
	mu      sync.RWMutex
	session *domain.Session

	limits    limits.Limits
	schema    schema.Schema
	library   ports.Library
	store     ports.SessionStore
	publisher ports.Publisher

	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures the Machine.
type Option func(*Machine)

// WithLimits sets the per-node iteration bounds.
func WithLimits(l limits.Limits) Option {
	return func(m *Machine) {
		m.limits = l
	}
}

// WithContextSchema types the declared blackboard keys. Undeclared keys stay untyped.
func WithContextSchema(s schema.Schema) Option {
	return func(m *Machine) {
		m.schema = s
	}
}

// WithLibrary sets the instruction and prompt source.
func WithLibrary(lib ports.Library) Option {
	return func(m *Machine) {
		m.library = lib
	}
}

// WithStore enables persistence.
func WithStore(store ports.SessionStore) Option {
	return func(m *Machine) {
		m.store = store
	}
}

// WithPublisher sets where recorded events are pushed.
func WithPublisher(p ports.Publisher) Option {
	return func(m *Machine) {
		m.publisher = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

// WithMetrics enables Prometheus accounting.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Machine) {
		m.metrics = metrics
	}
}

// WithTracer overrides the OpenTelemetry tracer (defaults to the global provider).
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Machine) {
		m.tracer = tracer
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// NewMachine wraps session. The Machine takes ownership: callers must not mutate it afterwards.
func NewMachine(session *domain.Session, opts ...Option) *Machine {
	session.Normalize()
	m := &Machine{
		session:   session,
		publisher: ports.NopPublisher{},
		logger:    logging.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer(TracerName)
	}
	return m
}

// SessionID returns the stable identifier of the session.
func (m *Machine) SessionID() string {
	return m.session.SessionID
}

// Limits returns the iteration bounds in effect.
func (m *Machine) Limits() limits.Limits {
	return m.limits
}

// Snapshot returns a deep copy of the current session.
func (m *Machine) Snapshot() *domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Snapshot()
}

// State returns the read-only execution state. It never records an event.
func (m *Machine) State() domain.StateView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return domain.NewStateView(m.session)
}

// Trace returns the full ordered history. It never records an event.
func (m *Machine) Trace() domain.TraceView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := make([]domain.Event, len(m.session.History))
	for i, e := range m.session.History {
		history[i] = e.Clone()
	}
	return domain.TraceView{
		SessionID: m.session.SessionID,
		Trace:     history,
		Count:     len(history),
	}
}

// EnterRequest declares entry into a node.
type EnterRequest struct {
	NodeID string
	Reason string
	Input  map[string]any
}

// Enter checks the node bound and, when allowed, moves the session to the node.
// A bound hit is reported through EnterResult.Status, not as an error.
func (m *Machine) Enter(ctx context.Context, req EnterRequest) (res domain.EnterResult, err error) {
	ctx, span := m.start(ctx, "enter", attribute.String("agentrun.node", req.NodeID))
	defer func() { m.finish(span, "node_enter", err, res.Rejected()) }()

	if req.NodeID == "" {
		return res, fmt.Errorf("%w: node_id is required", domain.ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.mutable(); err != nil {
		return res, err
	}

	count := m.session.IterationCounts[req.NodeID]
	bound, bounded := m.limits.Max(req.NodeID)
	var maxPtr *int
	if bounded {
		maxPtr = &bound
	}

	if bounded && count >= bound {
		m.record(ctx, domain.Event{
			Action:    domain.ActionIterationLimit,
			Node:      req.NodeID,
			Iteration: count,
			Max:       bound,
			Reason:    req.Reason,
		})
		m.metrics.ObserveIterationLimit(req.NodeID)
		m.logger.Info("Iteration limit reached", "session_id", m.session.SessionID, "node_id", req.NodeID, "max", bound)
		span.SetAttributes(attribute.Bool("agentrun.limit_reached", true))
		return domain.EnterResult{
			Status:        domain.EnterStatusLimitReached,
			NodeID:        req.NodeID,
			Iterations:    count,
			MaxIterations: maxPtr,
			Message:       fmt.Sprintf("Node '%s' hit max iterations (%d). Take the exit path.", req.NodeID, bound),
		}, nil
	}

	instructions := m.instructionsFor(ctx, req.NodeID)
	input := domain.CopyMap(req.Input)

	m.record(ctx, domain.Event{
		Action:       domain.ActionEnter,
		Node:         req.NodeID,
		Iteration:    count + 1,
		Max:          bound,
		Reason:       req.Reason,
		Input:        input,
		Instructions: instructions,
	})
	m.metrics.ObserveVisit(req.NodeID)

	res = domain.EnterResult{
		Status:          domain.EnterStatusEntered,
		NodeID:          req.NodeID,
		Iteration:       count + 1,
		MaxIterations:   maxPtr,
		InputData:       input,
		HasInstructions: instructions != nil,
		Instructions:    instructions,
	}
	if res.InputData == nil {
		res.InputData = map[string]any{}
	}
	if instructions != nil {
		preview := domain.Preview(*instructions, domain.InstructionsPreviewLimit)
		res.InstructionsPreview = &preview
	}
	return res, nil
}

// instructionsFor tries the literal node id first, then the hyphenated spelling.
// Backend errors are logged and treated as a miss.
func (m *Machine) instructionsFor(ctx context.Context, nodeID string) *string {
	if m.library == nil {
		return nil
	}
	candidates := []string{nodeID}
	if alt := strings.ReplaceAll(nodeID, "_", "-"); alt != nodeID {
		candidates = append(candidates, alt)
	}
	for _, id := range candidates {
		text, found, err := m.library.Instructions(ctx, id)
		if err != nil {
			m.logger.Warn("Failed to read node instructions", "node_id", id, "err", err)
			continue
		}
		if found {
			return &text
		}
	}
	return nil
}

// Complete records a node output.
func (m *Machine) Complete(ctx context.Context, nodeID string, output map[string]any) (res domain.CompleteResult, err error) {
	ctx, span := m.start(ctx, "complete", attribute.String("agentrun.node", nodeID))
	defer func() { m.finish(span, "node_complete", err, false) }()

	if nodeID == "" {
		return res, fmt.Errorf("%w: node_id is required", domain.ErrInvalidArgument)
	}
	if output == nil {
		output = map[string]any{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.mutable(); err != nil {
		return res, err
	}

	output = domain.CopyMap(output)
	keys := domain.SortedKeys(output)
	m.record(ctx, domain.Event{
		Action: domain.ActionComplete,
		Node:   nodeID,
		Output: output,
		Keys:   keys,
	})

	return domain.CompleteResult{Status: "completed", NodeID: nodeID, OutputKeys: keys}, nil
}

// RouteRequest records a routing decision.
type RouteRequest struct {
	From      string
	To        string
	Rationale string
	Condition string
	Data      map[string]any
}

// Route records which node comes next and why. It does not move the current node.
func (m *Machine) Route(ctx context.Context, req RouteRequest) (res domain.RouteResult, err error) {
	ctx, span := m.start(ctx, "route",
		attribute.String("agentrun.from", req.From),
		attribute.String("agentrun.to", req.To),
	)
	defer func() { m.finish(span, "route_decision", err, false) }()

	if req.From == "" || req.To == "" {
		return res, fmt.Errorf("%w: from_node and to_node are required", domain.ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.mutable(); err != nil {
		return res, err
	}

	m.record(ctx, domain.Event{
		Action:    domain.ActionRoute,
		From:      req.From,
		To:        req.To,
		Condition: req.Condition,
		Rationale: req.Rationale,
		Data:      domain.CopyMap(req.Data),
	})

	condition := req.Condition
	if condition == "" {
		condition = "unconditional"
	}
	return domain.RouteResult{
		Status:    "routed",
		From:      req.From,
		To:        req.To,
		Condition: condition,
		NextStep:  fmt.Sprintf("Call node_enter(%q) to proceed.", req.To),
	}, nil
}

// RequestHumanInput pauses the session. The next Enter resumes it.
func (m *Machine) RequestHumanInput(ctx context.Context, prompt string, options []string) (res domain.HumanInputResult, err error) {
	ctx, span := m.start(ctx, "human_input")
	defer func() { m.finish(span, "request_human_input", err, false) }()

	if prompt == "" {
		return res, fmt.Errorf("%w: prompt is required", domain.ErrInvalidArgument)
	}
	if options == nil {
		options = []string{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.mutable(); err != nil {
		return res, err
	}

	options = append([]string(nil), options...)
	m.record(ctx, domain.Event{
		Action:  domain.ActionHumanInput,
		Node:    m.session.CurrentNode,
		Prompt:  prompt,
		Options: options,
	})

	return domain.HumanInputResult{
		Status:  "paused_for_human",
		Prompt:  prompt,
		Options: options,
		Message: "Present this to the user. Resume when they respond.",
	}, nil
}

// SetContext writes a blackboard value. Last write wins.
func (m *Machine) SetContext(ctx context.Context, key string, value any) (res domain.SetContextResult, err error) {
	ctx, span := m.start(ctx, "set_context", attribute.String("agentrun.key", key))
	defer func() { m.finish(span, "set_shared_context", err, false) }()

	if key == "" {
		return res, fmt.Errorf("%w: key is required", domain.ErrInvalidArgument)
	}
	if err := m.schema.Check(key, value); err != nil {
		return res, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.mutable(); err != nil {
		return res, err
	}

	m.record(ctx, domain.Event{
		Action: domain.ActionSharedContextSet,
		Key:    key,
		Value:  domain.CopyValue(value),
	})
	return domain.SetContextResult{Stored: key}, nil
}

// GetContext reads a blackboard value. Found distinguishes a missing key from a stored null.
// The read is recorded in history; it is allowed on a completed session.
func (m *Machine) GetContext(ctx context.Context, key string) (res domain.ContextResult, err error) {
	ctx, span := m.start(ctx, "get_context", attribute.String("agentrun.key", key))
	defer func() { m.finish(span, "get_shared_context", err, false) }()

	if key == "" {
		return res, fmt.Errorf("%w: key is required", domain.ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	value, found := m.session.SharedContext[key]
	m.record(ctx, domain.Event{
		Action: domain.ActionSharedContextGet,
		Key:    key,
		Found:  &found,
	})
	return domain.ContextResult{Key: key, Value: domain.CopyValue(value), Found: found}, nil
}

// SpawnSubagent looks up the system prompt of a nested agent. No nested session is created.
func (m *Machine) SpawnSubagent(ctx context.Context, path string, input map[string]any) (res domain.SubagentResult, err error) {
	ctx, span := m.start(ctx, "spawn_subagent", attribute.String("agentrun.path", path))
	defer func() { m.finish(span, "spawn_subagent", err, false) }()

	if path == "" {
		return res, fmt.Errorf("%w: agent_path is required", domain.ErrInvalidArgument)
	}
	if input == nil {
		input = map[string]any{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.mutable(); err != nil {
		return res, err
	}

	var prompt *string
	if m.library != nil {
		text, found, lerr := m.library.Prompt(ctx, path)
		if lerr != nil {
			m.logger.Warn("Failed to read sub-agent prompt", "path", path, "err", lerr)
		} else if found {
			prompt = &text
		}
	}

	input = domain.CopyMap(input)
	m.record(ctx, domain.Event{
		Action: domain.ActionSubagentSpawn,
		Node:   m.session.CurrentNode,
		Path:   path,
		Input:  input,
	})

	res = domain.SubagentResult{
		Status:       domain.SubagentNoSystemPrompt,
		AgentPath:    path,
		InputData:    input,
		SystemPrompt: prompt,
		Message:      "No SYSTEM_PROMPT found. Compile the sub-agent first.",
	}
	if prompt != nil {
		res.Status = domain.SubagentReady
		res.HasSystemPrompt = true
		res.SystemPromptChars = utf8.RuneCountInString(*prompt)
		res.Message = "Sub-agent loaded. Execute its instructions inline with the given input."
	}
	return res, nil
}

// CompleteExecution marks the session completed and returns statistics over its history.
func (m *Machine) CompleteExecution(ctx context.Context, finalOutput map[string]any, status domain.CompletionStatus, summary string) (res domain.CompletionResult, err error) {
	ctx, span := m.start(ctx, "complete_execution", attribute.String("agentrun.completion_status", string(status)))
	defer func() { m.finish(span, "complete_execution", err, false) }()

	if !status.Valid() {
		return res, fmt.Errorf("%w: %q (want success, partial or error)", domain.ErrInvalidCompletionStatus, status)
	}
	if finalOutput == nil {
		finalOutput = map[string]any{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.mutable(); err != nil {
		return res, err
	}

	finalOutput = domain.CopyMap(finalOutput)
	m.record(ctx, domain.Event{
		Action:  domain.ActionCompleteExecution,
		Node:    m.session.CurrentNode,
		Status:  status,
		Summary: summary,
		Output:  finalOutput,
	})
	m.logger.Info("Execution completed", "session_id", m.session.SessionID, "status", status)

	var summaryPtr *string
	if summary != "" {
		summaryPtr = &summary
	}
	return domain.CompletionResult{
		Status:           string(domain.StatusCompleted),
		CompletionStatus: status,
		Summary:          summaryPtr,
		FinalOutput:      finalOutput,
		Stats:            domain.ComputeStats(m.session),
	}, nil
}

// mutable rejects writes to a completed session. Caller holds m.mu.
func (m *Machine) mutable() error {
	if m.session.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", domain.ErrSessionCompleted, m.session.SessionID)
	}
	return nil
}

// record applies e, persists it and publishes it. Caller holds m.mu.
// Store failures are logged and counted; the in-memory state stays authoritative.
func (m *Machine) record(ctx context.Context, e domain.Event) domain.Event {
	e.Timestamp = m.now()
	stored := m.session.Apply(e)
	id := m.session.SessionID

	if m.store != nil {
		// A caller that went away must not leave the trace behind the in-memory state.
		pctx := context.WithoutCancel(ctx)
		if err := m.store.AppendEvent(pctx, id, stored); err != nil {
			m.metrics.ObservePersistenceFailure("append")
			m.logger.Error("Failed to append event", "session_id", id, "seq", stored.Seq, "err", err)
		}
		if err := m.store.WriteSnapshot(pctx, id, m.session); err != nil {
			m.metrics.ObservePersistenceFailure("snapshot")
			m.logger.Error("Failed to write snapshot", "session_id", id, "seq", stored.Seq, "err", err)
		}
	}

	m.publisher.PublishEvent(id, stored)
	m.publisher.PublishState(id, m.session)

	m.logger.Debug("Event recorded", "session_id", id, "seq", stored.Seq, "action", stored.Action)
	return stored
}

func (m *Machine) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("agentrun.session_id", m.session.SessionID))
	return m.tracer.Start(ctx, "agentrun."+op, trace.WithAttributes(attrs...))
}

func (m *Machine) finish(span trace.Span, op string, err error, rejected bool) {
	defer span.End()
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.metrics.ObserveOperation(op, "error")
	case rejected:
		m.metrics.ObserveOperation(op, "rejected")
	default:
		m.metrics.ObserveOperation(op, "ok")
	}
}

package api

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/aretw0/agentrun/internal/config"
	"github.com/aretw0/agentrun/internal/logging"
	"github.com/aretw0/agentrun/internal/runtime"
	"github.com/aretw0/agentrun/pkg/domain"
	"github.com/aretw0/agentrun/pkg/limits"
	"github.com/aretw0/agentrun/pkg/registry"
	"github.com/aretw0/agentrun/pkg/session"
)

// Operation names, shared by every transport.
const (
	OpAgentInit         = "agent_init"
	OpNodeEnter         = "node_enter"
	OpNodeComplete      = "node_complete"
	OpRouteDecision     = "route_decision"
	OpGetExecutionState = "get_execution_state"
	OpSetSharedContext  = "set_shared_context"
	OpGetSharedContext  = "get_shared_context"
	OpRequestHumanInput = "request_human_input"
	OpSpawnSubagent     = "spawn_subagent"
	OpCompleteExecution = "complete_execution"
	OpGetExecutionTrace = "get_execution_trace"
)

// Operations lists every operation name in registration order.
func Operations() []string {
	return []string{
		OpAgentInit, OpNodeEnter, OpNodeComplete, OpRouteDecision, OpGetExecutionState,
		OpSetSharedContext, OpGetSharedContext, OpRequestHumanInput, OpSpawnSubagent,
		OpCompleteExecution, OpGetExecutionTrace,
	}
}

// Init outcomes.
const (
	InitStatusInitialized = "initialized"
	InitStatusResumed     = "resumed"
)

// Service exposes the execution operations independently of any transport.
// Every request may name its session; an empty session id falls back to the
// session most recently opened through Init.
type Service struct {
	manager *session.Manager
	logger  *slog.Logger
	ops     *registry.Registry

	mu      sync.RWMutex
	current string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithDefaultSession preselects the session used by requests that name none.
func WithDefaultSession(sessionID string) Option {
	return func(s *Service) {
		s.current = sessionID
	}
}

// NewService creates a Service over the given session manager.
func NewService(manager *session.Manager, opts ...Option) *Service {
	s := &Service{
		manager: manager,
		logger:  logging.NewNop(),
		ops:     registry.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerOperations()
	return s
}

// Manager returns the underlying session manager.
func (s *Service) Manager() *session.Manager {
	return s.manager
}

// CurrentSession returns the default session id, empty when none was opened.
func (s *Service) CurrentSession() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Service) resolve(sessionID string) (string, error) {
	if sessionID != "" {
		return sessionID, nil
	}
	if current := s.CurrentSession(); current != "" {
		return current, nil
	}
	return "", domain.ErrUninitializedSession
}

func (s *Service) with(ctx context.Context, sessionID string, fn func(context.Context, *runtime.Machine) error) error {
	id, err := s.resolve(sessionID)
	if err != nil {
		return err
	}
	return s.manager.WithSession(ctx, id, fn)
}

// --- Requests ---

// InitRequest opens a session for an agent directory.
type InitRequest struct {
	AgentPath string `mapstructure:"agent_path" json:"agent_path"`
	SessionID string `mapstructure:"session_id" json:"session_id,omitempty"`
}

// InitResult describes the opened session.
type InitResult struct {
	Status            string        `json:"status"`
	SessionID         string        `json:"session_id"`
	AgentPath         string        `json:"agent_path"`
	ConfigName        *string       `json:"config_name"`
	ConfigVersion     *string       `json:"config_version"`
	MaxIterationNodes limits.Limits `json:"max_iteration_nodes"`
	EventCount        int           `json:"event_count"`
}

// EnterRequest enters a node.
type EnterRequest struct {
	SessionID string         `mapstructure:"session_id" json:"session_id,omitempty"`
	NodeID    string         `mapstructure:"node_id" json:"node_id"`
	Reason    string         `mapstructure:"reason" json:"reason,omitempty"`
	InputData map[string]any `mapstructure:"input_data" json:"input_data,omitempty"`
}

// CompleteRequest completes a node.
type CompleteRequest struct {
	SessionID  string         `mapstructure:"session_id" json:"session_id,omitempty"`
	NodeID     string         `mapstructure:"node_id" json:"node_id"`
	OutputData map[string]any `mapstructure:"output_data" json:"output_data"`
}

// RouteRequest records a routing decision.
type RouteRequest struct {
	SessionID  string         `mapstructure:"session_id" json:"session_id,omitempty"`
	FromNode   string         `mapstructure:"from_node" json:"from_node"`
	ToNode     string         `mapstructure:"to_node" json:"to_node"`
	Condition  string         `mapstructure:"condition" json:"condition,omitempty"`
	Rationale  string         `mapstructure:"rationale" json:"rationale"`
	DataToPass map[string]any `mapstructure:"data_to_pass" json:"data_to_pass,omitempty"`
}

// HumanInputRequest pauses for a human answer.
type HumanInputRequest struct {
	SessionID string   `mapstructure:"session_id" json:"session_id,omitempty"`
	Prompt    string   `mapstructure:"prompt" json:"prompt"`
	Options   []string `mapstructure:"options" json:"options,omitempty"`
}

// SetContextRequest writes a blackboard key.
type SetContextRequest struct {
	SessionID string `mapstructure:"session_id" json:"session_id,omitempty"`
	Key       string `mapstructure:"key" json:"key"`
	Value     any    `mapstructure:"value" json:"value"`
}

// GetContextRequest reads a blackboard key.
type GetContextRequest struct {
	SessionID string `mapstructure:"session_id" json:"session_id,omitempty"`
	Key       string `mapstructure:"key" json:"key"`
}

// SpawnSubagentRequest looks up a sub-agent prompt.
type SpawnSubagentRequest struct {
	SessionID string         `mapstructure:"session_id" json:"session_id,omitempty"`
	AgentPath string         `mapstructure:"agent_path" json:"agent_path"`
	InputData map[string]any `mapstructure:"input_data" json:"input_data"`
}

// CompleteExecutionRequest finishes the session.
type CompleteExecutionRequest struct {
	SessionID   string         `mapstructure:"session_id" json:"session_id,omitempty"`
	FinalOutput map[string]any `mapstructure:"final_output" json:"final_output"`
	Status      string         `mapstructure:"status" json:"status"`
	Summary     string         `mapstructure:"summary" json:"summary,omitempty"`
}

// SessionRequest names the session of a read operation.
type SessionRequest struct {
	SessionID string `mapstructure:"session_id" json:"session_id,omitempty"`
}

// Decode fills out from loosely typed arguments, as received from JSON tool calls.
func Decode(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

// --- Operations ---

// Init opens (or resumes) a session for an agent directory and makes it the default.
func (s *Service) Init(ctx context.Context, req InitRequest) (InitResult, error) {
	if req.AgentPath == "" {
		return InitResult{}, fmt.Errorf("%w: agent_path is required", domain.ErrInvalidArgument)
	}
	path, err := filepath.Abs(req.AgentPath)
	if err != nil {
		return InitResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return InitResult{}, fmt.Errorf("%w: %s", domain.ErrAgentNotFound, path)
		}
		return InitResult{}, fmt.Errorf("failed to stat agent directory: %w", err)
	}
	if !info.IsDir() {
		return InitResult{}, fmt.Errorf("%w: %s is not a directory", domain.ErrAgentNotFound, path)
	}

	agent, found, err := config.ReadAgentConfig(path)
	if err != nil {
		return InitResult{}, err
	}

	machine, restored, err := s.manager.Open(ctx, session.OpenOptions{SessionID: req.SessionID, AgentPath: path})
	if err != nil {
		return InitResult{}, err
	}

	s.mu.Lock()
	s.current = machine.SessionID()
	s.mu.Unlock()

	res := InitResult{
		Status:            InitStatusInitialized,
		SessionID:         machine.SessionID(),
		AgentPath:         path,
		MaxIterationNodes: machine.Limits(),
		EventCount:        machine.State().EventCount,
	}
	if restored {
		res.Status = InitStatusResumed
	}
	if found {
		res.ConfigName = optional(agent.Name)
		res.ConfigVersion = optional(agent.Version)
	}
	s.logger.Info("Agent initialized", "session_id", res.SessionID, "agent_path", path, "status", res.Status)
	return res, nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// Enter enters a node, subject to its iteration bound.
func (s *Service) Enter(ctx context.Context, req EnterRequest) (res domain.EnterResult, err error) {
	err = s.with(ctx, req.SessionID, func(ctx context.Context, m *runtime.Machine) error {
		res, err = m.Enter(ctx, runtime.EnterRequest{NodeID: req.NodeID, Reason: req.Reason, Input: req.InputData})
		return err
	})
	return res, err
}

// Complete records a node's output.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) (res domain.CompleteResult, err error) {
	err = s.with(ctx, req.SessionID, func(ctx context.Context, m *runtime.Machine) error {
		res, err = m.Complete(ctx, req.NodeID, req.OutputData)
		return err
	})
	return res, err
}

// Route records a routing decision.
func (s *Service) Route(ctx context.Context, req RouteRequest) (res domain.RouteResult, err error) {
	err = s.with(ctx, req.SessionID, func(ctx context.Context, m *runtime.Machine) error {
		res, err = m.Route(ctx, runtime.RouteRequest{
			From:      req.FromNode,
			To:        req.ToNode,
			Rationale: req.Rationale,
			Condition: req.Condition,
			Data:      req.DataToPass,
		})
		return err
	})
	return res, err
}

// RequestHumanInput pauses the session.
func (s *Service) RequestHumanInput(ctx context.Context, req HumanInputRequest) (res domain.HumanInputResult, err error) {
	err = s.with(ctx, req.SessionID, func(ctx context.Context, m *runtime.Machine) error {
		res, err = m.RequestHumanInput(ctx, req.Prompt, req.Options)
		return err
	})
	return res, err
}

// SetContext writes a blackboard key.
func (s *Service) SetContext(ctx context.Context, req SetContextRequest) (res domain.SetContextResult, err error) {
	err = s.with(ctx, req.SessionID, func(ctx context.Context, m *runtime.Machine) error {
		res, err = m.SetContext(ctx, req.Key, req.Value)
		return err
	})
	return res, err
}

// GetContext reads a blackboard key.
func (s *Service) GetContext(ctx context.Context, req GetContextRequest) (res domain.ContextResult, err error) {
	err = s.with(ctx, req.SessionID, func(ctx context.Context, m *runtime.Machine) error {
		res, err = m.GetContext(ctx, req.Key)
		return err
	})
	return res, err
}

// SpawnSubagent looks up a sub-agent's system prompt. Relative paths resolve
// against the working directory.
func (s *Service) SpawnSubagent(ctx context.Context, req SpawnSubagentRequest) (res domain.SubagentResult, err error) {
	path := req.AgentPath
	if path != "" {
		if abs, aerr := filepath.Abs(path); aerr == nil {
			path = abs
		}
	}
	err = s.with(ctx, req.SessionID, func(ctx context.Context, m *runtime.Machine) error {
		res, err = m.SpawnSubagent(ctx, path, req.InputData)
		return err
	})
	return res, err
}

// CompleteExecution finishes the session.
func (s *Service) CompleteExecution(ctx context.Context, req CompleteExecutionRequest) (res domain.CompletionResult, err error) {
	err = s.with(ctx, req.SessionID, func(ctx context.Context, m *runtime.Machine) error {
		res, err = m.CompleteExecution(ctx, req.FinalOutput, domain.CompletionStatus(req.Status), req.Summary)
		return err
	})
	return res, err
}

// GetState returns the execution state.
func (s *Service) GetState(ctx context.Context, req SessionRequest) (res domain.StateView, err error) {
	err = s.with(ctx, req.SessionID, func(ctx context.Context, m *runtime.Machine) error {
		res = m.State()
		return nil
	})
	return res, err
}

// GetTrace returns the full history.
func (s *Service) GetTrace(ctx context.Context, req SessionRequest) (res domain.TraceView, err error) {
	err = s.with(ctx, req.SessionID, func(ctx context.Context, m *runtime.Machine) error {
		res = m.Trace()
		return nil
	})
	return res, err
}

// ErrUnknownOperation is returned by Call for an unregistered operation name.
var ErrUnknownOperation = errors.New("unknown operation")

// Call decodes args and dispatches to the named operation.
func (s *Service) Call(ctx context.Context, op string, args map[string]any) (any, error) {
	res, err := s.ops.Execute(ctx, op, args)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
	}
	return res, err
}

func (s *Service) registerOperations() {
	s.ops.Register(OpAgentInit, handler(s.Init))
	s.ops.Register(OpNodeEnter, handler(s.Enter))
	s.ops.Register(OpNodeComplete, handler(s.Complete))
	s.ops.Register(OpRouteDecision, handler(s.Route))
	s.ops.Register(OpGetExecutionState, handler(s.GetState))
	s.ops.Register(OpSetSharedContext, handler(s.SetContext))
	s.ops.Register(OpGetSharedContext, handler(s.GetContext))
	s.ops.Register(OpRequestHumanInput, handler(s.RequestHumanInput))
	s.ops.Register(OpSpawnSubagent, handler(s.SpawnSubagent))
	s.ops.Register(OpCompleteExecution, handler(s.CompleteExecution))
	s.ops.Register(OpGetExecutionTrace, handler(s.GetTrace))
}

func handler[Req, Res any](fn func(context.Context, Req) (Res, error)) registry.Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		return call(ctx, args, fn)
	}
}

func call[Req, Res any](ctx context.Context, args map[string]any, fn func(context.Context, Req) (Res, error)) (any, error) {
	var req Req
	if err := Decode(args, &req); err != nil {
		return nil, err
	}
	res, err := fn(ctx, req)
	if err != nil {
		return nil, err
	}
	return res, nil
}

package domain

import "time"

// Enter outcomes.
const (
	EnterStatusEntered      = "entered"
	EnterStatusLimitReached = "iteration_limit_reached"
)

// InstructionsPreviewLimit caps the instruction excerpt returned by Enter.
const InstructionsPreviewLimit = 300

// EnterResult is returned by an enter call. A rejected enter is a result, not an error.
type EnterResult struct {
	Status              string         `json:"status"`
	NodeID              string         `json:"node_id"`
	Iteration           int            `json:"iteration,omitempty"`
	Iterations          int            `json:"iterations,omitempty"`
	MaxIterations       *int           `json:"max_iterations"`
	Reason              string         `json:"reason,omitempty"`
	InputData           map[string]any `json:"input_data,omitempty"`
	HasInstructions     bool           `json:"has_instructions"`
	Instructions        *string        `json:"instructions"`
	InstructionsPreview *string        `json:"instructions_preview"`
	Message             string         `json:"message,omitempty"`
}

// Rejected reports whether the node bound stopped the enter.
func (r EnterResult) Rejected() bool { return r.Status == EnterStatusLimitReached }

// CompleteResult is returned by a node completion.
type CompleteResult struct {
	Status     string   `json:"status"`
	NodeID     string   `json:"node_id"`
	OutputKeys []string `json:"output_keys"`
}

// RouteResult is returned by a routing decision.
type RouteResult struct {
	Status    string `json:"status"`
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition"`
	NextStep  string `json:"next_step"`
}

// HumanInputResult carries the prompt to present to a human.
type HumanInputResult struct {
	Status  string   `json:"status"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
	Message string   `json:"message"`
}

// SetContextResult acknowledges a blackboard write.
type SetContextResult struct {
	Stored string `json:"stored"`
}

// ContextResult is a blackboard read. Found distinguishes a missing key from a stored null.
type ContextResult struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
	Found bool   `json:"found"`
}

// Sub-agent lookup outcomes.
const (
	SubagentReady          = "ready"
	SubagentNoSystemPrompt = "no_system_prompt"
)

// SubagentResult describes a sub-agent prompt lookup.
type SubagentResult struct {
	Status            string         `json:"status"`
	AgentPath         string         `json:"agent_path"`
	HasSystemPrompt   bool           `json:"has_system_prompt"`
	SystemPromptChars int            `json:"system_prompt_chars"`
	SystemPrompt      *string        `json:"system_prompt,omitempty"`
	InputData         map[string]any `json:"input_data"`
	Message           string         `json:"message"`
}

// Stats aggregates a finished session's history.
type Stats struct {
	Events       int            `json:"events"`
	NodesVisited int            `json:"nodes_visited"`
	UniqueNodes  int            `json:"unique_nodes"`
	Routes       int            `json:"routes"`
	Iterations   map[string]int `json:"iterations"`
}

// ComputeStats derives Stats from the session history.
func ComputeStats(s *Session) Stats {
	counts := make(map[string]int, len(s.IterationCounts))
	for k, v := range s.IterationCounts {
		counts[k] = v
	}
	return Stats{
		Events:       len(s.History),
		NodesVisited: s.CountActions(ActionEnter),
		UniqueNodes:  len(s.VisitedNodes()),
		Routes:       s.CountActions(ActionRoute),
		Iterations:   counts,
	}
}

// CompletionResult is returned by complete_execution.
type CompletionResult struct {
	Status           string           `json:"status"`
	CompletionStatus CompletionStatus `json:"completion_status"`
	Summary          *string          `json:"summary"`
	FinalOutput      map[string]any   `json:"final_output"`
	Stats            Stats            `json:"stats"`
}

// StateView is the read-only execution state.
type StateView struct {
	SessionID       string          `json:"session_id"`
	Status          ExecutionStatus `json:"status"`
	CurrentNode     *string         `json:"current_node"`
	NodesVisited    []string        `json:"nodes_visited"`
	IterationCounts map[string]int  `json:"iteration_counts"`
	ContextKeys     []string        `json:"context_keys"`
	EventCount      int             `json:"event_count"`
	StartedAt       time.Time       `json:"started_at"`
	Completion      *Completion     `json:"completion,omitempty"`
}

// NewStateView builds the state view of s.
func NewStateView(s *Session) StateView {
	var current *string
	if s.CurrentNode != "" {
		c := s.CurrentNode
		current = &c
	}
	counts := make(map[string]int, len(s.IterationCounts))
	for k, v := range s.IterationCounts {
		counts[k] = v
	}
	return StateView{
		SessionID:       s.SessionID,
		Status:          s.Status,
		CurrentNode:     current,
		NodesVisited:    s.VisitedNodes(),
		IterationCounts: counts,
		ContextKeys:     s.ContextKeys(),
		EventCount:      len(s.History),
		StartedAt:       s.StartTime,
		Completion:      s.Completion,
	}
}

// TraceView is the full ordered history.
type TraceView struct {
	SessionID string  `json:"session_id"`
	Trace     []Event `json:"trace"`
	Count     int     `json:"count"`
}

package domain

import (
	"sort"
	"time"
)

// ExecutionStatus defines the lifecycle stage of a session.
type ExecutionStatus string

const (
	StatusInitialized ExecutionStatus = "initialized" // Opened, no node entered yet
	StatusRunning     ExecutionStatus = "running"     // At least one node entered
	StatusPaused      ExecutionStatus = "paused"      // Waiting for human input
	StatusCompleted   ExecutionStatus = "completed"   // Terminal
)

// IsTerminal reports whether no further mutations are allowed.
func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusCompleted
}

// CompletionStatus is the outcome reported by complete_execution.
type CompletionStatus string

const (
	CompletionSuccess CompletionStatus = "success"
	CompletionPartial CompletionStatus = "partial"
	CompletionError   CompletionStatus = "error"
)

// Valid reports whether c is one of the accepted outcomes.
func (c CompletionStatus) Valid() bool {
	switch c {
	case CompletionSuccess, CompletionPartial, CompletionError:
		return true
	}
	return false
}

// Completion records how a session finished.
type Completion struct {
	Status      CompletionStatus `json:"status"`
	Summary     string           `json:"summary,omitempty"`
	FinalOutput map[string]any   `json:"final_output,omitempty"`
	CompletedAt time.Time        `json:"completed_at"`
}

// Session represents the current snapshot of one tracked traversal.
type Session struct {
	// SessionID is assigned once at creation and never changes.
	SessionID string `json:"session_id"`

	// AgentPath is the graph-instance directory the session was opened for.
	AgentPath string `json:"agent_path,omitempty"`

	Status ExecutionStatus `json:"status"`

	// CurrentNode is empty until the first successful enter.
	CurrentNode string `json:"current_node,omitempty"`

	// IterationCounts maps node ID to the number of successful enters.
	IterationCounts map[string]int `json:"iteration_counts"`

	// SharedContext is the blackboard. Last write wins.
	SharedContext map[string]any `json:"shared_context"`

	// NodeOutputs holds the last recorded output per node.
	NodeOutputs map[string]any `json:"node_outputs"`

	// History is the append-only event log.
	History []Event `json:"history"`

	StartTime time.Time `json:"start_time"`

	Completion *Completion `json:"completion,omitempty"`
}

// NewSession creates a clean session.
func NewSession(sessionID, agentPath string, now time.Time) *Session {
	return &Session{
		SessionID:       sessionID,
		AgentPath:       agentPath,
		Status:          StatusInitialized,
		IterationCounts: make(map[string]int),
		SharedContext:   make(map[string]any),
		NodeOutputs:     make(map[string]any),
		History:         []Event{},
		StartTime:       now,
	}
}

// Normalize fills fields missing from an older or partial snapshot with their initial values.
func (s *Session) Normalize() {
	if s.Status == "" {
		s.Status = StatusInitialized
	}
	if s.IterationCounts == nil {
		s.IterationCounts = make(map[string]int)
	}
	if s.SharedContext == nil {
		s.SharedContext = make(map[string]any)
	}
	if s.NodeOutputs == nil {
		s.NodeOutputs = make(map[string]any)
	}
	if s.History == nil {
		s.History = []Event{}
	}
}

// Snapshot returns a deep copy so readers cannot observe later mutations.
func (s *Session) Snapshot() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.IterationCounts = make(map[string]int, len(s.IterationCounts))
	for k, v := range s.IterationCounts {
		cp.IterationCounts[k] = v
	}
	cp.SharedContext = CopyMap(s.SharedContext)
	cp.NodeOutputs = CopyMap(s.NodeOutputs)
	if cp.SharedContext == nil {
		cp.SharedContext = make(map[string]any)
	}
	if cp.NodeOutputs == nil {
		cp.NodeOutputs = make(map[string]any)
	}
	cp.History = make([]Event, len(s.History))
	for i, e := range s.History {
		cp.History[i] = e.Clone()
	}
	if s.Completion != nil {
		c := *s.Completion
		c.FinalOutput = CopyMap(s.Completion.FinalOutput)
		cp.Completion = &c
	}
	return &cp
}

// VisitedNodes returns entered nodes in order of first entry.
func (s *Session) VisitedNodes() []string {
	seen := make(map[string]bool)
	nodes := []string{}
	for _, e := range s.History {
		if e.Action != ActionEnter || seen[e.Node] {
			continue
		}
		seen[e.Node] = true
		nodes = append(nodes, e.Node)
	}
	return nodes
}

// ContextKeys returns the blackboard keys in sorted order.
func (s *Session) ContextKeys() []string {
	return SortedKeys(s.SharedContext)
}

// CountActions returns how many history events carry the given action.
func (s *Session) CountActions(action Action) int {
	n := 0
	for _, e := range s.History {
		if e.Action == action {
			n++
		}
	}
	return n
}

// SortedKeys returns the keys of m in sorted order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CopyMap deep-copies JSON-like values (maps, slices, scalars).
func CopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CopyValue(v)
	}
	return out
}

func CopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = CopyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

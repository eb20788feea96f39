package domain

import (
	"time"
)

// Action defines the category of a history event.
type Action string

const (
	ActionInit              Action = "init"
	ActionEnter             Action = "enter"
	ActionIterationLimit    Action = "iteration_limit"
	ActionComplete          Action = "complete"
	ActionRoute             Action = "route"
	ActionHumanInput        Action = "human_input_requested"
	ActionSubagentSpawn     Action = "subagent_spawn"
	ActionCompleteExecution Action = "complete_execution"
	ActionSharedContextSet  Action = "shared_context_set"
	ActionSharedContextGet  Action = "shared_context_get"
)

// Event is one immutable record of a state transition.
// Only the payload fields relevant to Action are set.
type Event struct {
	// Seq is the 1-based position of the event in history.
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Action    Action    `json:"action"`

	Node      string `json:"node,omitempty"`
	Iteration int    `json:"iteration,omitempty"`
	Max       int    `json:"max_iterations,omitempty"`
	Reason    string `json:"reason,omitempty"`

	// Input is the data staged for the node (enter) or handed to a sub-agent.
	// Input, Output and Data keep null apart from an empty object so replay can
	// tell "nothing staged" from "staged {}".
	Input map[string]any `json:"input"`

	// Instructions is nil when no instruction text was found for the node.
	Instructions *string `json:"instructions,omitempty"`

	// Output is the node output (complete) or the final output (complete_execution).
	Output map[string]any `json:"output"`
	Keys   []string       `json:"keys,omitempty"`

	From      string         `json:"from,omitempty"`
	To        string         `json:"to,omitempty"`
	Condition string         `json:"condition,omitempty"`
	Rationale string         `json:"rationale,omitempty"`
	Data      map[string]any `json:"data"`

	Prompt  string   `json:"prompt,omitempty"`
	Options []string `json:"options,omitempty"`

	Path string `json:"path,omitempty"`

	Key   string `json:"key,omitempty"`
	Value any    `json:"value,omitempty"`
	Found *bool  `json:"found,omitempty"`

	Status  CompletionStatus `json:"status,omitempty"`
	Summary string           `json:"summary,omitempty"`
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	cp := e
	cp.Input = CopyMap(e.Input)
	cp.Output = CopyMap(e.Output)
	cp.Data = CopyMap(e.Data)
	cp.Value = CopyValue(e.Value)
	if e.Keys != nil {
		cp.Keys = append([]string(nil), e.Keys...)
	}
	if e.Options != nil {
		cp.Options = append([]string(nil), e.Options...)
	}
	if e.Instructions != nil {
		s := *e.Instructions
		cp.Instructions = &s
	}
	if e.Found != nil {
		f := *e.Found
		cp.Found = &f
	}
	return cp
}

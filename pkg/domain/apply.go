package domain

import "time"

// InputKey is the blackboard key where data staged for a node is stored.
func InputKey(nodeID string) string { return nodeID + "_input" }

// OutputKey is the blackboard key where a node's output is mirrored.
func OutputKey(nodeID string) string { return nodeID + "_output" }

// Apply mutates the session according to e and appends it to history.
// It assigns the sequence number and returns the stored event.
// Validation (limits, terminal status) is the caller's job: Apply never rejects.
func (s *Session) Apply(e Event) Event {
	s.Normalize()
	e.Seq = len(s.History) + 1

	switch e.Action {
	case ActionEnter:
		s.CurrentNode = e.Node
		s.IterationCounts[e.Node] = e.Iteration
		if e.Input != nil {
			s.SharedContext[InputKey(e.Node)] = e.Input
		}
		if !s.Status.IsTerminal() {
			s.Status = StatusRunning
		}
	case ActionComplete:
		s.NodeOutputs[e.Node] = e.Output
		s.SharedContext[OutputKey(e.Node)] = e.Output
	case ActionRoute:
		if e.Data != nil {
			s.SharedContext[InputKey(e.To)] = e.Data
		}
	case ActionHumanInput:
		if !s.Status.IsTerminal() {
			s.Status = StatusPaused
		}
	case ActionSharedContextSet:
		s.SharedContext[e.Key] = e.Value
	case ActionCompleteExecution:
		s.Status = StatusCompleted
		s.Completion = &Completion{
			Status:      e.Status,
			Summary:     e.Summary,
			FinalOutput: e.Output,
			CompletedAt: e.Timestamp,
		}
	case ActionIterationLimit, ActionSubagentSpawn, ActionSharedContextGet, ActionInit:
		// Audit only.
	}

	s.History = append(s.History, e)
	return e
}

// Replay rebuilds a session from its append-only trace.
// The start time is taken from the first event when available.
func Replay(sessionID, agentPath string, trace []Event) *Session {
	start := time.Time{}
	if len(trace) > 0 {
		start = trace[0].Timestamp
	}
	s := NewSession(sessionID, agentPath, start)
	for _, e := range trace {
		s.Apply(e.Clone())
	}
	return s
}

package tui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/muesli/termenv"

	"github.com/aretw0/agentrun/pkg/domain"
)

var statusColors = map[domain.ExecutionStatus]string{
	domain.StatusInitialized: "#94a3b8",
	domain.StatusRunning:     "#22c55e",
	domain.StatusPaused:      "#f59e0b",
	domain.StatusCompleted:   "#818cf8",
}

// StatusBadge renders an execution status for terminal output.
func StatusBadge(status domain.ExecutionStatus) string {
	p := termenv.EnvColorProfile()
	color, ok := statusColors[status]
	if !ok {
		color = "#ef4444"
	}
	return termenv.String(strings.ToUpper(string(status))).Bold().Foreground(p.Color(color)).String()
}

// StateMarkdown renders a state view as a markdown report.
func StateMarkdown(view domain.StateView) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Session `%s`\n\n", view.SessionID)
	fmt.Fprintf(&sb, "- **Status:** %s\n", view.Status)
	current := "none"
	if view.CurrentNode != nil {
		current = "`" + *view.CurrentNode + "`"
	}
	fmt.Fprintf(&sb, "- **Current node:** %s\n", current)
	fmt.Fprintf(&sb, "- **Events:** %d\n", view.EventCount)
	if !view.StartedAt.IsZero() {
		fmt.Fprintf(&sb, "- **Started:** %s\n", view.StartedAt.Format(time.RFC3339))
	}

	if len(view.NodesVisited) > 0 {
		sb.WriteString("\n## Visits\n\n| Node | Iterations |\n| --- | ---: |\n")
		for _, node := range view.NodesVisited {
			fmt.Fprintf(&sb, "| %s | %d |\n", escapeCell(node), view.IterationCounts[node])
		}
	}

	if len(view.ContextKeys) > 0 {
		sb.WriteString("\n## Shared context\n\n")
		for _, key := range view.ContextKeys {
			fmt.Fprintf(&sb, "- `%s`\n", key)
		}
	}

	if c := view.Completion; c != nil {
		sb.WriteString("\n## Completion\n\n")
		fmt.Fprintf(&sb, "- **Outcome:** %s\n", c.Status)
		if c.Summary != "" {
			fmt.Fprintf(&sb, "- **Summary:** %s\n", c.Summary)
		}
		fmt.Fprintf(&sb, "- **Completed:** %s\n", c.CompletedAt.Format(time.RFC3339))
	}
	return sb.String()
}

// TraceMarkdown renders the history as a markdown table, one row per event.
func TraceMarkdown(view domain.TraceView) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Trace `%s` (%d events)\n\n", view.SessionID, view.Count)
	if len(view.Trace) == 0 {
		sb.WriteString("_No events recorded._\n")
		return sb.String()
	}
	sb.WriteString("| # | Time | Action | Detail |\n| ---: | --- | --- | --- |\n")
	for _, e := range view.Trace {
		fmt.Fprintf(&sb, "| %d | %s | %s | %s |\n",
			e.Seq, e.Timestamp.Format(time.TimeOnly), e.Action, escapeCell(Describe(e)))
	}
	return sb.String()
}

// Describe returns a one-line summary of an event.
func Describe(e domain.Event) string {
	switch e.Action {
	case domain.ActionEnter:
		return fmt.Sprintf("%s (iteration %d)", e.Node, e.Iteration)
	case domain.ActionIterationLimit:
		return fmt.Sprintf("%s rejected at %d/%d", e.Node, e.Iteration, e.Max)
	case domain.ActionComplete:
		return fmt.Sprintf("%s produced %s", e.Node, strings.Join(e.Keys, ", "))
	case domain.ActionRoute:
		d := fmt.Sprintf("%s -> %s", e.From, e.To)
		if e.Condition != "" {
			d += fmt.Sprintf(" [%s]", e.Condition)
		}
		return d + ": " + e.Rationale
	case domain.ActionHumanInput:
		if len(e.Options) > 0 {
			return fmt.Sprintf("%s (%s)", e.Prompt, strings.Join(e.Options, " / "))
		}
		return e.Prompt
	case domain.ActionSubagentSpawn:
		return e.Path
	case domain.ActionSharedContextSet:
		return fmt.Sprintf("%s = %s", e.Key, compact(e.Value))
	case domain.ActionSharedContextGet:
		if e.Found != nil && !*e.Found {
			return e.Key + " (missing)"
		}
		return e.Key
	case domain.ActionCompleteExecution:
		if e.Summary != "" {
			return fmt.Sprintf("%s: %s", e.Status, e.Summary)
		}
		return string(e.Status)
	}
	return e.Node
}

func compact(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	const limit = 60
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

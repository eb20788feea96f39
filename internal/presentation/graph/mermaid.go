package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/agentrun/pkg/domain"
	"github.com/aretw0/agentrun/pkg/limits"
)

// Overlay contains the session state to paint on the agent graph.
type Overlay struct {
	VisitedNodes []string
	CurrentNode  string
	// Exhausted lists nodes whose iteration bound has been reached.
	Exhausted []string
}

// OverlayFor derives the overlay of a session under the given bounds.
func OverlayFor(s *domain.Session, bounds limits.Limits) *Overlay {
	o := &Overlay{
		VisitedNodes: s.VisitedNodes(),
		CurrentNode:  s.CurrentNode,
	}
	for _, node := range bounds.Nodes() {
		max, _ := bounds.Max(node)
		if s.IterationCounts[node] >= max {
			o.Exhausted = append(o.Exhausted, node)
		}
	}
	return o
}

// Render returns the first Mermaid flowchart of definition with the overlay styles
// appended. An empty definition yields a bare "graph TD" listing the visited nodes.
func Render(definition string, overlay *Overlay) string {
	var sb strings.Builder

	body := strings.TrimSpace(limits.Blocks(definition)[0])
	if body == "" {
		sb.WriteString("graph TD\n")
		if overlay != nil {
			for _, id := range overlay.VisitedNodes {
				sb.WriteString(fmt.Sprintf("    %s[\"%s\"]\n", sanitizeMermaidID(id), id))
			}
		}
	} else {
		sb.WriteString(body)
		sb.WriteString("\n")
	}

	if overlay == nil {
		return sb.String()
	}

	sb.WriteString("\n    %% Overlay Styles\n")
	// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme
	sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
	sb.WriteString("    classDef exhausted fill:#ffcdd2,stroke:#b71c1c,stroke-width:2px,color:#000;\n")
	sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

	exhausted := make(map[string]bool, len(overlay.Exhausted))
	for _, id := range overlay.Exhausted {
		exhausted[id] = true
	}

	seen := make(map[string]bool)
	for _, id := range overlay.VisitedNodes {
		safeID := sanitizeMermaidID(id)
		if safeID == "" || seen[safeID] || exhausted[id] {
			continue
		}
		seen[safeID] = true
		sb.WriteString(fmt.Sprintf("    class %s visited;\n", safeID))
	}
	for _, id := range overlay.Exhausted {
		sb.WriteString(fmt.Sprintf("    class %s exhausted;\n", sanitizeMermaidID(id)))
	}

	// Last class wins in Mermaid, so current goes at the end.
	if overlay.CurrentNode != "" {
		sb.WriteString(fmt.Sprintf("    class %s current;\n", sanitizeMermaidID(overlay.CurrentNode)))
	}

	return sb.String()
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return s
}

package validator

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/agentrun/pkg/limits"
	"github.com/aretw0/agentrun/pkg/ports"
	"github.com/aretw0/agentrun/pkg/session"
)

// Report is the outcome of a successful validation.
type Report struct {
	Limits limits.Limits
	// Warnings do not fail validation.
	Warnings []string
}

// ValidateAgent checks that an agent library carries a usable graph definition.
// Bounded nodes without instruction documents are reported as warnings:
// entering them is legal, the agent just gets no instructions.
func ValidateAgent(ctx context.Context, lib ports.Library) (Report, error) {
	var report Report
	var errors []string

	text, found, err := lib.Definition(ctx)
	switch {
	case err != nil:
		return report, fmt.Errorf("failed to read graph definition: %w", err)
	case !found:
		errors = append(errors, "Missing graph definition (agent-mermaid.md)")
	case !declaresGraph(text):
		errors = append(errors, "Graph definition has no 'flowchart' or 'graph' declaration")
	}

	if len(errors) > 0 {
		return report, fmt.Errorf("found %d errors:\n- %s", len(errors), strings.Join(errors, "\n- "))
	}

	report.Limits, err = session.LoadLimits(ctx, lib)
	if err != nil {
		return report, err
	}

	if report.Limits.Len() == 0 {
		report.Warnings = append(report.Warnings, "No @max_iterations bounds declared; cycles are unbounded")
	}
	for _, node := range report.Limits.Nodes() {
		_, ok, err := lib.Instructions(ctx, node)
		if err != nil {
			return report, fmt.Errorf("failed to read instructions for '%s': %w", node, err)
		}
		if !ok {
			report.Warnings = append(report.Warnings, fmt.Sprintf("Bounded node '%s' has no instructions", node))
		}
	}
	return report, nil
}

func declaresGraph(text string) bool {
	for _, block := range limits.Blocks(text) {
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "flowchart") || strings.HasPrefix(line, "graph") {
				return true
			}
		}
	}
	return false
}

package domain

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

// DefaultPreviewLimit caps each context value preview in a Summary.
const DefaultPreviewLimit = 200

// Summary is the condensed view of a session pushed to live observers.
// It is designed to be serialized to JSON and kept small regardless of context size.
type Summary struct {
	SessionID       string            `json:"session_id"`
	Status          ExecutionStatus   `json:"status"`
	CurrentNode     string            `json:"current_node,omitempty"`
	VisitedNodes    []string          `json:"visited_nodes"`
	IterationCounts map[string]int    `json:"iteration_counts"`
	ContextKeys     []string          `json:"context_keys"`
	ContextPreview  map[string]string `json:"context_preview"`
	EventCount      int               `json:"event_count"`
	StartedAt       time.Time         `json:"started_at"`
}

// Summarize builds a Summary. Values longer than previewLimit runes are truncated.
// A non-positive previewLimit falls back to DefaultPreviewLimit.
func Summarize(s *Session, previewLimit int) Summary {
	if previewLimit <= 0 {
		previewLimit = DefaultPreviewLimit
	}
	counts := make(map[string]int, len(s.IterationCounts))
	for k, v := range s.IterationCounts {
		counts[k] = v
	}
	preview := make(map[string]string, len(s.SharedContext))
	for k, v := range s.SharedContext {
		preview[k] = Preview(v, previewLimit)
	}
	return Summary{
		SessionID:       s.SessionID,
		Status:          s.Status,
		CurrentNode:     s.CurrentNode,
		VisitedNodes:    s.VisitedNodes(),
		IterationCounts: counts,
		ContextKeys:     s.ContextKeys(),
		ContextPreview:  preview,
		EventCount:      len(s.History),
		StartedAt:       s.StartTime,
	}
}

// Preview renders v as compact JSON truncated to limit runes.
func Preview(v any, limit int) string {
	var text string
	if str, ok := v.(string); ok {
		text = str
	} else if b, err := json.Marshal(v); err == nil {
		text = string(b)
	} else {
		text = fmt.Sprintf("%v", v)
	}
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + "…"
}

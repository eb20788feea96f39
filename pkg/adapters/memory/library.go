package memory

import (
	"context"
	"path/filepath"
)

// Library implements ports.Library using in-memory maps.
// It is meant for tests and for embedding agents that ship their instructions in code.
type Library struct {
	definition   *string
	instructions map[string]string
	prompts      map[string]string
}

// NewLibrary creates a Library with the provided node instructions.
func NewLibrary(instructions map[string]string) *Library {
	l := &Library{
		instructions: make(map[string]string, len(instructions)),
		prompts:      make(map[string]string),
	}
	for k, v := range instructions {
		l.instructions[k] = v
	}
	return l
}

// WithDefinition sets the graph definition text.
func (l *Library) WithDefinition(text string) *Library {
	l.definition = &text
	return l
}

// WithPrompt registers a sub-agent system prompt for path.
func (l *Library) WithPrompt(path, prompt string) *Library {
	l.prompts[filepath.Clean(path)] = prompt
	return l
}

// Definition returns the graph definition, if set.
func (l *Library) Definition(ctx context.Context) (string, bool, error) {
	if l.definition == nil {
		return "", false, nil
	}
	return *l.definition, true, nil
}

// Instructions returns the instruction text for a node.
func (l *Library) Instructions(ctx context.Context, nodeID string) (string, bool, error) {
	text, ok := l.instructions[nodeID]
	return text, ok, nil
}

// Prompt returns the system prompt registered for path.
func (l *Library) Prompt(ctx context.Context, path string) (string, bool, error) {
	text, ok := l.prompts[filepath.Clean(path)]
	return text, ok, nil
}

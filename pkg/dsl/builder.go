package dsl

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/agentrun/pkg/adapters/memory"
)

// Builder manages the graph construction. Nodes and edges keep insertion order.
type Builder struct {
	direction string
	order     []string
	nodes     map[string]*NodeBuilder
	prompts   map[string]string
}

// New creates a new top-down graph builder.
func New() *Builder {
	return &Builder{
		direction: "TD",
		nodes:     make(map[string]*NodeBuilder),
		prompts:   make(map[string]string),
	}
}

// Direction sets the flowchart direction (TD, LR, ...).
func (b *Builder) Direction(dir string) *Builder {
	b.direction = dir
	return b
}

// Add creates a new node in the graph.
// If the node already exists, it returns the existing builder.
func (b *Builder) Add(id string) *NodeBuilder {
	if nb, ok := b.nodes[id]; ok {
		return nb
	}
	nb := &NodeBuilder{id: id}
	b.nodes[id] = nb
	b.order = append(b.order, id)
	return nb
}

// Prompt registers the system prompt of a sub-agent path.
func (b *Builder) Prompt(path, text string) *Builder {
	b.prompts[path] = text
	return b
}

// Mermaid renders the graph definition.
func (b *Builder) Mermaid() string {
	var sb strings.Builder
	sb.WriteString("flowchart " + b.direction + "\n")
	for _, id := range b.order {
		sb.WriteString("  " + b.nodes[id].declaration() + "\n")
	}
	for _, id := range b.order {
		for _, e := range b.nodes[id].edges {
			if e.condition == "" {
				fmt.Fprintf(&sb, "  %s --> %s\n", id, e.target)
			} else {
				fmt.Fprintf(&sb, "  %s -->|%s| %s\n", id, escape(e.condition), e.target)
			}
		}
	}
	return sb.String()
}

// Document wraps the definition in a mermaid fence, as stored in agent-mermaid.md.
func (b *Builder) Document() string {
	return "```mermaid\n" + b.Mermaid() + "```\n"
}

// Build validates the graph and compiles it into a memory library.
func (b *Builder) Build() (*memory.Library, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	instructions := make(map[string]string)
	for _, id := range b.order {
		if nb := b.nodes[id]; nb.instructions != "" {
			instructions[id] = nb.instructions
		}
	}
	lib := memory.NewLibrary(instructions).WithDefinition(b.Document())
	for path, text := range b.prompts {
		lib.WithPrompt(path, text)
	}
	return lib, nil
}

func (b *Builder) validate() error {
	if len(b.order) == 0 {
		return errors.New("graph has no nodes")
	}
	var errs []error
	for _, id := range b.order {
		nb := b.nodes[id]
		if !isIdentifier(id) {
			errs = append(errs, fmt.Errorf("node %q: id must be letters, digits or underscores", id))
		}
		if nb.max < 0 {
			errs = append(errs, fmt.Errorf("node %q: max iterations must be positive", id))
		}
		for _, e := range nb.edges {
			if _, ok := b.nodes[e.target]; !ok {
				errs = append(errs, fmt.Errorf("node %q: transition to unknown node %q", id, e.target))
			}
		}
	}
	return errors.Join(errs...)
}

func isIdentifier(id string) bool {
	if id == "" {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !(c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}

func escape(s string) string {
	return strings.NewReplacer(`"`, "#quot;", "|", "#124;").Replace(s)
}

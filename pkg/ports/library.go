package ports

import "context"

// Library resolves the text artifacts an agent directory provides.
// A miss is reported with found == false, never as an error. Errors are reserved
// for backend failures (unreadable repository, I/O errors).
type Library interface {
	// Definition returns the graph definition document (the Mermaid source).
	Definition(ctx context.Context) (text string, found bool, err error)

	// Instructions returns the instruction text stored for a node ID.
	// Callers try alternative spellings themselves; the lookup is literal.
	Instructions(ctx context.Context, nodeID string) (text string, found bool, err error)

	// Prompt returns the system prompt of the sub-agent at path.
	Prompt(ctx context.Context, path string) (text string, found bool, err error)
}

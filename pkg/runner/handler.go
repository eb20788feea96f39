package runner

import (
	"context"
	"errors"
	"io"
)

// ErrSkip is returned by Handler.Decode for lines that carry no request (blank lines, comments).
var ErrSkip = errors.New("nothing to execute")

// Request is one decoded operation call.
type Request struct {
	ID   any            `json:"id,omitempty"`
	Op   string         `json:"op"`
	Args map[string]any `json:"args,omitempty"`
}

// Response is the outcome of one Request. Exactly one of Result and Error is set.
type Response struct {
	ID     any    `json:"id,omitempty"`
	Op     string `json:"-"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Handler defines the wire format of the stream.
// This allows switching between Text (terminal) and JSON (structured) modes.
type Handler interface {
	// Decode parses one input line into a request.
	Decode(line string) (Request, error)

	// Encode writes a response.
	Encode(ctx context.Context, res Response) error

	// Prompt is shown before each line is read. Handlers for machines return "".
	Prompt() string
}

// InputResolver is implemented by handlers that adapt the input stream before the
// first read, such as TextHandler opening the platform console for a terminal.
type InputResolver interface {
	ResolveInput(r io.Reader) io.Reader
}

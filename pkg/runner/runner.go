package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aretw0/agentrun/internal/logging"
)

// Caller executes a named operation. *api.Service satisfies it.
type Caller interface {
	Call(ctx context.Context, op string, args map[string]any) (any, error)
}

// Runner reads requests line by line and answers each through its Handler.
type Runner struct {
	// Handler is the wire format. Defaults to TextHandler on stdout.
	Handler Handler

	// Interceptor is the request policy. Defaults to AutoApprove.
	Interceptor Interceptor

	// Logger is used for internal debug logging.
	Logger *slog.Logger

	// Input is the request stream. Defaults to stdin.
	Input io.Reader

	// PromptWriter receives the handler prompt before each line. Prompts are
	// skipped when nil.
	PromptWriter io.Writer

	// MaxInputSize bounds a request line; zero uses DefaultMaxInputSize or the environment.
	MaxInputSize int

	caller Caller
}

// New creates a Runner over caller.
func New(caller Caller, opts ...Option) *Runner {
	r := &Runner{
		caller: caller,
		Logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.Handler == nil {
		r.Handler = NewTextHandler(nil)
	}
	if r.Interceptor == nil {
		r.Interceptor = AutoApprove()
	}
	if r.Input == nil {
		r.Input = os.Stdin
	}
	return r
}

// Run executes requests until the input ends or ctx is cancelled. Failed calls are
// reported as responses and never stop the loop; only I/O errors are returned.
func (r *Runner) Run(ctx context.Context) error {
	input := r.Input
	if resolver, ok := r.Handler.(InputResolver); ok {
		input = resolver.ResolveInput(input)
	}
	lines, readErr := r.readLines(ctx, input)

	for {
		r.prompt()

		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			if err := <-readErr; err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("read error: %w", err)
			}
			return nil
		}

		res, skip := r.execute(ctx, line)
		if skip {
			continue
		}
		if err := r.Handler.Encode(ctx, res); err != nil {
			return fmt.Errorf("output error: %w", err)
		}
	}
}

func (r *Runner) execute(ctx context.Context, line string) (Response, bool) {
	line, err := SanitizeInput(line, r.MaxInputSize)
	if err != nil {
		return Response{Error: err.Error()}, false
	}

	req, err := r.Handler.Decode(line)
	if errors.Is(err, ErrSkip) {
		return Response{}, true
	}
	res := Response{ID: req.ID, Op: req.Op}
	if err != nil {
		res.Error = err.Error()
		return res, false
	}

	if err := r.Interceptor(ctx, req); err != nil {
		r.Logger.Warn("Operation blocked", "op", req.Op, "error", err)
		res.Error = err.Error()
		return res, false
	}

	result, err := r.caller.Call(ctx, req.Op, req.Args)
	if err != nil {
		r.Logger.Debug("Operation failed", "op", req.Op, "error", err)
		res.Error = err.Error()
		return res, false
	}
	res.Result = result
	return res, false
}

func (r *Runner) prompt() {
	if r.PromptWriter == nil {
		return
	}
	if p := r.Handler.Prompt(); p != "" {
		fmt.Fprint(r.PromptWriter, p)
	}
}

// readLines pumps the input into a buffered channel so cancellation never waits on a read.
func (r *Runner) readLines(ctx context.Context, input io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string, DefaultInputBufferSize)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(input)
		limit := r.MaxInputSize
		if limit <= 0 {
			limit = maxInputSize()
		}
		scanner.Buffer(make([]byte, 0, 64*1024), limit+1)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				errc <- nil
				return
			}
		}
		errc <- scanner.Err()
	}()
	return lines, errc
}

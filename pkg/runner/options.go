package runner

import (
	"io"
	"log/slog"
)

// DefaultInputBufferSize is the default number of lines buffered ahead of execution.
const DefaultInputBufferSize = 64

// Option defines a functional option for configuring the Runner.
type Option func(*Runner)

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.Logger = logger
	}
}

// WithHandler configures the wire format.
func WithHandler(handler Handler) Option {
	return func(r *Runner) {
		r.Handler = handler
	}
}

// WithInput sets the request stream.
func WithInput(in io.Reader) Option {
	return func(r *Runner) {
		r.Input = in
	}
}

// WithPromptWriter sets where prompts are written, typically the terminal.
func WithPromptWriter(w io.Writer) Option {
	return func(r *Runner) {
		r.PromptWriter = w
	}
}

// WithInterceptor configures the request policy.
func WithInterceptor(interceptor Interceptor) Option {
	return func(r *Runner) {
		r.Interceptor = interceptor
	}
}

// WithMaxInputSize bounds a request line in bytes.
func WithMaxInputSize(n int) Option {
	return func(r *Runner) {
		r.MaxInputSize = n
	}
}

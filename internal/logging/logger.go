package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

type options struct {
	writer io.Writer
	format string
}

// Option configures New.
type Option func(*options)

// WithWriter replaces Stderr as the destination.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

// WithFormat selects FormatText or FormatJSON.
func WithFormat(format string) Option {
	return func(o *options) {
		o.format = format
	}
}

// New creates a configured application logger.
// It writes to Stderr (to separate from Stdout flow UI/JSON-RPC).
// It standardizes common keys (e.g., "error" -> "err").
func New(level slog.Level, opts ...Option) *slog.Logger {
	o := options{writer: os.Stderr, format: FormatText}
	for _, opt := range opts {
		opt(&o)
	}

	handlerOpts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == "error" {
				a.Key = "err"
			}
			return a
		},
	}
	if o.format == FormatJSON {
		return slog.New(slog.NewJSONHandler(o.writer, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(o.writer, handlerOpts))
}

// NewNop returns a no-op logger.
func NewNop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ParseLevel reads a level name, defaulting to info when it is blank or unknown.
func ParseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// ParseFormat validates a format name; blank means text.
func ParseFormat(name string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(name)); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown log format %q", name)
	}
}

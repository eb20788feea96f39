package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aretw0/agentrun"
	"github.com/aretw0/agentrun/internal/config"
)

// Options carries the global command-line flags.
// Empty fields leave the configured value untouched.
type Options struct {
	AgentPath  string
	EnvFile    string
	Store      string
	SessionDir string
	LogLevel   string
	LogFormat  string
}

// LoadConfig resolves the configuration and applies the flags on top of it.
func LoadConfig(opts Options) (*config.Config, error) {
	cfg, err := config.Load(opts.AgentPath, opts.EnvFile)
	if err != nil {
		return nil, err
	}
	cfg.Override(config.RuntimeConfig{
		Store:      opts.Store,
		SessionDir: opts.SessionDir,
		LogLevel:   opts.LogLevel,
		LogFormat:  opts.LogFormat,
	})
	return cfg, nil
}

// OpenRuntime loads the configuration and builds a runtime over it.
func OpenRuntime(ctx context.Context, opts Options, extra ...agentrun.Option) (*agentrun.Runtime, *slog.Logger, error) {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return nil, nil, err
	}
	// Stderr only, so Stdout stays free for JSON-RPC and reports.
	logger, err := cfg.Logger()
	if err != nil {
		return nil, nil, err
	}

	rt, err := agentrun.New(ctx, cfg, append([]agentrun.Option{agentrun.WithLogger(logger)}, extra...)...)
	if err != nil {
		return nil, nil, fmt.Errorf("error initializing agentrun: %w", err)
	}
	return rt, logger, nil
}

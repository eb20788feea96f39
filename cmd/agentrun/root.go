package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/agentrun/internal/cli"
)

var rootCmd = &cobra.Command{
	Use:   "agentrun",
	Short: "agentrun tracks agent-driven executions of a workflow graph",
	Long: `agentrun keeps the authoritative record of an agent walking a Mermaid workflow graph:
bounded node visits, a shared blackboard and a causal trace, persisted and resumable,
exposed over MCP and HTTP with a live event stream for dashboards.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	flags := rootCmd.PersistentFlags()
	flags.String("dir", "", "Agent directory (agent-mermaid.md, nodes/, agent-config.yaml)")
	flags.String("env-file", ".env", "Dotenv file to load; values already in the environment win")
	flags.String("store", "", "Session store: file, memory, redis, sqlite or mysql")
	flags.String("session-dir", "", "Directory of the file and sqlite stores")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.String("log-format", "", "Log format: text or json")
}

// globalOptions reads the persistent flags. A positional agent directory is accepted
// when --dir is not given.
func globalOptions(cmd *cobra.Command, args []string) cli.Options {
	flags := cmd.Flags()
	dir, _ := flags.GetString("dir")
	if !flags.Changed("dir") && len(args) > 0 {
		dir = args[0]
	}
	envFile, _ := flags.GetString("env-file")
	store, _ := flags.GetString("store")
	sessionDir, _ := flags.GetString("session-dir")
	logLevel, _ := flags.GetString("log-level")
	logFormat, _ := flags.GetString("log-format")
	return cli.Options{
		AgentPath:  dir,
		EnvFile:    envFile,
		Store:      store,
		SessionDir: sessionDir,
		LogLevel:   logLevel,
		LogFormat:  logFormat,
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

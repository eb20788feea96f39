package main

import (
	"os"

	"github.com/aretw0/lifecycle"
	"github.com/spf13/cobra"

	"github.com/aretw0/agentrun/internal/cli"
	"github.com/aretw0/agentrun/internal/presentation/tui"
	"github.com/aretw0/agentrun/pkg/runner"
)

var consoleCmd = &cobra.Command{
	Use:   "console [agent-dir]",
	Short: "Call operations line by line from stdin",
	Long: `Reads one operation per line from stdin and writes one result per line to stdout.

Text mode (default) accepts commands such as:
  node_enter node_id=draft reason="first pass"
  route_decision {"from_node":"draft","to_node":"review","rationale":"ok"}

With --json every line is a request {"id","op","args"} and every response
{"id","result","error"} is a JSON line, for hosts scripting agentrun through a pipe.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jsonMode, _ := cmd.Flags().GetBool("json")
		readOnly, _ := cmd.Flags().GetBool("read-only")
		sessionID, _ := cmd.Flags().GetString("session")

		sigCtx := lifecycle.NewSignalContext(cmd.Context())
		defer sigCtx.Cancel()

		rt, logger, err := cli.OpenRuntime(sigCtx, globalOptions(cmd, args))
		if err != nil {
			fail("%v", err)
		}
		defer rt.Close()

		if rt.Config.AgentPath != "" {
			res, err := rt.Open(sigCtx, sessionID)
			if err != nil {
				fail("Error opening session: %v", err)
			}
			logger.Info("Session ready", "session_id", res.SessionID, "status", res.Status, "events", res.EventCount)
		}

		opts := []runner.Option{
			runner.WithLogger(logger),
			runner.WithInput(os.Stdin),
		}
		if jsonMode {
			opts = append(opts, runner.WithHandler(runner.NewJSONHandler(os.Stdout)))
		} else {
			opts = append(opts, runner.WithHandler(runner.NewTextHandler(os.Stdout)))
			if tui.IsTerminal(os.Stdin) {
				opts = append(opts, runner.WithPromptWriter(os.Stderr))
			}
		}
		if readOnly {
			opts = append(opts, runner.WithInterceptor(runner.ReadOnly()))
		}

		if err := runner.New(rt.Service, opts...).Run(sigCtx); err != nil {
			fail("Console error: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)

	consoleCmd.Flags().Bool("json", false, "Use JSON-Lines requests and responses")
	consoleCmd.Flags().Bool("read-only", false, "Reject operations that change a session")
	consoleCmd.Flags().String("session", "", "Session ID to open or resume at startup (generated when empty)")
}

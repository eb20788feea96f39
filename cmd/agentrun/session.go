package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/aretw0/lifecycle"
	"github.com/spf13/cobra"

	"github.com/aretw0/agentrun/internal/cli"
	"github.com/aretw0/agentrun/internal/presentation/tui"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage persisted sessions",
	Long:  `List, inspect, trace, graph, watch and remove sessions held by the configured store.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all stored sessions",
	Run: func(cmd *cobra.Command, args []string) {
		rt, _, err := cli.OpenRuntime(cmd.Context(), globalOptions(cmd, nil))
		if err != nil {
			fail("%v", err)
		}
		defer rt.Close()

		sessions, err := rt.Manager.List(cmd.Context())
		if err != nil {
			fail("Error listing sessions: %v", err)
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions found.")
			return
		}

		fmt.Println("Sessions:")
		for _, id := range sessions {
			view, err := cli.Inspect(cmd.Context(), rt, id)
			if err != nil {
				fmt.Printf("- %s (unreadable: %v)\n", id, err)
				continue
			}
			fmt.Printf("- %s %s (%d events)\n", id, tui.StatusBadge(view.Status), view.EventCount)
		}
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Inspect the state of a session",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rt, _, err := cli.OpenRuntime(cmd.Context(), globalOptions(cmd, nil))
		if err != nil {
			fail("%v", err)
		}
		defer rt.Close()

		view, err := cli.Inspect(cmd.Context(), rt, args[0])
		if err != nil {
			fail("%v", err)
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			printJSON(view)
			return
		}
		if err := tui.Print(os.Stdout, tui.StateMarkdown(view)); err != nil {
			fail("%v", err)
		}
	},
}

var sessionTraceCmd = &cobra.Command{
	Use:   "trace <session-id>",
	Short: "Print the full event history of a session",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rt, _, err := cli.OpenRuntime(cmd.Context(), globalOptions(cmd, nil))
		if err != nil {
			fail("%v", err)
		}
		defer rt.Close()

		trace, err := cli.Trace(cmd.Context(), rt, args[0])
		if err != nil {
			fail("%v", err)
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			printJSON(trace)
			return
		}
		if err := tui.Print(os.Stdout, tui.TraceMarkdown(trace)); err != nil {
			fail("%v", err)
		}
	},
}

var sessionGraphCmd = &cobra.Command{
	Use:   "graph <session-id>",
	Short: "Export the agent graph with the session's visits highlighted",
	Long:  `Outputs the Mermaid diagram of the session's agent with visited, exhausted and current nodes styled.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rt, _, err := cli.OpenRuntime(cmd.Context(), globalOptions(cmd, nil))
		if err != nil {
			fail("%v", err)
		}
		defer rt.Close()

		out, err := cli.Graph(cmd.Context(), rt, args[0])
		if err != nil {
			fail("%v", err)
		}
		fmt.Print(out)
	},
}

var sessionWatchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Follow a session live on a running agentrun server",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		server, _ := cmd.Flags().GetString("server")

		sigCtx := lifecycle.NewSignalContext(cmd.Context())
		defer sigCtx.Cancel()

		if err := cli.Watch(sigCtx, server, args[0], os.Stdout); err != nil {
			fail("%v", err)
		}
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove one or more sessions",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rt, _, err := cli.OpenRuntime(cmd.Context(), globalOptions(cmd, nil))
		if err != nil {
			fail("%v", err)
		}
		defer rt.Close()

		failed := cli.Remove(cmd.Context(), rt, args, func(id string, err error) {
			if err != nil {
				fmt.Printf("Error removing '%s': %v\n", id, err)
				return
			}
			fmt.Printf("Removed session '%s'\n", id)
		})
		if failed > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionInspectCmd)
	sessionCmd.AddCommand(sessionTraceCmd)
	sessionCmd.AddCommand(sessionGraphCmd)
	sessionCmd.AddCommand(sessionWatchCmd)
	sessionCmd.AddCommand(sessionRmCmd)

	sessionInspectCmd.Flags().Bool("json", false, "Print the state as JSON")
	sessionTraceCmd.Flags().Bool("json", false, "Print the trace as JSON")
	sessionWatchCmd.Flags().String("server", "http://localhost:8080", "Base URL of the agentrun HTTP server")
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fail("Error marshaling output: %v", err)
	}
	fmt.Println(string(data))
}

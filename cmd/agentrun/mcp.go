package main

import (
	"fmt"
	"os"

	"github.com/aretw0/lifecycle"
	"github.com/spf13/cobra"

	"github.com/aretw0/agentrun"
	"github.com/aretw0/agentrun/internal/cli"
	"github.com/aretw0/agentrun/internal/presentation/tui"
	"github.com/aretw0/agentrun/pkg/adapters/mcp"
)

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp [agent-dir]",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Starts agentrun as an MCP Server so an agent can report its traversal as tool calls.

When an agent directory is given, a session is opened on it at startup and tools may
omit session_id. Otherwise the agent calls agent_init first.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		transport, _ := cmd.Flags().GetString("transport")
		port, _ := cmd.Flags().GetInt("port")
		baseURL, _ := cmd.Flags().GetString("base-url")
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

		srv := mcp.NewServer(rt.Service, agentrun.Version, mcp.WithLogger(logger))

		switch transport {
		case "stdio":
			// Stdout carries JSON-RPC; everything else goes to Stderr.
			logger.Info("Starting agentrun MCP Server (Stdio)...")
			if err := srv.ServeStdio(); err != nil {
				logger.Error("MCP Server execution failed", "err", err)
				os.Exit(1)
			}
		case "sse":
			tui.PrintBanner(os.Stderr, agentrun.Version)
			addr := fmt.Sprintf(":%d", port)
			if baseURL == "" {
				baseURL = fmt.Sprintf("http://localhost:%d", port)
			}
			if err := srv.ServeSSE(sigCtx, addr, baseURL); err != nil {
				logger.Error("MCP Server execution failed", "err", err)
				os.Exit(1)
			}
			logger.Info("MCP Server stopped gracefully")
		default:
			fail("Unknown transport: %s. Supported: stdio, sse", transport)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().Int("port", 8080, "Port to listen on (only for SSE)")
	mcpCmd.Flags().String("base-url", "", "Public base URL advertised to SSE clients")
	mcpCmd.Flags().String("session", "", "Session ID to open or resume at startup (generated when empty)")
}

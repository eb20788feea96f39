package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/introspection"
	"github.com/aretw0/lifecycle"
	"github.com/spf13/cobra"

	"github.com/aretw0/agentrun"
	"github.com/aretw0/agentrun/internal/cli"
	"github.com/aretw0/agentrun/internal/presentation/tui"
	httpAdapter "github.com/aretw0/agentrun/pkg/adapters/http"
	"github.com/aretw0/agentrun/pkg/domain"
)

var serveCmd = &cobra.Command{
	Use:   "serve [agent-dir]",
	Short: "Start the HTTP server",
	Long: `Serves the operation surface as a JSON API, a live SSE stream per session at
/sessions/{id}/events for dashboards, and Prometheus metrics at /metrics.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetString("port")
		sessionID, _ := cmd.Flags().GetString("session")

		sigCtx := lifecycle.NewSignalContext(cmd.Context())
		defer sigCtx.Cancel()

		rt, logger, err := cli.OpenRuntime(sigCtx, globalOptions(cmd, args))
		if err != nil {
			fail("%v", err)
		}
		defer rt.Close()

		tui.PrintBanner(os.Stdout, agentrun.Version)

		var watched []string
		if rt.Config.AgentPath != "" {
			res, err := rt.Open(sigCtx, sessionID)
			if err != nil {
				fail("Error opening session: %v", err)
			}
			fmt.Printf("Session %s %s (%d events)\n", res.SessionID, res.Status, res.EventCount)
			watched = append(watched, res.SessionID)
		}
		go logSnapshots(logger, rt.Watch(sigCtx, watched, sigCtx))

		handler := httpAdapter.NewHandler(rt.Service, rt.Hub,
			httpAdapter.WithLogger(logger),
			httpAdapter.WithGatherer(rt.Registry),
			httpAdapter.WithVersion(agentrun.Version),
		)

		fmt.Printf("Starting agentrun Server on :%s (store: %s)\n", port, rt.Config.Store)
		if err := httpAdapter.ListenAndServe(sigCtx, ":"+port, handler, logger); err != nil {
			fail("Server error: %v", err)
		}
		if sig := sigCtx.Signal(); sig != nil {
			fmt.Printf("\nStopped on %v\n", sig)
		}
		fmt.Println("agentrun Server stopped gracefully")
	},
}

// logSnapshots drains an introspection stream into debug logs.
func logSnapshots(logger *slog.Logger, snapshots <-chan introspection.StateSnapshot) {
	for snap := range snapshots {
		switch payload := snap.Payload.(type) {
		case *domain.Session:
			logger.Debug("Session changed",
				"session_id", snap.ComponentID,
				"status", payload.Status,
				"current_node", payload.CurrentNode,
				"events", len(payload.History))
		default:
			logger.Debug("Component changed", "component", snap.ComponentType, "state", fmt.Sprintf("%+v", payload))
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	serveCmd.Flags().String("session", "", "Session ID to open or resume at startup (generated when empty)")
}

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/agentrun/internal/cli"
)

var limitsCmd = &cobra.Command{
	Use:   "limits [agent-dir]",
	Short: "Print the iteration bounds declared by an agent",
	Long: `Parses the @max_iterations annotations of agent-mermaid.md. Nodes that are not
listed are unbounded. Use validate for a full check of the agent directory.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		asJSON, _ := cmd.Flags().GetBool("json")
		dir := globalOptions(cmd, args).AgentPath
		if dir == "" {
			wd, err := os.Getwd()
			if err != nil {
				fail("%v", err)
			}
			dir = wd
		}

		bounds, err := cli.Limits(cmd.Context(), dir)
		if err != nil {
			fail("Error reading limits: %v", err)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(bounds); err != nil {
				fail("%v", err)
			}
			return
		}
		if bounds.Len() == 0 {
			fmt.Println("No bounded nodes.")
			return
		}
		for _, node := range bounds.Nodes() {
			max, _ := bounds.Max(node)
			fmt.Printf("%-24s %d\n", node, max)
		}
	},
}

func init() {
	rootCmd.AddCommand(limitsCmd)
	limitsCmd.Flags().Bool("json", false, "Print the bounds as a JSON object")
}

package main

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/aretw0/agentrun/internal/config"
	"github.com/aretw0/agentrun/internal/validator"
	"github.com/aretw0/agentrun/pkg/adapters/loam"
)

var validateCmd = &cobra.Command{
	Use:   "validate [agent-dir]",
	Short: "Check an agent directory and print its iteration bounds",
	Long:  `Reads agent-mermaid.md and agent-config.yaml, parses the @max_iterations annotations and the
context_schema declarations, and reports bounded nodes without instructions.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir := globalOptions(cmd, args).AgentPath
		if dir == "" {
			wd, err := os.Getwd()
			if err != nil {
				fail("%v", err)
			}
			dir = wd
		}

		agent, _, err := config.ReadAgentConfig(dir)
		if err != nil {
			fail("Validation failed: %v", err)
		}

		lib, err := loam.Open(dir)
		if err != nil {
			fail("Validation failed: %v", err)
		}
		report, err := validator.ValidateAgent(cmd.Context(), lib)
		if err != nil {
			fail("Validation failed: %v", err)
		}

		for _, w := range report.Warnings {
			fmt.Printf("warning: %s\n", w)
		}
		for _, node := range report.Limits.Nodes() {
			max, _ := report.Limits.Max(node)
			fmt.Printf("  %-24s max %d\n", node, max)
		}
		decls := agent.ContextSchema.Declarations()
		keys := slices.Sorted(maps.Keys(decls))
		for _, key := range keys {
			fmt.Printf("  context %-16s %s\n", key, decls[key])
		}
		fmt.Println("Agent is valid!")
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

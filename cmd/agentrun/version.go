package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/agentrun"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of agentrun",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("agentrun version %s\n", agentrun.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

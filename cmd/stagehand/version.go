package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/stagekit/stagehand/internal/gateway"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the stagehand version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("stagehand %s (%s/%s)\n", version, runtime.GOOS, runtime.GOARCH)
		fmt.Printf("requires orchestrator %s or newer\n", gateway.MinServerVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

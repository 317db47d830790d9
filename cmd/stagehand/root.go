package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/stagekit/stagehand/internal/ui"
)

// version is stamped at build time via
// -ldflags "-X main.version=v1.2.3".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "stagehand",
	Short: "Workflow synchronization engine for stage-driven work items",
	Long: `stagehand keeps a local board of work items in sync with an
orchestrator service that drives the items through pipeline stages.

Mutations apply optimistically and queue while offline; the server is
authoritative and pushes changes over a websocket. Board state
survives restarts in a local SQLite snapshot, so the board renders
instantly even before the first connection attempt.

Start with:
  stagehand init          # create the .stagehand workspace
  stagehand run           # keep the engine connected (foreground)
  stagehand board         # render the board
  stagehand new "Title"   # create a work item`,
}

// Execute runs the CLI.
func Execute() {
	ui.ApplyColorProfile()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "board", Title: "Board commands:"},
		&cobra.Group{ID: "engine", Title: "Engine commands:"},
	)

	rootCmd.PersistentFlags().String("workspace", "", "workspace directory (default: nearest .stagehand)")
	rootCmd.PersistentFlags().String("server", "", "orchestrator URL override, e.g. http://localhost:9100")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress engine logs on stderr")
}

// fatalf prints an error the way every command reports failures and
// exits non-zero.
func fatalf(format string, args ...any) {
	rootCmd.PrintErrf("Error: "+format+"\n", args...)
	os.Exit(1)
}

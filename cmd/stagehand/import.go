package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagekit/stagehand/internal/store"
	"github.com/stagekit/stagehand/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "engine",
	Short:   "Import board records from JSONL",
	Long: `Merge a JSON Lines export into the local board. Existing items
update when the incoming record is newer; stale records are skipped.
Bad lines are reported and the rest of the file still imports.

Pass "-" to read from stdin.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := openEngine(cmd, false)
		if err != nil {
			fatalf("%v", err)
		}
		defer e.close()

		if err := e.start(context.Background()); err != nil {
			fatalf("%v", err)
		}

		var res store.ImportResult
		if args[0] == "-" {
			res, err = e.store.Import(os.Stdin)
		} else {
			res, err = e.store.ImportFile(args[0])
		}
		if err != nil {
			fatalf("%v", err)
		}

		fmt.Printf("%s imported: %d added, %d updated, %d skipped, %s\n",
			ui.RenderPass("✓"), res.ItemsAdded, res.ItemsUpdated, res.ItemsSkipped,
			plural(res.Projects, "project"))
		for _, line := range res.Errors {
			fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderWarn("⚠"), line)
		}
		if len(res.Errors) > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}

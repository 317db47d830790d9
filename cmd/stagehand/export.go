package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagekit/stagehand/internal/store"
	"github.com/stagekit/stagehand/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export [file]",
	GroupID: "engine",
	Short:   "Export the board as JSONL",
	Long: `Write the board (projects, then items) as JSON Lines. With no file
argument, or "-", the records go to stdout and the summary to stderr.
File writes go through a temp file and rename, so a partial export
never replaces a previous one.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := openEngine(cmd, false)
		if err != nil {
			fatalf("%v", err)
		}
		defer e.close()

		if err := e.start(context.Background()); err != nil {
			fatalf("%v", err)
		}

		path := "-"
		if len(args) > 0 {
			path = args[0]
		}

		var res store.ExportResult
		if path == "-" {
			res, err = e.store.Export(os.Stdout)
		} else {
			res, err = e.store.ExportFile(path)
		}
		if err != nil {
			fatalf("%v", err)
		}

		dest := path
		if dest == "-" {
			dest = "stdout"
		}
		fmt.Fprintf(os.Stderr, "%s exported %s, %s to %s\n",
			ui.RenderPass("✓"), plural(res.Items, "item"), plural(res.Projects, "project"), dest)
	},
}

// plural formats a count with its unit, adding "s" past one.
func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func init() {
	rootCmd.AddCommand(exportCmd)
}

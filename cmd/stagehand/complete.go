package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagekit/stagehand/internal/ui"
)

var completeCmd = &cobra.Command{
	Use:     "complete <item>",
	GroupID: "board",
	Short:   "Mark a work item complete",
	Long: `Mark an item complete on the server.

An item created while offline has no server identity yet; completing
it is refused until the create has synced.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := openEngine(cmd, true)
		if err != nil {
			fatalf("%v", err)
		}
		defer e.close()

		if err := e.start(context.Background()); err != nil {
			fatalf("%v", err)
		}

		item, err := resolveItem(e, args[0])
		if err != nil {
			fatalf("%v", err)
		}

		ok, err := e.store.MarkComplete(item.ID)
		if err != nil {
			fatalf("%v", err)
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "%s %s has not synced to the server yet; retry once the create is acknowledged\n",
				ui.RenderWarn("⚠"), item.ID)
			os.Exit(1)
		}

		if err := e.flushMutations(); err != nil {
			fatalf("%v", err)
		}

		final, err := e.store.Item(item.ID)
		if err != nil || !final.Completed {
			reportRejection(e, "complete")
			return
		}
		fmt.Printf("%s %s %s\n", ui.RenderPass("✓"), final.ID, final.Title)
	},
}

func init() {
	rootCmd.AddCommand(completeCmd)
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagekit/stagehand/internal/ui"
)

var rmCmd = &cobra.Command{
	Use:     "rm <item>",
	Aliases: []string{"delete"},
	GroupID: "board",
	Short:   "Delete a work item",
	Long: `Delete an item from the board. The item disappears immediately and
is removed on the server; a rejection brings it back.`,
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

		if err := e.store.DeleteItem(item.ID); err != nil {
			fatalf("%v", err)
		}
		if err := e.flushMutations(); err != nil {
			fatalf("%v", err)
		}

		if _, err := e.store.Item(item.ID); err == nil {
			reportRejection(e, "delete")
			return
		}
		fmt.Printf("%s deleted %s %s\n", ui.RenderPass("✓"), item.ID, item.Title)
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagekit/stagehand/internal/ui"
)

var moveCmd = &cobra.Command{
	Use:     "move <item> [stage]",
	GroupID: "board",
	Short:   "Move a work item to another stage",
	Long: `Move an item along its pipeline. Without a target stage the item
advances to its default next stage. The transition is validated
against the stage graph before anything is sent; the server may still
reject it, in which case the item rolls back.

Items match by ID or unique ID prefix.`,
	Args: cobra.RangeArgs(1, 2),
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

		target := ""
		if len(args) == 2 {
			target = args[1]
		} else if target, err = e.graph.DefaultNext(item.Pipeline, item.Stage); err != nil {
			fatalf("%v", err)
		}

		if err := e.store.MoveStage(item.ID, target); err != nil {
			fatalf("%v", err)
		}
		if err := e.flushMutations(); err != nil {
			fatalf("%v", err)
		}

		final, err := e.store.Item(item.ID)
		if err != nil || final.Stage != target {
			reportRejection(e, "move")
			return
		}
		fmt.Printf("%s %s %s → %s\n", ui.RenderPass("✓"), final.ID, item.Stage, ui.RenderAccent(final.Stage))
	},
}

func init() {
	rootCmd.AddCommand(moveCmd)
}

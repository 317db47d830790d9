package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/stagekit/stagehand/internal/types"
	"github.com/stagekit/stagehand/internal/ui"
)

var boardCmd = &cobra.Command{
	Use:     "board",
	GroupID: "board",
	Short:   "Render the board grouped by stage",
	Long: `Render work items grouped by pipeline stage.

By default the board reads the local snapshot without touching the
network, so it works offline and renders instantly. With --watch the
engine connects and re-renders whenever the server pushes a change.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		watch, _ := cmd.Flags().GetBool("watch")

		e, err := openEngine(cmd, watch)
		if err != nil {
			fatalf("%v", err)
		}
		defer e.close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := e.start(ctx); err != nil {
			fatalf("%v", err)
		}

		pipeline, _ := cmd.Flags().GetString("pipeline")
		if pipeline == "" {
			pipeline = e.defaultPipeline()
		}
		if _, err := e.graph.Pipeline(pipeline); err != nil {
			fatalf("%v", err)
		}

		if !watch {
			snap, err := e.store.Snapshot()
			if err != nil {
				fatalf("%v", err)
			}
			renderBoard(e, pipeline, snap)
			return
		}

		// Snapshots are published from the store's event loop; coalesce
		// through a one-slot channel so rendering never blocks it.
		snaps := make(chan types.Snapshot, 1)
		unsubscribe, err := e.store.Subscribe(func(snap types.Snapshot) {
			select {
			case snaps <- snap:
			default:
				select {
				case <-snaps:
				default:
				}
				snaps <- snap
			}
		})
		if err != nil {
			fatalf("%v", err)
		}
		defer unsubscribe()

		out := termenv.NewOutput(os.Stdout)
		for {
			select {
			case snap := <-snaps:
				out.ClearScreen()
				renderBoard(e, pipeline, snap)
				fmt.Println(ui.RenderMuted("watching · Ctrl-C to stop"))
			case <-ctx.Done():
				fmt.Println()
				return
			}
		}
	},
}

// renderBoard groups the snapshot's items by stage for one pipeline
// and prints the board, notifications, and the status line.
func renderBoard(e *engine, pipeline string, snap types.Snapshot) {
	stages, err := e.graph.Stages(pipeline)
	if err != nil {
		fatalf("%v", err)
	}

	byStage := make(map[string][]types.WorkItem)
	for _, item := range snap.Items {
		if item.Pipeline != pipeline {
			continue
		}
		byStage[item.Stage] = append(byStage[item.Stage], item)
	}

	fmt.Print(ui.RenderBoard(pipeline, stages, byStage, ui.Width()))
	if s := ui.RenderNotifications(snap.Notifications); s != "" {
		fmt.Print(s)
	}
	fmt.Println(ui.RenderStatus(snap))
}

func init() {
	rootCmd.AddCommand(boardCmd)
	boardCmd.Flags().String("pipeline", "", "pipeline to render (default: workspace default)")
	boardCmd.Flags().Bool("watch", false, "stay connected and re-render on pushed changes")
}

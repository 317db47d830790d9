package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stagekit/stagehand/internal/store"
	"github.com/stagekit/stagehand/internal/types"
	"github.com/stagekit/stagehand/internal/ui"
)

var newCmd = &cobra.Command{
	Use:     "new [title]",
	GroupID: "board",
	Short:   "Create a work item",
	Long: `Create a work item at its pipeline's entry stage.

Run without a title in a terminal to get an interactive form. Due
dates accept plain dates ("2026-09-01") or natural language
("next friday", "tomorrow at 5pm").`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := openEngine(cmd, true)
		if err != nil {
			fatalf("%v", err)
		}
		defer e.close()

		title := ""
		if len(args) > 0 {
			title = args[0]
		}
		desc, _ := cmd.Flags().GetString("desc")
		pipeline, _ := cmd.Flags().GetString("pipeline")
		projectID, _ := cmd.Flags().GetString("project")
		dueStr, _ := cmd.Flags().GetString("due")

		if pipeline == "" {
			pipeline = e.defaultPipeline()
		}
		if projectID == "" {
			projectID = e.meta.ProjectID
		}

		if title == "" && term.IsTerminal(int(os.Stdin.Fd())) {
			if err := promptItem(e, &title, &desc, &pipeline); err != nil {
				fatalf("%v", err)
			}
		}
		if strings.TrimSpace(title) == "" {
			fatalf("a title is required (pass one as an argument or run interactively)")
		}

		dueAt, err := parseDue(dueStr)
		if err != nil {
			fatalf("%v", err)
		}

		if err := e.start(context.Background()); err != nil {
			fatalf("%v", err)
		}

		item, err := e.store.CreateItem(store.CreateParams{
			Title:       title,
			Description: desc,
			Pipeline:    pipeline,
			ProjectID:   projectID,
			DueAt:       dueAt,
		})
		if err != nil {
			fatalf("%v", err)
		}
		if err := e.flushMutations(); err != nil {
			fatalf("%v", err)
		}

		final, err := e.store.Item(item.ID)
		if err != nil {
			reportRejection(e, "create")
			return
		}

		fmt.Printf("%s %s %s\n", ui.RenderPass("✓"), final.ID, final.Title)
		fmt.Printf("  %s · %s", final.Pipeline, ui.RenderAccent(final.Stage))
		if ext, ok := e.store.ExternalID(final.ID); ok {
			fmt.Printf(" · %s", ext)
		}
		fmt.Println()
	},
}

// promptItem collects the item fields interactively.
func promptItem(e *engine, title, desc, pipeline *string) error {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Title").
				Value(title).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("title must not be empty")
					}
					return nil
				}),
			huh.NewText().
				Title("Description").
				Value(desc),
			huh.NewSelect[string]().
				Title("Pipeline").
				Options(huh.NewOptions(e.graph.Pipelines()...)...).
				Value(pipeline),
		),
	).Run()
}

// parseDue turns a --due value into a timestamp: ISO dates first,
// then natural language.
func parseDue(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to parse due date %q: %w", s, err)
	}
	if r == nil {
		return nil, fmt.Errorf("could not understand due date %q", s)
	}
	return &r.Time, nil
}

// reportRejection prints the newest error notification after the
// server refused a mutation, then exits non-zero.
func reportRejection(e *engine, op string) {
	notes := e.store.Notifications()
	for i := len(notes) - 1; i >= 0; i-- {
		if notes[i].Level != types.LevelInfo {
			fmt.Fprintln(os.Stderr, ui.RenderNotification(notes[i]))
			break
		}
	}
	fatalf("%s rejected by the server", op)
}

func init() {
	rootCmd.AddCommand(newCmd)
	newCmd.Flags().StringP("desc", "d", "", "item description")
	newCmd.Flags().StringP("pipeline", "p", "", "pipeline (default: workspace default)")
	newCmd.Flags().String("project", "", "project ID (default: workspace project)")
	newCmd.Flags().String("due", "", "due date, ISO or natural language")
}

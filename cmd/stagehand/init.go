package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stagekit/stagehand/internal/persist"
	"github.com/stagekit/stagehand/internal/stage"
	"github.com/stagekit/stagehand/internal/store"
	"github.com/stagekit/stagehand/internal/ui"
	"github.com/stagekit/stagehand/internal/workspace"
)

var initCmd = &cobra.Command{
	Use:     "init [name]",
	GroupID: "engine",
	Short:   "Create a stagehand workspace in the current directory",
	Long: `Create the .stagehand workspace directory, the snapshot database, and
a project entry for the current directory.

The project name defaults to the directory name. Pass --server to
record the orchestrator URL in the workspace; commands then sync with
it automatically.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cwd, err := os.Getwd()
		if err != nil {
			fatalf("failed to resolve working directory: %v", err)
		}

		name := filepath.Base(cwd)
		if len(args) > 0 {
			name = args[0]
		}
		serverURL, _ := cmd.Flags().GetString("server")
		pipeline, _ := cmd.Flags().GetString("pipeline")

		wsDir := filepath.Join(cwd, workspace.DirName)
		meta := &workspace.Meta{
			Name:            name,
			ServerURL:       serverURL,
			DefaultPipeline: pipeline,
		}
		if err := workspace.Init(wsDir, meta); err != nil {
			fatalf("%v", err)
		}

		db, err := persist.Open(workspace.DBPath(wsDir))
		if err != nil {
			fatalf("failed to open snapshot database: %v", err)
		}
		defer db.Close()

		graph, err := stage.NewGraph()
		if err != nil {
			fatalf("%v", err)
		}
		st, err := store.New(&store.Config{Graph: graph, Persist: db})
		if err != nil {
			fatalf("%v", err)
		}
		if err := st.Start(context.Background()); err != nil {
			fatalf("%v", err)
		}
		project, err := st.AddProject(name, cwd, pipeline)
		if err != nil {
			st.Stop()
			fatalf("failed to register project: %v", err)
		}
		if err := st.Stop(); err != nil {
			fatalf("%v", err)
		}

		meta.ProjectID = project.ID
		if err := workspace.Save(wsDir, meta); err != nil {
			fatalf("%v", err)
		}

		fmt.Printf("%s Initialized workspace %s\n", ui.RenderPass("✓"), ui.RenderAccent(name))
		fmt.Printf("  project   %s\n", project.ID)
		fmt.Printf("  database  %s\n", workspace.DBPath(wsDir))
		if serverURL != "" {
			fmt.Printf("  server    %s\n", serverURL)
		} else {
			fmt.Printf("  server    %s\n", ui.RenderMuted("none (standalone)"))
		}
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().String("pipeline", "dev", "default pipeline for new items")
}

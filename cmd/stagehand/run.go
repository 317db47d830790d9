package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stagekit/stagehand/internal/config"
	"github.com/stagekit/stagehand/internal/gateway"
	"github.com/stagekit/stagehand/internal/lockfile"
	"github.com/stagekit/stagehand/internal/types"
	"github.com/stagekit/stagehand/internal/ui"
	"github.com/stagekit/stagehand/internal/workspace"
)

var runCmd = &cobra.Command{
	Use:     "run",
	GroupID: "engine",
	Short:   "Run the sync engine in the foreground",
	Long: `Run the engine until interrupted: hydrate the board from the local
snapshot, connect to the orchestrator, replay queued mutations, and
apply pushed events as they arrive.

Only one engine may run per workspace; a lock file guards the data
directory. Without a configured server the engine runs standalone and
commits every mutation locally.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		e, err := openEngine(cmd, true)
		if err != nil {
			fatalf("%v", err)
		}
		defer e.close()

		lock, err := lockfile.Acquire(workspace.LockPath(e.dataDir()))
		if err != nil {
			if errors.Is(err, lockfile.ErrLocked) {
				fatalf("another stagehand engine is running (%v)", err)
			}
			fatalf("%v", err)
		}
		defer lock.Release()

		if err := e.start(ctx); err != nil {
			fatalf("%v", err)
		}

		logger := e.logs.Logger("run")
		logger.Printf("engine started: workspace=%s online=%t", e.wsDir, e.online())

		fmt.Printf("%s stagehand engine %s\n", ui.RenderAccent("▶"), version)
		fmt.Printf("  workspace  %s\n", e.wsDir)
		if e.online() {
			fmt.Printf("  server     %s\n", e.cfg.ServerURL)
		} else {
			fmt.Printf("  server     %s\n", ui.RenderMuted("none (standalone)"))
		}
		fmt.Println("  Ctrl-C to stop")

		if e.online() {
			go checkServerHealth(ctx, e, logger)
		}
		if w := watchPipelines(e, logger); w != nil {
			defer w.Stop()
		}

		<-ctx.Done()
		fmt.Println()
		logger.Printf("engine stopping")
	},
}

// checkServerHealth asks the orchestrator for its version and posts a
// warning notification when it is older than this client supports.
// Network failures only log: connection state already tells the user
// the server is unreachable.
func checkServerHealth(ctx context.Context, e *engine, logger *log.Logger) {
	hctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	res, err := e.gw.Health(hctx)
	if err != nil {
		logger.Printf("health check failed: %v", err)
		return
	}
	logger.Printf("server healthy: status=%s version=%s", res.Status, res.Version)
	if msg := gateway.CheckServerVersion(res.Version); msg != "" {
		e.store.Notify(types.LevelWarning, msg)
	}
}

// watchPipelines watches the custom pipelines file and posts a single
// notification when it changes. Stage graphs compile at startup, so
// edits take effect on the next engine start.
func watchPipelines(e *engine, logger *log.Logger) *config.Watcher {
	path := e.cfg.PipelinesFile
	if path == "" {
		path = workspace.PipelinesPath(e.wsDir)
	}

	w, err := config.NewWatcher()
	if err != nil {
		logger.Printf("pipelines watcher unavailable: %v", err)
		return nil
	}
	if err := w.Start(path); err != nil {
		logger.Printf("pipelines watcher unavailable: %v", err)
		return nil
	}

	go func() {
		notified := false
		for {
			select {
			case p, ok := <-w.Events():
				if !ok {
					return
				}
				logger.Printf("pipelines file changed: %s", p)
				if !notified {
					e.store.Notify(types.LevelInfo, "pipelines.yaml changed; restart the engine to apply")
					notified = true
				}
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				logger.Printf("pipelines watcher error: %v", err)
			}
		}
	}()
	return w
}

func init() {
	rootCmd.AddCommand(runCmd)
}

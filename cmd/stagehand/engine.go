package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagekit/stagehand/internal/config"
	"github.com/stagekit/stagehand/internal/gateway"
	"github.com/stagekit/stagehand/internal/logging"
	"github.com/stagekit/stagehand/internal/persist"
	"github.com/stagekit/stagehand/internal/stage"
	"github.com/stagekit/stagehand/internal/store"
	"github.com/stagekit/stagehand/internal/transport"
	"github.com/stagekit/stagehand/internal/types"
	"github.com/stagekit/stagehand/internal/workspace"
)

// engine bundles the components wired up behind one CLI invocation.
type engine struct {
	cfg   *config.Config
	meta  *workspace.Meta
	wsDir string
	graph *stage.Graph
	logs  *logging.Factory
	db    *persist.Store
	gw    gateway.Gateway
	ch    *transport.Channel
	store *store.Store
}

// openEngine resolves the workspace, loads configuration, and wires
// the sync store. With connect=false (or no server configured) the
// gateway and transport stay nil and the engine serves local state
// only, committing mutations immediately.
func openEngine(cmd *cobra.Command, connect bool) (*engine, error) {
	wsDir, _ := cmd.Flags().GetString("workspace")
	if wsDir == "" {
		wsDir = workspace.FindDir("")
	}
	if wsDir == "" {
		return nil, fmt.Errorf("no %s workspace found; run 'stagehand init' first", workspace.DirName)
	}

	cfg, err := config.Load(wsDir)
	if err != nil {
		return nil, err
	}

	meta, err := workspace.Load(wsDir)
	if err != nil {
		meta = &workspace.Meta{}
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = meta.ServerURL
	}
	if v, _ := cmd.Flags().GetString("server"); v != "" {
		cfg.ServerURL = v
	}

	quiet, _ := cmd.Flags().GetBool("quiet")
	logs := logging.NewFactory(logging.Options{
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Quiet:      quiet,
	})

	graph, err := loadGraph(cfg, wsDir)
	if err != nil {
		logs.Close()
		return nil, err
	}

	e := &engine{cfg: cfg, meta: meta, wsDir: wsDir, graph: graph, logs: logs}

	db, err := persist.Open(workspace.DBPath(e.dataDir()))
	if err != nil {
		logs.Close()
		return nil, err
	}
	e.db = db

	if connect && cfg.ServerURL != "" {
		actor := meta.Name
		if actor == "" {
			actor = "stagehand"
		}
		e.gw = gateway.New(&gateway.Config{
			BaseURL:        cfg.ServerURL,
			Actor:          actor,
			Version:        version,
			RequestTimeout: cfg.RequestTimeout,
			Logger:         logs.Logger("gateway"),
		})
		e.ch = transport.New(&transport.Config{
			URL:         wsURL(cfg.ServerURL),
			ClientID:    clientID(),
			Version:     version,
			BaseBackoff: cfg.BaseBackoff,
			MaxBackoff:  cfg.MaxBackoff,
			OnMessage: func(m transport.Message) {
				e.store.HandleTransportMessage(m)
			},
			OnStateChange: func(s types.ConnectionState) {
				e.store.HandleConnectionState(s)
			},
			Logger: logs.Logger("transport"),
		})
	}

	scfg := &store.Config{
		Graph:      graph,
		Persist:    db,
		QueueLimit: cfg.QueueLimit,
		NotifyTTL:  cfg.NotificationTTL,
		Logger:     logs.Logger("store"),
	}
	if e.gw != nil {
		scfg.Gateway = e.gw
	}
	if e.ch != nil {
		scfg.Transport = e.ch
	}

	st, err := store.New(scfg)
	if err != nil {
		db.Close()
		logs.Close()
		return nil, err
	}
	e.store = st
	return e, nil
}

// start launches the store loop; with a transport wired it also
// begins connecting.
func (e *engine) start(ctx context.Context) error {
	return e.store.Start(ctx)
}

// close tears the engine down in reverse wiring order.
func (e *engine) close() {
	if e.store != nil {
		_ = e.store.Stop()
	}
	if e.db != nil {
		_ = e.db.Close()
	}
	if e.logs != nil {
		_ = e.logs.Close()
	}
}

// online reports whether this engine was wired to a server.
func (e *engine) online() bool {
	return e.gw != nil
}

// dataDir is where the snapshot database and lock live: the
// configured data_dir, falling back to the workspace directory.
func (e *engine) dataDir() string {
	if e.cfg.DataDir != "" {
		return e.cfg.DataDir
	}
	return e.wsDir
}

// flushTimeout bounds how long a one-shot command waits for the
// server: one websocket connect plus one gateway round trip.
const flushTimeout = 15 * time.Second

// flushMutations waits for queued and in-flight mutations to settle
// before a short-lived command exits. Standalone engines settle
// mutations synchronously, so the wait only applies when online. The
// pending queue lives in memory: a timeout means the change is lost
// when the process exits, and the error says so.
func (e *engine) flushMutations() error {
	if !e.online() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := e.store.Flush(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("server did not confirm within %s; the change was discarded (keep 'stagehand run' going to queue work while offline)", flushTimeout)
		}
		return err
	}
	return nil
}

// defaultPipeline picks the pipeline for commands that do not name
// one: workspace metadata first, then the dev built-in.
func (e *engine) defaultPipeline() string {
	if e.meta.DefaultPipeline != "" {
		return e.meta.DefaultPipeline
	}
	return "dev"
}

// loadGraph compiles the stage graph, merging custom pipelines from
// the configured file or the workspace pipelines.yaml when present.
func loadGraph(cfg *config.Config, wsDir string) (*stage.Graph, error) {
	path := cfg.PipelinesFile
	if path == "" {
		p := workspace.PipelinesPath(wsDir)
		if _, err := os.Stat(p); err == nil {
			path = p
		}
	}
	if path == "" {
		return stage.NewGraph()
	}
	return stage.LoadGraph(path)
}

// wsURL derives the websocket endpoint from the server base URL.
func wsURL(base string) string {
	u := strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

func clientID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "stagehand"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// resolveItem matches arg against item IDs in the current snapshot:
// exact match first, then a unique prefix.
func resolveItem(e *engine, arg string) (types.WorkItem, error) {
	snap, err := e.store.Snapshot()
	if err != nil {
		return types.WorkItem{}, err
	}

	var matches []types.WorkItem
	for _, item := range snap.Items {
		if item.ID == arg {
			return item, nil
		}
		if strings.HasPrefix(item.ID, arg) {
			matches = append(matches, item)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return types.WorkItem{}, fmt.Errorf("no item matches %q", arg)
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		return types.WorkItem{}, fmt.Errorf("%q is ambiguous: %s", arg, strings.Join(ids, ", "))
	}
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/stagekit/stagehand/internal/gateway"
	"github.com/stagekit/stagehand/internal/notify"
	"github.com/stagekit/stagehand/internal/reconcile"
	"github.com/stagekit/stagehand/internal/stage"
	"github.com/stagekit/stagehand/internal/transport"
	"github.com/stagekit/stagehand/internal/types"
)

// ErrStopped is returned by operations issued after Stop (or before
// Start) once the event loop is no longer accepting tasks.
var ErrStopped = errors.New("store: stopped")

// Transport is the push-channel surface the store drives. It is
// satisfied by *transport.Channel; tests substitute a stub and feed
// HandleTransportMessage / HandleConnectionState directly.
type Transport interface {
	Start(ctx context.Context) error
	Stop() error
	Subscribe(topics ...string) error
	State() types.ConnectionState
}

// Persister is the snapshot-storage surface the store writes through.
// It is satisfied by *persist.Store.
type Persister interface {
	Set(namespace, key string, value any) error
	Get(namespace, key string, out any) (bool, error)
	Delete(namespace, key string) error
	List(namespace string) (map[string]json.RawMessage, error)
}

// Config controls store construction. Zero values get defaults from
// DefaultConfig; Graph is required, everything else is optional (a nil
// Transport or Gateway yields a store that works offline, a nil
// Persister an in-memory one).
type Config struct {
	Graph     *stage.Graph
	Gateway   gateway.Gateway
	Transport Transport
	Persist   Persister

	// QueueLimit bounds the pending-mutation queue. When a new
	// mutation would exceed it, the oldest queued entry fails with a
	// network error and its item rolls back.
	QueueLimit int

	// NotifyCapacity and NotifyTTL configure the notification ring.
	NotifyCapacity int
	NotifyTTL      time.Duration

	// Topics are subscribed on the transport after Start and after
	// every reconnect.
	Topics []string

	Logger *log.Logger
}

// DefaultConfig returns the store defaults used when Config fields are
// left zero.
func DefaultConfig() *Config {
	return &Config{
		QueueLimit:     100,
		NotifyCapacity: notify.DefaultCapacity,
		NotifyTTL:      notify.DefaultTTL,
		Topics:         []string{"items"},
	}
}

// task is one unit of work executed by the event loop. done is closed
// after fn runs; it is nil for fire-and-forget tasks.
type task struct {
	fn   func()
	done chan struct{}
}

// queuedMutation is one outbound slot in the pending queue. The slot
// holds only the item reference: the mutation content is read from the
// item's pending record at send time, so a superseding mutation
// replaces the payload without losing the slot's queue position.
type queuedMutation struct {
	ItemID     string
	EnqueuedAt time.Time
}

// Store is the synchronization engine's canonical state holder. All
// exported methods are safe for concurrent use; internally every
// access funnels through the event loop.
type Store struct {
	cfg    Config
	graph  *stage.Graph
	logger *log.Logger

	gw        gateway.Gateway
	transport Transport
	persist   Persister
	bus       *notify.Bus
	engine    *reconcile.Engine

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	tasks  chan task
	nudge  chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	// Loop-owned state. Nothing below is touched outside the event
	// loop goroutine.
	items      map[string]*types.WorkItem
	baseline   map[string]types.WorkItem
	byExternal map[string]string
	projects   map[string]*types.Project
	deferred   map[string][]types.RemoteEvent
	queue    []queuedMutation
	inflight map[string]int64

	tokens     int64
	conn       types.ConnectionState
	reconnects int
	lastSyncAt *time.Time

	persistRetry map[string]bool

	subs      map[int]func(types.Snapshot)
	nextSubID int
	dirty     bool
}

// New builds a Store from cfg. The store does nothing until Start.
func New(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Graph == nil {
		return nil, &types.ValidationError{Field: "graph", Reason: "stage graph is required"}
	}
	def := DefaultConfig()
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = def.QueueLimit
	}
	if cfg.NotifyCapacity <= 0 {
		cfg.NotifyCapacity = def.NotifyCapacity
	}
	if cfg.NotifyTTL == 0 {
		cfg.NotifyTTL = def.NotifyTTL
	}
	if len(cfg.Topics) == 0 {
		cfg.Topics = def.Topics
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	s := &Store{
		cfg:          *cfg,
		graph:        cfg.Graph,
		logger:       logger,
		gw:           cfg.Gateway,
		transport:    cfg.Transport,
		persist:      cfg.Persist,
		tasks:        make(chan task, 256),
		nudge:        make(chan struct{}, 1),
		items:        make(map[string]*types.WorkItem),
		baseline:     make(map[string]types.WorkItem),
		byExternal:   make(map[string]string),
		projects:     make(map[string]*types.Project),
		deferred:     make(map[string][]types.RemoteEvent),
		inflight:     make(map[string]int64),
		persistRetry: make(map[string]bool),
		subs:         make(map[int]func(types.Snapshot)),
		conn:         types.ConnClosed,
	}
	s.bus = notify.New(cfg.NotifyCapacity, cfg.NotifyTTL, s.wake, logger)
	s.engine = reconcile.New(cfg.Graph, logger)
	return s, nil
}

// Start hydrates state from storage, begins the event loop, and then
// (if a transport is configured) opens the push channel. Hydration
// completes before any network activity, so a cold start with an
// unreachable server still serves the last committed snapshot.
func (s *Store) Start(ctx context.Context) error {
	var err error
	s.startOnce.Do(func() {
		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.wg.Add(1)
		go s.run()

		if herr := s.do(func() { s.hydrate() }); herr != nil {
			err = herr
			return
		}

		if s.transport != nil {
			if serr := s.transport.Subscribe(s.cfg.Topics...); serr != nil {
				s.logger.Printf("subscribe before connect: %v", serr)
			}
			if terr := s.transport.Start(ctx); terr != nil {
				err = terr
				return
			}
		}
	})
	return err
}

// Stop shuts down the transport and the event loop. Pending queue
// entries are abandoned; only committed state survives in storage.
func (s *Store) Stop() error {
	s.stopOnce.Do(func() {
		if s.transport != nil {
			if err := s.transport.Stop(); err != nil {
				s.logger.Printf("transport stop: %v", err)
			}
		}
		if s.cancel != nil {
			s.cancel()
			s.wg.Wait()
		}
		s.bus.Stop()
	})
	return nil
}

// run is the event loop. It is the only goroutine that touches
// loop-owned state.
func (s *Store) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case t := <-s.tasks:
			t.fn()
			if t.done != nil {
				close(t.done)
			}
			s.publishIfDirty()
		case <-s.nudge:
			s.dirty = true
			s.publishIfDirty()
		}
	}
}

// do runs fn on the event loop and waits for it to finish.
func (s *Store) do(fn func()) error {
	if s.ctx == nil {
		return ErrStopped
	}
	done := make(chan struct{})
	select {
	case s.tasks <- task{fn: fn, done: done}:
	case <-s.ctx.Done():
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-s.ctx.Done():
		return ErrStopped
	}
}

// enqueue schedules fn on the event loop without waiting. Used by
// worker goroutines re-entering with results.
func (s *Store) enqueue(fn func()) {
	select {
	case s.tasks <- task{fn: fn}:
	case <-s.ctx.Done():
	}
}

// wake nudges the loop to republish. Safe from any goroutine,
// including the loop itself (the channel send never blocks).
func (s *Store) wake() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// nextToken issues the next request token. Tokens are store-wide
// monotonic and unrelated to server sequence numbers.
func (s *Store) nextToken() int64 {
	s.tokens++
	return s.tokens
}

// HandleConnectionState feeds a transport state transition into the
// loop. Wire it to the channel's OnStateChange callback.
func (s *Store) HandleConnectionState(state types.ConnectionState) {
	s.enqueue(func() {
		prev := s.conn
		s.conn = state
		switch state {
		case types.ConnReconnecting:
			if prev == types.ConnOpen || prev == types.ConnConnecting {
				s.reconnects++
				s.bus.Post(types.LevelWarning, "connection lost; changes will be queued")
			}
		case types.ConnOpen:
			if prev == types.ConnReconnecting {
				s.bus.Post(types.LevelInfo, "reconnected")
			}
			s.pumpQueue()
		}
		s.dirty = true
	})
}

// HandleTransportMessage feeds a push-channel frame into the loop.
// Wire it to the channel's OnMessage callback.
func (s *Store) HandleTransportMessage(msg transport.Message) {
	switch msg.Type {
	case transport.MessageTypeEvent:
		var ev types.RemoteEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			s.logger.Printf("malformed push event: %v", err)
			return
		}
		if ev.ExternalID == "" {
			s.logger.Printf("push event without external id dropped (kind=%s)", ev.Kind)
			return
		}
		s.enqueue(func() { s.handleRemoteEvent(ev) })
	case transport.MessageTypeAck:
		// Receipt for hello/subscribe frames; nothing to merge.
	default:
		s.logger.Printf("unexpected frame type %q from server", msg.Type)
	}
}

// now is indirected for tests.
var now = time.Now
